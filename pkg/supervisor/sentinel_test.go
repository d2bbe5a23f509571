package supervisor

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/netns-sentry/netns-sentry/pkg/watchdog"
)

var _ = Describe("The sentinel exit status", func() {
	It("is the watchdog exit code on a trigger", func() {
		Expect(sentinelExitCode(watchdog.ErrTriggered)).To(Equal(WatchdogExitCode))
	})

	It("never signals success, even when the event stream ends without a trigger", func() {
		Expect(sentinelExitCode(nil)).To(Equal(WatchdogExitCode))
		Expect(sentinelExitCode(errors.New("event stream ended"))).To(Equal(WatchdogExitCode))
	})
})
