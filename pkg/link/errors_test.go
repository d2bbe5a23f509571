package link

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestLink(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Link manager suite")
}

var _ = Describe("Link operation errors", func() {
	It("reports the operation, the link and the underlying cause", func() {
		cause := errors.New("operation not permitted")
		err := opError("create veth pair", "ves-blue", cause)
		Expect(err).To(MatchError(`link operation "create veth pair" on "ves-blue" failed: operation not permitted`))
		Expect(errors.Unwrap(err)).To(Equal(cause))
	})

	It("passes through a nil result", func() {
		Expect(opError("bring up", "ves-blue", nil)).To(Succeed())
	})
})
