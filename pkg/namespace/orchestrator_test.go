package namespace_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/netns-sentry/netns-sentry/pkg/config"
	"github.com/netns-sentry/netns-sentry/pkg/link"
	linkfake "github.com/netns-sentry/netns-sentry/pkg/link/fake"
	"github.com/netns-sentry/netns-sentry/pkg/namespace"
)

func TestNamespace(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Namespace orchestrator suite")
}

// dialingLauncher impersonates the namespace init: instead of re-executing
// the binary it dials the rendezvous socket from the test process itself,
// so the peer credentials carry the test process's pid.
type dialingLauncher struct {
	reported chan struct{}
}

func newDialingLauncher() *dialingLauncher {
	return &dialingLauncher{reported: make(chan struct{})}
}

func (l *dialingLauncher) Launch(sessionPath string) (*os.Process, error) {
	session, err := namespace.LoadSession(sessionPath)
	if err != nil {
		return nil, err
	}
	go func() {
		defer GinkgoRecover()
		defer close(l.reported)
		conn, err := net.Dial("unix", session.RendezvousPath)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()
		_, err = fmt.Fprintf(conn, "%d\n", os.Getpid())
		Expect(err).NotTo(HaveOccurred())
	}()
	return os.FindProcess(os.Getpid())
}

// silentLauncher never reports ready, forcing the rendezvous to block.
type silentLauncher struct{}

func (silentLauncher) Launch(string) (*os.Process, error) {
	return os.FindProcess(os.Getpid())
}

var _ = Describe("The namespace orchestrator", func() {
	var (
		links        *linkfake.Manager
		namespaceNet *linkfake.NamespaceNet
		runDir       string
		conf         *config.NamespaceConfig
	)

	BeforeEach(func() {
		links = linkfake.NewManager()
		namespaceNet = linkfake.NewNamespaceNet()

		var err error
		runDir, err = os.MkdirTemp("", "netns-sentry-run")
		Expect(err).NotTo(HaveOccurred())

		conf = &config.NamespaceConfig{
			Name:    "blue",
			Address: "10.20.30.2/24",
			Gateway: "10.20.30.1",
		}
		conf.ApplyDefaults()
		Expect(conf.Validate()).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.RemoveAll(runDir)).To(Succeed())
	})

	newOrchestrator := func(launcher namespace.InitLauncher) *namespace.Orchestrator {
		return namespace.NewOrchestrator(links,
			namespace.WithInitLauncher(launcher),
			namespace.WithRunDir(runDir),
			namespace.WithNetOpener(func(pid int) (link.NamespaceNet, error) {
				Expect(pid).To(Equal(os.Getpid()))
				return namespaceNet, nil
			}))
	}

	It("provisions a running namespace end to end", func() {
		handle, err := newOrchestrator(newDialingLauncher()).Provision(context.Background(), conf)
		Expect(err).NotTo(HaveOccurred())

		Expect(handle.State).To(Equal(namespace.Running))
		Expect(handle.Pid).To(Equal(os.Getpid()))
		Expect(handle.HostLink).To(Equal("ves-blue"))
		Expect(handle.NamespaceLink).To(Equal("vns-blue"))

		Expect(namespaceNet.Addresses("vns-blue")).To(ConsistOf("10.20.30.2/24"))
		Expect(namespaceNet.DefaultRoute()).To(Equal("10.20.30.1"))
		Expect(namespaceNet.IsUp("vns-blue")).To(BeTrue())
		Expect(namespaceNet.Closed()).To(BeTrue())

		Expect(links.Journal()).To(Equal([]string{
			"create-veth-pair ves-blue vns-blue",
			fmt.Sprintf("move-to-namespace vns-blue %d", os.Getpid()),
			"bring-up ves-blue",
			"ensure-bridge nsbr0",
			"attach-to-bridge nsbr0 ves-blue",
		}))
	})

	It("relocates the link only with the pid learned from the handshake", func() {
		handle, err := newOrchestrator(newDialingLauncher()).Provision(context.Background(), conf)
		Expect(err).NotTo(HaveOccurred())
		Expect(links.MoveTarget("vns-blue")).To(Equal(handle.Pid))
	})

	It("removes the transient handshake artifacts afterwards", func() {
		_, err := newOrchestrator(newDialingLauncher()).Provision(context.Background(), conf)
		Expect(err).NotTo(HaveOccurred())

		leftovers, err := os.ReadDir(runDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(leftovers).To(BeEmpty())
	})

	When("a device is donated without gateway or resolver", func() {
		BeforeEach(func() {
			conf = &config.NamespaceConfig{
				Name:          "blue",
				Address:       "10.20.30.2/24",
				DonatedDevice: "eth0",
			}
			conf.ApplyDefaults()
			Expect(conf.Validate()).To(Succeed())
		})

		It("skips the default-route and resolver steps and still succeeds", func() {
			handle, err := newOrchestrator(newDialingLauncher()).Provision(context.Background(), conf)
			Expect(err).NotTo(HaveOccurred())
			Expect(handle.State).To(Equal(namespace.Running))

			Expect(links.MoveTarget("eth0")).To(Equal(handle.Pid))
			Expect(namespaceNet.DefaultRoute()).To(BeEmpty())
		})
	})

	It("aborts provisioning when the link pair cannot be created", func() {
		cause := errors.New("operation not permitted")
		links = linkfake.NewManager(linkfake.WithFailingOperation("create-veth-pair", cause))

		_, err := newOrchestrator(newDialingLauncher()).Provision(context.Background(), conf)
		Expect(err).To(MatchError(cause))
		Expect(links.Journal()).To(BeEmpty())
	})

	It("honors cancellation while awaiting the handshake", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := newOrchestrator(silentLauncher{}).Provision(ctx, conf)
		Expect(err).To(MatchError(ContainSubstring("rendezvous interrupted")))
	})
})
