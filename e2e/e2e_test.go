package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"github.com/netns-sentry/netns-sentry/pkg/config"
	"github.com/netns-sentry/netns-sentry/pkg/link"
	"github.com/netns-sentry/netns-sentry/pkg/namespace"
	"github.com/netns-sentry/netns-sentry/pkg/supervisor"
)

// The orchestrator re-executes the current binary as the namespace init;
// in this suite the current binary is the test binary, so dispatch the
// init entrypoint before handing control to the test runner.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == namespace.InitCommand {
		os.Exit(namespace.RunInit(os.Args[2:]))
	}
	os.Exit(m.Run())
}

func TestNetnsSentryE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Netns Sentry")
}

var _ = Describe("Namespace provisioning", Serial, func() {
	const (
		namespaceName = "e2e-test"
		bridgeName    = "nsbr-e2e"
		address       = "10.123.45.2/24"
		gateway       = "10.123.45.1"
		timeout       = 15 * time.Second
	)

	var (
		conf   *config.NamespaceConfig
		handle *namespace.Handle
	)

	BeforeEach(func() {
		if os.Geteuid() != 0 {
			Skip("provisioning real namespaces requires root")
		}

		conf = &config.NamespaceConfig{
			Name:    namespaceName,
			Address: address,
			Gateway: gateway,
			Bridge:  bridgeName,
		}
		conf.ApplyDefaults()
		Expect(conf.Validate()).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var err error
		handle, err = namespace.NewOrchestrator(link.NewManager()).Provision(ctx, conf)
		Expect(err).NotTo(HaveOccurred())
		Expect(handle.State).To(Equal(namespace.Running))
	})

	AfterEach(func() {
		// the BeforeEach skips before assigning conf on unprivileged hosts
		if conf == nil {
			return
		}
		if handle != nil {
			Expect(handle.Terminate()).To(Succeed())
		}
		if hostLink, err := netlink.LinkByName(conf.HostLinkName()); err == nil {
			_ = netlink.LinkDel(hostLink)
		}
		if bridge, err := netlink.LinkByName(bridgeName); err == nil {
			_ = netlink.LinkDel(bridge)
		}
	})

	It("keeps the init process alive inside the namespace", func() {
		_, err := os.Stat(fmt.Sprintf("/proc/%d", handle.Pid))
		Expect(err).NotTo(HaveOccurred())
	})

	It("enslaves the host end of the link pair to the bridge", func() {
		bridge, err := netlink.LinkByName(bridgeName)
		Expect(err).NotTo(HaveOccurred())

		hostLink, err := netlink.LinkByName(handle.HostLink)
		Expect(err).NotTo(HaveOccurred())
		Expect(hostLink.Attrs().MasterIndex).To(Equal(bridge.Attrs().Index))
		Expect(hostLink.Attrs().Flags.String()).To(ContainSubstring("up"))
	})

	It("addresses and routes the namespace end of the link pair", func() {
		Expect(namespaceAddresses(handle)).To(ContainElement(address))

		routes, err := namespaceDefaultRoutes(handle)
		Expect(err).NotTo(HaveOccurred())
		Expect(routes).To(ContainElement(gateway))
	})

	When("the namespace addressing is tampered with", func() {
		BeforeEach(func() {
			namespaceNet, err := link.OpenNamespaceNet(handle.Pid)
			Expect(err).NotTo(HaveOccurred())
			defer namespaceNet.Close()
			Expect(namespaceNet.FlushAddresses(handle.NamespaceLink)).To(Succeed())
			Expect(namespaceAddresses(handle)).NotTo(ContainElement(address))
		})

		It("is restored to baseline by the resetter", func() {
			Expect(supervisor.NewBaselineResetter(handle, conf).Reset()).To(Succeed())
			Expect(namespaceAddresses(handle)).To(ContainElement(address))
		})
	})
})

func namespaceAddresses(handle *namespace.Handle) ([]string, error) {
	nlHandle, closeView, err := namespaceView(handle)
	if err != nil {
		return nil, err
	}
	defer closeView()

	namespaceLink, err := nlHandle.LinkByName(handle.NamespaceLink)
	if err != nil {
		return nil, err
	}
	addrs, err := nlHandle.AddrList(namespaceLink, netlink.FAMILY_V4)
	if err != nil {
		return nil, err
	}
	var cidrs []string
	for _, addr := range addrs {
		cidrs = append(cidrs, addr.IPNet.String())
	}
	return cidrs, nil
}

func namespaceDefaultRoutes(handle *namespace.Handle) ([]string, error) {
	nlHandle, closeView, err := namespaceView(handle)
	if err != nil {
		return nil, err
	}
	defer closeView()

	routes, err := nlHandle.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, err
	}
	var gateways []string
	for _, route := range routes {
		if route.Dst == nil && route.Gw != nil {
			gateways = append(gateways, route.Gw.String())
		}
	}
	return gateways, nil
}

func namespaceView(handle *namespace.Handle) (*netlink.Handle, func(), error) {
	nsHandle, err := netns.GetFromPid(handle.Pid)
	if err != nil {
		return nil, nil, err
	}
	nlHandle, err := netlink.NewHandleAt(nsHandle)
	if err != nil {
		nsHandle.Close()
		return nil, nil, err
	}
	return nlHandle, func() {
		nlHandle.Delete()
		nsHandle.Close()
	}, nil
}
