package link

import (
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/netns-sentry/netns-sentry/pkg/logging"
)

// namespaceNet implements NamespaceNet through a netlink handle bound to
// another process's network namespace, so addressing and routing inside the
// namespace can be programmed without entering it.
type namespaceNet struct {
	nsHandle netns.NsHandle
	handle   *netlink.Handle
}

// OpenNamespaceNet returns a NamespaceNet scoped to the network namespace
// of the process identified by pid.
func OpenNamespaceNet(pid int) (NamespaceNet, error) {
	nsHandle, err := netns.GetFromPid(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to open the network namespace of pid %d: %w", pid, err)
	}
	handle, err := netlink.NewHandleAt(nsHandle)
	if err != nil {
		nsHandle.Close()
		return nil, fmt.Errorf("failed to open a netlink handle in the namespace of pid %d: %w", pid, err)
	}
	return &namespaceNet{nsHandle: nsHandle, handle: handle}, nil
}

func (n *namespaceNet) FlushAddresses(linkName string) error {
	l, err := n.handle.LinkByName(linkName)
	if err != nil {
		return opError("lookup", linkName, err)
	}
	addresses, err := n.handle.AddrList(l, netlink.FAMILY_ALL)
	if err != nil {
		return opError("list addresses", linkName, err)
	}
	for i := range addresses {
		klog.V(logging.Debug).Infof("flushing address %s from %s", addresses[i].IPNet, linkName)
		if err := n.handle.AddrDel(l, &addresses[i]); err != nil {
			return opError("flush address", linkName, err)
		}
	}
	return nil
}

func (n *namespaceNet) FlushRoutes() error {
	routes, err := n.handle.RouteListFiltered(
		netlink.FAMILY_ALL,
		&netlink.Route{Table: unix.RT_TABLE_MAIN},
		netlink.RT_FILTER_TABLE)
	if err != nil {
		return fmt.Errorf("failed to list namespace routes: %w", err)
	}
	for i := range routes {
		klog.V(logging.Debug).Infof("flushing route %s", routes[i].String())
		if err := n.handle.RouteDel(&routes[i]); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("failed to flush route %s: %w", routes[i].String(), err)
		}
	}
	return nil
}

func (n *namespaceNet) ApplyAddress(linkName string, address string) error {
	l, err := n.handle.LinkByName(linkName)
	if err != nil {
		return opError("lookup", linkName, err)
	}
	addr, err := netlink.ParseAddr(address)
	if err != nil {
		return opError("parse address", linkName, err)
	}
	return opError("apply address", linkName, n.handle.AddrReplace(l, addr))
}

func (n *namespaceNet) ApplyDefaultRoute(gateway string) error {
	gw := net.ParseIP(gateway)
	if gw == nil {
		return fmt.Errorf("invalid gateway address %q", gateway)
	}
	if err := n.handle.RouteReplace(&netlink.Route{Gw: gw}); err != nil {
		return fmt.Errorf("failed to apply the default route via %s: %w", gateway, err)
	}
	return nil
}

func (n *namespaceNet) BringUp(linkName string) error {
	l, err := n.handle.LinkByName(linkName)
	if err != nil {
		return opError("lookup", linkName, err)
	}
	return opError("bring up", linkName, n.handle.LinkSetUp(l))
}

func (n *namespaceNet) Close() {
	n.handle.Delete()
	_ = n.nsHandle.Close()
}
