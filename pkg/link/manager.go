package link

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"
	"k8s.io/klog/v2"

	"github.com/netns-sentry/netns-sentry/pkg/logging"
)

const sysClassNet = "/sys/class/net"

// NetlinkManager implements Manager on top of the kernel's netlink
// interface.
type NetlinkManager struct{}

// NewManager returns a Manager talking netlink to the host kernel.
func NewManager() *NetlinkManager {
	return &NetlinkManager{}
}

func (m *NetlinkManager) CreateVethPair(hostName string, namespaceName string) error {
	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: hostName},
		PeerName:  namespaceName,
	}
	klog.V(logging.Debug).Infof("creating veth pair %s <-> %s", hostName, namespaceName)
	return opError("create veth pair", hostName, netlink.LinkAdd(veth))
}

func (m *NetlinkManager) MoveToNamespace(linkName string, pid int) error {
	l, err := netlink.LinkByName(linkName)
	if err != nil {
		return opError("lookup", linkName, err)
	}
	klog.V(logging.Debug).Infof("moving link %s into the namespace of pid %d", linkName, pid)
	return opError("move to namespace", linkName, netlink.LinkSetNsPid(l, pid))
}

func (m *NetlinkManager) MoveDeviceToNamespace(deviceName string, pid int) error {
	phyName, isWireless, err := wirelessPhyName(deviceName)
	if err != nil {
		return opError("inspect device", deviceName, err)
	}
	if !isWireless {
		return m.MoveToNamespace(deviceName, pid)
	}

	// Wireless devices belong to a PHY which must be relocated as a whole;
	// netlink route sockets cannot express that, nl80211 (via iw) can.
	klog.V(logging.Debug).Infof("moving wireless phy %s (device %s) into the namespace of pid %d",
		phyName, deviceName, pid)
	cmd := exec.Command("iw", "phy", phyName, "set", "netns", strconv.Itoa(pid))
	if out, err := cmd.CombinedOutput(); err != nil {
		return opError("move phy to namespace", deviceName,
			fmt.Errorf("%q: %v: %s", strings.Join(cmd.Args, " "), err, strings.TrimSpace(string(out))))
	}
	return nil
}

func (m *NetlinkManager) EnsureBridge(bridgeName string) error {
	br, err := netlink.LinkByName(bridgeName)
	if err != nil {
		if _, notFound := err.(netlink.LinkNotFoundError); !notFound {
			return opError("lookup bridge", bridgeName, err)
		}
		klog.Infof("bridge %s not present, creating it", bridgeName)
		br = &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: bridgeName}}
		if err := netlink.LinkAdd(br); err != nil {
			return opError("create bridge", bridgeName, err)
		}
	}
	return opError("bring up bridge", bridgeName, netlink.LinkSetUp(br))
}

func (m *NetlinkManager) AttachToBridge(bridgeName string, linkName string) error {
	br, err := netlink.LinkByName(bridgeName)
	if err != nil {
		return opError("lookup bridge", bridgeName, err)
	}
	l, err := netlink.LinkByName(linkName)
	if err != nil {
		return opError("lookup", linkName, err)
	}
	return opError("attach to bridge", linkName, netlink.LinkSetMaster(l, br))
}

func (m *NetlinkManager) BringUp(linkName string) error {
	l, err := netlink.LinkByName(linkName)
	if err != nil {
		return opError("lookup", linkName, err)
	}
	return opError("bring up", linkName, netlink.LinkSetUp(l))
}

func (m *NetlinkManager) DeleteLink(linkName string) error {
	l, err := netlink.LinkByName(linkName)
	if err != nil {
		return opError("lookup", linkName, err)
	}
	return opError("delete", linkName, netlink.LinkDel(l))
}

// wirelessPhyName reports whether the device is backed by a wireless PHY
// and, if so, the PHY's name.
func wirelessPhyName(deviceName string) (string, bool, error) {
	phyNamePath := filepath.Join(sysClassNet, deviceName, "phy80211", "name")
	contents, err := os.ReadFile(phyNamePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return strings.TrimSpace(string(contents)), true, nil
}
