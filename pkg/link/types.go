package link

// Manager exposes the host-side virtual link operations the orchestrator
// and supervisor rely on. Every operation is a single netlink (or, for
// wireless PHYs, nl80211 tool) invocation; there are no retries at this
// layer, retry policy lives with the supervisor.
type Manager interface {
	// CreateVethPair creates a veth pair with the given end names, both
	// ends initially in the host namespace.
	CreateVethPair(hostName string, namespaceName string) error
	// MoveToNamespace moves the named link into the network namespace of
	// the process identified by pid.
	MoveToNamespace(linkName string, pid int) error
	// MoveDeviceToNamespace relocates a donated host device into the
	// network namespace of pid, using the PHY relocation primitive for
	// wireless devices.
	MoveDeviceToNamespace(deviceName string, pid int) error
	// EnsureBridge creates the named bridge if it does not exist yet and
	// brings it up.
	EnsureBridge(bridgeName string) error
	// AttachToBridge enslaves the named link to the named bridge.
	AttachToBridge(bridgeName string, linkName string) error
	// BringUp sets the named link administratively up.
	BringUp(linkName string) error
	// DeleteLink removes the named link. Deleting either veth end removes
	// the pair.
	DeleteLink(linkName string) error
}

// NamespaceNet exposes addressing and routing operations scoped to one
// network namespace, identified at open time. It backs both the initial
// in-namespace configuration and the supervisor's reset-to-baseline step.
type NamespaceNet interface {
	// FlushAddresses removes every address from the named link.
	FlushAddresses(linkName string) error
	// FlushRoutes removes every route in the namespace, the default route
	// included.
	FlushRoutes() error
	// ApplyAddress assigns a CIDR address to the named link.
	ApplyAddress(linkName string, address string) error
	// ApplyDefaultRoute installs a default route via the given gateway.
	ApplyDefaultRoute(gateway string) error
	// BringUp sets the named link administratively up.
	BringUp(linkName string) error
	// Close releases the namespace handle.
	Close()
}
