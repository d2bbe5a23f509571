package fake

import (
	"sync"
)

// NamespaceNet is an in-memory fake of the link.NamespaceNet capability
// interface, tracking the addressing and routing state a real namespace
// would hold so tests can assert on the final state.
type NamespaceNet struct {
	mutex        sync.Mutex
	addresses    map[string][]string
	defaultRoute string
	upLinks      map[string]bool
	closed       bool
	flushCount   int
}

func NewNamespaceNet() *NamespaceNet {
	return &NamespaceNet{
		addresses: map[string][]string{},
		upLinks:   map[string]bool{},
	}
}

func (n *NamespaceNet) FlushAddresses(linkName string) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	delete(n.addresses, linkName)
	n.flushCount++
	return nil
}

func (n *NamespaceNet) FlushRoutes() error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.defaultRoute = ""
	return nil
}

func (n *NamespaceNet) ApplyAddress(linkName string, address string) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.addresses[linkName] = append(n.addresses[linkName], address)
	return nil
}

func (n *NamespaceNet) ApplyDefaultRoute(gateway string) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.defaultRoute = gateway
	return nil
}

func (n *NamespaceNet) BringUp(linkName string) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.upLinks[linkName] = true
	return nil
}

func (n *NamespaceNet) Close() {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.closed = true
}

// Addresses returns the addresses currently assigned to the named link.
func (n *NamespaceNet) Addresses(linkName string) []string {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return append([]string(nil), n.addresses[linkName]...)
}

// DefaultRoute returns the gateway of the current default route, or the
// empty string when none is installed.
func (n *NamespaceNet) DefaultRoute() string {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.defaultRoute
}

// IsUp reports whether the named link was brought up.
func (n *NamespaceNet) IsUp(linkName string) bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.upLinks[linkName]
}

// Closed reports whether Close was called.
func (n *NamespaceNet) Closed() bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.closed
}

// FlushCount returns how many times FlushAddresses ran.
func (n *NamespaceNet) FlushCount() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.flushCount
}
