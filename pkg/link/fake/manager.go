package fake

import (
	"fmt"
	"sync"
)

// Manager is a recording fake of the link.Manager capability interface.
// Every accepted operation is appended to an ordered journal so tests can
// assert sequencing; individual operations can be made to fail.
type Manager struct {
	mutex       sync.Mutex
	journal     []string
	failures    map[string]error
	moveTargets map[string]int
}

type ManagerOpt func(manager *Manager)

func NewManager(opts ...ManagerOpt) *Manager {
	manager := &Manager{
		failures:    map[string]error{},
		moveTargets: map[string]int{},
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager
}

// WithFailingOperation makes every invocation of the named operation fail
// with the provided error.
func WithFailingOperation(operation string, err error) ManagerOpt {
	return func(manager *Manager) {
		manager.failures[operation] = err
	}
}

// Journal returns the ordered operation log.
func (m *Manager) Journal() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	journal := make([]string, len(m.journal))
	copy(journal, m.journal)
	return journal
}

// MoveTarget returns the pid the named link or device was last moved to,
// or zero when it never moved.
func (m *Manager) MoveTarget(name string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.moveTargets[name]
}

func (m *Manager) record(operation string, detail string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.failures[operation]; err != nil {
		return err
	}
	m.journal = append(m.journal, fmt.Sprintf("%s %s", operation, detail))
	return nil
}

func (m *Manager) CreateVethPair(hostName string, namespaceName string) error {
	return m.record("create-veth-pair", fmt.Sprintf("%s %s", hostName, namespaceName))
}

func (m *Manager) MoveToNamespace(linkName string, pid int) error {
	if err := m.record("move-to-namespace", fmt.Sprintf("%s %d", linkName, pid)); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.moveTargets[linkName] = pid
	return nil
}

func (m *Manager) MoveDeviceToNamespace(deviceName string, pid int) error {
	if err := m.record("move-device-to-namespace", fmt.Sprintf("%s %d", deviceName, pid)); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.moveTargets[deviceName] = pid
	return nil
}

func (m *Manager) EnsureBridge(bridgeName string) error {
	return m.record("ensure-bridge", bridgeName)
}

func (m *Manager) AttachToBridge(bridgeName string, linkName string) error {
	return m.record("attach-to-bridge", fmt.Sprintf("%s %s", bridgeName, linkName))
}

func (m *Manager) BringUp(linkName string) error {
	return m.record("bring-up", linkName)
}

func (m *Manager) DeleteLink(linkName string) error {
	return m.record("delete-link", linkName)
}
