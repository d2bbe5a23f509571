package namespace

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// State of a running namespace.
type State string

const (
	// Starting: the init process is up, networking not yet configured.
	Starting State = "Starting"
	// Running: networking is configured and the namespace is serviceable.
	Running State = "Running"
	// Terminated: the root process exited; every namespace resource
	// (routes, addresses, the moved link end) was reclaimed by the kernel.
	Terminated State = "Terminated"
)

// Handle represents one running isolated execution context. It becomes
// invalid once the root process exits.
type Handle struct {
	// Pid of the namespace's root (init) process, in the host's view.
	Pid int
	// State of the namespace lifecycle.
	State State
	// HostLink is the veth end left on the host.
	HostLink string
	// NamespaceLink is the veth end owned by the namespace.
	NamespaceLink string

	process *os.Process
}

// Terminate kills the namespace's whole process group and reaps the init
// process. The kernel reclaims all namespace resources with it.
func (h *Handle) Terminate() error {
	if h.State == Terminated {
		return nil
	}
	klog.Infof("terminating namespace process group %d", h.Pid)
	if err := unix.Kill(-h.Pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	if h.process != nil {
		_, _ = h.process.Wait()
	}
	h.State = Terminated
	return nil
}
