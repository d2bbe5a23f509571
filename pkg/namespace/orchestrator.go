package namespace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	petname "github.com/dustinkirkland/golang-petname"
	"k8s.io/klog/v2"

	"github.com/netns-sentry/netns-sentry/pkg/config"
	"github.com/netns-sentry/netns-sentry/pkg/link"
	"github.com/netns-sentry/netns-sentry/pkg/logging"
)

// InitLauncher starts the namespace init process against a session
// descriptor file.
type InitLauncher interface {
	Launch(sessionPath string) (*os.Process, error)
}

// NetOpener opens an addressing/routing view into the network namespace of
// the given pid.
type NetOpener func(pid int) (link.NamespaceNet, error)

// Orchestrator turns a NamespaceConfig into a running namespace Handle
// whose root process is the namespace init. Provisioning failures are
// fatal to the caller: no partial-state cleanup beyond the transient
// handshake artifacts is attempted, operator intervention is expected.
type Orchestrator struct {
	links    link.Manager
	launcher InitLauncher
	openNet  NetOpener
	runDir   string
}

// Option customizes an Orchestrator; used by tests to swap the process
// and namespace primitives for fakes.
type Option func(orchestrator *Orchestrator)

// WithInitLauncher substitutes the init process launcher.
func WithInitLauncher(launcher InitLauncher) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.launcher = launcher
	}
}

// WithNetOpener substitutes the namespace addressing backend.
func WithNetOpener(openNet NetOpener) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.openNet = openNet
	}
}

// WithRunDir places the transient handshake artifacts elsewhere.
func WithRunDir(runDir string) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.runDir = runDir
	}
}

// NewOrchestrator returns an Orchestrator provisioning real namespaces by
// re-executing the current binary.
func NewOrchestrator(links link.Manager, opts ...Option) *Orchestrator {
	orchestrator := &Orchestrator{
		links:    links,
		launcher: &execInitLauncher{execPath: "/proc/self/exe"},
		openNet:  link.OpenNamespaceNet,
		runDir:   os.TempDir(),
	}
	for _, opt := range opts {
		opt(orchestrator)
	}
	return orchestrator
}

// Provision creates the virtual link pair, launches the namespace init,
// performs the pid rendezvous, relocates links and devices, and programs
// baseline addressing. Link relocation strictly follows the handshake:
// the target namespace does not exist before it.
func (o *Orchestrator) Provision(ctx context.Context, conf *config.NamespaceConfig) (*Handle, error) {
	hostLink := conf.HostLinkName()
	namespaceLink := conf.NamespaceLinkName()

	if err := o.links.CreateVethPair(hostLink, namespaceLink); err != nil {
		return nil, fmt.Errorf("failed to create the virtual link pair: %w", err)
	}

	transient := fmt.Sprintf("%s-%s", conf.Name, petname.Generate(2, "-"))
	rendezvousPath := filepath.Join(o.runDir, transient+".sock")
	sessionPath := filepath.Join(o.runDir, transient+".session")

	rendezvous, err := NewRendezvous(rendezvousPath)
	if err != nil {
		return nil, err
	}
	defer rendezvous.Close()

	if err := WriteSession(sessionPath, &Session{
		Name:           conf.Name,
		DNS:            conf.DNS,
		RendezvousPath: rendezvousPath,
	}); err != nil {
		return nil, err
	}
	defer os.Remove(sessionPath)

	klog.Infof("launching the init process for namespace %s", conf.Name)
	process, err := o.launcher.Launch(sessionPath)
	if err != nil {
		return nil, fmt.Errorf("failed to launch the namespace init: %w", err)
	}

	pid, err := rendezvous.Await(ctx)
	if err != nil {
		return nil, err
	}
	if process != nil && pid != process.Pid {
		return nil, fmt.Errorf(
			"rendezvous peer pid %d does not match the launched init process %d", pid, process.Pid)
	}
	klog.Infof("namespace %s is up, init running as pid %d", conf.Name, pid)

	handle := &Handle{
		Pid:           pid,
		State:         Starting,
		HostLink:      hostLink,
		NamespaceLink: namespaceLink,
		process:       process,
	}

	if err := o.links.MoveToNamespace(namespaceLink, pid); err != nil {
		return nil, fmt.Errorf("failed to move %s into namespace %s: %w", namespaceLink, conf.Name, err)
	}
	if conf.DonatedDevice != "" {
		klog.Infof("donating device %s to namespace %s", conf.DonatedDevice, conf.Name)
		if err := o.links.MoveDeviceToNamespace(conf.DonatedDevice, pid); err != nil {
			return nil, fmt.Errorf("failed to donate device %s: %w", conf.DonatedDevice, err)
		}
	}

	namespaceNet, err := o.openNet(pid)
	if err != nil {
		return nil, err
	}
	defer namespaceNet.Close()

	if err := namespaceNet.ApplyAddress(namespaceLink, conf.Address); err != nil {
		return nil, fmt.Errorf("failed to address %s: %w", namespaceLink, err)
	}
	if err := namespaceNet.BringUp(namespaceLink); err != nil {
		return nil, fmt.Errorf("failed to bring up %s: %w", namespaceLink, err)
	}
	if conf.Gateway != "" {
		if err := namespaceNet.ApplyDefaultRoute(conf.Gateway); err != nil {
			return nil, fmt.Errorf("failed to install the default route: %w", err)
		}
	} else {
		klog.V(logging.Debug).Infof("no gateway configured, skipping the default route")
	}

	if err := o.links.BringUp(hostLink); err != nil {
		return nil, fmt.Errorf("failed to bring up %s: %w", hostLink, err)
	}
	if err := o.links.EnsureBridge(conf.Bridge); err != nil {
		return nil, fmt.Errorf("failed to provision bridge %s: %w", conf.Bridge, err)
	}
	if err := o.links.AttachToBridge(conf.Bridge, hostLink); err != nil {
		return nil, fmt.Errorf("failed to attach %s to bridge %s: %w", hostLink, conf.Bridge, err)
	}

	handle.State = Running
	return handle, nil
}

// execInitLauncher re-executes the current binary as the namespace init,
// unsharing network, mount and pid namespaces and making it a process
// group leader.
type execInitLauncher struct {
	execPath string
}

func (l *execInitLauncher) Launch(sessionPath string) (*os.Process, error) {
	cmd := exec.Command(l.execPath, InitCommand, sessionPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWNET | syscall.CLONE_NEWNS | syscall.CLONE_NEWPID,
		Setpgid:    true,
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Process, nil
}
