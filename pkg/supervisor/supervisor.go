package supervisor

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/netns-sentry/netns-sentry/pkg/config"
	"github.com/netns-sentry/netns-sentry/pkg/namespace"
)

// Boundary is one running process+mount isolation boundary inside the
// namespace, rooted at the sentinel process.
type Boundary interface {
	// Wait blocks until the boundary's leader exits.
	Wait() error
	// Pid of the boundary leader (and its process group).
	Pid() int
	// KillGroup tears down the whole process group started for this
	// boundary.
	KillGroup() error
}

// BoundaryLauncher starts a fresh isolation boundary for a cycle.
type BoundaryLauncher interface {
	Launch(handle *namespace.Handle, conf *config.NamespaceConfig) (Boundary, error)
}

// Resetter restores the namespace network state to the configured
// baseline between cycles.
type Resetter interface {
	Reset() error
}

// DefaultRestartDelay paces the retry loop between cycles.
const DefaultRestartDelay = time.Second

// Supervisor owns the retry/reset policy: it runs the user command and the
// reachability watchdog together inside one fresh isolation boundary per
// cycle, restores the network baseline when the boundary collapses, and
// loops forever until cancelled.
type Supervisor struct {
	launcher     BoundaryLauncher
	resetter     Resetter
	restartDelay time.Duration
}

// Option customizes a Supervisor.
type Option func(supervisor *Supervisor)

// WithRestartDelay overrides the pause between cycles.
func WithRestartDelay(delay time.Duration) Option {
	return func(supervisor *Supervisor) {
		supervisor.restartDelay = delay
	}
}

// New returns a Supervisor using the given boundary launcher and resetter.
func New(launcher BoundaryLauncher, resetter Resetter, opts ...Option) *Supervisor {
	supervisor := &Supervisor{
		launcher:     launcher,
		resetter:     resetter,
		restartDelay: DefaultRestartDelay,
	}
	for _, opt := range opts {
		opt(supervisor)
	}
	return supervisor
}

// Run loops cycles until the context is cancelled. A triggered watchdog is
// the designed self-healing mechanism, never an error: the loop continues
// unconditionally. Cancellation tears down the current boundary's whole
// process group before returning.
func (s *Supervisor) Run(ctx context.Context, handle *namespace.Handle, conf *config.NamespaceConfig) error {
	if conf.ProbeTarget == "" {
		klog.Infof("no probe target configured for namespace %s, supervision idles until cancelled", conf.Name)
		<-ctx.Done()
		return nil
	}

	klog.Infof("supervising namespace %s (probe target %s)", conf.Name, conf.ProbeTarget)
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		s.cycle(ctx, handle, conf)
	}, s.restartDelay)
	klog.Infof("supervision of namespace %s cancelled", conf.Name)
	return nil
}

func (s *Supervisor) cycle(ctx context.Context, handle *namespace.Handle, conf *config.NamespaceConfig) {
	boundary, err := s.launcher.Launch(handle, conf)
	if err != nil {
		klog.Errorf("failed to launch the sentinel boundary: %v", err)
		return
	}

	exited := make(chan error, 1)
	go func() { exited <- boundary.Wait() }()

	select {
	case <-ctx.Done():
		klog.Infof("cancellation requested, tearing down process group %d", boundary.Pid())
		if err := boundary.KillGroup(); err != nil {
			klog.Errorf("failed to tear down process group %d: %v", boundary.Pid(), err)
		}
		<-exited
	case err := <-exited:
		s.afterExit(err, conf)
	}
}

func (s *Supervisor) afterExit(waitErr error, conf *config.NamespaceConfig) {
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		klog.Infof("sentinel boundary exited cleanly")
	case errors.As(waitErr, &exitErr) && exitErr.ExitCode() == WatchdogExitCode:
		klog.Infof("watchdog triggered inside namespace %s", conf.Name)
	default:
		klog.Warningf("sentinel boundary exited abnormally: %v", waitErr)
	}

	klog.Infof("restoring network setup for namespace %s", conf.Name)
	if err := s.resetter.Reset(); err != nil {
		klog.Errorf("failed to restore the network baseline: %v", err)
	}
}
