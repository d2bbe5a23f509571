package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/netns-sentry/netns-sentry/pkg/config"
	"github.com/netns-sentry/netns-sentry/pkg/namespace"
)

// ExecLauncher launches sentinel boundaries by re-executing the current
// binary inside the namespace's network namespace, with fresh pid and
// mount namespaces on top.
type ExecLauncher struct {
	execPath string
}

// NewExecLauncher returns the real boundary launcher.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{execPath: "/proc/self/exe"}
}

// Launch enters the target network namespace on a locked OS thread just
// long enough to start the sentinel, then switches back. The child
// inherits the network namespace; its clone flags give it the private pid
// and mount namespaces of its own boundary.
func (l *ExecLauncher) Launch(handle *namespace.Handle, conf *config.NamespaceConfig) (Boundary, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	hostNS, err := netns.Get()
	if err != nil {
		return nil, fmt.Errorf("cannot reference the host network namespace: %w", err)
	}
	defer hostNS.Close()

	targetNS, err := netns.GetFromPid(handle.Pid)
	if err != nil {
		return nil, fmt.Errorf("cannot reference the namespace of pid %d: %w", handle.Pid, err)
	}
	defer targetNS.Close()

	if err := netns.Set(targetNS); err != nil {
		return nil, fmt.Errorf("cannot enter the namespace of pid %d: %w", handle.Pid, err)
	}
	defer func() {
		if err := netns.Set(hostNS); err != nil {
			klog.Errorf("cannot return to the host network namespace: %v", err)
		}
	}()

	args := []string{SentinelCommand, "-probe-target", conf.ProbeTarget}
	if conf.Command != "" {
		args = append(args, "-command", conf.Command)
	}
	cmd := exec.Command(l.execPath, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWPID | syscall.CLONE_NEWNS,
		Setpgid:    true,
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("cannot start the sentinel: %w", err)
	}
	return &processBoundary{cmd: cmd}, nil
}

type processBoundary struct {
	cmd *exec.Cmd
}

func (b *processBoundary) Pid() int {
	return b.cmd.Process.Pid
}

func (b *processBoundary) Wait() error {
	return b.cmd.Wait()
}

func (b *processBoundary) KillGroup() error {
	err := unix.Kill(-b.cmd.Process.Pid, unix.SIGKILL)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
