package supervisor

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/netns-sentry/netns-sentry/pkg/probe"
	"github.com/netns-sentry/netns-sentry/pkg/watchdog"
)

// SentinelCommand is the hidden argv[1] selecting the in-boundary half of
// the re-executed binary.
const SentinelCommand = "ns-sentinel"

// WatchdogExitCode distinguishes a watchdog-triggered exit from other
// terminations of the sentinel boundary.
const WatchdogExitCode = 1

const usageExitCode = 2

// RunSentinel is the entry point of the boundary leader. It runs as pid 1
// of a fresh pid namespace inside the monitored network namespace: it
// remounts /proc for the boundary's own process view, backgrounds the user
// command, and then becomes the reachability watchdog. Its exit collapses
// the whole boundary.
//
// Returns the process exit code: usageExitCode before monitoring starts,
// WatchdogExitCode afterwards. It never returns 0.
func RunSentinel(args []string) int {
	flags := flag.NewFlagSet(SentinelCommand, flag.ContinueOnError)
	target := flags.String("probe-target", "", "address probed for reachability")
	command := flags.String("command", "", "command kept alive inside the namespace")
	if err := flags.Parse(args); err != nil {
		return usageExitCode
	}
	if *target == "" {
		klog.Errorf("sentinel requires a probe target")
		return usageExitCode
	}

	if err := remountProc(); err != nil {
		klog.Errorf("sentinel cannot remount /proc: %v", err)
		return usageExitCode
	}

	var commandGroup int
	if *command != "" {
		cmd := exec.Command("sh", "-c", *command)
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if err := cmd.Start(); err != nil {
			klog.Errorf("sentinel cannot start the user command: %v", err)
			return usageExitCode
		}
		commandGroup = cmd.Process.Pid
		klog.Infof("user command running as pid %d", cmd.Process.Pid)
		go func() {
			err := cmd.Wait()
			klog.Infof("user command exited: %v", err)
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan probe.Event, 16)
	runner := &probe.Runner{
		Pinger:   probe.NewICMPPinger(probe.DefaultTimeout),
		Target:   *target,
		Interval: probe.DefaultInterval,
	}
	go runner.Run(ctx, events)

	err := watchdog.New(watchdog.DefaultThreshold).Run(ctx, events)
	if commandGroup != 0 {
		_ = unix.Kill(-commandGroup, unix.SIGKILL)
	}
	return sentinelExitCode(err)
}

// sentinelExitCode maps the watchdog's outcome to the boundary leader's
// exit status. The sentinel never exits 0 once monitoring has started: an
// event stream ending without a trigger is as fatal to the boundary as
// the trigger itself.
func sentinelExitCode(err error) int {
	if !errors.Is(err, watchdog.ErrTriggered) {
		klog.Errorf("probe event stream ended without a trigger: %v", err)
	}
	return WatchdogExitCode
}

// remountProc gives the boundary's pid namespace its own process view, so
// tools relying on process listings see only the boundary.
func remountProc() error {
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return err
	}
	return unix.Mount("proc", "/proc", "proc", 0, "")
}
