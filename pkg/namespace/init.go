package namespace

import (
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// InitCommand is the hidden argv[1] selecting the namespace init half of
// the re-executed binary.
const InitCommand = "ns-init"

// RunInit is the entry point of the namespace's root process. It runs
// inside freshly unshared network, mount and pid namespaces: it privatizes
// its mount tree, overrides the resolver when asked to, brings up loopback,
// reports readiness over the rendezvous socket and then idles as the
// process group leader, reaping whatever gets reparented to it.
//
// Returns the process exit code.
func RunInit(args []string) int {
	if len(args) != 1 {
		klog.Errorf("usage: %s <session-file>", InitCommand)
		return 1
	}
	session, err := LoadSession(args[0])
	if err != nil {
		klog.Errorf("init cannot load its session descriptor: %v", err)
		return 1
	}

	// Detach the mount tree from the host's propagation group, so the
	// resolver bind mount below never leaks out.
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		klog.Errorf("init cannot privatize its mount tree: %v", err)
		return 1
	}

	if session.DNS != "" {
		if err := overrideResolver(session.DNS); err != nil {
			klog.Errorf("init cannot override the resolver: %v", err)
			return 1
		}
	}

	if err := bringUpLoopback(); err != nil {
		klog.Errorf("init cannot bring up loopback: %v", err)
		return 1
	}

	if err := reportReady(session.RendezvousPath); err != nil {
		klog.Errorf("init cannot reach the rendezvous socket: %v", err)
		return 1
	}

	klog.Infof("namespace %s init idling as process group leader", session.Name)
	idle()
	return 0
}

// overrideResolver bind-mounts a private resolver configuration over the
// canonical path. The mount namespace is private, so the host never sees
// the override.
func overrideResolver(dns string) error {
	private, err := os.CreateTemp("", "resolv-")
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(private, "nameserver %s\n", dns); err != nil {
		private.Close()
		return err
	}
	if err := private.Close(); err != nil {
		return err
	}
	return unix.Mount(private.Name(), "/etc/resolv.conf", "", unix.MS_BIND, "")
}

func bringUpLoopback() error {
	lo, err := netlink.LinkByName("lo")
	if err != nil {
		return err
	}
	return netlink.LinkSetUp(lo)
}

func reportReady(rendezvousPath string) error {
	conn, err := net.Dial("unix", rendezvousPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	// The payload is this process's own pid view (1, being a pid namespace
	// leader); the orchestrator reads the host-view pid from the socket's
	// peer credentials.
	_, err = fmt.Fprintf(conn, "%d\n", os.Getpid())
	return err
}

// idle blocks forever, reaping children as pid 1 of the pid namespace. The
// process only ever leaves through an external kill of its process group.
func idle() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, unix.SIGCHLD, unix.SIGTERM)
	for sig := range signals {
		switch sig {
		case unix.SIGCHLD:
			for {
				pid, err := unix.Wait4(-1, nil, unix.WNOHANG, nil)
				if pid <= 0 || err != nil {
					break
				}
			}
		case unix.SIGTERM:
			return
		}
	}
}
