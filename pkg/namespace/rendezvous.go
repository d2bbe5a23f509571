package namespace

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/netns-sentry/netns-sentry/pkg/logging"
)

// Rendezvous is the one-shot conduit over which a freshly created
// namespace's init process reports that the namespace exists. The init's
// pid is taken from the connection's peer credentials: the kernel
// translates those into the listener's pid namespace, whereas the payload
// the init writes is its own, namespace-local view (always 1 for a pid
// namespace leader) and merely serves as the ready marker.
type Rendezvous struct {
	path     string
	listener *net.UnixListener
}

// NewRendezvous opens the rendezvous listener at the given socket path.
func NewRendezvous(path string) (*Rendezvous, error) {
	address, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("invalid rendezvous socket path %q: %v", path, err)
	}
	listener, err := net.ListenUnix("unix", address)
	if err != nil {
		return nil, fmt.Errorf("failed to open the rendezvous socket: %w", err)
	}
	return &Rendezvous{path: path, listener: listener}, nil
}

// Path returns the socket path the init process must dial.
func (r *Rendezvous) Path() string {
	return r.path
}

// Await blocks until the init process connects and reports ready, then
// returns its pid as seen from the host. The wait carries no timeout of
// its own, since the handshake is the barrier preventing link relocation
// from racing namespace creation, but it honors context cancellation.
func (r *Rendezvous) Await(ctx context.Context) (int, error) {
	interrupted := make(chan struct{})
	defer close(interrupted)
	go func() {
		select {
		case <-ctx.Done():
			_ = r.listener.Close()
		case <-interrupted:
		}
	}()

	conn, err := r.listener.AcceptUnix()
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("rendezvous interrupted: %w", ctx.Err())
		}
		return 0, fmt.Errorf("rendezvous accept failed: %w", err)
	}
	defer conn.Close()

	pid, err := peerPid(conn)
	if err != nil {
		return 0, fmt.Errorf("cannot identify the rendezvous peer: %w", err)
	}

	ready, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("rendezvous peer vanished before reporting ready: %w", err)
	}
	localPid, err := strconv.Atoi(strings.TrimSpace(ready))
	if err != nil {
		return 0, fmt.Errorf("malformed ready report %q: %v", strings.TrimSpace(ready), err)
	}
	klog.V(logging.Debug).Infof("init reported ready: namespace-local pid %d, host-view pid %d",
		localPid, pid)
	return pid, nil
}

// Close shuts the listener down and unlinks the socket.
func (r *Rendezvous) Close() {
	_ = r.listener.Close()
}

func peerPid(conn *net.UnixConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, err
	}
	if credErr != nil {
		return 0, credErr
	}
	return int(cred.Pid), nil
}
