package probe

import (
	"context"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"k8s.io/klog/v2"

	"github.com/netns-sentry/netns-sentry/pkg/logging"
)

const (
	// DefaultTimeout bounds a single echo attempt.
	DefaultTimeout = 5 * time.Second

	// protocolICMP is the IANA protocol number for ICMPv4.
	protocolICMP = 1
)

// Event is the outcome of one reachability attempt. Events are transient:
// they are consumed immediately by the watchdog's counter-update loop and
// never persisted.
type Event struct {
	Reachable bool
	Latency   time.Duration
	Seq       int
}

// Pinger issues one reachability check against a target address.
type Pinger interface {
	Once(ctx context.Context, target string, seq int) Event
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc func(ctx context.Context, target string, seq int) Event

func (f PingerFunc) Once(ctx context.Context, target string, seq int) Event {
	return f(ctx, target, seq)
}

// ICMPPinger probes with a single ICMP echo request per attempt.
type ICMPPinger struct {
	id      int
	timeout time.Duration
}

// NewICMPPinger returns a Pinger issuing ICMP echo requests with the given
// per-attempt timeout; a non-positive timeout selects DefaultTimeout.
func NewICMPPinger(timeout time.Duration) *ICMPPinger {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ICMPPinger{
		id:      os.Getpid() & 0xffff,
		timeout: timeout,
	}
}

// Once sends one echo request and waits for the matching reply until the
// attempt's deadline expires. Any failure along the way (socket setup,
// send, timeout) yields an unreachable Event; probe failures are expected
// and accumulate in the watchdog, they never escalate as errors.
func (p *ICMPPinger) Once(ctx context.Context, target string, seq int) Event {
	unreachable := Event{Reachable: false, Seq: seq}

	destination, err := net.ResolveIPAddr("ip4", target)
	if err != nil {
		klog.V(logging.Debug).Infof("probe %d: cannot resolve %s: %v", seq, target, err)
		return unreachable
	}

	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		klog.V(logging.Debug).Infof("probe %d: cannot open ICMP socket: %v", seq, err)
		return unreachable
	}
	defer conn.Close()

	echo := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   p.id,
			Seq:  seq,
			Data: []byte("netns-sentry"),
		},
	}
	wire, err := echo.Marshal(nil)
	if err != nil {
		klog.V(logging.Debug).Infof("probe %d: cannot marshal echo request: %v", seq, err)
		return unreachable
	}

	start := time.Now()
	deadline := start.Add(p.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return unreachable
	}

	if _, err := conn.WriteTo(wire, destination); err != nil {
		klog.V(logging.Debug).Infof("probe %d: send to %s failed: %v", seq, target, err)
		return unreachable
	}

	// The raw socket sees every inbound ICMP packet; keep reading until our
	// own reply shows up or the deadline passes.
	reply := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(reply)
		if err != nil {
			klog.V(logging.Debug).Infof("probe %d: no reply from %s: %v", seq, target, err)
			return unreachable
		}
		message, err := icmp.ParseMessage(protocolICMP, reply[:n])
		if err != nil {
			continue
		}
		body, isEcho := message.Body.(*icmp.Echo)
		if message.Type != ipv4.ICMPTypeEchoReply || !isEcho || body.ID != p.id || body.Seq != seq {
			continue
		}
		return Event{Reachable: true, Latency: time.Since(start), Seq: seq}
	}
}
