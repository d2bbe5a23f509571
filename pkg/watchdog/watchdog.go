package watchdog

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/netns-sentry/netns-sentry/pkg/logging"
	"github.com/netns-sentry/netns-sentry/pkg/probe"
)

// DefaultThreshold is the number of consecutive failed probes that trips
// the watchdog.
const DefaultThreshold = 5

// ErrTriggered reports that the watchdog observed sustained unreachability
// and wants the environment torn down. At the outer supervisor this is a
// loop-continuation signal, not an error condition.
var ErrTriggered = errors.New("watchdog triggered: sustained probe failure")

// State of the watchdog.
type State int

const (
	// Monitoring: the last probe succeeded (or none failed yet).
	Monitoring State = iota
	// Failing: one or more consecutive probes failed, below the threshold.
	Failing
	// Triggered: the failure threshold was reached. Terminal.
	Triggered
)

func (s State) String() string {
	switch s {
	case Monitoring:
		return "monitoring"
	case Failing:
		return "failing"
	case Triggered:
		return "triggered"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Watchdog counts consecutive probe failures and trips once they reach the
// threshold. Any single success fully exonerates prior failures, so
// transient packet loss never accumulates; a sustained outage still reacts
// within threshold seconds. The counter is owned exclusively by the single
// event-processing loop. Events arrive in completion order, and a late
// success for an older probe resets the counter just like a fresh one.
type Watchdog struct {
	threshold int
	count     int
	state     State
}

// New returns a Watchdog tripping after threshold consecutive failures;
// a non-positive threshold selects DefaultThreshold.
func New(threshold int) *Watchdog {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Watchdog{threshold: threshold, state: Monitoring}
}

// State returns the current state.
func (w *Watchdog) State() State {
	return w.state
}

// FailureCount returns the current consecutive-failure count.
func (w *Watchdog) FailureCount() int {
	return w.count
}

// Observe feeds one probe event into the state machine and returns the
// resulting state. Observing events after the Triggered state is reached
// has no effect.
func (w *Watchdog) Observe(event probe.Event) State {
	if w.state == Triggered {
		return w.state
	}
	if event.Reachable {
		if w.count > 0 {
			klog.V(logging.Debug).Infof(
				"probe %d reachable after %d failure(s), counter reset", event.Seq, w.count)
		}
		w.count = 0
		w.state = Monitoring
		return w.state
	}

	w.count++
	klog.V(logging.Debug).Infof("probe %d unreachable, %d/%d consecutive failures",
		event.Seq, w.count, w.threshold)
	if w.count < w.threshold {
		w.state = Failing
	} else {
		w.state = Triggered
	}
	return w.state
}

// Run consumes events until the watchdog triggers, the events channel is
// closed, or the context is cancelled. It returns ErrTriggered on sustained
// failure, the context's error on cancellation, and nil when the channel
// closes.
func (w *Watchdog) Run(ctx context.Context, events <-chan probe.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if w.Observe(event) == Triggered {
				klog.Infof("%d consecutive probe failures, triggering environment teardown", w.count)
				return ErrTriggered
			}
		}
	}
}
