package probe

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// DefaultInterval is the probing cadence.
const DefaultInterval = time.Second

// Runner schedules probe attempts at a fixed, non-sliding cadence. Each
// tick launches an independent attempt, so a slow or lost probe never
// stalls the liveness signal: attempt N+1 may start while attempt N is
// still outstanding. Results are delivered on the events channel in
// completion order, which is not necessarily issue order.
type Runner struct {
	Pinger   Pinger
	Target   string
	Interval time.Duration
}

// Run probes until the context is cancelled. It never closes the events
// channel since in-flight attempts may still deliver.
func (r *Runner) Run(ctx context.Context, events chan<- Event) {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	seq := 0
	wait.NonSlidingUntilWithContext(ctx, func(ctx context.Context) {
		seq++
		attempt := seq
		go func() {
			event := r.Pinger.Once(ctx, r.Target, attempt)
			select {
			case events <- event:
			case <-ctx.Done():
			}
		}()
	}, interval)
}
