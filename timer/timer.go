// Package timer runs a callback at a fixed interval, optionally a bounded
// number of times.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Infinite makes a timer repeat until cancelled.
const Infinite = -1

// Callback is invoked once per tick.
type Callback func(ctx context.Context) error

// Timer invokes Callback every Interval. The interval is measured from the
// start of one invocation to the start of the next, so a slow callback shortens
// the following sleep rather than delaying the schedule.
type Timer struct {
	Name     string
	Interval time.Duration
	Callback Callback
	// Count is the number of remaining invocations, or Infinite.
	Count int

	// OnTick, when set, observes each invocation's duration and error.
	OnTick func(name string, elapsed time.Duration, err error)

	logger *slog.Logger
}

// New creates a timer. A count of zero or less repeats forever.
func New(name string, interval time.Duration, cb Callback, count int, logger *slog.Logger) *Timer {
	if count <= 0 {
		count = Infinite
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		Name:     name,
		Interval: interval,
		Callback: cb,
		Count:    count,
		logger:   logger.With("timer", name),
	}
}

// Run loops until the count is exhausted or ctx is cancelled. Callback errors
// and panics are logged and the loop moves on to the next tick. Run returns
// nil in both cases.
func (t *Timer) Run(ctx context.Context) error {
	for t.Count == Infinite || t.Count > 0 {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		err := t.invoke(ctx)
		elapsed := time.Since(start)

		if err != nil && ctx.Err() == nil {
			t.logger.Error("timer callback failed", "error", err)
		}
		if t.OnTick != nil {
			t.OnTick(t.Name, elapsed, err)
		}

		if t.Count != Infinite {
			t.Count--
			if t.Count == 0 {
				return nil
			}
		}

		if wait := t.Interval - elapsed; wait > 0 {
			if !sleep(ctx, wait) {
				return nil
			}
		}
	}
	return nil
}

func (t *Timer) invoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("timer %s panicked: %v", t.Name, r)
		}
	}()
	if t.Callback == nil {
		return nil
	}
	return t.Callback(ctx)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
