package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// jitter returns a random duration in [0, d/4).
func jitter(d time.Duration) time.Duration {
	if d < 4 {
		return 0
	}
	randMu.Lock()
	defer randMu.Unlock()
	return time.Duration(randSource.Int63n(int64(d / 4)))
}

// Backoff is a stateful exponential delay sequence: Initial, Initial*Multiplier, ...
// capped at Max. It is not safe for concurrent use.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool

	current  time.Duration
	attempts int
}

// NewBackoff returns a doubling backoff without jitter.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{Initial: initial, Max: maxDelay, Multiplier: 2.0}
}

// Next returns the delay to wait before the next attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	if b.Multiplier <= 0 {
		b.Multiplier = 2.0
	}
	if b.current == 0 {
		b.current = b.Initial
	} else {
		next := float64(b.current) * b.Multiplier
		if next > float64(b.Max) || next > float64(time.Duration(1<<63-1)) {
			b.current = b.Max
		} else {
			b.current = time.Duration(next)
		}
	}
	if b.Max > 0 && b.current > b.Max {
		b.current = b.Max
	}
	b.attempts++

	if b.Jitter {
		return b.current + jitter(b.current)
	}
	return b.current
}

// Attempts returns how many delays have been handed out since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Reset restarts the sequence at Initial.
func (b *Backoff) Reset() {
	b.current = 0
	b.attempts = 0
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
