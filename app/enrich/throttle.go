package enrich

import (
	"context"
	"sync"
	"time"
)

// Throttle serializes calls and keeps at least minDelay between the end of
// one call and the start of the next. The first call runs immediately.
type Throttle struct {
	minDelay time.Duration

	mu   sync.Mutex
	last time.Time
}

func NewThrottle(minDelay time.Duration) *Throttle {
	return &Throttle{minDelay: minDelay}
}

// Do waits for the slot and runs fn. A cancelled context aborts the wait
// without running fn.
func (t *Throttle) Do(ctx context.Context, fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.last.IsZero() && t.minDelay > 0 {
		if wait := t.minDelay - time.Since(t.last); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	defer func() { t.last = time.Now() }()
	return fn()
}
