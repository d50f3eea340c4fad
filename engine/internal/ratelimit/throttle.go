// Package ratelimit provides the process-wide request-gap throttle: at
// most maxReqsPerSec real requests per second, enforced as a minimum gap
// between request launches. Cached and guard-skipped responses refund
// their slot so they never consume budget.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const minGap = time.Millisecond

// Throttle serializes request launches to a minimum inter-request gap of
// max(1/reqsPerSec, 1ms).
type Throttle struct {
	clock Clock

	mu       sync.Mutex
	gap      time.Duration
	last     time.Time
	prevLast time.Time
}

// New builds a throttle. reqsPerSec <= 0 disables pacing entirely.
func New(reqsPerSec float64, clock Clock) *Throttle {
	if clock == nil {
		clock = NewRealClock()
	}
	t := &Throttle{clock: clock}
	t.SetRate(reqsPerSec)
	return t
}

// SetRate adjusts the pace at runtime.
func (t *Throttle) SetRate(reqsPerSec float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if reqsPerSec <= 0 {
		t.gap = 0
		return
	}
	gap := time.Duration(float64(time.Second) / reqsPerSec)
	if gap < minGap {
		gap = minGap
	}
	t.gap = gap
}

// Gap returns the current minimum inter-request gap.
func (t *Throttle) Gap() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gap
}

// Wait blocks until a request may launch, then reserves the slot. Returns
// the context error if cancelled while pacing.
func (t *Throttle) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.gap == 0 {
			t.prevLast = t.last
			t.last = t.clock.Now()
			t.mu.Unlock()
			return nil
		}
		now := t.clock.Now()
		elapsed := now.Sub(t.last)
		if t.last.IsZero() || elapsed >= t.gap {
			t.prevLast = t.last
			t.last = now
			t.mu.Unlock()
			return nil
		}
		remaining := t.gap - elapsed
		t.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return err
		}
		t.clock.Sleep(remaining)
	}
}

// Refund releases the most recent reservation when the response turned
// out to be cached or guard-skipped: those do not consume budget.
func (t *Throttle) Refund() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = t.prevLast
}
