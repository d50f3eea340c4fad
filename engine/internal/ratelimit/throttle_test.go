package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances instantly on Sleep.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestGapComputation(t *testing.T) {
	clock := newFakeClock()
	assert.Equal(t, 100*time.Millisecond, New(10, clock).Gap())
	assert.Equal(t, time.Second, New(1, clock).Gap())
	// Floor at 1ms even for absurd rates.
	assert.Equal(t, time.Millisecond, New(1e6, clock).Gap())
	// Non-positive disables pacing.
	assert.Equal(t, time.Duration(0), New(0, clock).Gap())
}

func TestWaitEnforcesGap(t *testing.T) {
	clock := newFakeClock()
	th := New(10, clock)
	ctx := context.Background()

	require.NoError(t, th.Wait(ctx))
	first := clock.Now()
	require.NoError(t, th.Wait(ctx))
	second := clock.Now()
	assert.GreaterOrEqual(t, second.Sub(first), 100*time.Millisecond)
}

func TestRefundRestoresSlot(t *testing.T) {
	clock := newFakeClock()
	th := New(10, clock)
	ctx := context.Background()

	require.NoError(t, th.Wait(ctx))
	launch := clock.Now()
	th.Refund()
	// A refunded slot lets the next launch proceed without pacing.
	require.NoError(t, th.Wait(ctx))
	assert.Equal(t, launch, clock.Now())
}

func TestWaitCancellation(t *testing.T) {
	th := New(0.001, NewRealClock())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, th.Wait(ctx))
	cancel()
	err := th.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSetRate(t *testing.T) {
	clock := newFakeClock()
	th := New(1, clock)
	th.SetRate(100)
	assert.Equal(t, 10*time.Millisecond, th.Gap())
}
