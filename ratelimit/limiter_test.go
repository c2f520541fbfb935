package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcpgateway/fedcore/clock"
)

func TestTryAcquireWithinWindow(t *testing.T) {
	fc := clock.NewFakeClock()
	l := New(Config{MaxRequests: 2, WindowS: 1}, fc)

	require.True(t, l.TryAcquire())
	require.True(t, l.TryAcquire())
	require.False(t, l.TryAcquire(), "third request in the same window should be throttled")
}

func TestAcquireTimesOutWhenExhausted(t *testing.T) {
	fc := clock.NewFakeClock()
	l := New(Config{MaxRequests: 1, WindowS: 10}, fc)

	require.True(t, l.TryAcquire())

	done := make(chan struct{})
	var admitted bool
	go func() {
		admitted, _ = l.Acquire(context.Background(), 20)
		close(done)
	}()

	// Each short real sleep lets Acquire reach its next fake-clock Sleep
	// before the clock moves, so no Advance lands ahead of the wait it
	// is meant to end.
	for i := 0; i < 5; i++ {
		time.Sleep(5 * time.Millisecond)
		fc.Advance(5)
	}

	<-done
	require.False(t, admitted, "acquire should time out, window resets at real-time scale not fake-clock scale")
}

func TestAcquireZeroTimeoutBehavesAsTryAcquire(t *testing.T) {
	fc := clock.NewFakeClock()
	l := New(Config{MaxRequests: 1, WindowS: 1}, fc)

	require.True(t, l.TryAcquire())
	admitted, err := l.Acquire(context.Background(), 0)
	require.NoError(t, err)
	require.False(t, admitted)
}

func TestAcquireCancelledContext(t *testing.T) {
	fc := clock.NewFakeClock()
	l := New(Config{MaxRequests: 1, WindowS: 10}, fc)
	require.True(t, l.TryAcquire())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := l.Acquire(ctx, 1000)
		errCh <- err
	}()
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestAdaptiveLimiterGrowsOnHighSuccessRate(t *testing.T) {
	fc := clock.NewFakeClock()
	a := NewAdaptive(AdaptiveConfig{
		WindowS:          1,
		InitialRequests:  10,
		MinRequests:      1,
		MaxRequestsLimit: 100,
		SampleSize:       10,
		SuccessThreshold: 0.95,
		FailureThreshold: 0.10,
		Factor:           0.5,
	}, fc)

	for i := 0; i < 10; i++ {
		a.RecordOutcome(true)
	}

	require.Equal(t, 15, a.Stats().MaxRequests)
}

func TestAdaptiveLimiterShrinksOnHighFailureRate(t *testing.T) {
	fc := clock.NewFakeClock()
	a := NewAdaptive(AdaptiveConfig{
		WindowS:          1,
		InitialRequests:  10,
		MinRequests:      1,
		MaxRequestsLimit: 100,
		SampleSize:       10,
		SuccessThreshold: 0.95,
		FailureThreshold: 0.10,
		Factor:           0.5,
	}, fc)

	for i := 0; i < 2; i++ {
		a.RecordOutcome(true)
	}
	for i := 0; i < 8; i++ {
		a.RecordOutcome(false)
	}

	require.Equal(t, 5, a.Stats().MaxRequests)
}

func TestAdaptiveLimiterRespectsBounds(t *testing.T) {
	fc := clock.NewFakeClock()
	a := NewAdaptive(AdaptiveConfig{
		WindowS:          1,
		InitialRequests:  2,
		MinRequests:      2,
		MaxRequestsLimit: 4,
		SampleSize:       4,
		SuccessThreshold: 0.95,
		FailureThreshold: 0.10,
		Factor:           1.0,
	}, fc)

	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			a.RecordOutcome(true)
		}
	}

	require.Equal(t, 4, a.Stats().MaxRequests, "growth should clamp at MaxRequestsLimit")
}
