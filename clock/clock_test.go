package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeClockAdvanceWakesWaiters(t *testing.T) {
	fc := NewFakeClock()
	done := make(chan struct{})
	go func() {
		require.NoError(t, fc.Sleep(context.Background(), 100))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("sleep returned before clock advanced")
	case <-time.After(20 * time.Millisecond):
	}

	fc.Advance(100)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sleep did not return after advance")
	}
	require.Equal(t, int64(100), fc.NowMS())
}

func TestFakeClockSleepCancelled(t *testing.T) {
	fc := NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- fc.Sleep(ctx, 1000) }()
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestFakeClockZeroSleepReturnsImmediately(t *testing.T) {
	fc := NewFakeClock()
	require.NoError(t, fc.Sleep(context.Background(), 0))
}

func TestSystemClockNowMSMonotonic(t *testing.T) {
	sc := NewSystemClock()
	a := sc.NowMS()
	require.NoError(t, sc.Sleep(context.Background(), 5))
	b := sc.NowMS()
	require.GreaterOrEqual(t, b, a)
}
