package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("upstream-a", Config{FailureThreshold: 3, Timeout: 200 * time.Millisecond, HalfOpenMaxCalls: 2})

	for i := 0; i < 3; i++ {
		ok, permit := b.CanAttempt()
		require.True(t, ok)
		permit.RecordFailure()
	}

	require.Equal(t, StateOpen, b.State())
	ok, _ := b.CanAttempt()
	require.False(t, ok, "breaker should deny while open")
}

func TestBreakerHalfOpenRecoversOnSuccesses(t *testing.T) {
	b := New("upstream-b", Config{FailureThreshold: 1, Timeout: 50 * time.Millisecond, HalfOpenMaxCalls: 2})

	ok, permit := b.CanAttempt()
	require.True(t, ok)
	permit.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)

	ok, permit1 := b.CanAttempt()
	require.True(t, ok)
	require.Equal(t, StateHalfOpen, b.State())
	permit1.RecordSuccess()

	ok, permit2 := b.CanAttempt()
	require.True(t, ok)
	permit2.RecordSuccess()

	require.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	b := New("upstream-c", Config{FailureThreshold: 1, Timeout: 30 * time.Millisecond, HalfOpenMaxCalls: 3})

	ok, permit := b.CanAttempt()
	require.True(t, ok)
	permit.RecordFailure()

	time.Sleep(40 * time.Millisecond)

	ok, probe := b.CanAttempt()
	require.True(t, ok)
	require.Equal(t, StateHalfOpen, b.State())
	probe.RecordFailure()

	require.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenBoundsConcurrentAdmissions(t *testing.T) {
	b := New("upstream-d", Config{FailureThreshold: 1, Timeout: 20 * time.Millisecond, HalfOpenMaxCalls: 1})

	ok, permit := b.CanAttempt()
	require.True(t, ok)
	permit.RecordFailure()
	time.Sleep(30 * time.Millisecond)

	ok, p1 := b.CanAttempt()
	require.True(t, ok)
	require.Equal(t, 1, b.Stats().HalfOpenInFlight)

	ok, _ = b.CanAttempt()
	require.False(t, ok, "second concurrent half-open admission should be denied")

	p1.RecordSuccess()
}

func TestBreakerCallWrapsFn(t *testing.T) {
	b := New("upstream-e", Config{FailureThreshold: 2, Timeout: time.Second, HalfOpenMaxCalls: 1})
	boom := errors.New("boom")

	err := b.Call(context.Background(), func(ctx context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	err = b.Call(context.Background(), func(ctx context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	require.Equal(t, StateOpen, b.State())
	err = b.Call(context.Background(), func(ctx context.Context) error { return nil })
	require.Error(t, err)
}

func TestBreakerClosedResetsOnSuccess(t *testing.T) {
	b := New("upstream-f", Config{FailureThreshold: 3, Timeout: time.Second, HalfOpenMaxCalls: 1})

	ok, p1 := b.CanAttempt()
	require.True(t, ok)
	p1.RecordFailure()
	ok, p2 := b.CanAttempt()
	require.True(t, ok)
	p2.RecordSuccess()

	require.Equal(t, 0, b.Stats().FailureCount)
	require.Equal(t, StateClosed, b.State())
}
