package poolmgr

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcpgateway/fedcore/clock"
	"github.com/mcpgateway/fedcore/pool"
	"github.com/mcpgateway/fedcore/pool/strategy"
	"github.com/mcpgateway/fedcore/upstream"
)

type fakeSession struct{ id string }

func (f *fakeSession) ID() string                     { return f.id }
func (f *fakeSession) Ping(ctx context.Context) error  { return nil }
func (f *fakeSession) Invoke(ctx context.Context, req any) (any, error) {
	return nil, nil
}
func (f *fakeSession) HealthCheck(ctx context.Context) upstream.Health {
	return upstream.Health{Healthy: true}
}
func (f *fakeSession) Close() error { return nil }

type fakeFactory struct{ n int64 }

// Create gives every session a distinct ID, since the pool keys its
// in-use sessions by ID.
func (f *fakeFactory) Create(ctx context.Context, ref upstream.Ref) (upstream.Session, error) {
	n := atomic.AddInt64(&f.n, 1)
	return &fakeSession{id: ref.ID + "-" + strconv.FormatInt(n, 10)}, nil
}

func testConfig() pool.Config {
	return pool.Config{Size: 1, MinSize: 1, MaxSize: 2, TimeoutMS: 1000, Strategy: strategy.LeastConnections}
}

func TestGetOrCreateIsLazyAndMemoized(t *testing.T) {
	fc := clock.NewFakeClock()
	m := New(&fakeFactory{}, ConfigSourceFunc(func(ref upstream.Ref) pool.Config { return testConfig() }), fc)

	p1, err := m.GetOrCreate(context.Background(), upstream.Ref{ID: "a"})
	require.NoError(t, err)
	p2, err := m.GetOrCreate(context.Background(), upstream.Ref{ID: "a"})
	require.NoError(t, err)
	require.Same(t, p1, p2)
}

func TestReconfigureSwapsPoolKeepingOldDraining(t *testing.T) {
	fc := clock.NewFakeClock()
	m := New(&fakeFactory{}, ConfigSourceFunc(func(ref upstream.Ref) pool.Config { return testConfig() }), fc)

	ref := upstream.Ref{ID: "b"}
	old, err := m.GetOrCreate(context.Background(), ref)
	require.NoError(t, err)

	next, err := m.Reconfigure(context.Background(), ref, 10)
	require.NoError(t, err)
	require.NotSame(t, old, next)

	got, err := m.GetOrCreate(context.Background(), ref)
	require.NoError(t, err)
	require.Same(t, next, got)
}

func TestShutdownDrainsAllPools(t *testing.T) {
	fc := clock.NewFakeClock()
	m := New(&fakeFactory{}, ConfigSourceFunc(func(ref upstream.Ref) pool.Config { return testConfig() }), fc)

	for _, id := range []string{"x", "y", "z"} {
		_, err := m.GetOrCreate(context.Background(), upstream.Ref{ID: id})
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		m.Shutdown(context.Background(), 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	_, err := m.GetOrCreate(context.Background(), upstream.Ref{ID: "new"})
	require.Error(t, err)
}

func TestAutoAdjustGrowsMaxSizeAfterTimeoutHeavyTick(t *testing.T) {
	fc := clock.NewFakeClock()
	cfg := testConfig()
	cfg.MaxSize = 2
	m := New(&fakeFactory{}, ConfigSourceFunc(func(ref upstream.Ref) pool.Config { return cfg }), fc)

	ref := upstream.Ref{ID: "hot"}
	p, err := m.GetOrCreate(context.Background(), ref)
	require.NoError(t, err)

	h1, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)
	h2, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)

	// Saturate the pool and force an AcquireTimeout, so
	// stats.TotalTimeouts has advanced by the time the auto-adjust
	// loop's first tick runs.
	timeoutErrCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), 100)
		timeoutErrCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	fc.Advance(100)
	require.Error(t, <-timeoutErrCh)
	require.Equal(t, int64(1), p.Snapshot().TotalTimeouts)

	m.StartAutoAdjust(context.Background())
	time.Sleep(10 * time.Millisecond) // let the loop reach its select
	fc.Advance(autoAdjustTickMS)
	time.Sleep(10 * time.Millisecond) // let the tick's Resize land

	require.Greater(t, p.Config().MaxSize, 2)

	h1.Release(pool.Outcome{OK: true}, 1)
	h2.Release(pool.Outcome{OK: true}, 1)
	m.Shutdown(context.Background(), 0)
}
