package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mcpgateway/fedcore/clock"
	"github.com/mcpgateway/fedcore/pool"
	"github.com/mcpgateway/fedcore/pool/strategy"
	"github.com/mcpgateway/fedcore/upstream"
)

type fakeLookup struct {
	pools map[string]*pool.Pool
}

func (f fakeLookup) Find(id string) (*pool.Pool, bool) {
	p, ok := f.pools[id]
	return p, ok
}

func (f fakeLookup) List() map[string]*pool.Pool { return f.pools }

func (f fakeLookup) Drain(ctx context.Context, id string, drainMS int64) error { return nil }

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard).With().Timestamp().Logger()
}

type fakeSession struct{ id string }

func (f *fakeSession) ID() string                    { return f.id }
func (f *fakeSession) Ping(ctx context.Context) error { return nil }
func (f *fakeSession) Invoke(ctx context.Context, req any) (any, error) { return nil, nil }
func (f *fakeSession) HealthCheck(ctx context.Context) upstream.Health {
	return upstream.Health{Healthy: true}
}
func (f *fakeSession) Close() error { return nil }

type fakeFactory struct{}

func (fakeFactory) Create(ctx context.Context, ref upstream.Ref) (upstream.Session, error) {
	return &fakeSession{id: ref.ID}, nil
}

func newTestPool(t *testing.T, id string) *pool.Pool {
	p, err := pool.New(
		upstream.Ref{ID: id},
		pool.Config{Size: 1, MinSize: 1, MaxSize: 2, TimeoutMS: 1000, Strategy: strategy.LeastConnections},
		fakeFactory{},
		clock.NewFakeClock(),
	)
	require.NoError(t, err)
	return p
}

func TestHealthzOK(t *testing.T) {
	r := NewRouter(testLogger(), fakeLookup{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Result().StatusCode)
}

func TestPoolStatsNotFoundForUnknownID(t *testing.T) {
	r := NewRouter(testLogger(), fakeLookup{pools: map[string]*pool.Pool{}})

	req := httptest.NewRequest(http.MethodGet, "/admin/pools/missing", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	require.Equal(t, http.StatusNotFound, rw.Result().StatusCode)
}

func TestGetPoolStatsReturnsSnapshot(t *testing.T) {
	p := newTestPool(t, "svc-a")
	r := NewRouter(testLogger(), fakeLookup{pools: map[string]*pool.Pool{"svc-a": p}})

	req := httptest.NewRequest(http.MethodGet, "/admin/pools/svc-a", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Result().StatusCode)
}

func TestResizeRejectsInvalidBody(t *testing.T) {
	p := newTestPool(t, "svc-a")
	r := NewRouter(testLogger(), fakeLookup{pools: map[string]*pool.Pool{"svc-a": p}})

	req := httptest.NewRequest(http.MethodPost, "/admin/pools/svc-a/resize", bytes.NewReader([]byte("not json")))
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	require.Equal(t, http.StatusBadRequest, rw.Result().StatusCode)
}

func TestListPoolsReturnsAllSnapshots(t *testing.T) {
	p := newTestPool(t, "svc-a")
	r := NewRouter(testLogger(), fakeLookup{pools: map[string]*pool.Pool{"svc-a": p}})

	req := httptest.NewRequest(http.MethodGet, "/admin/pools/", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Result().StatusCode)

	var out []poolSummary
	require.NoError(t, json.NewDecoder(rw.Body).Decode(&out))
	require.Len(t, out, 1)
	require.Equal(t, "svc-a", out[0].ID)
}

func TestDrainAcceptsEmptyBody(t *testing.T) {
	p := newTestPool(t, "svc-a")
	r := NewRouter(testLogger(), fakeLookup{pools: map[string]*pool.Pool{"svc-a": p}})

	req := httptest.NewRequest(http.MethodPost, "/admin/pools/svc-a/drain", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	require.Equal(t, http.StatusAccepted, rw.Result().StatusCode)
}

func TestResizeAppliesNewBounds(t *testing.T) {
	p := newTestPool(t, "svc-a")
	r := NewRouter(testLogger(), fakeLookup{pools: map[string]*pool.Pool{"svc-a": p}})

	req := httptest.NewRequest(http.MethodPost, "/admin/pools/svc-a/resize", bytes.NewReader([]byte(`{"min_size":1,"max_size":5}`)))
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	require.Equal(t, http.StatusNoContent, rw.Result().StatusCode)
}
