package httpsession

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcpgateway/fedcore/upstream"
)

func TestCreateSharesTransportAcrossSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			w.WriteHeader(http.StatusOK)
		case "/mcp/invoke":
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewFactory(DefaultTransportConfig(), 2*time.Second)
	ref := upstream.Ref{ID: "svc-a", Target: srv.URL}

	s1, err := f.Create(context.Background(), ref)
	require.NoError(t, err)
	s2, err := f.Create(context.Background(), ref)
	require.NoError(t, err)

	t1 := f.transportFor(ref.ID)
	t2 := f.transportFor(ref.ID)
	require.Same(t, t1, t2)

	resp, err := s1.Invoke(context.Background(), map[string]string{"op": "ping"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"status": "ok"}, resp)

	require.NoError(t, s2.Close())
	require.NoError(t, s1.Close())
}

func TestCreateFailsPingOnUnhealthyUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFactory(DefaultTransportConfig(), 2*time.Second)
	ref := upstream.Ref{ID: "svc-b", Target: srv.URL}

	_, err := f.Create(context.Background(), ref)
	require.Error(t, err)
}
