// Package admin mounts the gateway's operator-facing HTTP surface:
// health checks, Prometheus metrics, and pool introspection/resize/drain.
//
// Grounded on Alfred's router.NewRouter: the same middleware chain
// shape (RequestID -> Recoverer -> request logger) and the same
// no-auth health/metrics endpoint convention, narrowed from a full API
// gateway router to an admin-only surface.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mcpgateway/fedcore/pool"
	"github.com/mcpgateway/fedcore/poolmgr"
	"github.com/mcpgateway/fedcore/upstream"
)

// PoolLookup is the admin surface's full dependency on the pool
// manager: resolve one pool, enumerate every tracked pool, and
// drain/replace one in place (the live-process counterpart of
// "gatewayd pools"/"gatewayd drain").
type PoolLookup interface {
	Find(upstreamID string) (*pool.Pool, bool)
	List() map[string]*pool.Pool
	Drain(ctx context.Context, upstreamID string, drainMS int64) error
}

// NewRouter builds the admin HTTP surface.
func NewRouter(log zerolog.Logger, lookup PoolLookup) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin/pools", func(r chi.Router) {
		r.Get("/", listPools(lookup))
		r.Get("/{id}", getPoolStats(lookup))
		r.Post("/{id}/resize", resizePool(lookup))
		r.Post("/{id}/drain", drainPool(lookup))
	})

	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("request_id", chimw.GetReqID(r.Context())).
				Dur("duration", time.Since(start)).
				Msg("admin request")
		})
	}
}

type poolStatsResponse struct {
	Active             int   `json:"active"`
	Available          int   `json:"available"`
	TotalAcquisitions  int64 `json:"total_acquisitions"`
	TotalReleases      int64 `json:"total_releases"`
	TotalTimeouts      int64 `json:"total_timeouts"`
	TotalErrors        int64 `json:"total_errors"`
}

// poolSummary is one row of GET /admin/pools, the source spec §9's
// "gatewayd pools" prints.
type poolSummary struct {
	ID    string            `json:"id"`
	Stats poolStatsResponse `json:"stats"`
}

func listPools(lookup PoolLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pools := lookup.List()
		out := make([]poolSummary, 0, len(pools))
		for id, p := range pools {
			stats := p.Snapshot()
			out = append(out, poolSummary{
				ID: id,
				Stats: poolStatsResponse{
					Active:            stats.Active,
					Available:         stats.Available,
					TotalAcquisitions: stats.TotalAcquisitions,
					TotalReleases:     stats.TotalReleases,
					TotalTimeouts:     stats.TotalTimeouts,
					TotalErrors:       stats.TotalErrors,
				},
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

func getPoolStats(lookup PoolLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		p, ok := lookup.Find(id)
		if !ok {
			http.Error(w, `{"error":"pool not found"}`, http.StatusNotFound)
			return
		}
		stats := p.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(poolStatsResponse{
			Active:            stats.Active,
			Available:         stats.Available,
			TotalAcquisitions: stats.TotalAcquisitions,
			TotalReleases:     stats.TotalReleases,
			TotalTimeouts:     stats.TotalTimeouts,
			TotalErrors:       stats.TotalErrors,
		})
	}
}

type resizeRequest struct {
	MinSize int `json:"min_size"`
	MaxSize int `json:"max_size"`
}

func resizePool(lookup PoolLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		p, ok := lookup.Find(id)
		if !ok {
			http.Error(w, `{"error":"pool not found"}`, http.StatusNotFound)
			return
		}

		var req resizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
			return
		}

		p.Resize(req.MinSize, req.MaxSize)
		w.WriteHeader(http.StatusNoContent)
	}
}

// drainRequest is POST /admin/pools/{id}/drain's optional body; an
// empty or absent body drains with the default budget.
type drainRequest struct {
	DrainMS int64 `json:"drain_ms"`
}

func drainPool(lookup PoolLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		req := drainRequest{DrainMS: 30_000}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
				return
			}
		}

		if err := lookup.Drain(r.Context(), id, req.DrainMS); err != nil {
			http.Error(w, `{"error":"drain failed"}`, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// ManagerLookup adapts *poolmgr.Manager to PoolLookup.
type ManagerLookup struct {
	Manager *poolmgr.Manager
}

func (m ManagerLookup) Find(upstreamID string) (*pool.Pool, bool) {
	return m.Manager.Find(upstreamID)
}

func (m ManagerLookup) List() map[string]*pool.Pool {
	return m.Manager.List()
}

// Drain reconfigures upstreamID's pool in place, preserving the
// upstream's existing Ref (Kind/Target) when a pool for it already
// exists so a replacement pool dials the same transport.
func (m ManagerLookup) Drain(ctx context.Context, upstreamID string, drainMS int64) error {
	ref := upstream.Ref{ID: upstreamID}
	if p, ok := m.Manager.Find(upstreamID); ok {
		ref = p.Ref()
	}
	_, err := m.Manager.Reconfigure(ctx, ref, drainMS)
	return err
}

var _ PoolLookup = ManagerLookup{}
