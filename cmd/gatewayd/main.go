// Command gatewayd is the MCP gateway's process entrypoint: it wires
// config -> logging -> catalog -> pool manager -> dispatcher -> admin
// HTTP surface, and exposes serve/pools/drain subcommands.
//
// Grounded on Alfred's services/gateway/main.go for the graceful
// shutdown shape (signal.Notify -> background task stop -> bounded
// srv.Shutdown), generalized from "one HTTP proxy server" to "the
// dispatch core plus its admin surface," and on cobra's standard root
// + subcommand wiring used across the examples' CLI-fronted services.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mcpgateway/fedcore/admin"
	"github.com/mcpgateway/fedcore/catalog"
	"github.com/mcpgateway/fedcore/clock"
	"github.com/mcpgateway/fedcore/config"
	"github.com/mcpgateway/fedcore/dispatch"
	"github.com/mcpgateway/fedcore/gwerr"
	"github.com/mcpgateway/fedcore/logging"
	"github.com/mcpgateway/fedcore/observsink"
	"github.com/mcpgateway/fedcore/pool"
	"github.com/mcpgateway/fedcore/pool/strategy"
	"github.com/mcpgateway/fedcore/poolmgr"
	"github.com/mcpgateway/fedcore/ratelimit"
	"github.com/mcpgateway/fedcore/transport/httpsession"
	"github.com/mcpgateway/fedcore/transport/wssession"
	"github.com/mcpgateway/fedcore/upstream"
)

// defaultPoolConfig is used when no YAML pool config file is found, so
// gatewayd is still runnable out of the box.
func defaultPoolConfig(ref upstream.Ref) pool.Config {
	return pool.Config{
		Size:      4,
		MinSize:   1,
		MaxSize:   16,
		TimeoutMS: 5_000,
		PrePing:   true,
		Strategy:  strategy.LeastConnections,
	}
}

// newTransportFactory picks the wire transport by upstream.Ref.Kind:
// "ws" dials a long-lived MCP-over-WebSocket session, anything else
// (including the unset default) uses pooled HTTP/REST. Adapting
// upstream.FactoryFunc keeps poolmgr.New's single-factory signature
// while still routing per-upstream.
func newTransportFactory() upstream.Factory {
	httpFactory := httpsession.NewFactory(httpsession.DefaultTransportConfig(), 30*time.Second)
	wsFactory := wssession.NewFactory(wssession.Config{})
	return upstream.FactoryFunc(func(ctx context.Context, ref upstream.Ref) (upstream.Session, error) {
		if ref.Kind == "ws" {
			return wsFactory.Create(ctx, ref)
		}
		return httpFactory.Create(ctx, ref)
	})
}

// newRedisClient parses cfg.RedisURL and returns nil rather than erroring
// so gatewayd stays runnable without Redis, same as Alfred's redisclient.New
// "warn and continue" fallback.
func newRedisClient(redisURL string) *redis.Client {
	if redisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil
	}
	return redis.NewClient(opts)
}

var poolsConfigPath string

func main() {
	root := &cobra.Command{
		Use:   "gatewayd",
		Short: "MCP gateway session-pool and dispatch daemon",
	}
	root.PersistentFlags().StringVar(&poolsConfigPath, "pools-config", "pools.yaml", "path to per-upstream pool config YAML")

	root.AddCommand(serveCmd(), poolsCmd(), drainCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// wired bundles everything main wiring needs to hand to each
// subcommand, so the shared setup lives in one place.
type wired struct {
	cfg        *config.Config
	clk        clock.Clock
	poolMgr    *poolmgr.Manager
	dispatcher *dispatch.Dispatcher
	sinks      *observsink.FanOut
}

func wireUp() (*wired, error) {
	cfg := config.Load()
	log := logging.New(cfg.Env, cfg.LogLevel)
	clk := clock.NewSystemClock()

	yamlSrc, err := config.NewYAMLSource(poolsConfigPath)
	if err != nil {
		log.Warn().Err(err).Str("path", poolsConfigPath).Msg("pools config not found, using process defaults for every upstream")
		yamlSrc = nil
	}

	factory := newTransportFactory()

	var configSource poolmgr.ConfigSource
	if yamlSrc != nil {
		configSource = yamlSrc
	} else {
		configSource = poolmgr.ConfigSourceFunc(defaultPoolConfig)
	}

	poolMgr := poolmgr.New(factory, configSource, clk)
	// Derived from context.Background() rather than wireUp's caller
	// context; Manager.Shutdown stops the loop through the cancel func
	// StartAutoAdjust stores, so the loop runs until Shutdown.
	poolMgr.StartAutoAdjust(context.Background())

	var cat catalog.Resolver
	if rc := newRedisClient(cfg.RedisURL); rc != nil {
		if err := rc.Ping(context.Background()).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed, falling back to in-memory catalog")
			cat = catalog.NewMemoryCatalog(nil)
		} else {
			log.Info().Msg("redis catalog connected")
			cat = catalog.NewRedisCatalog(rc)
		}
	} else {
		cat = catalog.NewMemoryCatalog(nil)
	}

	rl := ratelimit.New(ratelimit.Config{MaxRequests: cfg.RateLimitMaxRequests, WindowS: cfg.RateLimitWindowS}, clk)

	logSink := observsink.NewLogSink(log)
	// Registered against the default registerer, since admin.NewRouter
	// mounts promhttp.Handler()'s default gatherer rather than a
	// private registry.
	promSink := observsink.NewPromSink(prometheus.DefaultRegisterer)
	sinkList := []observsink.Sink{logSink, promSink}
	if cfg.AuditDBURL != "" {
		db, err := sqlx.Open("postgres", cfg.AuditDBURL)
		if err != nil {
			log.Warn().Err(err).Msg("audit db open failed, continuing without audit sink")
		} else if err := db.Ping(); err != nil {
			log.Warn().Err(err).Msg("audit db ping failed, continuing without audit sink")
		} else {
			log.Info().Msg("postgres audit sink connected")
			sinkList = append(sinkList, observsink.NewPostgresAuditSink(db))
		}
	}
	sinks := observsink.NewFanOut(sinkList)

	d := dispatch.New(rl, cat, poolMgr, sinks, clk, dispatch.Config{})

	return &wired{cfg: cfg, clk: clk, poolMgr: poolMgr, dispatcher: d, sinks: sinks}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the gateway: admin HTTP surface plus the dispatch core",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wireUp()
			if err != nil {
				return err
			}
			log := logging.New(w.cfg.Env, w.cfg.LogLevel)

			adminRouter := admin.NewRouter(log, admin.ManagerLookup{Manager: w.poolMgr})

			mux := http.NewServeMux()
			mux.Handle("/", adminRouter)
			mux.HandleFunc("/v1/dispatch", dispatchHandler(w.dispatcher))

			srv := &http.Server{
				Addr:         w.cfg.AdminAddr,
				Handler:      mux,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			done := make(chan os.Signal, 1)
			signal.Notify(done, os.Interrupt, syscall.SIGTERM)

			go func() {
				log.Info().Str("addr", w.cfg.AdminAddr).Msg("gatewayd admin surface listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("admin server failed")
				}
			}()

			<-done
			log.Info().Msg("shutdown signal received")

			ctx, cancel := context.WithTimeout(context.Background(), w.cfg.GracefulTimeout)
			defer cancel()

			w.sinks.Close()
			w.poolMgr.Shutdown(ctx, w.cfg.GracefulTimeout.Milliseconds())

			if err := srv.Shutdown(ctx); err != nil {
				log.Error().Err(err).Msg("admin server shutdown failed")
				return err
			}
			log.Info().Msg("gatewayd stopped gracefully")
			return nil
		},
	}
}

// dispatchRequest is the wire shape accepted by /v1/dispatch, mirroring
// dispatch.Request's fields the caller may set.
type dispatchRequest struct {
	TargetID   string `json:"target_id"`
	DeadlineMS int64  `json:"deadline_ms"`
	Payload    any    `json:"payload"`
	Idempotent bool   `json:"idempotent"`
}

// dispatchHandler is the gateway's sole client-facing endpoint,
// grounded on Alfred's handler.ProxyHandler.ChatCompletions shape:
// decode -> call the core -> translate a *gwerr.Error into a
// structured JSON error response.
func dispatchHandler(d *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}

		var req dispatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
			return
		}
		if req.DeadlineMS <= 0 {
			req.DeadlineMS = 10_000
		}

		resp, err := d.Dispatch(r.Context(), dispatch.Request{
			ID:         uuid.New().String(),
			TargetID:   req.TargetID,
			DeadlineMS: req.DeadlineMS,
			Payload:    req.Payload,
			Idempotent: req.Idempotent,
		})
		if err != nil {
			writeDispatchError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"result": resp})
	}
}

func writeDispatchError(w http.ResponseWriter, err error) {
	ge, ok := gwerr.As(err)
	if !ok {
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(ge.Kind))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"kind":      ge.Kind,
		"message":   ge.Message,
		"retryable": ge.Retryable,
	})
}

func statusForKind(k gwerr.Kind) int {
	switch k {
	case gwerr.NotFound:
		return http.StatusNotFound
	case gwerr.Throttled:
		return http.StatusTooManyRequests
	case gwerr.CircuitOpen, gwerr.AcquireTimeout, gwerr.UpstreamUnavailable:
		return http.StatusServiceUnavailable
	case gwerr.Cancelled:
		return 499
	default:
		return http.StatusBadGateway
	}
}

// poolSummary mirrors admin.poolSummary's JSON shape. Redefined locally
// rather than importing admin's unexported type: the CLI only ever
// talks to a running gatewayd over HTTP, never links against its admin
// router directly.
type poolSummary struct {
	ID    string `json:"id"`
	Stats struct {
		Active            int   `json:"active"`
		Available         int   `json:"available"`
		TotalAcquisitions int64 `json:"total_acquisitions"`
		TotalReleases     int64 `json:"total_releases"`
		TotalTimeouts     int64 `json:"total_timeouts"`
		TotalErrors       int64 `json:"total_errors"`
	} `json:"stats"`
}

func poolsCmd() *cobra.Command {
	var adminURL string
	cmd := &cobra.Command{
		Use:   "pools",
		Short: "print PoolStats snapshots from a running gatewayd's admin surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(adminURL + "/admin/pools/")
			if err != nil {
				return fmt.Errorf("querying %s: %w", adminURL, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("admin surface at %s returned %s", adminURL, resp.Status)
			}

			var pools []poolSummary
			if err := json.NewDecoder(resp.Body).Decode(&pools); err != nil {
				return fmt.Errorf("decoding pool list: %w", err)
			}
			if len(pools) == 0 {
				fmt.Println("no pools created yet (pools are created lazily on first traffic)")
				return nil
			}
			for _, p := range pools {
				fmt.Printf("%s: active=%d available=%d acquisitions=%d releases=%d timeouts=%d errors=%d\n",
					p.ID, p.Stats.Active, p.Stats.Available, p.Stats.TotalAcquisitions,
					p.Stats.TotalReleases, p.Stats.TotalTimeouts, p.Stats.TotalErrors)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&adminURL, "admin-url", "http://localhost:9090", "base URL of a running gatewayd's admin surface")
	return cmd
}

func drainCmd() *cobra.Command {
	var upstreamID string
	var drainMS int64
	var adminURL string
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "drain and replace the pool for one upstream on a running gatewayd",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]int64{"drain_ms": drainMS})
			if err != nil {
				return err
			}
			url := fmt.Sprintf("%s/admin/pools/%s/drain", adminURL, upstreamID)
			resp, err := http.Post(url, "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("draining %s via %s: %w", upstreamID, adminURL, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusAccepted {
				return fmt.Errorf("admin surface returned %s draining %s", resp.Status, upstreamID)
			}
			fmt.Printf("drain started for %s (drain_ms=%d)\n", upstreamID, drainMS)
			return nil
		},
	}
	cmd.Flags().StringVar(&upstreamID, "upstream", "", "upstream ID to drain")
	cmd.Flags().Int64Var(&drainMS, "drain-ms", 30_000, "drain budget before force-close")
	cmd.Flags().StringVar(&adminURL, "admin-url", "http://localhost:9090", "base URL of a running gatewayd's admin surface")
	_ = cmd.MarkFlagRequired("upstream")
	return cmd
}
