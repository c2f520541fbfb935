// Package dispatch implements spec §4.8's Dispatcher: the end-to-end
// request path admission -> resolve -> acquire -> invoke -> retry ->
// release -> observe.
//
// Grounded on Alfred's handler.ProxyHandler.ChatCompletions
// (resolve -> acquire/obtain -> invoke -> structured error responses)
// with its retry/backoff shape mirrored from cryptorun's
// httpclient.ClientPool.Do retry loop (bounded retries, jittered
// exponential backoff, retryable classification) generalized from
// "retry an HTTP call" to "retry a dispatch that failed for a
// retryable ErrorKind".
package dispatch

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/mcpgateway/fedcore/catalog"
	"github.com/mcpgateway/fedcore/clock"
	"github.com/mcpgateway/fedcore/gwerr"
	"github.com/mcpgateway/fedcore/observsink"
	"github.com/mcpgateway/fedcore/pool"
	"github.com/mcpgateway/fedcore/poolmgr"
)

// RateLimiter is the subset of ratelimit.Limiter/AdaptiveLimiter the
// Dispatcher depends on.
type RateLimiter interface {
	Acquire(ctx context.Context, timeoutMS int64) (bool, error)
}

// Request is one client request targeting an upstream operation.
type Request struct {
	ID         string
	TargetID   string
	DeadlineMS int64
	Payload    any
	// Idempotent marks whether a SessionInvocationError may be safely
	// retried (spec §4.8 step 5's "idempotent request" condition).
	Idempotent bool
}

// Config tunes retry policy.
type Config struct {
	MaxRetries  int
	RetryBaseMS int64
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryBaseMS <= 0 {
		c.RetryBaseMS = 50
	}
	return c
}

// Dispatcher is the end-to-end request path.
type Dispatcher struct {
	rateLimiter RateLimiter
	catalog     catalog.Resolver
	poolMgr     *poolmgr.Manager
	sinks       *observsink.FanOut
	clock       clock.Clock
	cfg         Config
	rnd         *rand.Rand
}

// New constructs a Dispatcher.
func New(rl RateLimiter, cat catalog.Resolver, pm *poolmgr.Manager, sinks *observsink.FanOut, clk clock.Clock, cfg Config) *Dispatcher {
	return &Dispatcher{
		rateLimiter: rl,
		catalog:     cat,
		poolMgr:     pm,
		sinks:       sinks,
		clock:       clk,
		cfg:         cfg.withDefaults(),
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Dispatch implements spec §4.8's seven-step contract.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (any, error) {
	deadlineMS := d.clock.NowMS() + req.DeadlineMS

	// Step 1: admit.
	admitted, err := d.rateLimiter.Acquire(ctx, req.DeadlineMS)
	if err != nil {
		return nil, gwerr.New(gwerr.Cancelled, "dispatch cancelled during admission")
	}
	if !admitted {
		return nil, gwerr.New(gwerr.Throttled, "rate limiter denied admission")
	}

	// Step 2: resolve.
	ref, err := d.catalog.Resolve(ctx, req.TargetID)
	if err != nil {
		return nil, err
	}

	p, err := d.poolMgr.GetOrCreate(ctx, ref)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamUnavailable, "obtaining pool for "+ref.ID, err)
	}

	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		remainMS := deadlineMS - d.clock.NowMS()
		if remainMS < 0 {
			remainMS = 0
		}

		// Step 3: acquire.
		handle, err := p.Acquire(ctx, remainMS)
		if err != nil {
			lastErr = err
			if !d.retryable(err) || attempt == d.cfg.MaxRetries || !d.hasBudget(ctx, deadlineMS) {
				return nil, err
			}
			d.backoff(ctx, attempt)
			continue
		}

		// Step 4: invoke.
		startMS := d.clock.NowMS()
		resp, invokeErr := handle.Session().Invoke(ctx, req.Payload)
		latencyMS := d.clock.NowMS() - startMS

		if invokeErr != nil {
			sessionErr := gwerr.Wrap(gwerr.SessionInvocationError, "invoke failed", invokeErr).
				WithRetryable(req.Idempotent)
			handle.Release(pool.Outcome{OK: false, Err: invokeErr}, latencyMS)
			d.emit(ref.ID, "error", latencyMS, string(gwerr.SessionInvocationError))

			lastErr = sessionErr
			if !d.retryable(sessionErr) || attempt == d.cfg.MaxRetries || !d.hasBudget(ctx, deadlineMS) {
				return nil, sessionErr
			}
			d.backoff(ctx, attempt)
			continue
		}

		// Step 6: release with ok.
		handle.Release(pool.Outcome{OK: true}, latencyMS)
		d.emit(ref.ID, "ok", latencyMS, "")
		return resp, nil
	}

	return nil, lastErr
}

func (d *Dispatcher) retryable(err error) bool {
	ge, ok := gwerr.As(err)
	if !ok {
		return false
	}
	if ge.Kind == gwerr.CircuitOpen {
		// The breaker only recovers after its own timeout, far longer
		// than a dispatch-level backoff window, so retrying into it
		// within the same Dispatch call just burns the retry budget
		// (spec §4.8 step 5's "breaker open ... surfaced immediately").
		return false
	}
	return ge.Retryable
}

func (d *Dispatcher) hasBudget(ctx context.Context, deadlineMS int64) bool {
	if ctx.Err() != nil {
		return false
	}
	return d.clock.NowMS() < deadlineMS
}

// backoff implements spec §4.8 step 5's jittered exponential backoff:
// 50ms * 2^k, k = attempt.
func (d *Dispatcher) backoff(ctx context.Context, attempt int) {
	base := float64(d.cfg.RetryBaseMS) * math.Pow(2, float64(attempt))
	jitter := 0.5 + d.rnd.Float64()
	_ = d.clock.Sleep(ctx, int64(base*jitter))
}

func (d *Dispatcher) emit(poolID string, outcome string, latencyMS int64, errorKind string) {
	d.sinks.Emit(observsink.Event{
		Event:     "dispatch",
		TSMS:      d.clock.NowMS(),
		PoolID:    poolID,
		Outcome:   outcome,
		LatencyMS: latencyMS,
		ErrorKind: errorKind,
	})
}
