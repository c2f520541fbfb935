// Package ratelimit implements the sliding-window admission gate from
// spec §4.2. The underlying sliding window is github.com/joeycumines/go-catrate's
// Limiter, which already tracks "N events per duration" per category in
// a ring buffer and answers Allow() without blocking — exactly the
// primitive the spec calls for. This package adds the blocking
// Acquire(timeout) wait loop (driven through an injectable clock.Clock
// so tests do not sleep in wall-clock time) and the adaptive variant
// from spec §4.2's adaptive paragraph.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/mcpgateway/fedcore/clock"
)

const defaultCategory = "_default"

// Config is the sliding window shape: at most MaxRequests admissions in
// any WindowS-second window.
type Config struct {
	MaxRequests int
	WindowS     int
}

// Limiter is a single sliding-window admission gate.
type Limiter struct {
	mu    sync.Mutex
	cfg   Config
	cr    *catrate.Limiter
	clock clock.Clock
}

// New constructs a Limiter. Panics if cfg is invalid (non-positive
// MaxRequests/WindowS), mirroring catrate.NewLimiter's own
// construction-time contract.
func New(cfg Config, clk clock.Clock) *Limiter {
	l := &Limiter{cfg: cfg, clock: clk}
	l.cr = catrate.NewLimiter(map[time.Duration]int{
		time.Duration(cfg.WindowS) * time.Second: cfg.MaxRequests,
	})
	return l
}

// TryAcquire is the non-blocking variant from spec §4.2.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	cr := l.cr
	l.mu.Unlock()
	_, ok := cr.Allow(defaultCategory)
	return ok
}

// pollIntervalMS bounds how long Acquire waits between retries. catrate
// reports the wall-clock instant its window next opens, but the
// injected clock may be fake in tests, so Acquire polls on a short
// fixed cadence rather than trusting that instant directly.
const pollIntervalMS = 5

// Acquire blocks until admission succeeds or timeoutMS elapses (0 means
// "try once, don't wait"). Returns (false, nil) on timeout and
// (false, ctx.Err()) on cancellation, never erroring otherwise, per
// spec §4.2's "the limiter never fails, only returns false on timeout".
func (l *Limiter) Acquire(ctx context.Context, timeoutMS int64) (bool, error) {
	deadline := l.clock.NowMS() + timeoutMS
	for {
		l.mu.Lock()
		cr := l.cr
		l.mu.Unlock()

		_, ok := cr.Allow(defaultCategory)
		if ok {
			return true, nil
		}
		if timeoutMS <= 0 {
			return false, nil
		}

		now := l.clock.NowMS()
		if now >= deadline {
			return false, nil
		}

		waitMS := int64(pollIntervalMS)
		if remaining := deadline - now; waitMS > remaining {
			waitMS = remaining
		}

		if err := l.clock.Sleep(ctx, waitMS); err != nil {
			return false, err
		}
	}
}

// Stats reports the configured window, for admin/metrics display.
func (l *Limiter) Stats() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// reset swaps in a freshly configured catrate.Limiter, used by
// AdaptiveLimiter when it changes MaxRequests (catrate's window is
// fixed at construction).
func (l *Limiter) reset(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	l.cr = catrate.NewLimiter(map[time.Duration]int{
		time.Duration(cfg.WindowS) * time.Second: cfg.MaxRequests,
	})
}
