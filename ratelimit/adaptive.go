package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mcpgateway/fedcore/clock"
)

// AdaptiveConfig tunes AdaptiveLimiter's periodic adjustment, grounded
// in original_source/mcpgateway/cache/rate_limiter.py's
// AdaptiveRateLimiter: every SampleSize outcomes, a success rate above
// SuccessThreshold grows MaxRequests by (1+Factor), and a failure rate
// above FailureThreshold shrinks it by (1-Factor), bounded by
// [MinRequests, MaxRequestsLimit].
type AdaptiveConfig struct {
	WindowS          int
	InitialRequests  int
	MinRequests      int
	MaxRequestsLimit int
	SampleSize       int
	SuccessThreshold float64
	FailureThreshold float64
	Factor           float64
}

func (c AdaptiveConfig) withDefaults() AdaptiveConfig {
	if c.SampleSize <= 0 {
		c.SampleSize = 100
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 0.95
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 0.10
	}
	if c.Factor <= 0 {
		c.Factor = 0.1
	}
	if c.MinRequests <= 0 {
		c.MinRequests = 1
	}
	if c.MaxRequestsLimit < c.MinRequests {
		c.MaxRequestsLimit = c.MinRequests
	}
	return c
}

// AdaptiveLimiter wraps a Limiter and widens or narrows its admission
// window based on observed success/failure rate.
type AdaptiveLimiter struct {
	inner *Limiter
	cfg   AdaptiveConfig

	mu        sync.Mutex
	successes int64
	failures  int64
}

// NewAdaptive constructs an AdaptiveLimiter starting at InitialRequests
// admissions per WindowS-second window.
func NewAdaptive(cfg AdaptiveConfig, clk clock.Clock) *AdaptiveLimiter {
	cfg = cfg.withDefaults()
	start := cfg.InitialRequests
	if start <= 0 {
		start = cfg.MaxRequestsLimit
	}
	inner := New(Config{MaxRequests: start, WindowS: cfg.WindowS}, clk)
	return &AdaptiveLimiter{inner: inner, cfg: cfg}
}

// TryAcquire delegates to the wrapped Limiter.
func (a *AdaptiveLimiter) TryAcquire() bool { return a.inner.TryAcquire() }

// Acquire delegates to the wrapped Limiter.
func (a *AdaptiveLimiter) Acquire(ctx context.Context, timeoutMS int64) (bool, error) {
	return a.inner.Acquire(ctx, timeoutMS)
}

// RecordOutcome feeds an admitted request's result back into the
// adjustment sample, triggering a resize once SampleSize outcomes have
// accumulated.
func (a *AdaptiveLimiter) RecordOutcome(success bool) {
	var successes, failures int64
	if success {
		successes = atomic.AddInt64(&a.successes, 1)
		failures = atomic.LoadInt64(&a.failures)
	} else {
		failures = atomic.AddInt64(&a.failures, 1)
		successes = atomic.LoadInt64(&a.successes)
	}

	total := successes + failures
	if total < int64(a.cfg.SampleSize) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// Re-read under the lock: another goroutine may have already
	// consumed this sample and reset the counters.
	successes = atomic.LoadInt64(&a.successes)
	failures = atomic.LoadInt64(&a.failures)
	total = successes + failures
	if total < int64(a.cfg.SampleSize) {
		return
	}

	successRate := float64(successes) / float64(total)
	failureRate := float64(failures) / float64(total)

	current := a.inner.Stats().MaxRequests
	next := current
	switch {
	case successRate > a.cfg.SuccessThreshold:
		next = int(float64(current) * (1 + a.cfg.Factor))
		if next > a.cfg.MaxRequestsLimit {
			next = a.cfg.MaxRequestsLimit
		}
	case failureRate > a.cfg.FailureThreshold:
		next = int(float64(current) * (1 - a.cfg.Factor))
		if next < a.cfg.MinRequests {
			next = a.cfg.MinRequests
		}
	}

	if next != current {
		a.inner.reset(Config{MaxRequests: next, WindowS: a.cfg.WindowS})
	}

	atomic.StoreInt64(&a.successes, 0)
	atomic.StoreInt64(&a.failures, 0)
}

// Stats reports the current window shape.
func (a *AdaptiveLimiter) Stats() Config { return a.inner.Stats() }
