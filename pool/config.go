package pool

import (
	"errors"
	"time"

	"github.com/mcpgateway/fedcore/breaker"
	"github.com/mcpgateway/fedcore/pool/strategy"
)

// Config is spec §3's SessionConfig, validated at construction rather
// than duck-typed (spec §9's re-architecture guidance).
type Config struct {
	Size                int
	MinSize             int
	MaxSize             int
	TimeoutMS           int64
	RecycleMS           int64
	PrePing             bool
	Strategy            strategy.Name
	AutoAdjust          bool
	ResponseThresholdMS int64

	// CreateRetries bounds session-creation retries (spec §4.5.2, default 2).
	CreateRetries int
	// Breaker configures the pool's owned circuit breaker (spec §4.3).
	Breaker breaker.Config
	// MetricsCapacity/MetricsHalfLifeMS configure the pool's owned
	// StrategyMetrics ring buffer (spec §4.6).
	MetricsCapacity  int
	MetricsHalfLifeMS int64
}

// Validate enforces spec §3's SessionConfig invariants:
// 1 ≤ min_size ≤ size ≤ max_size ≤ 10_000; timeout_ms > 0; recycle_ms ≥ 0;
// strategy ∈ the enumerated set.
func (c Config) Validate() error {
	if c.MinSize < 1 {
		return errors.New("pool: min_size must be >= 1")
	}
	if c.Size < c.MinSize {
		return errors.New("pool: size must be >= min_size")
	}
	if c.MaxSize < c.Size {
		return errors.New("pool: max_size must be >= size")
	}
	if c.MaxSize > 10_000 {
		return errors.New("pool: max_size must be <= 10000")
	}
	if c.TimeoutMS <= 0 {
		return errors.New("pool: timeout_ms must be > 0")
	}
	if c.RecycleMS < 0 {
		return errors.New("pool: recycle_ms must be >= 0")
	}
	if !strategy.Valid(c.Strategy) {
		return errors.New("pool: invalid strategy: " + string(c.Strategy))
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.CreateRetries <= 0 {
		c.CreateRetries = 2
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker = breaker.Config{FailureThreshold: 3, Timeout: 30 * time.Second, HalfOpenMaxCalls: 2}
	}
	if c.MetricsCapacity <= 0 {
		c.MetricsCapacity = 1000
	}
	if c.MetricsHalfLifeMS <= 0 {
		c.MetricsHalfLifeMS = 30_000
	}
	return c
}
