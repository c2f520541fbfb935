// Package breaker implements the per-upstream circuit breaker (spec §4.3)
// on top of github.com/sony/gobreaker's TwoStepCircuitBreaker. The
// two-step shape — Allow() returning a done(success bool) closure — maps
// directly onto the spec's decoupled can_attempt()/record_success()/
// record_failure() contract: CanAttempt is Allow, and the Permit it
// returns carries the closure that RecordSuccess/RecordFailure invoke.
//
// gobreaker's half-open bookkeeping (bounded concurrent admissions,
// consecutive-success promotion to closed, any half-open failure
// reopening) is exactly the semantics of the reference circuit breaker
// this gateway was distilled from, which resolves the spec's open
// question in favor of counting half_open_max_calls as admissions with
// success-count promotion.
package breaker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mcpgateway/fedcore/gwerr"
)

// State mirrors spec §3's BreakerState.state enum.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker. FailureThreshold is consecutive failures
// in the closed state before tripping open; Timeout is how long the
// breaker stays open before allowing a half-open probe;
// HalfOpenMaxCalls bounds concurrent admissions while half-open and is
// also the number of consecutive successes required to close again.
type Config struct {
	FailureThreshold int
	Timeout          time.Duration
	HalfOpenMaxCalls int
}

// BreakerState is the external snapshot shape from spec §3.
type BreakerState struct {
	State             State
	FailureCount      int
	SuccessCount      int
	HalfOpenInFlight  int
	LastFailureTSMS   int64
}

// Breaker is a per-upstream circuit breaker.
type Breaker struct {
	name             string
	inner            *gobreaker.TwoStepCircuitBreaker
	halfOpenInFlight int32
	lastFailureTSMS  int64
}

// New creates a Breaker for the given upstream/pool name.
func New(name string, cfg Config) *Breaker {
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	b := &Breaker{name: name}
	b.inner = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.HalfOpenMaxCalls),
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if to != gobreaker.StateHalfOpen {
				atomic.StoreInt32(&b.halfOpenInFlight, 0)
			}
		},
	})
	return b
}

// Permit is returned by CanAttempt when admission is granted; exactly
// one of RecordSuccess/RecordFailure must be called on it.
type Permit struct {
	b          *Breaker
	done       func(bool)
	halfOpened bool
}

// CanAttempt reports whether a request may proceed (spec §4.3). When
// true, the caller owns the returned Permit and must resolve it exactly
// once via RecordSuccess or RecordFailure.
func (b *Breaker) CanAttempt() (bool, *Permit) {
	done, err := b.inner.Allow()
	if err != nil {
		return false, nil
	}
	halfOpened := b.State() == StateHalfOpen
	if halfOpened {
		atomic.AddInt32(&b.halfOpenInFlight, 1)
	}
	return true, &Permit{b: b, done: done, halfOpened: halfOpened}
}

// RecordSuccess resolves the permit as a success.
func (p *Permit) RecordSuccess() {
	if p == nil {
		return
	}
	p.done(true)
	if p.halfOpened {
		atomic.AddInt32(&p.b.halfOpenInFlight, -1)
	}
}

// RecordFailure resolves the permit as a failure.
func (p *Permit) RecordFailure() {
	if p == nil {
		return
	}
	atomic.StoreInt64(&p.b.lastFailureTSMS, time.Now().UnixMilli())
	p.done(false)
	if p.halfOpened {
		atomic.AddInt32(&p.b.halfOpenInFlight, -1)
	}
}

// Call is the convenience wrapper from spec §4.3: it runs fn only if
// CanAttempt allows it, recording the outcome automatically.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	ok, permit := b.CanAttempt()
	if !ok {
		return gwerr.New(gwerr.CircuitOpen, "breaker "+b.name+" is open")
	}
	err := fn(ctx)
	if err != nil {
		permit.RecordFailure()
		return err
	}
	permit.RecordSuccess()
	return nil
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	switch b.inner.State() {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateOpen
	}
}

// Stats returns a snapshot matching spec §3's BreakerState.
func (b *Breaker) Stats() BreakerState {
	counts := b.inner.Counts()
	return BreakerState{
		State:            b.State(),
		FailureCount:     int(counts.ConsecutiveFailures),
		SuccessCount:     int(counts.ConsecutiveSuccesses),
		HalfOpenInFlight: int(atomic.LoadInt32(&b.halfOpenInFlight)),
		LastFailureTSMS:  atomic.LoadInt64(&b.lastFailureTSMS),
	}
}

// Name returns the breaker's configured name.
func (b *Breaker) Name() string { return b.name }
