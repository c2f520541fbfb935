// Package pool implements spec §4.5's Session Pool, the core of the
// system: a bounded pool of sessions for one upstream, with
// strategy-based selection, a circuit breaker, health/recycle
// maintenance, and adaptive sizing.
//
// Structurally grounded on Alfred's provider.ConnectionPool
// (double-checked-locking creation, per-key config, metrics wrapper)
// and middleware.Semaphore/KeyedMutex (per-key bounded concurrency,
// FIFO channel-based waiting), generalized from "per-org HTTP
// concurrency" to "per-upstream session slots". Creation backoff
// mirrors cryptorun's httpclient.ClientPool.calculateBackoff
// (exponential-with-jitter, same cap pattern).
package pool

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mcpgateway/fedcore/breaker"
	"github.com/mcpgateway/fedcore/clock"
	"github.com/mcpgateway/fedcore/gwerr"
	poolmetrics "github.com/mcpgateway/fedcore/pool/metrics"
	"github.com/mcpgateway/fedcore/pool/strategy"
	"github.com/mcpgateway/fedcore/upstream"
)

// Stats is spec §3's PoolStats, exposed via Snapshot.
type Stats struct {
	Active            int
	Available         int
	TotalAcquisitions int64
	TotalReleases     int64
	TotalTimeouts     int64
	TotalErrors       int64
}

type waiter struct {
	ch chan struct{}
	// entry is set by whichever signaler hands this waiter a claimed
	// session directly (see signalOneWaiterLocked), so the waiter does
	// not have to re-race a brand-new Acquire call for it via
	// selectAndClaimLocked. Left nil when the waiter was only woken to
	// re-check its options (e.g. after Resize widened max_size).
	entry *entry
}

// Pool is a bounded pool of sessions for one upstream.Ref.
type Pool struct {
	ref     upstream.Ref
	cfg     Config
	factory upstream.Factory
	clock   clock.Clock
	rnd     *rand.Rand

	breaker *breaker.Breaker
	metrics *poolmetrics.Metrics

	mu        sync.Mutex
	available []*entry
	inUse     map[string]*entry
	waiters   []*waiter
	creating  int
	shutdown  bool
	generation int64

	totalAcquisitions int64
	totalReleases     int64
	totalTimeouts     int64
	totalErrors       int64

	rrCursor int

	// adaptive strategy switching state (spec §4.5.1's "adaptive").
	activeStrategy     strategy.Name
	opsSinceRerank     int
	lastRerankMS       int64
	lastStrategyScore  float64

	// three-consecutive-tick utilization sizing state (spec §4.5.3).
	highTicks int
	lowTicks  int

	cancelMaintenance context.CancelFunc
	maintenanceDone   chan struct{}
}

// New constructs a Pool for ref. factory creates new sessions on
// demand; clk is the injected time source.
func New(ref upstream.Ref, cfg Config, factory upstream.Factory, clk clock.Clock) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	p := &Pool{
		ref:            ref,
		cfg:            cfg,
		factory:        factory,
		clock:          clk,
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
		breaker:        breaker.New(ref.ID, cfg.Breaker),
		metrics:        poolmetrics.New(clk, cfg.MetricsCapacity, cfg.MetricsHalfLifeMS),
		inUse:          make(map[string]*entry),
		activeStrategy: cfg.Strategy,
	}
	if p.activeStrategy == strategy.Adaptive {
		p.activeStrategy = strategy.LeastConnections
	}
	return p, nil
}

// aliveLocked returns the total session count (available + in_use).
// Caller must hold p.mu.
func (p *Pool) aliveLocked() int {
	return len(p.available) + len(p.inUse)
}

// Snapshot returns a point-in-time copy of PoolStats.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Active:            len(p.inUse),
		Available:         len(p.available),
		TotalAcquisitions: p.totalAcquisitions,
		TotalReleases:     p.totalReleases,
		TotalTimeouts:     p.totalTimeouts,
		TotalErrors:       p.totalErrors,
	}
}

// Acquire implements spec §4.5's acquisition algorithm. timeoutMS<=0
// means "try once, don't wait" (spec §8's timeout_ms=0 boundary
// behavior), matching ratelimit.Limiter.Acquire's convention.
func (p *Pool) Acquire(ctx context.Context, timeoutMS int64) (*AcquisitionHandle, error) {
	deadlineMS := p.clock.NowMS() + timeoutMS

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, gwerr.New(gwerr.PoolShutdown, "pool "+p.ref.ID+" is shutting down")
	}

	ok, permit := p.breaker.CanAttempt()
	if !ok {
		p.metrics.Record(poolmetrics.Sample{Strategy: string(p.activeStrategy), TSMS: p.clock.NowMS(), Success: false, Error: "breaker"})
		p.totalErrors++
		p.mu.Unlock()
		return nil, gwerr.New(gwerr.CircuitOpen, "breaker open for upstream "+p.ref.ID)
	}

	for {
		if p.shutdown {
			p.mu.Unlock()
			permit.RecordFailure()
			return nil, gwerr.New(gwerr.PoolShutdown, "pool "+p.ref.ID+" is shutting down")
		}

		if e, waitMS := p.selectAndClaimLocked(); e != nil {
			p.mu.Unlock()
			if h, retry := p.finalizeClaimed(ctx, e, waitMS, permit); !retry {
				return h, nil
			}
			p.mu.Lock()
			continue
		}

		if p.aliveLocked()+p.creating < p.cfg.MaxSize {
			p.creating++
			p.mu.Unlock()

			sess, err := p.createWithRetries(ctx)

			p.mu.Lock()
			p.creating--
			if err != nil {
				p.totalErrors++
				p.mu.Unlock()
				permit.RecordFailure()
				return nil, gwerr.Wrap(gwerr.UpstreamUnavailable, "creating session for "+p.ref.ID, err)
			}
			e := p.newEntryLocked(sess)
			e.inUse = true
			p.inUse[e.id] = e
			p.totalAcquisitions++
			strategyName := string(p.activeStrategy)
			p.maybeRerankStrategyLocked()
			p.mu.Unlock()
			return &AcquisitionHandle{pool: p, entry: e, permit: permit, strategyName: strategyName, waitMS: 0, reused: false}, nil
		}

		w := &waiter{ch: make(chan struct{})}
		p.waiters = append(p.waiters, w)
		enqueuedMS := p.clock.NowMS()
		p.mu.Unlock()

		remainMS := deadlineMS - p.clock.NowMS()
		if remainMS <= 0 {
			h, err, retry := p.resolveLostRace(ctx, w, enqueuedMS, permit, true,
				gwerr.New(gwerr.AcquireTimeout, "timed out waiting for a session from "+p.ref.ID))
			if retry {
				p.mu.Lock()
				continue
			}
			return h, err
		}

		select {
		case <-w.ch:
			if w.entry != nil {
				waitMS := p.clock.NowMS() - enqueuedMS
				if h, retry := p.finalizeClaimed(ctx, w.entry, waitMS, permit); !retry {
					return h, nil
				}
			}
			p.mu.Lock()
			continue
		case <-ctx.Done():
			h, err, retry := p.resolveLostRace(ctx, w, enqueuedMS, permit, false,
				gwerr.New(gwerr.Cancelled, "acquire cancelled for "+p.ref.ID))
			if retry {
				p.mu.Lock()
				continue
			}
			return h, err
		case <-p.clock.Deadline(remainMS):
			h, err, retry := p.resolveLostRace(ctx, w, enqueuedMS, permit, true,
				gwerr.New(gwerr.AcquireTimeout, "timed out waiting for a session from "+p.ref.ID))
			if retry {
				p.mu.Lock()
				continue
			}
			return h, err
		}
	}
}

// resolveLostRace handles a timeout/cancellation firing for a queued
// waiter. If the waiter was still in the queue, it is simply dropped
// and timeoutErr reported. If a signaler already popped it first (see
// signalOneWaiterLocked/removeWaiter) while racing against this same
// select, the entry it was handed — if any — is finalized instead of
// silently discarded, since the session was already claimed in_use on
// the waiter's behalf and letting it go unreleased would violate the
// pool's no-leak guarantee (spec §5). retry=true means the caller
// should re-lock p.mu and loop (the entry failed pre-ping and was
// requeued/evicted); otherwise exactly one of the handle/err results
// is the final Acquire outcome.
func (p *Pool) resolveLostRace(ctx context.Context, w *waiter, enqueuedMS int64, permit *breaker.Permit, recordTimeout bool, timeoutErr error) (handle *AcquisitionHandle, err error, retry bool) {
	if p.removeWaiter(w) || w.entry == nil {
		if recordTimeout {
			p.recordTimeout()
		}
		permit.RecordFailure()
		return nil, timeoutErr, false
	}
	waitMS := p.clock.NowMS() - enqueuedMS
	h, retryClaim := p.finalizeClaimed(ctx, w.entry, waitMS, permit)
	if !retryClaim {
		return h, nil, false
	}
	return nil, nil, true
}

func (p *Pool) recordTimeout() {
	p.mu.Lock()
	p.totalTimeouts++
	p.mu.Unlock()
}

// removeWaiter drops target from the wait queue and reports whether it
// was still queued. false means a signaler already popped it (and may
// have handed it a claimed entry via signalOneWaiterLocked) before the
// caller's timeout/cancellation branch won the race against <-w.ch —
// callers must check target.entry in that case rather than assuming
// nothing was granted.
func (p *Pool) removeWaiter(target *waiter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// finalizeClaimed runs pre-ping (if enabled) on an entry already marked
// in_use — whether just claimed via selectAndClaimLocked or handed
// directly to a waiter by signalOneWaiterLocked — and either returns a
// ready handle (retry=false) or reports that the entry failed pre-ping
// and was requeued/evicted, so the caller should loop back and acquire
// a different candidate (retry=true). Must be called with p.mu NOT
// held; never returns holding it either.
func (p *Pool) finalizeClaimed(ctx context.Context, e *entry, waitMS int64, permit *breaker.Permit) (*AcquisitionHandle, bool) {
	if p.cfg.PrePing {
		if !p.prePing(ctx, e) {
			p.mu.Lock()
			if e.preFailCount >= 2 {
				p.evictLocked(e)
			} else {
				delete(p.inUse, e.id)
				e.inUse = false
				p.available = append(p.available, e)
			}
			p.mu.Unlock()
			return nil, true
		}
	}
	p.mu.Lock()
	p.totalAcquisitions++
	strategyName := string(p.activeStrategy)
	p.maybeRerankStrategyLocked()
	p.mu.Unlock()
	return &AcquisitionHandle{pool: p, entry: e, permit: permit, strategyName: strategyName, waitMS: waitMS, reused: true}, false
}

// signalOneWaiterLocked wakes the earliest-arrived waiter (spec §5's
// FIFO wake guarantee, P3). When e is non-nil, e is claimed in_use and
// handed directly to that waiter here, under the same lock, instead of
// being placed in available for the waiter to re-select — closing
// w.ch alone only wakes the goroutine, it does not hand it the mutex
// or the entry, so a brand-new Acquire call racing for p.mu could
// otherwise barge ahead of an already-queued waiter and claim e first.
// When there is no waiter, e (if any) is appended to available as
// usual. Caller must hold p.mu.
func (p *Pool) signalOneWaiterLocked(e *entry) {
	if len(p.waiters) == 0 {
		if e != nil {
			p.available = append(p.available, e)
		}
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	if e != nil {
		e.inUse = true
		e.reuseCount++
		e.lastUsedAtMS = p.clock.NowMS()
		p.inUse[e.id] = e
		w.entry = e
	}
	close(w.ch)
}

// selectAndClaimLocked picks a candidate from available per the active
// strategy and marks it in_use. Caller must hold p.mu. Returns nil if
// available is empty.
func (p *Pool) selectAndClaimLocked() (*entry, int64) {
	if len(p.available) == 0 {
		return nil, 0
	}

	sort.Slice(p.available, func(i, j int) bool { return p.available[i].id < p.available[j].id })

	cands := make([]strategy.Candidate, len(p.available))
	for i, e := range p.available {
		cands[i] = strategy.Candidate{ID: e.id, ReuseCount: e.reuseCount, LastUsedAtMS: e.lastUsedAtMS}
	}

	idx := p.selectIndexLocked(cands)
	if idx < 0 {
		return nil, 0
	}

	e := p.available[idx]
	p.available = append(p.available[:idx], p.available[idx+1:]...)
	e.inUse = true
	e.reuseCount++
	e.lastUsedAtMS = p.clock.NowMS()
	p.inUse[e.id] = e
	return e, 0
}

func (p *Pool) selectIndexLocked(cands []strategy.Candidate) int {
	switch p.activeStrategy {
	case strategy.RoundRobin:
		return strategy.SelectRoundRobin(cands, &p.rrCursor)
	case strategy.LeastConnections:
		return strategy.SelectLeastConnections(cands)
	case strategy.LeastLatency:
		return strategy.SelectLeastLatency(cands, p.metrics, string(p.activeStrategy))
	case strategy.Random:
		return strategy.SelectRandom(cands, p.rnd)
	case strategy.Weighted:
		return strategy.SelectWeighted(cands, p.metrics, string(p.activeStrategy), 60_000, p.rnd)
	default:
		return strategy.SelectLeastConnections(cands)
	}
}

func (p *Pool) newEntryLocked(sess upstream.Session) *entry {
	return &entry{
		sess:         sess,
		id:           sess.ID(),
		createdAtMS:  p.clock.NowMS(),
		lastUsedAtMS: p.clock.NowMS(),
		generation:   p.generation,
	}
}

func (p *Pool) evictLocked(e *entry) {
	delete(p.inUse, e.id)
	_ = e.sess.Close()
}

// prePing runs a health check outside the pool lock (never held across
// I/O, spec §5).
func (p *Pool) prePing(ctx context.Context, e *entry) bool {
	h := e.sess.HealthCheck(ctx)
	if h.Healthy {
		e.preFailCount = 0
		return true
	}
	e.preFailCount++
	e.lastError = h.LastError
	return false
}

// createWithRetries implements spec §4.5.2: retries up to
// cfg.CreateRetries with exponential backoff 100ms * 2^k * U(0.5, 1.5).
func (p *Pool) createWithRetries(ctx context.Context) (upstream.Session, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.CreateRetries; attempt++ {
		sess, err := p.factory.Create(ctx, p.ref)
		if err == nil {
			return sess, nil
		}
		lastErr = err
		if attempt == p.cfg.CreateRetries {
			break
		}
		backoffMS := backoffMS(attempt, p.rnd)
		if err := p.clock.Sleep(ctx, backoffMS); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func backoffMS(attempt int, rnd *rand.Rand) int64 {
	base := 100.0 * math.Pow(2, float64(attempt))
	jitter := 0.5 + rnd.Float64()
	return int64(base * jitter)
}

// release implements spec §4.5's release algorithm.
func (p *Pool) release(h *AcquisitionHandle, outcome Outcome, responseMS int64) {
	e := h.entry

	p.mu.Lock()
	delete(p.inUse, e.id)

	closeIt := !outcome.OK
	if outcome.OK && p.cfg.RecycleMS > 0 && p.clock.NowMS()-e.createdAtMS >= p.cfg.RecycleMS {
		closeIt = true
	}
	if outcome.OK && p.cfg.RecycleMS == 0 {
		closeIt = true
	}
	p.mu.Unlock()

	// Step 2 also closes on a failing health check (spec §4.5), same as
	// prePing on acquire; run outside the lock since it does I/O.
	if !closeIt {
		health := e.sess.HealthCheck(context.Background())
		if !health.Healthy {
			closeIt = true
			e.lastError = health.LastError
		}
	}

	p.mu.Lock()
	p.totalReleases++
	if !outcome.OK {
		p.totalErrors++
	}

	p.metrics.Record(poolmetrics.Sample{
		Strategy:   h.strategyName,
		TSMS:       p.clock.NowMS(),
		ResponseMS: responseMS,
		Success:    outcome.OK,
		Reused:     h.reused,
		WaitMS:     h.waitMS,
	})

	if !closeIt {
		// Hands e straight to the earliest waiter, if any, rather than
		// appending to available first (see signalOneWaiterLocked).
		p.signalOneWaiterLocked(e)
	} else {
		_ = e.sess.Close()
		p.signalOneWaiterLocked(nil)
	}
	p.mu.Unlock()

	if outcome.OK {
		h.permit.RecordSuccess()
	} else {
		h.permit.RecordFailure()
	}
}

// Resize implements spec §4.5's resize: adjusts bounds without losing
// in-use sessions; excess idle sessions above max are closed LIFO.
func (p *Pool) Resize(newMin, newMax int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.MinSize = newMin
	p.cfg.MaxSize = newMax

	for len(p.available) > 0 && p.aliveLocked() > newMax {
		last := len(p.available) - 1
		e := p.available[last]
		p.available = p.available[:last]
		_ = e.sess.Close()
	}
	// No concrete session to hand over here; a widened max_size only
	// makes creation possible, so the waiter just re-enters its loop.
	p.signalOneWaiterLocked(nil)
}

// Shutdown implements spec §4.5's shutdown: refuse new acquisitions,
// wait up to drainMS for in-use sessions to release, then force-close
// remaining.
func (p *Pool) Shutdown(ctx context.Context, drainMS int64) {
	p.mu.Lock()
	p.shutdown = true
	for _, w := range p.waiters {
		close(w.ch)
	}
	p.waiters = nil
	p.mu.Unlock()

	if p.cancelMaintenance != nil {
		p.cancelMaintenance()
		<-p.maintenanceDone
	}

	deadlineMS := p.clock.NowMS() + drainMS
	for {
		p.mu.Lock()
		if len(p.inUse) == 0 {
			break
		}
		p.mu.Unlock()

		remain := deadlineMS - p.clock.NowMS()
		if remain <= 0 {
			p.mu.Lock()
			break
		}
		select {
		case <-p.clock.Deadline(remain):
		case <-ctx.Done():
		}
	}

	for _, e := range p.available {
		_ = e.sess.Close()
	}
	p.available = nil
	for _, e := range p.inUse {
		_ = e.sess.Close()
	}
	p.inUse = make(map[string]*entry)
	p.mu.Unlock()
}

// Ref returns the upstream this pool serves.
func (p *Pool) Ref() upstream.Ref { return p.ref }

// Metrics returns the pool's owned StrategyMetrics, for admin/read access.
func (p *Pool) Metrics() *poolmetrics.Metrics { return p.metrics }

// Breaker returns the pool's owned circuit breaker, for admin/read access.
func (p *Pool) Breaker() *breaker.Breaker { return p.breaker }

// Config returns a snapshot of the pool's current configuration, for
// the Pool Manager's auto-adjust loop and admin surface.
func (p *Pool) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}
