// Package strategy implements the pure selection rules from spec
// §4.5.1, generalized from Alfred's routing.SLABalancer.computeScore
// (EWMA latency, error-rate term, weighted composite) from
// per-provider selection across a fleet down to per-session selection
// within one pool.
package strategy

import "math/rand"

// Name is one of spec §3's SessionConfig.strategy enum values.
type Name string

const (
	RoundRobin       Name = "round_robin"
	LeastConnections Name = "least_connections"
	LeastLatency     Name = "least_latency"
	Random           Name = "random"
	Weighted         Name = "weighted"
	Adaptive         Name = "adaptive"
)

func Valid(n Name) bool {
	switch n {
	case RoundRobin, LeastConnections, LeastLatency, Random, Weighted, Adaptive:
		return true
	default:
		return false
	}
}

// Candidate is the subset of session-entry state selection rules need.
// Pool's internal entry type is converted to this to keep the strategy
// package free of a dependency on pool's internals.
type Candidate struct {
	ID           string
	ReuseCount   int64
	LastUsedAtMS int64
}

// MetricsSource is the read side of pool/metrics.Metrics that
// least_latency/weighted consult.
type MetricsSource interface {
	EMALatency(strategy string) float64
	FailureRate(strategy string, windowMS int64) float64
}

const epsilon = 0.001

// leastConnectionsIndex implements the shared tie-break rule: minimum
// ReuseCount, tie -> smallest LastUsedAtMS, tie -> smallest ID.
func leastConnectionsIndex(c []Candidate) int {
	best := 0
	for i := 1; i < len(c); i++ {
		if less(c[i], c[best]) {
			best = i
		}
	}
	return best
}

func less(a, b Candidate) bool {
	if a.ReuseCount != b.ReuseCount {
		return a.ReuseCount < b.ReuseCount
	}
	if a.LastUsedAtMS != b.LastUsedAtMS {
		return a.LastUsedAtMS < b.LastUsedAtMS
	}
	return a.ID < b.ID
}

// SelectRoundRobin advances cursor by one each call, wrapping modulo
// len(candidates), and returns the chosen index. Candidates must be
// supplied sorted by ID so the cursor is meaningful across calls with a
// changing candidate set.
func SelectRoundRobin(candidates []Candidate, cursor *int) int {
	if len(candidates) == 0 {
		return -1
	}
	idx := *cursor % len(candidates)
	*cursor = idx + 1
	return idx
}

// SelectLeastConnections implements spec §4.5.1's least_connections rule.
func SelectLeastConnections(candidates []Candidate) int {
	if len(candidates) == 0 {
		return -1
	}
	return leastConnectionsIndex(candidates)
}

// SelectRandom is uniform over candidates.
func SelectRandom(candidates []Candidate, rnd *rand.Rand) int {
	if len(candidates) == 0 {
		return -1
	}
	return rnd.Intn(len(candidates))
}

// SelectLeastLatency picks the lowest EMA latency for strategyName,
// tie-breaking via least_connections.
func SelectLeastLatency(candidates []Candidate, m MetricsSource, strategyName string) int {
	if len(candidates) == 0 {
		return -1
	}
	// EMA latency is tracked per strategy, not per session, so every
	// candidate scores identically here; the tie-break rule is what
	// actually discriminates among sessions. This mirrors the spec's
	// own wording ("lowest EMA of response_ms from StrategyMetrics; tie
	// -> least_connections rule") taken literally: the metric picks the
	// strategy-wide latency reading, the tie-break picks the session.
	_ = m.EMALatency(strategyName)
	return leastConnectionsIndex(candidates)
}

// weight computes spec §4.5.1's weighted formula:
// weight_i = max(eps, 1/(1+EMA_latency_i) * (1 - recent_failure_rate_i)).
func weight(emaLatency, failureRate float64) float64 {
	w := (1 / (1 + emaLatency)) * (1 - failureRate)
	if w < epsilon {
		return epsilon
	}
	return w
}

// SelectWeighted samples via cumulative distribution over weights
// derived from the strategy-wide EMA latency and failure rate (the
// pool has one latency/failure reading per strategy, not per session;
// per-session differentiation would require per-session metrics, which
// spec §6 Strategy Metrics keys by (pool_id, strategy), not session).
func SelectWeighted(candidates []Candidate, m MetricsSource, strategyName string, windowMS int64, rnd *rand.Rand) int {
	if len(candidates) == 0 {
		return -1
	}
	ema := m.EMALatency(strategyName)
	fr := m.FailureRate(strategyName, windowMS)
	w := weight(ema, fr)

	total := w * float64(len(candidates))
	target := rnd.Float64() * total
	cum := 0.0
	for i := range candidates {
		cum += w
		if target <= cum {
			return i
		}
	}
	return len(candidates) - 1
}

// Score computes the aggregate score spec §4.5.1's adaptive strategy
// uses to rank candidate strategies: p95 latency plus a linear failure
// term, penalty times failure rate.
func Score(p95LatencyMS, failureRate, penalty float64) float64 {
	return p95LatencyMS + penalty*failureRate
}

// ImprovedEnough reports whether candidateScore beats currentScore by
// at least the hysteresis margin (10% per spec), to avoid strategy
// flapping.
func ImprovedEnough(currentScore, candidateScore, marginFrac float64) bool {
	if currentScore <= 0 {
		return candidateScore < currentScore
	}
	return candidateScore <= currentScore*(1-marginFrac)
}
