package pool

import "github.com/mcpgateway/fedcore/pool/strategy"

const (
	rerankEveryNOps   = 200
	rerankEveryMS     = 30_000
	rerankWindowMS    = 60_000
	rerankPenalty     = 100.0
	rerankHysteresis  = 0.10
)

var candidateStrategies = []strategy.Name{
	strategy.RoundRobin,
	strategy.LeastConnections,
	strategy.LeastLatency,
	strategy.Random,
	strategy.Weighted,
}

// maybeRerankStrategyLocked implements spec §4.5.1's adaptive strategy:
// periodically (every K=200 acquisitions or T=30s) re-ranks candidate
// strategies by aggregate score (p95 latency + penalty*failure_rate)
// and switches if the improvement clears the 10% hysteresis margin.
// Caller must hold p.mu. No-op unless the pool was configured with
// strategy=adaptive.
func (p *Pool) maybeRerankStrategyLocked() {
	if p.cfg.Strategy != strategy.Adaptive {
		return
	}
	p.opsSinceRerank++

	now := p.clock.NowMS()
	due := p.opsSinceRerank >= rerankEveryNOps || now-p.lastRerankMS >= rerankEveryMS
	if !due {
		return
	}
	p.opsSinceRerank = 0
	p.lastRerankMS = now

	currentScore, currentOK := p.scoreStrategyLocked(p.activeStrategy)
	if !currentOK {
		// No samples for the active strategy yet either; nothing to
		// compare against.
		return
	}
	bestName := p.activeStrategy
	bestScore := currentScore

	for _, name := range candidateStrategies {
		if name == p.activeStrategy {
			continue
		}
		score, ok := p.scoreStrategyLocked(name)
		if !ok {
			// Untested candidates have no samples of their own; scoring
			// them 0 would trivially beat any measured baseline, so
			// they sit out of comparison until the pool has actually
			// run them.
			continue
		}
		if score < bestScore {
			bestScore = score
			bestName = name
		}
	}

	if bestName != p.activeStrategy && strategy.ImprovedEnough(currentScore, bestScore, rerankHysteresis) {
		p.activeStrategy = bestName
		p.lastStrategyScore = bestScore
	} else {
		p.lastStrategyScore = currentScore
	}
}

func (p *Pool) scoreStrategyLocked(name strategy.Name) (float64, bool) {
	sum := p.metrics.Summary(string(name), rerankWindowMS)
	if sum.Count == 0 {
		return 0, false
	}
	return strategy.Score(sum.P95, 1-sum.SuccessRate, rerankPenalty), true
}
