package strategy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeMetrics struct {
	ema  map[string]float64
	fail map[string]float64
}

func (f fakeMetrics) EMALatency(strategy string) float64        { return f.ema[strategy] }
func (f fakeMetrics) FailureRate(strategy string, _ int64) float64 { return f.fail[strategy] }

func TestSelectRoundRobinAdvancesAndWraps(t *testing.T) {
	cands := []Candidate{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	cursor := 0
	require.Equal(t, 0, SelectRoundRobin(cands, &cursor))
	require.Equal(t, 1, SelectRoundRobin(cands, &cursor))
	require.Equal(t, 2, SelectRoundRobin(cands, &cursor))
	require.Equal(t, 0, SelectRoundRobin(cands, &cursor), "cursor should wrap")
}

func TestSelectLeastConnectionsTieBreaks(t *testing.T) {
	cands := []Candidate{
		{ID: "z", ReuseCount: 5, LastUsedAtMS: 10},
		{ID: "a", ReuseCount: 2, LastUsedAtMS: 20},
		{ID: "b", ReuseCount: 2, LastUsedAtMS: 10},
	}
	require.Equal(t, 2, SelectLeastConnections(cands), "min reuse count, then earliest last-used")
}

func TestSelectLeastLatencyFallsBackToLeastConnections(t *testing.T) {
	cands := []Candidate{
		{ID: "b", ReuseCount: 3},
		{ID: "a", ReuseCount: 1},
	}
	m := fakeMetrics{ema: map[string]float64{"least_latency": 12.5}}
	require.Equal(t, 1, SelectLeastLatency(cands, m, "least_latency"))
}

func TestSelectWeightedDeterministicWithSeededRand(t *testing.T) {
	cands := []Candidate{{ID: "a"}, {ID: "b"}}
	m := fakeMetrics{
		ema:  map[string]float64{"weighted": 5},
		fail: map[string]float64{"weighted": 0.1},
	}
	rnd := rand.New(rand.NewSource(1))
	idx := SelectWeighted(cands, m, "weighted", 60000, rnd)
	require.GreaterOrEqual(t, idx, 0)
	require.Less(t, idx, len(cands))
}

func TestScoreAndHysteresis(t *testing.T) {
	current := Score(60, 0.02, 100)
	candidate := Score(20, 0.0, 100)
	require.True(t, ImprovedEnough(current, candidate, 0.10))

	// raising round_robin-equivalent p95 to only 21ms should not trigger
	// a switch back from a strategy already scoring near 20ms.
	barelyWorse := Score(21, 0.0, 100)
	require.False(t, ImprovedEnough(candidate, barelyWorse, 0.10))
}
