package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpgateway/fedcore/clock"
)

func TestRecordAndSummary(t *testing.T) {
	fc := clock.NewFakeClock()
	m := New(fc, 10, 30_000)

	for i, rt := range []int64{10, 20, 30, 40, 100} {
		fc.Advance(1)
		m.Record(Sample{Strategy: "round_robin", TSMS: fc.NowMS(), ResponseMS: rt, Success: i != 4})
	}

	sum := m.Summary("round_robin", 0)
	require.Equal(t, 5, sum.Count)
	require.InDelta(t, 0.8, sum.SuccessRate, 0.001)
	require.Equal(t, float64(30), sum.P50)
	require.Equal(t, float64(100), sum.P95)
}

func TestSummaryExcludesSamplesOutsideWindow(t *testing.T) {
	fc := clock.NewFakeClock()
	m := New(fc, 10, 30_000)

	m.Record(Sample{Strategy: "s", TSMS: 1000, ResponseMS: 10, Success: true})
	fc.Advance(5000)
	m.Record(Sample{Strategy: "s", TSMS: fc.NowMS(), ResponseMS: 20, Success: true})

	sum := m.Summary("s", 100)
	require.Equal(t, 1, sum.Count, "only the most recent sample is within the 100ms window")
}

func TestRingBufferEvictsFIFO(t *testing.T) {
	fc := clock.NewFakeClock()
	m := New(fc, 3, 30_000)

	for i := int64(1); i <= 5; i++ {
		m.Record(Sample{Strategy: "s", TSMS: i, ResponseMS: i * 10, Success: true})
	}

	sum := m.Summary("s", 0)
	require.Equal(t, 3, sum.Count, "capacity caps retained samples")
	require.Equal(t, float64(40), sum.P50)
}

func TestEMALatencySeedsFromFirstSample(t *testing.T) {
	fc := clock.NewFakeClock()
	m := New(fc, 10, 30_000)

	m.Record(Sample{Strategy: "s", TSMS: 0, ResponseMS: 50, Success: true})
	require.Equal(t, float64(50), m.EMALatency("s"))

	m.Record(Sample{Strategy: "s", TSMS: 30_000, ResponseMS: 10, Success: true})
	require.Less(t, m.EMALatency("s"), float64(50))
	require.Greater(t, m.EMALatency("s"), float64(10))
}

func TestFailureRateReflectsWindow(t *testing.T) {
	fc := clock.NewFakeClock()
	m := New(fc, 10, 30_000)

	m.Record(Sample{Strategy: "s", TSMS: 0, ResponseMS: 10, Success: true})
	m.Record(Sample{Strategy: "s", TSMS: 0, ResponseMS: 10, Success: false})

	require.InDelta(t, 0.5, m.FailureRate("s", 0), 0.001)
}
