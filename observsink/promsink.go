package observsink

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records pool events as Prometheus counters/histograms
// labeled by pool_id, strategy, and outcome.
type PromSink struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewPromSink registers its collectors against reg.
func NewPromSink(reg prometheus.Registerer) *PromSink {
	s := &PromSink{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpgateway",
			Subsystem: "pool",
			Name:      "events_total",
			Help:      "Count of pool acquire/invoke/release events.",
		}, []string{"pool_id", "strategy", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcpgateway",
			Subsystem: "pool",
			Name:      "event_latency_ms",
			Help:      "Latency of pool events in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"pool_id", "strategy"}),
	}
	reg.MustRegister(s.requests, s.latency)
	return s
}

func (s *PromSink) Emit(ctx context.Context, ev Event) {
	s.requests.WithLabelValues(ev.PoolID, ev.Strategy, ev.Outcome).Inc()
	s.latency.WithLabelValues(ev.PoolID, ev.Strategy).Observe(float64(ev.LatencyMS))
}
