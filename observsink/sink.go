// Package observsink implements spec §6's Observability sink
// collaborator: fire-and-forget structured events, emitted by the
// Dispatcher once per dispatched invocation with its outcome.
package observsink

import "context"

// Event is spec §6's event shape:
// { event, ts, pool_id, strategy, outcome, latency_ms, error_kind? }.
type Event struct {
	Event     string
	TSMS      int64
	PoolID    string
	Strategy  string
	Outcome   string
	LatencyMS int64
	ErrorKind string
}

// Sink consumes Events fire-and-forget; implementations must not block
// the caller meaningfully and must never panic.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}
