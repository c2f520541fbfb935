package observsink

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes structured events via zerolog, grounded on Alfred's
// logger.New pattern (one shared *zerolog.Logger, structured fields
// per call rather than formatted strings).
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "observsink").Logger()}
}

func (s *LogSink) Emit(ctx context.Context, ev Event) {
	e := s.log.Info()
	if ev.Outcome != "ok" {
		e = s.log.Warn()
	}
	e.Str("event", ev.Event).
		Int64("ts_ms", ev.TSMS).
		Str("pool_id", ev.PoolID).
		Str("strategy", ev.Strategy).
		Str("outcome", ev.Outcome).
		Int64("latency_ms", ev.LatencyMS).
		Str("error_kind", ev.ErrorKind).
		Msg("pool event")
}
