package observsink

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresAuditSink appends pool events to an audit table, the
// "external system MAY record... for audit" hook from spec §6.
// Append-only: never read back at runtime by the core.
type PostgresAuditSink struct {
	db *sqlx.DB
}

// NewPostgresAuditSink wraps an existing *sqlx.DB. Callers own
// connection lifecycle and schema migration.
func NewPostgresAuditSink(db *sqlx.DB) *PostgresAuditSink {
	return &PostgresAuditSink{db: db}
}

const insertEventSQL = `
INSERT INTO pool_event_audit
	(event, ts_ms, pool_id, strategy, outcome, latency_ms, error_kind)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (s *PostgresAuditSink) Emit(ctx context.Context, ev Event) {
	// Fire-and-forget per the Sink contract: audit failures must never
	// affect dispatch, so errors are swallowed here rather than
	// propagated. A future iteration may route them to LogSink instead.
	_, _ = s.db.ExecContext(ctx, insertEventSQL,
		ev.Event, ev.TSMS, ev.PoolID, ev.Strategy, ev.Outcome, ev.LatencyMS, ev.ErrorKind)
}
