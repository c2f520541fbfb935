// Package upstream defines the abstract handle to one live backend
// connection (spec §4.4). The pool only ever talks to this interface;
// concrete transports live in transport/httpsession and
// transport/wssession.
package upstream

import "context"

// Ref is an immutable, stable identifier of a backend (spec §3's
// UpstreamRef), compared by ID only.
type Ref struct {
	ID     string
	Kind   string
	Target string
}

// Equal compares two Refs by ID only, per spec §3.
func (r Ref) Equal(other Ref) bool { return r.ID == other.ID }

// Health is the result of a health_check/pre-ping call.
type Health struct {
	Healthy   bool
	LastError error
}

// Session is an opaque handle to one live upstream connection.
// Implementations must make Invoke/Ping/Close/HealthCheck safe to call
// from the single goroutine the pool hands the session to; the pool
// itself never calls these concurrently on the same Session.
type Session interface {
	// ID uniquely identifies this session for strategy tie-breaks.
	ID() string
	// Ping is a lightweight liveness probe. Any error is a session
	// failure, same as Invoke.
	Ping(ctx context.Context) error
	// Invoke performs one request/response round trip against the
	// upstream. Any error is treated as a session failure by the core.
	Invoke(ctx context.Context, req any) (any, error)
	// HealthCheck is used for pre-ping; a session that fails two
	// consecutive pre-pings is closed by the pool.
	HealthCheck(ctx context.Context) Health
	// Close releases any underlying resources (connections, sockets).
	// Idempotent.
	Close() error
}

// Factory creates new Sessions for a given Ref, used by the pool's
// session-creation step (spec §4.5.2). Implementations should return a
// gwerr.UpstreamUnavailable-kinded error on failure.
type Factory interface {
	Create(ctx context.Context, ref Ref) (Session, error)
}

// FactoryFunc adapts a plain function to Factory.
type FactoryFunc func(ctx context.Context, ref Ref) (Session, error)

func (f FactoryFunc) Create(ctx context.Context, ref Ref) (Session, error) {
	return f(ctx, ref)
}
