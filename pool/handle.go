package pool

import (
	"sync/atomic"

	"github.com/mcpgateway/fedcore/breaker"
	"github.com/mcpgateway/fedcore/upstream"
)

// Outcome is the caller-reported result of using a session, passed to
// Release (spec §4.5's release(handle, outcome: {ok, err})).
type Outcome struct {
	OK  bool
	Err error
}

// AcquisitionHandle is the scoped handle spec §4.5's acquire returns,
// guaranteeing release on every exit path.
type AcquisitionHandle struct {
	pool   *Pool
	entry  *entry
	permit *breaker.Permit

	strategyName string
	waitMS       int64
	reused       bool

	released int32
}

// Session returns the underlying upstream session this handle grants
// exclusive use of.
func (h *AcquisitionHandle) Session() upstream.Session { return h.entry.sess }

// ID returns the session's stable identifier.
func (h *AcquisitionHandle) ID() string { return h.entry.id }

// Release returns the handle's session to the pool (or evicts it),
// per spec §4.5's release algorithm. Safe to call at most once; a
// second call is a no-op, matching the "exactly one release" guarantee
// (P1) without panicking on defensive double-release call sites.
func (h *AcquisitionHandle) Release(outcome Outcome, responseMS int64) {
	if !atomic.CompareAndSwapInt32(&h.released, 0, 1) {
		return
	}
	h.pool.release(h, outcome, responseMS)
}
