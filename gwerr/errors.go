// Package gwerr defines the gateway's error taxonomy. Every fallible
// operation in the pool/dispatch core returns a *gwerr.Error (or nil)
// instead of an ad-hoc error, so callers can switch on Kind for metric
// labeling and retry policy instead of matching strings.
package gwerr

import "fmt"

// Kind discriminates the error taxonomy from spec §7.
type Kind string

const (
	Throttled             Kind = "throttled"
	CircuitOpen           Kind = "circuit_open"
	AcquireTimeout        Kind = "acquire_timeout"
	UpstreamUnavailable   Kind = "upstream_unavailable"
	SessionInvocationError Kind = "session_invocation_error"
	PoolShutdown          Kind = "pool_shutdown"
	NotFound              Kind = "not_found"
	Cancelled             Kind = "cancelled"
)

// retryableByDefault records whether a Kind is retryable absent more
// specific information (SessionInvocationError overrides this per call
// site since its retryability "depends on sub-kind").
var retryableByDefault = map[Kind]bool{
	Throttled:              false,
	CircuitOpen:            true,
	AcquireTimeout:         true,
	UpstreamUnavailable:    true,
	SessionInvocationError: false,
	PoolShutdown:           false,
	NotFound:               false,
	Cancelled:              false,
}

// Error is the wire shape described in spec §6: { kind, message, retryable }.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the default retryability for kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryableByDefault[kind]}
}

// Wrap builds an *Error carrying cause, with the default retryability for kind.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryableByDefault[kind], Cause: cause}
}

// WithRetryable overrides the default retryability, used by dispatch
// when classifying a SessionInvocationError's sub-kind.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	ge, ok := err.(*Error)
	return ok && ge.Kind == kind
}

// As extracts a *Error from err, if any.
func As(err error) (*Error, bool) {
	ge, ok := err.(*Error)
	return ge, ok
}
