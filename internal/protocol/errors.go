package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the bridge core. Every public
// operation either succeeds or returns an *Error carrying one of these.
type Kind int

const (
	KindUnknown Kind = iota
	KindDiscoveryTimeout
	KindNoServerFound
	KindEndpointUnverified
	KindConnectionNotStarted
	KindSpawnFailure
	KindInstallFailure
	KindFraming
	KindRequestTimeout
	KindBackendReported
)

// String returns a stable machine-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindDiscoveryTimeout:
		return "discovery_timeout"
	case KindNoServerFound:
		return "no_server_found"
	case KindEndpointUnverified:
		return "endpoint_unverified"
	case KindConnectionNotStarted:
		return "connection_not_started"
	case KindSpawnFailure:
		return "subprocess_spawn_failure"
	case KindInstallFailure:
		return "subprocess_install_failure"
	case KindFraming:
		return "protocol_framing_error"
	case KindRequestTimeout:
		return "request_timeout"
	case KindBackendReported:
		return "backend_reported_error"
	default:
		return "unknown"
	}
}

// Error is the structured failure type returned by the core. Backend-reported
// errors keep the remote code and message verbatim; nothing is reinterpreted.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "callTool"
	Backend string // backend address or name, when known
	Code    int    // JSON-RPC error code for backend-reported errors
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Backend != "" {
		return fmt.Sprintf("%s: %s [%s]: %s", e.Op, e.Kind, e.Backend, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error for the given kind and operation.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error with a formatted message and no wrapped cause.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
