package sender

import (
	"errors"
	"fmt"
)

// Argument errors returned by Dispatch.
var (
	ErrNilExchange       = errors.New("exchange must not be nil")
	ErrNilRequestContext = errors.New("request context must not be nil")
)

// Kind classifies dispatch failures.
type Kind int

// Failure kinds.
const (
	KindTransport Kind = iota + 1
	KindInvalidRedirectLocation
	KindValidation
)

// String returns the kind name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindInvalidRedirectLocation:
		return "invalid redirect location"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is returned by Dispatch for failures of the send itself. Errors of
// the user or validator collaborators are returned wrapped but untyped.
type Error struct {
	Kind   Kind
	Method string
	URI    string
	Err    error
}

// Error includes the kind and the underlying failure.
func (e *Error) Error() string {
	if e.URI == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error for %s %s: %v", e.Kind, e.Method, e.URI, e.Err)
}

// Unwrap returns the underlying failure.
func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
