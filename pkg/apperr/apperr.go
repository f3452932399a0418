// Package apperr defines the service error taxonomy.
//
// Every error that crosses a service boundary is (or wraps) an *Error with a
// Kind. The API layer maps a Kind to exactly one HTTP status and one stable
// problem type URI, so callers can switch on the "type" field of the
// problem-details body.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into the fixed taxonomy.
type Kind string

const (
	InvalidInput           Kind = "invalid-input"
	EntityNotFound         Kind = "entity-not-found"
	InvalidStateTransition Kind = "invalid-state-transition"
	DuplicateRequest       Kind = "duplicate-request"
	StaleLock              Kind = "stale-lock"
	RateLimitExceeded      Kind = "rate-limit-exceeded"
	BulkheadFull           Kind = "bulkhead-full"
	CircuitBreakerOpen     Kind = "circuit-breaker-open"
	ServiceUnavailable     Kind = "service-unavailable"
	RequestTimeout         Kind = "request-timeout"
	Internal               Kind = "internal"
)

const typeURIBase = "https://errors.food-order.dev/"

// Error is a classified error.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf creates a classified error with a formatted detail.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf extracts the Kind from err, or Internal if err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a Kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidInput, InvalidStateTransition:
		return http.StatusBadRequest
	case EntityNotFound:
		return http.StatusNotFound
	case DuplicateRequest, StaleLock:
		return http.StatusConflict
	case RateLimitExceeded:
		return http.StatusTooManyRequests
	case BulkheadFull, CircuitBreakerOpen, ServiceUnavailable:
		return http.StatusServiceUnavailable
	case RequestTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// TypeURI returns the stable problem type URI for a Kind.
func TypeURI(kind Kind) string {
	return typeURIBase + string(kind)
}
