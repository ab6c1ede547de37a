// Package errkind defines the closed set of error kinds used across the
// engine. Backend adapters classify vendor errors into these kinds; nothing
// above the adapter layer inspects a vendor error type.
package errkind

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad caller input (empty query, bad depth).
	ErrValidation = errors.New("validation error")
	// ErrBackendUnavailable marks a backend that refused or dropped the connection.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrTimeout marks a call that exceeded its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrQuery marks a malformed or rejected backend query.
	ErrQuery = errors.New("query error")
	// ErrCircuitOpen marks a call short-circuited by an open breaker.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrParse marks an unparseable backend or model payload.
	ErrParse = errors.New("parse error")
	// ErrUpstream marks a backend-side failure (5xx, model runtime error).
	ErrUpstream = errors.New("upstream error")
	// ErrOverload marks admission refusal under backpressure.
	ErrOverload = errors.New("overload")
	// ErrCancelled marks caller-initiated cancellation.
	ErrCancelled = errors.New("cancelled")
)

// Wrap annotates err with an error kind so callers can match with errors.Is.
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// FromContext maps a context error onto the kind set.
func FromContext(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	default:
		return err
	}
}

// Retryable reports whether an error kind is safe to retry. Only timeouts and
// transient backend unavailability qualify; query errors, open circuits, and
// validation failures never do.
func Retryable(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrBackendUnavailable) {
		return true
	}
	return false
}
