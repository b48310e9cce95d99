// Package apperr classifies failures so the HTTP layer and the scheduler can
// react to them without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of a failure.
type Kind string

const (
	Internal           Kind = "internal"
	Validation         Kind = "validation"
	QuotaExceeded      Kind = "quota_exceeded"
	SessionNotReady    Kind = "session_not_ready"
	Conflict           Kind = "conflict"
	TransportTransient Kind = "transport_transient"
	TransportFatal     Kind = "transport_fatal"
	Persistence        Kind = "persistence"
)

// Error is a classified error. Msg is safe to show to API callers; Err holds
// the underlying cause and is only logged.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error

	// Remaining is set on QuotaExceeded errors.
	Remaining int
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Op != "":
		return e.Op + ": " + e.Msg
	case e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error without a cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds an Error around cause.
func Wrap(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

// Validationf is a shorthand for validation failures.
func Validationf(op, format string, args ...any) *Error {
	return New(Validation, op, fmt.Sprintf(format, args...))
}

// Quota builds a QuotaExceeded error carrying the remaining allowance.
func Quota(op string, remaining int) *Error {
	if remaining < 0 {
		remaining = 0
	}
	return &Error{
		Kind:      QuotaExceeded,
		Op:        op,
		Msg:       fmt.Sprintf("daily limit exceeded: %d messages left today", remaining),
		Remaining: remaining,
	}
}

// KindOf returns the Kind of err, or Internal when err is not classified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps err to a response status: caller mistakes and state
// violations are 400, everything else is 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation, QuotaExceeded, SessionNotReady, Conflict:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message that may be shown to API callers.
// Unclassified errors get a generic message.
func PublicMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != Internal {
		return ae.Msg
	}
	return "internal server error"
}
