// Package apperr is the error taxonomy returned by every ledger operation.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnauthorized      Kind = "unauthorized"
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindConflict          Kind = "conflict"
	KindValidation        Kind = "validation_error"
	KindFatal             Kind = "fatal"
	KindInternal          Kind = "internal_error"
)

// Error carries a stable Code and a Message safe to show to the caller.
// Err holds the underlying cause and is never rendered to non-admins.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, apperr.Conflict)
// style checks work against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	Unauthorized      = &Error{Kind: KindUnauthorized}
	NotFound          = &Error{Kind: KindNotFound}
	InvalidTransition = &Error{Kind: KindInvalidTransition}
	Conflict          = &Error{Kind: KindConflict}
	Validation        = &Error{Kind: KindValidation}
	Fatal             = &Error{Kind: KindFatal}
	Internal          = &Error{Kind: KindInternal}
)

func newErr(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Unauthorizedf(format string, args ...any) *Error {
	return newErr(KindUnauthorized, "unauthorized", format, args...)
}

func NotFoundf(format string, args ...any) *Error {
	return newErr(KindNotFound, "not_found", format, args...)
}

func InvalidTransitionf(format string, args ...any) *Error {
	return newErr(KindInvalidTransition, "invalid_transition", format, args...)
}

func Conflictf(format string, args ...any) *Error {
	return newErr(KindConflict, "conflict", format, args...)
}

func Validationf(format string, args ...any) *Error {
	return newErr(KindValidation, "validation_error", format, args...)
}

// NewFatal marks money collected without access granted.
func NewFatal(cause error, format string, args ...any) *Error {
	e := newErr(KindFatal, "reconciliation_required", format, args...)
	e.Err = cause
	return e
}

// Wrap turns an unexpected fault into an Internal error unless it already
// belongs to the taxonomy.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindInternal, Code: "internal_error", Message: message, Err: err}
}

// KindOf returns the taxonomy kind of err, Internal for foreign errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// From extracts the *Error from err, converting foreign errors to Internal.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindInternal, Code: "internal_error", Message: "internal error", Err: err}
}
