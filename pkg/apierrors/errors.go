package apierrors

import (
	"errors"
	"fmt"
)

// Kind is one of the stable error kinds from spec §7.
type Kind string

const (
	KindNotFound        Kind = "NotFound"
	KindConflict        Kind = "Conflict"
	KindVersionMismatch Kind = "VersionMismatch"
	KindExpired         Kind = "Expired"
	KindTooLarge        Kind = "TooLarge"
	KindIntegrityError  Kind = "IntegrityError"
	KindUnschedulable   Kind = "Unschedulable"
	KindOverloaded      Kind = "Overloaded"
	KindInternal        Kind = "Internal"
)

// Error is the concrete error type returned by every store, placement, and
// reconciler verb. It carries a stable Kind plus an optional human-readable
// reason and wrapped cause.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, apierrors.New(KindNotFound, "")) to match any
// Error with the same Kind, regardless of Reason/Cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs an *Error of the given kind.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap constructs an *Error of the given kind around a cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// KindOf extracts the Kind of err, or "" if err is not (or does not wrap) an
// *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func NotFound(reason string) error        { return New(KindNotFound, reason) }
func Conflict(reason string) error        { return New(KindConflict, reason) }
func VersionMismatch(reason string) error { return New(KindVersionMismatch, reason) }
func Expired(reason string) error         { return New(KindExpired, reason) }
func TooLarge(reason string) error        { return New(KindTooLarge, reason) }
func IntegrityError(reason string) error  { return New(KindIntegrityError, reason) }
func Unschedulable(reason string) error   { return New(KindUnschedulable, reason) }
func Overloaded(reason string) error      { return New(KindOverloaded, reason) }
func Internal(reason string) error        { return New(KindInternal, reason) }
func Internalf(format string, args ...any) error {
	return New(KindInternal, fmt.Sprintf(format, args...))
}
