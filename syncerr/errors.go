// Package syncerr defines the stable error taxonomy shared by every layer of
// SyncStore. Failures with a stable classification carry a *Error, possibly
// wrapped by fmt.Errorf at layer boundaries, so callers can match on Kind
// with errors.Is/Of regardless of how deep the failure originated; other
// failures (e.g. config loading, raw driver errors) are plain errors.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind is a stable, wire-safe error classification. Values are never
// renumbered; new kinds are only appended.
type Kind string

const (
	UnknownNamespace   Kind = "UnknownNamespace"
	UnknownCollection  Kind = "UnknownCollection"
	SchemaConflict     Kind = "SchemaConflict"
	InvalidSchema      Kind = "InvalidSchema"
	ValidationFailed   Kind = "ValidationError"
	DanglingReference  Kind = "DanglingReference"
	UniqueViolation    Kind = "UniqueViolation"
	ParentCycle        Kind = "ParentCycle"
	ImmutableField     Kind = "ImmutableField"
	NotFound           Kind = "NotFound"
	PermissionDenied   Kind = "PermissionDenied"
	PolicyDepthExceeded Kind = "PolicyDepthExceeded"
	StorageUnavailable Kind = "StorageUnavailable"
	Internal           Kind = "Internal"
)

// Error is the concrete error type returned across package boundaries. It
// wraps an optional underlying cause and carries enough structure for
// ValidationError to report the failing JSON pointer.
type Error struct {
	Kind    Kind
	Message string
	Pointer string // JSON pointer, set for ValidationFailed and ImmutableField
	Reason  string // human reason, only meaningful for ValidationFailed
	Cause   error
}

func (e *Error) Error() string {
	if e.Pointer != "" {
		return fmt.Sprintf("%s: %s (at %s: %s)", e.Kind, e.Message, e.Pointer, e.Reason)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, New(KindX, "")) match any *Error with the same Kind,
// independent of message/cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs a bare *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation constructs a ValidationFailed error carrying a JSON pointer and
// a human-readable reason, per spec's ValidationError("carries JSON pointer
// and reason") requirement.
func Validation(pointer, reason string) *Error {
	return &Error{Kind: ValidationFailed, Message: "document failed schema validation", Pointer: pointer, Reason: reason}
}

// Of reports whether err (or anything it wraps) is a *Error of kind k.
func Of(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
