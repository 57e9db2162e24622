package domain

import (
	"errors"
	"fmt"
)

// Kind classifies recoverable caller-facing failures. Anything without a
// Kind is treated as an infrastructure fault.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindNotFound      Kind = "NOT_FOUND"
	KindAuthorization Kind = "AUTHORIZATION"
	KindInvalidState  Kind = "INVALID_STATE"
	KindConflict      Kind = "CONFLICT"
	KindSelfBorrow    Kind = "SELF_BORROW"
	KindEmptyResult   Kind = "EMPTY_RESULT"
)

// Error carries a Kind plus a message suitable for end users.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is lets errors.Is match two domain errors by Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *Error {
	return newf(KindValidation, format, args...)
}

func NotFoundf(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

func Authorizationf(format string, args ...any) *Error {
	return newf(KindAuthorization, format, args...)
}

func InvalidStatef(format string, args ...any) *Error {
	return newf(KindInvalidState, format, args...)
}

func Conflictf(format string, args ...any) *Error {
	return newf(KindConflict, format, args...)
}

func SelfBorrowf(format string, args ...any) *Error {
	return newf(KindSelfBorrow, format, args...)
}

func EmptyResultf(format string, args ...any) *Error {
	return newf(KindEmptyResult, format, args...)
}

// KindOf extracts the Kind from err, or "" when err is not a domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
