// Package apperr defines the categorized errors shared by the messaging
// components. Callers branch on the kind, not the message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for retry and surfacing decisions.
type Kind string

const (
	// Validation is a caller mistake; retrying the same input cannot succeed.
	Validation Kind = "validation"
	// Transient is a storage or network failure; replaying the identical
	// input is allowed.
	Transient Kind = "transient"
	// Timeout is a bounded request that ran out of time; retryable.
	Timeout Kind = "timeout"
	// Conflict is a status transition rejected by the forward-only rule. It
	// marks a benign race and is absorbed, never shown to users.
	Conflict Kind = "conflict"
	// NotFound is a missing conversation or message.
	NotFound Kind = "not_found"
)

// Error is a categorized application error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause.
func Wrap(cause error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the kind from err, defaulting to Transient for uncategorized
// failures so callers err on the side of allowing a retry.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Transient
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// Retryable reports whether replaying the identical input may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Transient, Timeout:
		return true
	default:
		return false
	}
}
