// Package apperror provides the classified error type shared by the forma
// engines. Every failure the core surfaces carries a Kind so the transport
// layer can map it to a status code and the caller can show a specific
// remediation message.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling purposes.
type Kind int

const (
	// KindValidation covers bad input shape, type mismatches and
	// out-of-range values.
	KindValidation Kind = iota
	// KindNotFound covers missing models, objects, runs, workflows and states.
	KindNotFound
	// KindUnauthorized means the request carries no usable identity.
	KindUnauthorized
	// KindForbidden means the identity lacks ownership or permission.
	KindForbidden
	// KindIllegalTransition means a workflow rule was violated.
	KindIllegalTransition
	// KindConflict means a uniqueness constraint would be violated.
	KindConflict
	// KindAlreadyTerminal means the wizard run is completed or abandoned.
	KindAlreadyTerminal
	// KindInvalidStepOrder means a step was submitted out of sequence.
	KindInvalidStepOrder
	// KindStoreFailure wraps an underlying transaction/connection error.
	KindStoreFailure
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindIllegalTransition:
		return "illegal_transition"
	case KindConflict:
		return "conflict"
	case KindAlreadyTerminal:
		return "already_terminal"
	case KindInvalidStepOrder:
		return "invalid_step_order"
	case KindStoreFailure:
		return "store_failure"
	default:
		return "unknown"
	}
}

// Error is a classified error with optional context about the offending
// object, property and workflow states.
type Error struct {
	Kind     Kind
	Message  string
	ObjectID string
	Property string
	// FromState and ToState are set for illegal transition errors.
	FromState string
	ToState   string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error without losing it.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, or KindStoreFailure when err carries no
// classification (unclassified errors come from the store boundary).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStoreFailure
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// NotFound builds a KindNotFound error for a named entity.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", entity, id), ObjectID: id}
}

// Forbidden builds a KindForbidden error.
func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

// Validation builds a KindValidation error.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// IllegalTransition builds a KindIllegalTransition error carrying both states.
func IllegalTransition(objectID, from, to string) *Error {
	fromLabel := from
	if fromLabel == "" {
		fromLabel = "<none>"
	}
	return &Error{
		Kind:      KindIllegalTransition,
		Message:   fmt.Sprintf("transition %s -> %s is not allowed", fromLabel, to),
		ObjectID:  objectID,
		FromState: from,
		ToState:   to,
	}
}

// StoreFailure wraps a store-level error.
func StoreFailure(err error) *Error {
	return &Error{Kind: KindStoreFailure, Message: "store operation failed", Err: err}
}
