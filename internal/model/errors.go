package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors used across all layers.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrValidation        = errors.New("validation error")
	ErrTransient         = errors.New("transient network error")
	ErrConflict          = errors.New("conflict")
	ErrStorage           = errors.New("storage error")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// FieldError describes a validation error for a specific field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError is caller-correctable. Operations that fail validation are
// rejected synchronously and never queued.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation: %s: %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return fmt.Sprintf("validation: %d errors (%s)", len(e.Errors), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: message}}}
}

// NewValidationErrors creates a ValidationError from multiple field errors.
func NewValidationErrors(errs []FieldError) *ValidationError {
	return &ValidationError{Errors: errs}
}

// TransientError is a network or server failure worth retrying with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// ConflictError is a non-retriable remote rejection routed to the conflict
// resolver.
type ConflictError struct {
	Reason FailureReason
	Detail string
	Err    error
}

func (e *ConflictError) Error() string {
	msg := "conflict"
	if e.Reason != "" {
		msg += ": " + string(e.Reason)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConflict}
	}
	return []error{ErrConflict, e.Err}
}

// NewConflictError creates a ConflictError.
func NewConflictError(reason FailureReason, detail string) *ConflictError {
	return &ConflictError{Reason: reason, Detail: detail}
}

// StorageError means the durable ledger could not be read or written. It is
// fatal to the operation: a mutation must never be lost silently.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsConflict reports whether err should be routed to the conflict resolver.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsValidation reports whether err is caller-correctable.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// ConflictReason extracts the failure reason carried by a ConflictError.
func ConflictReason(err error) FailureReason {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}

// ErrorCode maps err to a stable short code for machine-readable output.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTransient):
		return "unavailable"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "error"
	}
}
