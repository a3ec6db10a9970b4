package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors raised by pipeline components.
var (
	// ErrDimensionMismatch signals a corrupted embedding backend: a vector
	// whose length differs from the embedder's fixed dimension. Fatal for
	// the batch that produced it.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyQuestion rejects blank questions at the ask entry point.
	ErrEmptyQuestion = errors.New("empty question")

	// ErrIndexUnavailable wraps vector index write failures.
	ErrIndexUnavailable = errors.New("vector index unavailable")
)

// ValidationError wraps a sentinel with field context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
