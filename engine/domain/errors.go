package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrUnavailable marks failures of the connection itself (dial refused,
	// timeouts, rejected credentials) as opposed to failures of one call.
	ErrUnavailable       = errors.New("service unavailable")
	ErrEmptyQuery        = errors.New("empty query")
	ErrQueryTooLong      = errors.New("query too long")
	ErrInvalidLimit      = errors.New("invalid limit")
	ErrInvalidMovie      = errors.New("invalid movie")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// ConfigError lists every missing or invalid configuration value.
type ConfigError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, ", "))
	}
	return "config: " + strings.Join(parts, "; ")
}

// ValidationError wraps a sentinel with context.
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

// EmbeddingError reports that the model failed to encode a text.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding: model %s: %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// SchemaError reports a collection whose existing schema is incompatible with
// the declared one. It is never resolved automatically.
type SchemaError struct {
	Collection string
	Mismatches []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: collection %s is incompatible: %s", e.Collection, strings.Join(e.Mismatches, "; "))
}

// WriteError reports a failed upsert.
type WriteError struct {
	IDs []string
	Err error
}

func (e *WriteError) Error() string {
	if len(e.IDs) == 1 {
		return fmt.Sprintf("write: movie %s: %v", e.IDs[0], e.Err)
	}
	return fmt.Sprintf("write: %d movies: %v", len(e.IDs), e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// QueryError reports a failed search. Every error reported by the server is
// kept as its own entry in Errors.
type QueryError struct {
	Collection string
	Errors     []error
}

func (e *QueryError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("query: collection %s: %s", e.Collection, strings.Join(msgs, "; "))
}

func (e *QueryError) Unwrap() []error { return e.Errors }

// Messages returns the individual server-reported messages.
func (e *QueryError) Messages() []string {
	out := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err.Error()
	}
	return out
}

// IsUnavailable reports whether err stems from a connectivity failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
