// Package errors provides typed errors for pgqual operations.
//
// This package defines sentinel errors and error types that allow callers
// to handle specific error conditions programmatically using errors.Is()
// and errors.As().
//
// Sentinel Errors:
//   - ErrNoData: the figures query matched nothing in the requested range
//   - ErrNoCost: a plan text carried no recognizable total-cost token
//   - ErrInvalidConfig: configuration validation failed
//
// Typed Errors:
//   - ValidationError: a data-shape invariant was violated (for example,
//     qual parts of one conjunction referencing different relations)
//   - LookupError: the catalog resolver returned no entry for a referenced
//     identifier, which indicates corrupt or inconsistent statistics
//   - QueryError: wraps database query errors
//
// Validation and lookup failures are fatal to an analysis pass: they point
// at bugs or data corruption upstream and are never silently corrected.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrNoData indicates no statistics overlapped the requested window.
	ErrNoData = errors.New("no data available")

	// ErrNoCost indicates a plan text did not contain a cost token.
	ErrNoCost = errors.New("no cost found in plan")

	// ErrInvalidConfig indicates configuration validation failed.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ValidationError reports a violated data-shape invariant.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   string // Value that was invalid
	Message string // Human-readable validation message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

// Is reports whether target matches this error type.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// LookupError reports a catalog identifier the resolver could not resolve.
// Every identifier referenced by the statistics tables is expected to exist
// in the catalogs, so a miss is a data-integrity failure, not a soft miss.
type LookupError struct {
	Kind string // "operator" or "attribute"
	Key  string // stringified identifier that was looked up
}

// NewLookupError creates a new LookupError.
func NewLookupError(kind, key string) *LookupError {
	return &LookupError{Kind: kind, Key: key}
}

// Error implements the error interface.
func (e *LookupError) Error() string {
	return fmt.Sprintf("no %s resolved for %q", e.Kind, e.Key)
}

// Is reports whether target matches this error type.
func (e *LookupError) Is(target error) bool {
	_, ok := target.(*LookupError)
	return ok
}

// QueryError represents a database query error.
type QueryError struct {
	Query string // SQL query (may be truncated for long queries)
	Err   error  // Underlying database error
}

// queryMaxLen is the maximum length of a query string in error messages.
const queryMaxLen = 100

// NewQueryError creates a new QueryError.
// Long queries are automatically truncated.
func NewQueryError(query string, err error) *QueryError {
	if len(query) > queryMaxLen {
		query = query[:queryMaxLen] + "..."
	}
	return &QueryError{Query: query, Err: err}
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed [%s]: %v", e.Query, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error type.
func (e *QueryError) Is(target error) bool {
	_, ok := target.(*QueryError)
	return ok
}
