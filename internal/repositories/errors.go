package repositories

import (
	"errors"
	"fmt"
)

// ErrorKind categorises store failures.
type ErrorKind string

const (
	// ErrorKindNotFound indicates the record does not exist.
	ErrorKindNotFound ErrorKind = "not_found"
	// ErrorKindConflict indicates a conditional write lost against a concurrent change.
	ErrorKindConflict ErrorKind = "conflict"
	// ErrorKindUnavailable indicates a transient backend outage.
	ErrorKindUnavailable ErrorKind = "unavailable"
	// ErrorKindUnknown represents any other failure.
	ErrorKindUnknown ErrorKind = "unknown"
)

// StoreError implements RepositoryError for the memory and Postgres backends.
type StoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

var _ RepositoryError = (*StoreError)(nil)

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the record was missing.
func (e *StoreError) IsNotFound() bool { return e != nil && e.Kind == ErrorKindNotFound }

// IsConflict reports whether a conditional write failed.
func (e *StoreError) IsConflict() bool { return e != nil && e.Kind == ErrorKindConflict }

// IsUnavailable reports whether the backend was unreachable.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == ErrorKindUnavailable }

// NewNotFoundError constructs a not-found store error.
func NewNotFoundError(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: ErrorKindNotFound, Err: err}
}

// NewConflictError constructs a conflict store error.
func NewConflictError(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: ErrorKindConflict, Err: err}
}

// NewUnavailableError constructs an unavailable store error.
func NewUnavailableError(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: ErrorKindUnavailable, Err: err}
}

// IsNotFound reports whether err carries repository not-found semantics.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries repository conflict semantics.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err carries repository unavailability semantics.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
