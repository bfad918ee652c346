package repositories

import (
	"errors"
	"fmt"
)

// StoreError is the RepositoryError used by the in-process and Redis backends.
type StoreError struct {
	Op          string
	Err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) IsNotFound() bool    { return e != nil && e.notFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.conflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.unavailable }

// NewNotFoundError reports a missing record.
func NewNotFoundError(op, id string) *StoreError {
	return &StoreError{Op: op, Err: fmt.Errorf("%s not found", id), notFound: true}
}

// NewConflictError reports a write that lost a race or duplicated an existing record.
func NewConflictError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err, conflict: true}
}

// NewUnavailableError reports a backend that could not be reached.
func NewUnavailableError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err, unavailable: true}
}

// IsNotFound reports whether err carries RepositoryError not-found semantics.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries RepositoryError conflict semantics.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
