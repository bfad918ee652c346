package services

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad user input. The caller re-prompts and the state does not advance.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a product or category missing from the catalog.
	ErrNotFound = errors.New("not found")
	// ErrPrecondition marks operations refused because of the current cart or session.
	ErrPrecondition = errors.New("precondition failed")
	// ErrDownstream marks a failed ledger or notification write.
	ErrDownstream = errors.New("downstream failure")
	// ErrIdentifierAuthority marks a failed order number allocation.
	ErrIdentifierAuthority = errors.New("identifier authority unavailable")
)

// ValidationError carries the rejected field and the message key used to re-prompt.
type ValidationError struct {
	Field string
	Key   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrValidation, e.Field, e.Key)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError names the missing catalog resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q %s", e.Resource, e.ID, ErrNotFound)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// PreconditionError explains why an operation was refused, with a message key and parameters for the owner.
type PreconditionError struct {
	Reason string
	Key    string
	Params map[string]string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPrecondition, e.Reason)
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }

// DownstreamError records which sink failed.
type DownstreamError struct {
	Sink string
	Err  error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrDownstream, e.Sink, e.Err)
}

func (e *DownstreamError) Unwrap() error { return e.Err }

func (e *DownstreamError) Is(target error) bool { return target == ErrDownstream }

// IdentifierAuthorityError wraps the counter failure that forced a fallback order id.
type IdentifierAuthorityError struct {
	Err error
}

func (e *IdentifierAuthorityError) Error() string {
	return fmt.Sprintf("%s: %v", ErrIdentifierAuthority, e.Err)
}

func (e *IdentifierAuthorityError) Unwrap() error { return e.Err }

func (e *IdentifierAuthorityError) Is(target error) bool { return target == ErrIdentifierAuthority }

func newValidationError(field, key string) error {
	return &ValidationError{Field: field, Key: key}
}
