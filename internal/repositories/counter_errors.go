package repositories

import "fmt"

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	// CounterErrorUnknown represents an unspecified failure.
	CounterErrorUnknown CounterErrorCode = "counter_unknown"
	// CounterErrorInvalidInput indicates the caller supplied an invalid counter id.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorCorrupt indicates the stored counter could not be decoded.
	CounterErrorCorrupt CounterErrorCode = "counter_corrupt"
)

// CounterError wraps counter-specific failures with machine readable codes.
type CounterError struct {
	Op      string
	Code    CounterErrorCode
	Message string
	Err     error
}

func (e *CounterError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *CounterError) Unwrap() error { return e.Err }

// NewCounterError constructs a typed counter error.
func NewCounterError(op string, code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Op: op, Code: code, Message: message, Err: err}
}
