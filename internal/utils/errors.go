package utils

import (
	"errors"
	"fmt"
)

// Error kinds. Bad-input kinds are never worth retrying; backend kinds may be.
var (
	ErrInvalidField    = errors.New("invalid field")
	ErrInvalidQuery    = errors.New("invalid query")
	ErrStoreExecution  = errors.New("store execution failed")
	ErrMalformedResult = errors.New("malformed result")
)

// AppError wraps an operation, error kind, human-facing message, and underlying error.
type AppError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	prefix := e.Op
	if e.Kind != nil {
		prefix = fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", prefix, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewAppError constructs an AppError without a kind.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// InvalidField reports a sanitizer rejection.
func InvalidField(op, field string) error {
	return &AppError{Op: op, Kind: ErrInvalidField, Msg: fmt.Sprintf("field %q is not allowed", field)}
}

// InvalidQuery reports a descriptor that failed validation.
func InvalidQuery(op, msg string) error {
	return &AppError{Op: op, Kind: ErrInvalidQuery, Msg: msg}
}

// StoreExecution wraps a failure returned by the store.
func StoreExecution(op string, err error) error {
	return &AppError{Op: op, Kind: ErrStoreExecution, Msg: "store call failed", Err: err}
}

// MalformedResult reports rows that cannot be mapped into a typed result.
func MalformedResult(op, msg string) error {
	return &AppError{Op: op, Kind: ErrMalformedResult, Msg: msg}
}

// IsBadInput reports whether err was caused by caller input.
func IsBadInput(err error) bool {
	return errors.Is(err, ErrInvalidField) || errors.Is(err, ErrInvalidQuery)
}

// IsBackendFailure reports whether err came from the store or its results.
func IsBackendFailure(err error) bool {
	return errors.Is(err, ErrStoreExecution) || errors.Is(err, ErrMalformedResult)
}
