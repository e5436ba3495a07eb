package model

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeValidation marks a malformed request, rejected before any record
	// is created.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeNotFound marks an unknown operation or channel id.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeConflict marks an attempted transition out of a terminal state,
	// or a write that lost a race with a concurrent writer.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeExecution marks a channel executor failure. These are recorded on
	// the channel, never returned past the coordinator.
	CodeExecution ErrorCode = "EXECUTION_FAILURE"

	// CodeStore marks an unavailable persistence layer. Retryable.
	CodeStore ErrorCode = "STORE"
)

// Sentinels for errors.Is. Any *Error with the same Code matches.
var (
	ErrValidation = &Error{Code: CodeValidation}
	ErrNotFound   = &Error{Code: CodeNotFound}
	ErrConflict   = &Error{Code: CodeConflict}
	ErrExecution  = &Error{Code: CodeExecution}
	ErrStore      = &Error{Code: CodeStore}
)

// Error is a coded engine error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Validationf builds a VALIDATION error.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a NOT_FOUND error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a CONFLICT error.
func Conflictf(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// StoreError wraps a persistence failure as a STORE error.
func StoreError(message string, err error) *Error {
	return &Error{Code: CodeStore, Message: message, Err: err}
}
