package engine

import (
	"errors"

	"github.com/roach88/opsd/internal/model"
)

var (
	// ErrStopped is returned by operations on an engine after Stop.
	ErrStopped = errors.New("engine stopped")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("engine already started")

	// ErrNotStarted is returned by Shutdown on an engine that never started.
	ErrNotStarted = errors.New("engine not started")
)

// IsRetryable reports whether err is an infrastructure failure the caller
// may retry. Only STORE errors qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, model.ErrStore)
}

// validationError wraps an executor's rejection of a target so it carries
// the VALIDATION code.
func validationError(message string, err error) error {
	var me *model.Error
	if errors.As(err, &me) && me.Code == model.CodeValidation {
		return &model.Error{Code: model.CodeValidation, Message: message + ": " + me.Message, Err: me.Err}
	}
	return &model.Error{Code: model.CodeValidation, Message: message, Err: err}
}
