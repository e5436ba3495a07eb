package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/roach88/opsd/internal/model"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed, scenarios failed, store unavailable
	ExitCommandError = 2 // Bad input: invalid request, unknown id, bad config file
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// exitCodeFor maps an engine error to an exit code. Caller mistakes exit
// with ExitCommandError; everything else is a failure.
func exitCodeFor(err error) int {
	switch model.CodeOf(err) {
	case model.CodeValidation, model.CodeNotFound, model.CodeConflict:
		return ExitCommandError
	}
	return ExitFailure
}

// wrapEngineError wraps an engine error with the exit code its code maps to.
func wrapEngineError(message string, err error) *ExitError {
	return WrapExitError(exitCodeFor(err), message, err)
}

// errorCode returns the code reported in JSON error responses.
func errorCode(err error) string {
	if code := model.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // engine error code, e.g. "VALIDATION"
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Operation writes an operation and its channels.
func (f *OutputFormatter) Operation(view *model.OperationView) error {
	if f.Format == "json" {
		return f.Success(view)
	}
	writeOperation(f.Writer, view)
	return nil
}

// statusText colors a status for terminal output. fatih/color disables
// itself when stdout is not a terminal.
func statusText(s model.Status) string {
	switch s {
	case model.StatusDone:
		return color.New(color.FgGreen).Sprint(s)
	case model.StatusFailed:
		return color.New(color.FgRed).Sprint(s)
	case model.StatusRunning:
		return color.New(color.FgCyan).Sprint(s)
	}
	return color.New(color.FgYellow).Sprint(s)
}

func writeOperation(w io.Writer, view *model.OperationView) {
	mode := "sync"
	if view.IsAsync {
		mode = "async"
	}
	fmt.Fprintf(w, "Operation %s\n", view.ID)
	fmt.Fprintf(w, "  type:    %s (%s)\n", view.Type, mode)
	fmt.Fprintf(w, "  status:  %s\n", statusText(view.Status))
	if view.ErrorMessage != "" {
		fmt.Fprintf(w, "  error:   %s\n", view.ErrorMessage)
	}
	if len(view.Metadata) > 0 {
		fmt.Fprintf(w, "  meta:    %s\n", view.Metadata)
	}
	fmt.Fprintf(w, "  created: %s\n", view.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "  updated: %s\n", view.UpdatedAt.UTC().Format(time.RFC3339))

	fmt.Fprintf(w, "  channels (%d):\n", len(view.Channels))
	for _, ch := range view.Channels {
		line := fmt.Sprintf("    - %-9s %s  attempts=%d", ch.Kind, statusText(ch.Status), ch.Attempts)
		if ch.Status == model.StatusPending && ch.Attempts > 0 {
			line += "  next=" + ch.NextAttemptAt.UTC().Format(time.RFC3339)
		}
		if ch.ErrorMessage != "" {
			line += "  error=" + strings.TrimSpace(ch.ErrorMessage)
		}
		fmt.Fprintln(w, line)
	}
}
