package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/docmerge/internal/fault"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // merge, validation or scenario failure
	ExitCommandError = 2 // bad flags or paths, unreachable store, bad configuration
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError wrapping err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code carried by err, or ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter renders command results as JSON envelopes or text.
// Diagnostics go to ErrWriter when set so JSON on Writer stays parseable.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string      `json:"status"` // ok or error
	Data   interface{} `json:"data,omitempty"`
	Error  *CLIError   `json:"error,omitempty"`
}

// CLIError is the error member of the envelope. Code is a fault code such
// as DOCMERGE_VALIDATION.
type CLIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (f *OutputFormatter) json() bool { return f.Format == "json" }

func (f *OutputFormatter) emit(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}

// Success writes data. Text output prints it with its default format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.json() {
		return f.emit(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes an error envelope. Text output shows details only when
// verbose.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.json() {
		return f.emit(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	if _, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message); err != nil {
		return err
	}
	if f.Verbose && details != nil {
		_, err := fmt.Fprintf(f.Writer, "Details: %v\n", details)
		return err
	}
	return nil
}

// VerboseLog prints a diagnostic line in verbose mode.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// FaultDetails is the detail payload of a rendered fault.
type FaultDetails struct {
	Kind       fault.Kind `json:"kind"`
	Op         string     `json:"op,omitempty"`
	Collection string     `json:"collection,omitempty"`
	Cause      string     `json:"cause,omitempty"`
}

// Fail normalizes err, renders it and returns an ExitError carrying code.
// Errors that already carry an exit code keep it.
func (f *OutputFormatter) Fail(code int, message string, err error) error {
	fe := fault.Normalize(err)
	details := FaultDetails{Kind: fe.Kind, Op: fe.Op, Collection: fe.Collection}
	if fe.Err != nil {
		details.Cause = fe.Err.Error()
	}
	text := fe.Message
	if message != "" {
		text = message + ": " + fe.Message
	}
	if outErr := f.Error(fe.Code, text, details); outErr != nil {
		return outErr
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return WrapExitError(code, message, err)
}
