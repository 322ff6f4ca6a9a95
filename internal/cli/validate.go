package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docmerge/internal/fault"
	"github.com/roach88/docmerge/internal/requestfile"
)

// ValidationError describes one invalid request.
type ValidationError struct {
	File    string `json:"file"`
	Request int    `json:"request,omitempty"` // 1-based; 0 for file-level errors
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Requests int               `json:"requests"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <request-file>...",
		Short: "Validate request files without touching a store",
		Long: `Parse request files and check every request: collection names,
sourceKey and lookupKey presence, and output field names.

All files are checked; errors are reported together.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	result := ValidationResult{}
	for _, f := range files {
		reqs, err := requestfile.Load(f)
		if err != nil {
			result.Errors = append(result.Errors, validationError(f, 0, err))
			continue
		}
		formatter.VerboseLog("Validating %d request(s) in %s", len(reqs), f)
		for i, r := range reqs {
			result.Requests++
			if err := r.Validate(); err != nil {
				result.Errors = append(result.Errors, validationError(f, i+1, err))
			}
		}
	}
	result.Valid = len(result.Errors) == 0

	if !result.Valid {
		return outputValidationErrors(opts, formatter, result)
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ All requests valid (%d)\n", result.Requests)
	return nil
}

func validationError(file string, request int, err error) ValidationError {
	fe := fault.Normalize(err)
	var le *requestfile.LoadError
	if errors.As(err, &le) {
		msg := le.Message
		if le.Err != nil {
			msg += ": " + le.Err.Error()
		}
		fe = &fault.Error{Code: fault.CodeValidation, Message: msg}
	}
	return ValidationError{File: file, Request: request, Code: fe.Code, Message: fe.Message}
}

func outputValidationErrors(opts *RootOptions, formatter *OutputFormatter, result ValidationResult) error {
	msg := fmt.Sprintf("%d invalid request(s)", len(result.Errors))
	if opts.Format == "json" {
		if err := formatter.Error(fault.CodeValidation, msg, result.Errors); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	w := formatter.Writer
	for _, e := range result.Errors {
		if e.Request > 0 {
			fmt.Fprintf(w, "✗ %s (request %d): %s\n", e.File, e.Request, e.Message)
		} else {
			fmt.Fprintf(w, "✗ %s: %s\n", e.File, e.Message)
		}
	}
	return NewExitError(ExitFailure, msg)
}
