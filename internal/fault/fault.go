// Package fault defines the single structured error type used across the
// merge stack, and the boundary adapter that maps every foreign error shape
// into it.
package fault

import (
	"errors"
	"fmt"
)

// Kind categorizes failures.
type Kind string

const (
	// KindValidation indicates a malformed request (e.g. missing sourceKey).
	KindValidation Kind = "VALIDATION"

	// KindNotFound indicates a required document or collection is absent,
	// such as no representative document for an identity projection.
	KindNotFound Kind = "NOT_FOUND"

	// KindOperation indicates an underlying store operation failed.
	KindOperation Kind = "OPERATION"

	// KindUnknown is assigned by Normalize when nothing better is known.
	KindUnknown Kind = "UNKNOWN"
)

// Error is the structured failure carried through the merge stack.
//
// Code and Message are always populated. Op and Collection identify the
// store operation when one is involved.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	Op         string
	Collection string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Op != "" && e.Collection != "" {
		msg = fmt.Sprintf("%s (op=%s, collection=%s)", msg, e.Op, e.Collection)
	} else if e.Op != "" {
		msg = fmt.Sprintf("%s (op=%s)", msg, e.Op)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Default codes per kind.
const (
	CodeValidation = "DOCMERGE_VALIDATION"
	CodeNotFound   = "DOCMERGE_NOT_FOUND"
	CodeOperation  = "DOCMERGE_OPERATION_FAILED"
	CodeUnknown    = "DOCMERGE_UNKNOWN_ERROR"
)

// Validation creates a validation error.
func Validation(format string, args ...any) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    CodeValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// NotFound creates a not-found error for a collection.
func NotFound(collection, message string) *Error {
	return &Error{
		Kind:       KindNotFound,
		Code:       CodeNotFound,
		Message:    message,
		Collection: collection,
	}
}

// Operation wraps a store failure. Returns nil when err is nil so callers
// can write `return fault.Operation("drop", name, err)` unconditionally.
// An err that already is an *Error passes through unchanged.
func Operation(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{
		Kind:       KindOperation,
		Code:       CodeOperation,
		Message:    "store operation failed",
		Op:         op,
		Collection: collection,
		Err:        err,
	}
}

// KindOf returns the kind of err, or KindUnknown.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsOperation reports whether err is a store operation error.
func IsOperation(err error) bool { return KindOf(err) == KindOperation }
