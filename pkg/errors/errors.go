// Package errors provides the structured error taxonomy for card fabrication.
//
// Every failure that crosses a package boundary carries a Code so that the
// service boundary can tell a fixable input problem (bad dimensions, a payload
// that does not fit, an empty pattern) apart from a broken deployment (the
// geometry tool is missing or misbehaving).
//
// # Usage
//
//	err := errors.New(errors.ErrCodeConfiguration, "depth must be positive, got %g", d)
//	if errors.Is(err, errors.ErrCodeConfiguration) {
//	    // reject the request
//	}
//
//	err = errors.Wrap(errors.ErrCodeKernelFailure, runErr, "openscad exited with status 1")
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes.
const (
	// Caller input problems.
	ErrCodeConfiguration   Code = "CONFIGURATION_ERROR"
	ErrCodeEmptyPattern    Code = "EMPTY_PATTERN"
	ErrCodeEncodingFailure Code = "ENCODING_FAILURE"
	ErrCodeInvalidInput    Code = "INVALID_INPUT"

	// Environment / backend problems.
	ErrCodeMissingDependency Code = "MISSING_DEPENDENCY"
	ErrCodeKernelFailure     Code = "KERNEL_FAILURE"
	ErrCodeTimeout           Code = "TIMEOUT"
	ErrCodeInternal          Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Detail  string // Diagnostic text from an external tool (optional)
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s\n%s", msg, e.Detail)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// WithDetail attaches diagnostic text (for example a tool's stderr) and
// returns the receiver.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns ErrCodeInternal if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsInputError reports whether err is a problem the caller can fix by
// changing the request, as opposed to an environment or backend failure.
func IsInputError(err error) bool {
	switch GetCode(err) {
	case ErrCodeConfiguration, ErrCodeEmptyPattern, ErrCodeEncodingFailure, ErrCodeInvalidInput:
		return true
	}
	return false
}
