// Package apperr defines structured error types shared by the stores and the
// command surface. Errors carry a machine-readable code, a human-readable
// message safe to show to a user, and optional details.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error code constants — uppercase, underscore-separated, stable across minor versions.
const (
	Validation     = "VALIDATION"
	NotFound       = "NOT_FOUND"
	Conflict       = "CONFLICT"
	IOFailure      = "IO_FAILURE"
	Misconfigured  = "STORAGE_MISCONFIGURED"
	NotImplemented = "NOT_IMPLEMENTED"
)

// Error represents a structured error with a machine-readable code.
type Error struct {
	Code    string
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// New creates an Error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns the error with the given details map attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// HTTPStatus maps the error code to an HTTP response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Misconfigured:
		return http.StatusInternalServerError
	case NotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// StatusFor returns the HTTP status for any error, unwrapping to find a
// structured Error and defaulting to 500 for plain errors.
func StatusFor(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// CodeOf returns the machine code of err, or IOFailure for plain errors.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return IOFailure
}
