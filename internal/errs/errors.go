// Package errs defines the shared error taxonomy for the platform.
// Components return coded errors so HTTP handlers can translate them to
// status codes without inspecting error strings.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for propagation and HTTP translation.
type Code string

const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeAlreadyExists   Code = "ALREADY_EXISTS"
	CodeConflict        Code = "CONFLICT"
	CodeTimeout         Code = "TIMEOUT"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeInternal        Code = "INTERNAL"
)

// Error is a coded error with an optional cause.
type Error struct {
	// Code is the taxonomy code.
	Code Code `json:"code"`
	// Message is the human-readable error message.
	Message string `json:"message"`
	// Cause is the underlying error.
	Cause error `json:"-"`
	// Details contains additional error context.
	Details map[string]interface{} `json:"details,omitempty"`
}

// New creates a new coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a new coded error wrapping a cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches coded errors by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return errors.Is(e.Cause, target)
}

// WithDetail attaches a detail and returns the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NotFound creates a NOT_FOUND error.
func NotFound(what, id string) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s not found: %s", what, id))
}

// InvalidArgument creates an INVALID_ARGUMENT error.
func InvalidArgument(message string) *Error {
	return New(CodeInvalidArgument, message)
}

// AlreadyExists creates an ALREADY_EXISTS error.
func AlreadyExists(what, id string) *Error {
	return New(CodeAlreadyExists, fmt.Sprintf("%s already exists: %s", what, id))
}

// Conflict creates a CONFLICT error.
func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

// Timeout creates a TIMEOUT error.
func Timeout(message string) *Error {
	return New(CodeTimeout, message)
}

// Unavailable creates an UNAVAILABLE error.
func Unavailable(message string, cause error) *Error {
	return Wrap(CodeUnavailable, message, cause)
}

// Internal creates an INTERNAL error.
func Internal(message string, cause error) *Error {
	return Wrap(CodeInternal, message, cause)
}

// CodeOf extracts the taxonomy code from an error chain.
// Unclassified errors report CodeInternal.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// HTTPStatus maps a taxonomy code to an HTTP status code.
func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeAlreadyExists, CodeConflict:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusRequestTimeout
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
