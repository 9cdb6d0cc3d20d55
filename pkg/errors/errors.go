package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error codes shared across the pipeline. Components may define
// additional codes, but these cover the kinds enumerated for the broker
// and orchestrators.
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeNotFound            = "NOT_FOUND"
	CodeBackendUnavailable  = "BACKEND_UNAVAILABLE"
	CodeUpstreamFailure     = "UPSTREAM_FAILURE"
	CodeExpired             = "EXPIRED"
	CodeMaxAttemptsExceeded = "MAX_ATTEMPTS_EXCEEDED"
	CodeHandlerPanic        = "HANDLER_PANIC"
	CodeShuttingDown        = "SHUTTING_DOWN"
	CodeInternal            = "INTERNAL"
)

// AppError is the structured error type used across the pipeline. It pairs
// a stable machine-readable Code with a human-readable Message and an
// optional underlying cause.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New constructs an AppError with the given code, message and optional cause.
func New(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Wrap attaches context to an existing error without losing its code, or
// tags it CodeInternal if it isn't already an AppError.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return &AppError{Code: ae.Code, Message: message + ": " + ae.Message, Cause: ae.Cause}
	}
	return &AppError{Code: CodeInternal, Message: message, Cause: err}
}

// Code extracts the AppError code from err, or CodeInternal if err is not
// (or does not wrap) an AppError.
func Code(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return Code(err) == code
}

// HTTPStatus maps a code to the HTTP status class callers at the gateway
// edge should use when translating an AppError into a response.
func HTTPStatus(code string) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeBackendUnavailable:
		return http.StatusServiceUnavailable
	case CodeUpstreamFailure:
		return http.StatusBadGateway
	case CodeExpired:
		return http.StatusGone
	case CodeMaxAttemptsExceeded:
		return http.StatusConflict
	case CodeShuttingDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
