// Package errors defines the structured error types used across the reply
// queue service. Rate limit denials are NOT errors: they are ordinary return
// values. Errors here cover store failures, bad input, and invalid state
// transitions.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an AppError.
type Code string

const (
	// CodeInvalidRequest indicates a malformed or missing parameter.
	CodeInvalidRequest Code = "invalid_request"

	// CodeNotFound indicates a referenced entity does not exist.
	CodeNotFound Code = "not_found"

	// CodeStoreUnavailable indicates the backing store could not be reached.
	// Callers must fail closed (treat admission as denied) on this code.
	CodeStoreUnavailable Code = "store_unavailable"

	// CodeInvalidTransition indicates an attempt to move a queue item out of
	// a terminal state.
	CodeInvalidTransition Code = "invalid_transition"

	// CodeInternal indicates an unexpected server-side failure.
	CodeInternal Code = "internal_error"
)

// AppError is a structured application error carrying a code, an HTTP
// status for the transport layer, and optional metadata.
type AppError struct {
	Code       Code
	HTTPStatus int
	Message    string
	cause      error
	metadata   map[string]interface{}
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *AppError) Unwrap() error { return e.cause }

// WithCause attaches an underlying error.
func (e *AppError) WithCause(cause error) *AppError {
	e.cause = cause
	return e
}

// WithMetadata attaches a key/value pair for diagnostics.
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

// Metadata returns the attached metadata, possibly nil.
func (e *AppError) Metadata() map[string]interface{} { return e.metadata }

// New creates an AppError with an explicit code and HTTP status.
func New(code Code, httpStatus int, message string) *AppError {
	return &AppError{Code: code, HTTPStatus: httpStatus, Message: message}
}

// ErrInvalidRequest creates an invalid_request error.
func ErrInvalidRequest(message string) *AppError {
	return New(CodeInvalidRequest, http.StatusBadRequest, message)
}

// ErrNotFound creates a not_found error.
func ErrNotFound(message string) *AppError {
	return New(CodeNotFound, http.StatusNotFound, message)
}

// ErrStoreUnavailable creates a store_unavailable error. Admission callers
// treat it as "assume denied" to protect the external quota.
func ErrStoreUnavailable(message string) *AppError {
	return New(CodeStoreUnavailable, http.StatusServiceUnavailable, message)
}

// ErrInvalidTransition creates an invalid_transition error for attempts to
// re-finalize a terminal queue item.
func ErrInvalidTransition(message string) *AppError {
	return New(CodeInvalidTransition, http.StatusConflict, message)
}

// ErrInternal creates an internal_error.
func ErrInternal(message string) *AppError {
	return New(CodeInternal, http.StatusInternalServerError, message)
}

// As extracts an AppError from an error chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func is(err error, code Code) bool {
	if appErr, ok := As(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound reports whether err is a not_found AppError.
func IsNotFound(err error) bool { return is(err, CodeNotFound) }

// IsStoreUnavailable reports whether err is a store_unavailable AppError.
func IsStoreUnavailable(err error) bool { return is(err, CodeStoreUnavailable) }

// IsInvalidTransition reports whether err is an invalid_transition AppError.
func IsInvalidTransition(err error) bool { return is(err, CodeInvalidTransition) }

// ErrorResponse is the JSON shape returned by the HTTP layer for errors.
type ErrorResponse struct {
	Error            string                 `json:"error"`
	ErrorDescription string                 `json:"error_description"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ToErrorResponse converts any error into an ErrorResponse, falling back to
// a generic internal error for non-AppError values.
func ToErrorResponse(err error) (*ErrorResponse, int) {
	if appErr, ok := As(err); ok {
		return &ErrorResponse{
			Error:            string(appErr.Code),
			ErrorDescription: appErr.Message,
			Metadata:         appErr.Metadata(),
		}, appErr.HTTPStatus
	}
	return &ErrorResponse{
		Error:            string(CodeInternal),
		ErrorDescription: "an unexpected error occurred",
	}, http.StatusInternalServerError
}
