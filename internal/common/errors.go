package common

import (
	"errors"
	"net/http"
)

// Error codes shared by every module. Services raise them without knowing
// about transport; handlers map them onto HTTP statuses.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidState = "INVALID_STATE"
	CodeUnsupported  = "UNSUPPORTED"
	CodeConflict     = "CONFLICT"
	CodeInternal     = "INTERNAL"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// NewValidationError reports malformed or missing required input.
func NewValidationError(message string, err error) *AppError {
	return NewAppError(CodeValidation, message, http.StatusUnprocessableEntity, err)
}

// NewNotFoundError reports an absent or out-of-organization referenced record.
func NewNotFoundError(message string, err error) *AppError {
	return NewAppError(CodeNotFound, message, http.StatusNotFound, err)
}

// NewInvalidStateError reports a mutation disallowed by the record's current status.
func NewInvalidStateError(message string, err error) *AppError {
	return NewAppError(CodeInvalidState, message, http.StatusConflict, err)
}

// NewUnsupportedError reports a named unsupported operation.
func NewUnsupportedError(message string, err error) *AppError {
	return NewAppError(CodeUnsupported, message, http.StatusNotImplemented, err)
}

// NewConflictError reports a uniqueness conflict the caller may retry.
func NewConflictError(message string, err error) *AppError {
	return NewAppError(CodeConflict, message, http.StatusConflict, err)
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// HasCode reports whether err carries the given application error code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// WriteError renders err as the canonical JSON error envelope. Unknown error
// types surface as an opaque 500.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	JSONError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
}
