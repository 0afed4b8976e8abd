package common

import (
	"errors"
	"net/http"
)

// Canonical error codes shared by every handler.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeConflict     = "CONFLICT"
	CodeUpstream     = "UPSTREAM_ERROR"
	CodeInternal     = "INTERNAL"
)

// AppError carries a machine readable code and HTTP status alongside the cause.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap exposes the cause to errors.Is/As.
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

// Validation builds a 400 error carrying per-field details.
func Validation(message string, details any) *AppError {
	return &AppError{Code: CodeValidation, Message: message, HTTPStatus: http.StatusBadRequest, Details: details}
}

// AsAppError reports whether err wraps an AppError and returns it.
func AsAppError(err error) (*AppError, bool) {
	var target *AppError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// WriteError renders err using the canonical error body. Errors that are not
// AppErrors are reported as opaque 500s.
func WriteError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if appErr, ok := AsAppError(err); ok {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		JSONError(w, status, appErr.Code, appErr.Error(), appErr.Details)
		return
	}
	JSONError(w, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
}
