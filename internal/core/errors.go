package core

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrBadRequest         ErrorCode = "WSM_BAD_REQUEST"
	ErrForbidden          ErrorCode = "WSM_FORBIDDEN"
	ErrNotFound           ErrorCode = "WSM_NOT_FOUND"
	ErrConflict           ErrorCode = "WSM_CONFLICT"
	ErrConflictLocked     ErrorCode = "WSM_CONFLICT_LOCKED"
	ErrConflictIdempotent ErrorCode = "WSM_CONFLICT_IDEMPOTENT_MISMATCH"
	ErrConflictExists     ErrorCode = "WSM_CONFLICT_EXISTS"
	ErrPolicyConflict     ErrorCode = "WSM_POLICY_CONFLICT"
	ErrPreconditionFailed ErrorCode = "WSM_PRECONDITION_FAILED"
	ErrInternal           ErrorCode = "WSM_INTERNAL"
)

// HTTPStatus returns the HTTP status code for this error code.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrBadRequest:
		return 400
	case ErrForbidden:
		return 403
	case ErrNotFound:
		return 404
	case ErrConflict, ErrConflictLocked, ErrConflictIdempotent, ErrConflictExists, ErrPolicyConflict:
		return 409
	case ErrPreconditionFailed:
		return 412
	default:
		return 500
	}
}

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

func NewAppErrorf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code from err, unwrapping as needed.
// Unclassified errors map to WSM_INTERNAL.
func CodeOf(err error) ErrorCode {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code
	}
	return ErrInternal
}
