package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode classifies application errors at the HTTP/auth boundary.
type ErrorCode string

const (
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// AppError carries a code, a message and an optional cause.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Cause: err}
}

func NewInvalidInput(message string) *AppError {
	return New(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewRateLimit() *AppError {
	return New(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternal(message string) *AppError {
	return New(ErrCodeInternal, message, http.StatusInternalServerError)
}
