package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Validation
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// Pairing
	ErrCodePairingRequest ErrorCode = "PAIRING_REQUEST_FAILED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Command dispatch
	ErrCodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"

	// Filesystem
	ErrCodeFileSystem ErrorCode = "FILESYSTEM_ERROR"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Validation(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func PairingRequest(message string, cause error) *AppError {
	return Wrap(ErrCodePairingRequest, message, cause)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func MethodNotAllowed(method string) *AppError {
	return New(ErrCodeMethodNotAllowed, fmt.Sprintf("method '%s' is not available", method))
}

func FileSystem(message string, cause error) *AppError {
	return Wrap(ErrCodeFileSystem, message, cause)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// AsAppError extracts an AppError from an error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given error code
func IsCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
