package fetch

import (
	"errors"
	"fmt"
)

// ClientError represents the categories of errors surfaced by the fetch package.
type ClientError interface {
	error
	Type() ErrorType
}

// ErrorType defines the category of a client error
type ErrorType string

const (
	NetworkError     ErrorType = "network"
	TimeoutError     ErrorType = "timeout"
	HTTPError        ErrorType = "http"
	CanceledError    ErrorType = "canceled"
	ValidationError  ErrorType = "validation"
	InterceptorError ErrorType = "interceptor"
)

// validationError represents a malformed RequestSpec
type validationError struct {
	message string
	field   string
}

func (e *validationError) Error() string {
	if e.field != "" {
		return fmt.Sprintf("validation error: %s (field: %s)", e.message, e.field)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

func (e *validationError) Type() ErrorType {
	return ValidationError
}

// Field returns the offending RequestSpec field
func (e *validationError) Field() string {
	return e.field
}

// interceptorError represents a request interceptor failure
type interceptorError struct {
	message string
	wrapped error
}

func (e *interceptorError) Error() string {
	return fmt.Sprintf("interceptor error: %s: %v", e.message, e.wrapped)
}

func (e *interceptorError) Type() ErrorType {
	return InterceptorError
}

func (e *interceptorError) Unwrap() error {
	return e.wrapped
}

// NewValidationError creates a new validation error
func NewValidationError(message, field string) ClientError {
	return &validationError{
		message: message,
		field:   field,
	}
}

// NewInterceptorError creates a new interceptor error
func NewInterceptorError(message string, wrapped error) ClientError {
	return &interceptorError{
		message: message,
		wrapped: wrapped,
	}
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errorType ErrorType) bool {
	if err == nil {
		return false
	}
	var clientErr ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type() == errorType
	}
	return false
}
