package apperrors

import (
	"errors"
	"fmt"
)

// ErrorType classifies an application error for callers and HTTP mapping.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeNotActive  ErrorType = "not_active"
	ErrorTypeProcessing ErrorType = "processing_error"
)

// AppError is an error with a type that survives wrapping.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(errType ErrorType, message string, err error) *AppError {
	return &AppError{Type: errType, Message: message, Err: err}
}

func NewValidationError(format string, args ...any) *AppError {
	return New(ErrorTypeValidation, fmt.Sprintf(format, args...), nil)
}

func NewNotFoundError(format string, args ...any) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf(format, args...), nil)
}

func NewConflictError(format string, args ...any) *AppError {
	return New(ErrorTypeConflict, fmt.Sprintf(format, args...), nil)
}

func NewNotActiveError(format string, args ...any) *AppError {
	return New(ErrorTypeNotActive, fmt.Sprintf(format, args...), nil)
}

func NewProcessingError(message string, err error) *AppError {
	return New(ErrorTypeProcessing, message, err)
}

// TypeOf returns the type of the first AppError in err's chain, or "".
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

func IsValidation(err error) bool { return TypeOf(err) == ErrorTypeValidation }

func IsNotFound(err error) bool { return TypeOf(err) == ErrorTypeNotFound }

func IsConflict(err error) bool { return TypeOf(err) == ErrorTypeConflict }

func IsNotActive(err error) bool { return TypeOf(err) == ErrorTypeNotActive }
