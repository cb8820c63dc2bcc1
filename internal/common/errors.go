package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
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

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrDatabase     = errors.New("database error")
	ErrConversion   = errors.New("conversion failed")
	ErrUnavailable  = errors.New("service unavailable")
)

// Error codes carried by AppError.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidInput = "INVALID_INPUT"
	CodeConflict     = "CONFLICT"
	CodeDatabase     = "DATABASE_ERROR"
	CodeConversion   = "CONVERSION_ERROR"
	CodeUnavailable  = "UNAVAILABLE"
	CodeConfig       = "CONFIG_ERROR"
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func NewNotFoundError(message string) *AppError {
	return NewAppError(CodeNotFound, message, ErrNotFound)
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(CodeInvalidInput, message, ErrInvalidInput)
}

func NewConflictError(message string) *AppError {
	return NewAppError(CodeConflict, message, ErrConflict)
}

// NewDatabaseError keeps the driver error reachable through errors.Is/As and
// also matches ErrDatabase.
func NewDatabaseError(message string, cause error) *AppError {
	return NewAppError(CodeDatabase, message, errors.Join(ErrDatabase, cause))
}

func NewConversionError(message string, cause error) *AppError {
	return NewAppError(CodeConversion, message, errors.Join(ErrConversion, cause))
}

func NewUnavailableError(message string, cause error) *AppError {
	return NewAppError(CodeUnavailable, message, errors.Join(ErrUnavailable, cause))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// ErrorCode returns the code of the outermost AppError in the chain.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
