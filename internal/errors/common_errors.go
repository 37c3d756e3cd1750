package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeParseWarning marks a header, file name or data line that does not match its grammar
	ErrTypeParseWarning ErrorType = "PARSE_WARNING"
	// ErrTypeInvalidTimestamp marks an acquisition time that could not be decoded
	ErrTypeInvalidTimestamp ErrorType = "INVALID_TIMESTAMP"
	// ErrTypeAggregation marks a curve request with no data behind it
	ErrTypeAggregation ErrorType = "AGGREGATION"
	// ErrTypeFitNonConvergence marks a fit that exhausted its attempts
	ErrTypeFitNonConvergence ErrorType = "FIT_NON_CONVERGENCE"
	// ErrTypePrecondition marks invalid input to a single operation
	ErrTypePrecondition ErrorType = "PRECONDITION"
	ErrTypeConfig       ErrorType = "CONFIG"
	ErrTypeIO           ErrorType = "IO"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError of the same type
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// IsType reports whether err wraps an AppError of the given type
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// Helper functions for common error types

// NewParseWarning creates a grammar mismatch error
func NewParseWarning(message string, cause error) *AppError {
	return NewAppError(ErrTypeParseWarning, message, cause)
}

// NewInvalidTimestamp creates an undecodable acquisition time error
func NewInvalidTimestamp(token string, cause error) *AppError {
	return NewAppError(ErrTypeInvalidTimestamp, fmt.Sprintf("invalid timestamp %q", token), cause)
}

// NewAggregationError creates an error for a curve request with no data
func NewAggregationError(message string) *AppError {
	return NewAppError(ErrTypeAggregation, message, nil)
}

// NewFitNonConvergence creates an error describing an exhausted fit
func NewFitNonConvergence(attempts int, cause error) *AppError {
	return NewAppError(ErrTypeFitNonConvergence, fmt.Sprintf("fit did not converge after %d attempts", attempts), cause)
}

// NewPreconditionError creates a precondition violation
func NewPreconditionError(message string) *AppError {
	return NewAppError(ErrTypePrecondition, message, nil)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// NewIOError creates a file access error
func NewIOError(message string, cause error) *AppError {
	return NewAppError(ErrTypeIO, message, cause)
}
