// Package errors provides standardized command error types.
package errors

import "fmt"

// CommandError represents an error that is reported back to the cloud as a
// command response. Code is stable; Message is human-readable.
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return e.Message
}

// WithMessage returns a copy of the error with a custom message.
func (e *CommandError) WithMessage(message string) *CommandError {
	return &CommandError{
		Code:    e.Code,
		Message: message,
		Details: e.Details,
	}
}

// Standard error definitions
var (
	// ErrValidation is returned when a command payload fails validation.
	ErrValidation = &CommandError{
		Code:    "validation_error",
		Message: "Invalid command payload",
	}

	// ErrNotFound is returned when a controller or point is not found in
	// the current configuration.
	ErrNotFound = &CommandError{
		Code:    "not_found",
		Message: "Target not found in configuration",
	}

	// ErrWriteFailed is returned when a BACnet write or its read-back
	// verification fails.
	ErrWriteFailed = &CommandError{
		Code:    "write_failed",
		Message: "Point write failed",
	}

	// ErrNoReaderAvailable is returned when the reader pool is empty.
	ErrNoReaderAvailable = &CommandError{
		Code:    "no_reader_available",
		Message: "No BACnet reader available for operation",
	}

	// ErrInternal is returned for unexpected agent errors.
	ErrInternal = &CommandError{
		Code:    "internal_error",
		Message: "An internal error occurred",
	}
)

// NewValidationError creates a validation error for a specific field.
func NewValidationError(field, message string) *CommandError {
	return &CommandError{
		Code:    "validation_error",
		Message: fmt.Sprintf("Validation failed: %s", message),
		Details: map[string]string{
			"field": field,
			"error": message,
		},
	}
}

// NewNotFoundError creates a not found error for a specific target.
func NewNotFoundError(target string) *CommandError {
	return ErrNotFound.WithMessage(fmt.Sprintf("%s not found", target))
}

// AsCommandError converts an error to a CommandError if possible.
// Returns ErrInternal with the original message otherwise.
func AsCommandError(err error) *CommandError {
	if cmdErr, ok := err.(*CommandError); ok {
		return cmdErr
	}
	return ErrInternal.WithMessage(err.Error())
}
