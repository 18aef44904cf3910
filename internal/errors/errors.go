// Package errors provides error code definitions shared across the client core.
package errors

import "fmt"

// ErrorCode represents a unique, stable error code.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Gateway errors. A CONFLICT is a semantic uniqueness violation
	// (duplicate phone number on create) and is never retried; a
	// NOT_FOUND on delete means the end state already matches intent.
	// Everything else from the gateway is GATEWAY_ERROR and retryable.
	ErrConflict ErrorCode = "CONFLICT"
	ErrGateway  ErrorCode = "GATEWAY_ERROR"
	ErrOffline  ErrorCode = "OFFLINE"

	// Sync errors
	ErrSyncFailed      ErrorCode = "SYNC_FAILED"
	ErrSyncInProgress  ErrorCode = "SYNC_IN_PROGRESS"
	ErrPayloadInvalid  ErrorCode = "PAYLOAD_INVALID"
	ErrUnknownEntity   ErrorCode = "UNKNOWN_ENTITY_TYPE"
	ErrRetriesExceeded ErrorCode = "MAX_RETRIES_EXCEEDED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code. It walks the wrapped
// error chain so codes survive fmt.Errorf("%w") wrapping.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			if appErr.Code == code {
				return true
			}
			err = appErr.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
