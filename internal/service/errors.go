package service

import (
	"errors"
	"fmt"
)

// Service errors. Callers check them with errors.Is; the API layer maps
// them to HTTP status codes.
var (
	// ErrNotFound indicates an unknown report type, job or template.
	// API layer should map this to HTTP 404 Not Found.
	ErrNotFound = errors.New("not found")

	// ErrNotOwned indicates a resource is owned by a different user than the one making the request.
	// API layer should map this to HTTP 403 Forbidden.
	ErrNotOwned = errors.New("resource is owned by another user")

	// ErrInvalidTransition indicates the job's current status does not allow
	// the requested action.
	// API layer should map this to HTTP 409 Conflict.
	ErrInvalidTransition = errors.New("invalid job status for this action")

	// ErrValidation indicates a malformed request.
	// API layer should map this to HTTP 400 Bad Request.
	ErrValidation = errors.New("validation failed")

	// ErrFileNotReady is returned when downloading a job that has not completed.
	ErrFileNotReady = fmt.Errorf("%w: report file is not available", ErrInvalidTransition)
)

// ReportServiceError wraps unexpected failures with the operation that hit them.
type ReportServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for ReportServiceError.
func (e *ReportServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("report service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("report service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ReportServiceError) Unwrap() error {
	return e.Err
}

// NewReportServiceError creates a new ReportServiceError.
func NewReportServiceError(operation, message string, err error) *ReportServiceError {
	return &ReportServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
