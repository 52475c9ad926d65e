package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidJobStatus is returned when a job status is not one of the known values.
	ErrInvalidJobStatus = errors.New("invalid job status")

	// ErrInvalidTransition is returned when a status change is not permitted
	// by the job state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidFormat is returned when an export format is not supported.
	ErrInvalidFormat = errors.New("invalid format")
)

// Job validation errors
var (
	ErrEmptyJobID          = errors.New("job ID cannot be empty")
	ErrEmptyJobUserID      = errors.New("job requester cannot be empty")
	ErrEmptyReportType     = errors.New("report type cannot be empty")
	ErrResultWithoutStatus = errors.New("file reference is only allowed on completed jobs")
	ErrErrorWithoutStatus  = errors.New("error message is only allowed on failed jobs")
	ErrMissingResult       = errors.New("completed job must carry a file reference")
	ErrMissingError        = errors.New("failed job must carry an error message")
)

// Template validation errors
var (
	ErrEmptyTemplateName  = errors.New("template name cannot be empty")
	ErrEmptyTemplateOwner = errors.New("template owner cannot be empty")
)
