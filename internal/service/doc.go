// Package service contains the report use cases. ReportService is the only
// component that creates job records or moves them on behalf of users; it
// keeps the durable record and the queue consistent. TemplateService manages
// saved report configurations.
//
// Service methods return sentinel errors (ErrNotFound, ErrNotOwned,
// ErrInvalidTransition, ErrValidation) for expected conditions and wrap
// unexpected ones in ReportServiceError. The API layer maps both to HTTP
// status codes.
package service
