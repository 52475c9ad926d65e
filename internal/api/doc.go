// Package api provides the HTTP handlers of the report service. Handlers
// read the caller's identity placed in the context by middleware, call the
// service layer and map its errors to status codes in errors.go.
package api
