// Package postgres provides PostgreSQL implementations of the job and
// template stores and of the durable queue broker. Schema migrations are
// embedded and applied with goose.
package postgres
