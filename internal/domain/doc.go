// Package domain defines the core entities of the report service: report jobs,
// their configuration, saved templates and the status-history events recorded
// for every job transition.
//
// Entities in this package carry their own validation and state-machine rules
// but have no knowledge of persistence or transport.
package domain
