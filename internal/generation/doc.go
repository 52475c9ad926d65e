// Package generation runs one delivery of a report job: it marks the job
// processing, fetches rows, serializes them, uploads the file and settles
// the job record.
//
// The worker tolerates redelivery. Every write to the job record is a
// conditional update keyed on the delivering queue entry, so a cancel or a
// requeue that lands mid-run wins over the worker's late result.
package generation
