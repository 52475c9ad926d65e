// Package queue provides the at-least-once work queue that decouples report
// submission from generation. A Broker stores entries and hands each one to
// exactly one consumer at a time; a WorkerPool claims entries, runs a Handler
// and settles the entry according to its Policy (ack, retry with backoff, or
// fail once attempts are exhausted).
//
// Durability lives in the job record, not here: an entry only references a
// job and carries a copy of its configuration.
package queue
