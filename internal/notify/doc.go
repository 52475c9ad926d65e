// Package notify delivers fire-and-forget messages to users when their
// reports settle.
//
// Senders depend on Sink. The Emitter fans a Notification out to every
// registered Handler; a failing handler never stops the others, and callers
// are expected to log and drop the returned error.
package notify
