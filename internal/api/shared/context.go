package shared

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Key type for context values
type ContextKey string

// Context keys for various values
const (
	// IdentityContextKey is the context key for the caller's Identity
	IdentityContextKey ContextKey = "identity"

	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"

	// TraceIDLength is the number of bytes used to generate the trace ID
	TraceIDLength = 16 // 32 hex characters
)

// Identity is the authenticated caller. Roles are passed through as sent;
// the catalog normalizes them.
type Identity struct {
	UserID uuid.UUID
	Roles  []string
}

// WithIdentity stores the caller's identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, id)
}

// IdentityFromContext returns the caller's identity. ok is false when the
// request was not authenticated.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(Identity)
	if !ok || id.UserID == uuid.Nil {
		return Identity{}, false
	}
	return id, true
}

// SetTraceID adds a trace ID to the context.
// This is useful for correlating logs and error responses.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, generateTraceID())
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

// randRead is crypto/rand.Read, replaceable in tests.
var randRead = rand.Read

// generateTraceID returns 32 random hex characters, falling back to a
// time-based ID if the system random source fails.
func generateTraceID() string {
	b := make([]byte, TraceIDLength)
	n, err := randRead(b)
	if err != nil || n != TraceIDLength {
		slog.Error("failed to generate secure random trace ID",
			"error", err,
			"bytes_read", n,
			"fallback", "time-based generation")
		return fallbackTraceID()
	}
	return hex.EncodeToString(b)
}

func fallbackTraceID() string {
	id := make([]byte, TraceIDLength)
	now := time.Now()
	binary.BigEndian.PutUint64(id[:8], uint64(now.UnixNano()))
	binary.BigEndian.PutUint32(id[8:12], uint32(now.Nanosecond()))
	binary.BigEndian.PutUint32(id[12:16], uint32(now.Unix()))
	return hex.EncodeToString(id)
}
