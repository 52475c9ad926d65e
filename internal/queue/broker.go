package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Broker stores queue entries and arbitrates exclusive delivery.
type Broker interface {
	// Push adds a waiting entry. A zero Policy is replaced by DefaultPolicy.
	Push(ctx context.Context, e Entry) error

	// Claim hands out the next due entry, marks it active, increments its
	// attempt counter and leases it. Returns nil, nil when nothing is due.
	// Active entries whose lease has expired are due again.
	Claim(ctx context.Context) (*Entry, error)

	// Ack marks an active entry completed.
	Ack(ctx context.Context, id uuid.UUID) error

	// Retry returns an active entry to waiting, due after delay.
	Retry(ctx context.Context, id uuid.UUID, delay time.Duration, cause string) error

	// Fail marks an active entry failed.
	Fail(ctx context.Context, id uuid.UUID, cause string) error

	// RemoveByJob deletes the waiting entries of a job and returns how many
	// were removed. Active entries are left alone.
	RemoveByJob(ctx context.Context, jobID uuid.UUID) (int, error)

	// HasLive reports whether the job has a waiting or active entry.
	HasLive(ctx context.Context, jobID uuid.UUID) (bool, error)

	// Stats counts entries per state.
	Stats(ctx context.Context) (Stats, error)

	// List returns up to limit entries in the given state, most recent first.
	List(ctx context.Context, state State, limit int) ([]Entry, error)
}

// Waker is implemented by brokers that can signal new work, letting
// consumers skip the poll interval.
type Waker interface {
	Wake() <-chan struct{}
}
