package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/domain"
)

// JobStore defines durable persistence for report jobs.
//
// Every status-changing method is a conditional update: it succeeds only when
// the record is in an expected state and otherwise returns ErrStatusConflict
// without modifying anything. Each successful transition appends a
// domain.JobEvent to the job's history.
//
// Worker-side methods take the queue entry ID that claimed the job. A job
// remembers the entry it was last queued under, so a stale redelivery of an
// older entry cannot move the record.
type JobStore interface {
	// Create saves a new pending job and records its creation event.
	Create(ctx context.Context, job *domain.ReportJob) error

	// GetByID retrieves a job. Returns ErrJobNotFound if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ReportJob, error)

	// ListByUser returns one page of the user's jobs, newest first, along with
	// the user's total job count.
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.ReportJob, int, error)

	// MarkProcessing moves a pending job to processing, stamps StartedAt and
	// increments Attempts. A job already processing under the same entry is
	// accepted again (redelivery) and its attempt count incremented.
	MarkProcessing(ctx context.Context, id, entryID uuid.UUID) (*domain.ReportJob, error)

	// Complete sets the file reference on a job that is still processing.
	Complete(ctx context.Context, id, entryID uuid.UUID, fileRef string, size int64) error

	// Fail records the error message on a job that is still processing.
	Fail(ctx context.Context, id, entryID uuid.UUID, message string) error

	// Cancel moves a pending or processing job to cancelled.
	Cancel(ctx context.Context, id uuid.UUID, reason string) error

	// Requeue moves a failed or cancelled job back to pending under a new
	// queue entry, clearing the previous outcome. The record expires at
	// expiresAt from then on.
	Requeue(ctx context.Context, id, entryID uuid.UUID, expiresAt time.Time) error

	// Delete removes a terminal job. Pending or processing jobs yield
	// ErrStatusConflict.
	Delete(ctx context.Context, id uuid.UUID) error

	// FailStale fails every job that has been processing since before
	// startedBefore and returns the number of jobs affected.
	FailStale(ctx context.Context, startedBefore time.Time, message string) (int64, error)

	// DeleteExpired removes every job whose ExpiresAt is not after now and
	// returns the removed records.
	DeleteExpired(ctx context.Context, now time.Time) ([]*domain.ReportJob, error)

	// DeleteTerminalBefore removes failed and cancelled jobs last updated
	// before cutoff and returns the removed records.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]*domain.ReportJob, error)

	// ListPendingBefore returns pending jobs created before cutoff.
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*domain.ReportJob, error)

	// Events returns the status history of a job, oldest first.
	Events(ctx context.Context, id uuid.UUID) ([]domain.JobEvent, error)
}
