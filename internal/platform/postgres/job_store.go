package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/platform/logger"
	"github.com/phrazzld/report-api/internal/store"
)

const jobColumns = `id, report_type, name, config, format, status, file_reference, file_size,
	error_message, requested_by, scope, entry_id, attempts, created_at, updated_at,
	started_at, completed_at, expires_at`

// JobStore implements store.JobStore. Every transition locks the row, applies
// the state machine and appends the history event in one transaction.
type JobStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ store.JobStore = (*JobStore)(nil)

// NewJobStore creates a job store over db. If logger is nil the default
// logger is used.
func NewJobStore(db *sql.DB, logger *slog.Logger) *JobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.ReportJob, error) {
	var (
		job          domain.ReportJob
		fileRef      sql.NullString
		errorMessage sql.NullString
		scope        sql.NullString
		entryID      uuid.NullUUID
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.ReportType,
		&job.Name,
		&job.Config,
		&job.Format,
		&job.Status,
		&fileRef,
		&job.FileSize,
		&errorMessage,
		&job.RequestedBy,
		&scope,
		&entryID,
		&job.Attempts,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
		&job.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	if fileRef.Valid {
		job.FileReference = &fileRef.String
	}
	if errorMessage.Valid {
		job.ErrorMessage = &errorMessage.String
	}
	if scope.Valid {
		job.Scope = &scope.String
	}
	if entryID.Valid {
		job.EntryID = &entryID.UUID
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		job.CompletedAt = &t
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.ExpiresAt = job.ExpiresAt.UTC()
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*domain.ReportJob, error) {
	jobs := []*domain.ReportJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating report jobs: %w", err)
	}
	return jobs, nil
}

func insertEvent(ctx context.Context, db store.DBTX, ev domain.JobEvent) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO report_job_events (job_id, from_status, to_status, reason, at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.JobID,
		sql.NullString{String: string(ev.FromStatus), Valid: ev.FromStatus != ""},
		ev.ToStatus,
		ev.Reason,
		ev.At,
	)
	if err != nil {
		return fmt.Errorf("failed to record job event: %w", MapError(err))
	}
	return nil
}

// Create implements store.JobStore.
func (s *JobStore) Create(ctx context.Context, job *domain.ReportJob) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO report_jobs (`+jobColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			job.ID,
			job.ReportType,
			job.Name,
			job.Config,
			job.Format,
			job.Status,
			job.FileReference,
			job.FileSize,
			job.ErrorMessage,
			job.RequestedBy,
			job.Scope,
			job.EntryID,
			job.Attempts,
			job.CreatedAt,
			job.UpdatedAt,
			job.StartedAt,
			job.CompletedAt,
			job.ExpiresAt,
		)
		if err != nil {
			log.Error("failed to create report job",
				slog.String("error", err.Error()),
				slog.String("job_id", job.ID.String()))
			return MapError(err)
		}

		ev := domain.NewJobEvent(job.ID, "", job.Status, "created")
		ev.At = job.CreatedAt
		return insertEvent(ctx, tx, ev)
	})
}

// GetByID implements store.JobStore.
func (s *JobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ReportJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM report_jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report job: %w", err)
	}
	return job, nil
}

// ListByUser implements store.JobStore. A non-positive limit returns every job.
func (s *JobStore) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.ReportJob, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM report_jobs WHERE requested_by = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count report jobs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM report_jobs
		WHERE requested_by = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		userID,
		sql.NullInt64{Int64: int64(limit), Valid: limit > 0},
		offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list report jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// mutation applies a transition to a locked job. It reports whether a
// history event should be recorded and with which reason.
type mutation func(job *domain.ReportJob, now time.Time) (record bool, reason string, err error)

func (s *JobStore) transition(ctx context.Context, id uuid.UUID, apply mutation) (*domain.ReportJob, error) {
	var out *domain.ReportJob

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		job, err := scanJob(tx.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM report_jobs WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock report job: %w", err)
		}

		now := s.now()
		from := job.Status
		record, reason, err := apply(job, now)
		if err != nil {
			return err
		}
		job.UpdatedAt = now

		_, err = tx.ExecContext(ctx, `
			UPDATE report_jobs
			SET status = $2, file_reference = $3, file_size = $4, error_message = $5,
				entry_id = $6, attempts = $7, updated_at = $8, started_at = $9,
				completed_at = $10, expires_at = $11
			WHERE id = $1`,
			job.ID,
			job.Status,
			job.FileReference,
			job.FileSize,
			job.ErrorMessage,
			job.EntryID,
			job.Attempts,
			job.UpdatedAt,
			job.StartedAt,
			job.CompletedAt,
			job.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update report job: %w", MapError(err))
		}

		if record {
			ev := domain.NewJobEvent(job.ID, from, job.Status, reason)
			ev.At = now
			if err := insertEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func conflict(job *domain.ReportJob, op string) error {
	return fmt.Errorf("%w: cannot %s job in status %s", store.ErrStatusConflict, op, job.Status)
}

func claimedBy(job *domain.ReportJob, entryID uuid.UUID) bool {
	return job.EntryID == nil || *job.EntryID == entryID
}

// MarkProcessing implements store.JobStore.
func (s *JobStore) MarkProcessing(ctx context.Context, id, entryID uuid.UUID) (*domain.ReportJob, error) {
	return s.transition(ctx, id, func(job *domain.ReportJob, now time.Time) (bool, string, error) {
		if !claimedBy(job, entryID) {
			return false, "", fmt.Errorf("%w: job %s was requeued under another entry", store.ErrStatusConflict, id)
		}
		switch job.Status {
		case domain.JobStatusPending:
			job.Status = domain.JobStatusProcessing
			job.StartedAt = &now
			job.Attempts++
			return true, fmt.Sprintf("attempt %d", job.Attempts), nil
		case domain.JobStatusProcessing:
			job.StartedAt = &now
			job.Attempts++
			return false, "", nil
		default:
			return false, "", conflict(job, "process")
		}
	})
}

// Complete implements store.JobStore.
func (s *JobStore) Complete(ctx context.Context, id, entryID uuid.UUID, fileRef string, size int64) error {
	_, err := s.transition(ctx, id, func(job *domain.ReportJob, now time.Time) (bool, string, error) {
		if job.Status != domain.JobStatusProcessing || !claimedBy(job, entryID) {
			return false, "", conflict(job, "complete")
		}
		job.Status = domain.JobStatusCompleted
		job.FileReference = &fileRef
		job.FileSize = size
		job.CompletedAt = &now
		return true, "", nil
	})
	return err
}

// Fail implements store.JobStore.
func (s *JobStore) Fail(ctx context.Context, id, entryID uuid.UUID, message string) error {
	_, err := s.transition(ctx, id, func(job *domain.ReportJob, now time.Time) (bool, string, error) {
		if job.Status != domain.JobStatusProcessing || !claimedBy(job, entryID) {
			return false, "", conflict(job, "fail")
		}
		job.Status = domain.JobStatusFailed
		job.ErrorMessage = &message
		job.CompletedAt = &now
		return true, message, nil
	})
	return err
}

// Cancel implements store.JobStore.
func (s *JobStore) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.transition(ctx, id, func(job *domain.ReportJob, now time.Time) (bool, string, error) {
		if !job.Status.CanTransitionTo(domain.JobStatusCancelled) {
			return false, "", conflict(job, "cancel")
		}
		job.Status = domain.JobStatusCancelled
		job.CompletedAt = &now
		return true, reason, nil
	})
	return err
}

// Requeue implements store.JobStore.
func (s *JobStore) Requeue(ctx context.Context, id, entryID uuid.UUID, expiresAt time.Time) error {
	_, err := s.transition(ctx, id, func(job *domain.ReportJob, now time.Time) (bool, string, error) {
		if !job.Status.CanTransitionTo(domain.JobStatusPending) {
			return false, "", conflict(job, "retry")
		}
		job.Status = domain.JobStatusPending
		job.EntryID = &entryID
		job.ErrorMessage = nil
		job.FileReference = nil
		job.FileSize = 0
		job.Attempts = 0
		job.StartedAt = nil
		job.CompletedAt = nil
		job.ExpiresAt = expiresAt.UTC()
		return true, "retry requested", nil
	})
	return err
}

// Delete implements store.JobStore.
func (s *JobStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM report_jobs
		WHERE id = $1 AND status IN ('completed', 'failed', 'cancelled')`, id)
	if err != nil {
		return fmt.Errorf("failed to delete report job: %w", err)
	}
	if err := CheckRowsAffected(result, store.ErrJobNotFound); err == nil || !errors.Is(err, store.ErrJobNotFound) {
		return err
	}

	// Nothing deleted: either the job is gone or it is still active.
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return conflict(job, "delete")
}

// FailStale implements store.JobStore.
func (s *JobStore) FailStale(ctx context.Context, startedBefore time.Time, message string) (int64, error) {
	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		WITH failed AS (
			UPDATE report_jobs
			SET status = 'failed', error_message = $2, completed_at = $3, updated_at = $3
			WHERE status = 'processing' AND started_at < $1
			RETURNING id
		)
		INSERT INTO report_job_events (job_id, from_status, to_status, reason, at)
		SELECT id, 'processing', 'failed', $2, $3 FROM failed`,
		startedBefore, message, now)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale report jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// DeleteExpired implements store.JobStore.
func (s *JobStore) DeleteExpired(ctx context.Context, now time.Time) ([]*domain.ReportJob, error) {
	return s.deleteReturning(ctx, `DELETE FROM report_jobs WHERE expires_at <= $1 RETURNING `+jobColumns, now)
}

// DeleteTerminalBefore implements store.JobStore.
func (s *JobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]*domain.ReportJob, error) {
	return s.deleteReturning(ctx, `
		DELETE FROM report_jobs
		WHERE status IN ('failed', 'cancelled') AND updated_at < $1
		RETURNING `+jobColumns, cutoff)
}

func (s *JobStore) deleteReturning(ctx context.Context, query string, arg any) ([]*domain.ReportJob, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to delete report jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanJobs(rows)
}

// ListPendingBefore implements store.JobStore.
func (s *JobStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*domain.ReportJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM report_jobs
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending report jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanJobs(rows)
}

// Events implements store.JobStore.
func (s *JobStore) Events(ctx context.Context, id uuid.UUID) ([]domain.JobEvent, error) {
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, from_status, to_status, reason, at
		FROM report_job_events
		WHERE job_id = $1
		ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list job events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []domain.JobEvent{}
	for rows.Next() {
		var (
			ev   domain.JobEvent
			from sql.NullString
		)
		if err := rows.Scan(&ev.JobID, &from, &ev.ToStatus, &ev.Reason, &ev.At); err != nil {
			return nil, fmt.Errorf("failed to scan job event: %w", err)
		}
		ev.FromStatus = domain.JobStatus(from.String)
		ev.At = ev.At.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job events: %w", err)
	}
	return events, nil
}
