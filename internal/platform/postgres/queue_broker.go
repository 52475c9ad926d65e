package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/queue"
	"github.com/phrazzld/report-api/internal/store"
)

const entryColumns = `id, job_id, report_type, config, format, scope, requested_by, policy,
	state, attempt, run_at, lease_until, last_error, created_at, finished_at`

// QueueBroker implements queue.Broker on the queue_entries table. Claims use
// FOR UPDATE SKIP LOCKED so any number of processes can consume the same
// queue.
type QueueBroker struct {
	db     *sql.DB
	lease  time.Duration
	logger *slog.Logger
	now    func() time.Time
}

var _ queue.Broker = (*QueueBroker)(nil)

// NewQueueBroker creates a broker over db. A non-positive lease selects
// queue.DefaultLease.
func NewQueueBroker(db *sql.DB, lease time.Duration, logger *slog.Logger) *QueueBroker {
	if db == nil {
		panic("db cannot be nil")
	}
	if lease <= 0 {
		lease = queue.DefaultLease
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueBroker{
		db:     db,
		lease:  lease,
		logger: logger.With(slog.String("component", "queue_broker")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func scanEntry(row rowScanner) (*queue.Entry, error) {
	var (
		e          queue.Entry
		scope      sql.NullString
		policy     []byte
		leaseUntil sql.NullTime
		finishedAt sql.NullTime
	)
	err := row.Scan(
		&e.ID,
		&e.JobID,
		&e.ReportType,
		&e.Config,
		&e.Format,
		&scope,
		&e.RequestedBy,
		&policy,
		&e.State,
		&e.Attempt,
		&e.RunAt,
		&leaseUntil,
		&e.LastError,
		&e.CreatedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(policy, &e.Policy); err != nil {
		return nil, fmt.Errorf("failed to decode entry policy: %w", err)
	}
	if scope.Valid {
		e.Scope = &scope.String
	}
	if leaseUntil.Valid {
		t := leaseUntil.Time.UTC()
		e.LeaseUntil = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		e.FinishedAt = &t
	}
	e.RunAt = e.RunAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// Push implements queue.Broker.
func (b *QueueBroker) Push(ctx context.Context, e queue.Entry) error {
	if e.Policy == (queue.Policy{}) {
		e.Policy = queue.DefaultPolicy()
	}
	policy, err := json.Marshal(e.Policy)
	if err != nil {
		return fmt.Errorf("failed to encode entry policy: %w", err)
	}
	now := b.now()
	if e.RunAt.IsZero() {
		e.RunAt = now
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO queue_entries (id, job_id, report_type, config, format, scope, requested_by,
			policy, state, attempt, run_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'waiting', 0, $9, $10)`,
		e.ID, e.JobID, e.ReportType, e.Config, e.Format, e.Scope, e.RequestedBy,
		policy, e.RunAt, e.CreatedAt)
	if IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", queue.ErrDuplicateEntry, e.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to push queue entry: %w", err)
	}
	return nil
}

// Claim implements queue.Broker.
func (b *QueueBroker) Claim(ctx context.Context) (*queue.Entry, error) {
	now := b.now()
	e, err := scanEntry(b.db.QueryRowContext(ctx, `
		UPDATE queue_entries
		SET state = 'active', attempt = attempt + 1, lease_until = $2
		WHERE id = (
			SELECT id FROM queue_entries
			WHERE (state = 'waiting' AND run_at <= $1)
				OR (state = 'active' AND lease_until < $1)
			ORDER BY run_at ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+entryColumns,
		now, now.Add(b.lease)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue entry: %w", err)
	}
	return e, nil
}

// settle updates an active entry inside tx and returns its retention policy.
// It distinguishes unknown entries from entries in another state.
func (b *QueueBroker) settle(ctx context.Context, tx store.DBTX, id uuid.UUID, query string, args ...any) (queue.Policy, error) {
	var policy []byte
	err := tx.QueryRowContext(ctx, query, append([]any{id}, args...)...).Scan(&policy)
	if errors.Is(err, sql.ErrNoRows) {
		var state string
		err = tx.QueryRowContext(ctx, `SELECT state FROM queue_entries WHERE id = $1`, id).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return queue.Policy{}, fmt.Errorf("%w: %s", queue.ErrEntryNotFound, id)
		}
		if err != nil {
			return queue.Policy{}, fmt.Errorf("failed to read queue entry: %w", err)
		}
		return queue.Policy{}, fmt.Errorf("%w: %s is %s", queue.ErrEntryNotActive, id, state)
	}
	if err != nil {
		return queue.Policy{}, fmt.Errorf("failed to settle queue entry: %w", err)
	}

	var p queue.Policy
	if err := json.Unmarshal(policy, &p); err != nil {
		return queue.Policy{}, fmt.Errorf("failed to decode entry policy: %w", err)
	}
	return p, nil
}

// finish settles an entry as completed or failed and trims that state to
// the entry's retention count.
func (b *QueueBroker) finish(ctx context.Context, id uuid.UUID, state queue.State, cause string) error {
	now := b.now()
	return store.RunInTransaction(ctx, b.db, func(ctx context.Context, tx *sql.Tx) error {
		policy, err := b.settle(ctx, tx, id, `
			UPDATE queue_entries
			SET state = $2, finished_at = $3, lease_until = NULL,
				last_error = CASE WHEN $4 = '' THEN last_error ELSE $4 END
			WHERE id = $1 AND state = 'active'
			RETURNING policy`,
			state, now, cause)
		if err != nil {
			return err
		}

		keep := policy.RetainCompleted
		if state == queue.StateFailed {
			keep = policy.RetainFailed
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM queue_entries
			WHERE id IN (
				SELECT id FROM queue_entries
				WHERE state = $1
				ORDER BY finished_at DESC, created_at DESC
				OFFSET $2
			)`, state, keep)
		if err != nil {
			return fmt.Errorf("failed to trim finished queue entries: %w", err)
		}
		return nil
	})
}

// Ack implements queue.Broker.
func (b *QueueBroker) Ack(ctx context.Context, id uuid.UUID) error {
	return b.finish(ctx, id, queue.StateCompleted, "")
}

// Fail implements queue.Broker.
func (b *QueueBroker) Fail(ctx context.Context, id uuid.UUID, cause string) error {
	return b.finish(ctx, id, queue.StateFailed, cause)
}

// Retry implements queue.Broker.
func (b *QueueBroker) Retry(ctx context.Context, id uuid.UUID, delay time.Duration, cause string) error {
	_, err := b.settle(ctx, b.db, id, `
		UPDATE queue_entries
		SET state = 'waiting', run_at = $2, lease_until = NULL, last_error = $3
		WHERE id = $1 AND state = 'active'
		RETURNING policy`,
		b.now().Add(delay), cause)
	return err
}

// RemoveByJob implements queue.Broker.
func (b *QueueBroker) RemoveByJob(ctx context.Context, jobID uuid.UUID) (int, error) {
	result, err := b.db.ExecContext(ctx,
		`DELETE FROM queue_entries WHERE job_id = $1 AND state = 'waiting'`, jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to remove queue entries: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// HasLive implements queue.Broker.
func (b *QueueBroker) HasLive(ctx context.Context, jobID uuid.UUID) (bool, error) {
	var live bool
	err := b.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM queue_entries
			WHERE job_id = $1 AND state IN ('waiting', 'active')
		)`, jobID).Scan(&live)
	if err != nil {
		return false, fmt.Errorf("failed to check queue entries: %w", err)
	}
	return live, nil
}

// Stats implements queue.Broker.
func (b *QueueBroker) Stats(ctx context.Context) (queue.Stats, error) {
	var s queue.Stats
	err := b.db.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE state = 'waiting' AND run_at <= $1),
			count(*) FILTER (WHERE state = 'active'),
			count(*) FILTER (WHERE state = 'completed'),
			count(*) FILTER (WHERE state = 'failed'),
			count(*) FILTER (WHERE state = 'waiting' AND run_at > $1)
		FROM queue_entries`, b.now()).
		Scan(&s.Waiting, &s.Active, &s.Completed, &s.Failed, &s.Delayed)
	if err != nil {
		return queue.Stats{}, fmt.Errorf("failed to count queue entries: %w", err)
	}
	return s, nil
}

// List implements queue.Broker.
func (b *QueueBroker) List(ctx context.Context, state queue.State, limit int) ([]queue.Entry, error) {
	var (
		where string
		args  []any
	)
	switch state {
	case queue.StateDelayed:
		where, args = `state = 'waiting' AND run_at > $1`, []any{b.now()}
	case queue.StateWaiting:
		where, args = `state = 'waiting' AND run_at <= $1`, []any{b.now()}
	default:
		where, args = `state = $1`, []any{state}
	}
	args = append(args, sql.NullInt64{Int64: int64(limit), Valid: limit > 0})

	rows, err := b.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE `+where+`
		ORDER BY COALESCE(finished_at, created_at) DESC
		LIMIT $2`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []queue.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}
	return out, nil
}
