// Package storetest holds behaviour tests shared by every store.JobStore and
// store.TemplateStore implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewJob returns a valid pending job queued under a fresh entry ID.
func NewJob(t *testing.T, userID uuid.UUID) *domain.ReportJob {
	t.Helper()
	scope := "inst-1"
	job, err := domain.NewReportJob(userID, "student-progress", "Student Progress", domain.FormatXLSX,
		domain.JobConfig{Filters: map[string]any{"grade": "7"}}, &scope, 0)
	require.NoError(t, err)
	entryID := uuid.New()
	job.EntryID = &entryID
	return job
}

func statuses(events []domain.JobEvent) []domain.JobStatus {
	out := make([]domain.JobStatus, len(events))
	for i, e := range events {
		out[i] = e.ToStatus
	}
	return out
}

// RunJobStoreTests exercises the conditional-update contract. newStore must
// return an empty store on every call.
func RunJobStoreTests(t *testing.T, newStore func(t *testing.T) store.JobStore) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		job := NewJob(t, uuid.New())
		require.NoError(t, s.Create(ctx, job))

		got, err := s.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, got.Status)
		assert.Equal(t, "7", got.Config.Filters["grade"])
		assert.Equal(t, *job.EntryID, *got.EntryID)

		_, err = s.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrJobNotFound)
		assert.True(t, store.IsNotFoundError(err))
	})

	t.Run("full lifecycle records history", func(t *testing.T) {
		s := newStore(t)
		job := NewJob(t, uuid.New())
		require.NoError(t, s.Create(ctx, job))

		processing, err := s.MarkProcessing(ctx, job.ID, *job.EntryID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusProcessing, processing.Status)
		assert.Equal(t, 1, processing.Attempts)
		require.NotNil(t, processing.StartedAt)

		require.NoError(t, s.Complete(ctx, job.ID, *job.EntryID, "reports/student-progress/inst-1/x.xlsx", 1024))

		got, err := s.GetByID(ctx, job.ID)
		require.NoError(t, err)
		require.NoError(t, got.Validate())
		assert.Equal(t, domain.JobStatusCompleted, got.Status)
		assert.Equal(t, int64(1024), got.FileSize)
		assert.NotNil(t, got.CompletedAt)

		events, err := s.Events(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, []domain.JobStatus{
			domain.JobStatusPending,
			domain.JobStatusProcessing,
			domain.JobStatusCompleted,
		}, statuses(events))
	})

	t.Run("redelivery under same entry is accepted", func(t *testing.T) {
		s := newStore(t)
		job := NewJob(t, uuid.New())
		require.NoError(t, s.Create(ctx, job))

		_, err := s.MarkProcessing(ctx, job.ID, *job.EntryID)
		require.NoError(t, err)
		again, err := s.MarkProcessing(ctx, job.ID, *job.EntryID)
		require.NoError(t, err)
		assert.Equal(t, 2, again.Attempts)

		_, err = s.MarkProcessing(ctx, job.ID, uuid.New())
		assert.ErrorIs(t, err, store.ErrStatusConflict, "foreign entry")
	})

	t.Run("terminal writes require processing", func(t *testing.T) {
		s := newStore(t)
		job := NewJob(t, uuid.New())
		require.NoError(t, s.Create(ctx, job))

		assert.ErrorIs(t, s.Complete(ctx, job.ID, *job.EntryID, "reports/a/b/c.xlsx", 1), store.ErrStatusConflict)
		assert.ErrorIs(t, s.Fail(ctx, job.ID, *job.EntryID, "boom"), store.ErrStatusConflict)

		_, err := s.MarkProcessing(ctx, job.ID, *job.EntryID)
		require.NoError(t, err)
		require.NoError(t, s.Cancel(ctx, job.ID, "Cancelled by user"))

		assert.ErrorIs(t, s.Complete(ctx, job.ID, *job.EntryID, "reports/a/b/c.xlsx", 1), store.ErrStatusConflict)
		_, err = s.MarkProcessing(ctx, job.ID, *job.EntryID)
		assert.ErrorIs(t, err, store.ErrStatusConflict)

		got, err := s.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCancelled, got.Status)
		assert.Nil(t, got.FileReference)
		assert.Nil(t, got.ErrorMessage)
		require.NoError(t, got.Validate())
	})

	t.Run("fail sets message", func(t *testing.T) {
		s := newStore(t)
		job := NewJob(t, uuid.New())
		require.NoError(t, s.Create(ctx, job))
		_, err := s.MarkProcessing(ctx, job.ID, *job.EntryID)
		require.NoError(t, err)
		require.NoError(t, s.Fail(ctx, job.ID, *job.EntryID, "No data found for the given filters"))

		got, err := s.GetByID(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "No data found for the given filters", *got.ErrorMessage)
		assert.Nil(t, got.FileReference)
		assert.ErrorIs(t, s.Cancel(ctx, job.ID, "x"), store.ErrStatusConflict)
	})

	t.Run("requeue resets outcome", func(t *testing.T) {
		s := newStore(t)
		job := NewJob(t, uuid.New())
		require.NoError(t, s.Create(ctx, job))

		assert.ErrorIs(t, s.Requeue(ctx, job.ID, uuid.New(), time.Now().Add(time.Hour)), store.ErrStatusConflict)

		_, err := s.MarkProcessing(ctx, job.ID, *job.EntryID)
		require.NoError(t, err)
		require.NoError(t, s.Fail(ctx, job.ID, *job.EntryID, "boom"))

		newEntry := uuid.New()
		require.NoError(t, s.Requeue(ctx, job.ID, newEntry, time.Now().Add(time.Hour)))

		got, err := s.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, got.Status)
		assert.Nil(t, got.ErrorMessage)
		assert.Equal(t, 0, got.Attempts)
		assert.Equal(t, newEntry, *got.EntryID)

		_, err = s.MarkProcessing(ctx, job.ID, *job.EntryID)
		assert.ErrorIs(t, err, store.ErrStatusConflict, "old entry is stale")
		_, err = s.MarkProcessing(ctx, job.ID, newEntry)
		assert.NoError(t, err)
	})

	t.Run("requeue sets the given expiry every time", func(t *testing.T) {
		s := newStore(t)
		job := NewJob(t, uuid.New())
		require.NoError(t, s.Create(ctx, job))

		ttl := 7 * 24 * time.Hour
		start := time.Now().UTC().Truncate(time.Millisecond)
		for _, day := range []int{3, 6, 9} {
			require.NoError(t, s.Cancel(ctx, job.ID, "Cancelled by user"))

			retriedAt := start.Add(time.Duration(day) * 24 * time.Hour)
			require.NoError(t, s.Requeue(ctx, job.ID, uuid.New(), retriedAt.Add(ttl)))

			got, err := s.GetByID(ctx, job.ID)
			require.NoError(t, err)
			assert.WithinDuration(t, retriedAt.Add(ttl), got.ExpiresAt, time.Millisecond, "retry on day %d", day)
		}
	})

	t.Run("delete only terminal", func(t *testing.T) {
		s := newStore(t)
		job := NewJob(t, uuid.New())
		require.NoError(t, s.Create(ctx, job))

		assert.ErrorIs(t, s.Delete(ctx, job.ID), store.ErrStatusConflict)
		require.NoError(t, s.Cancel(ctx, job.ID, "Cancelled by user"))
		require.NoError(t, s.Delete(ctx, job.ID))

		_, err := s.GetByID(ctx, job.ID)
		assert.ErrorIs(t, err, store.ErrJobNotFound)
		assert.ErrorIs(t, s.Delete(ctx, job.ID), store.ErrJobNotFound)
	})

	t.Run("list by user pages newest first", func(t *testing.T) {
		s := newStore(t)
		userID := uuid.New()
		var ids []uuid.UUID
		for i := 0; i < 5; i++ {
			job := NewJob(t, userID)
			job.CreatedAt = job.CreatedAt.Add(time.Duration(i) * time.Second)
			require.NoError(t, s.Create(ctx, job))
			ids = append(ids, job.ID)
		}
		require.NoError(t, s.Create(ctx, NewJob(t, uuid.New())))

		page, total, err := s.ListByUser(ctx, userID, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, page, 2)
		assert.Equal(t, ids[4], page[0].ID)
		assert.Equal(t, ids[3], page[1].ID)

		page, _, err = s.ListByUser(ctx, userID, 2, 4)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, ids[0], page[0].ID)

		page, _, err = s.ListByUser(ctx, userID, 2, 10)
		require.NoError(t, err)
		assert.Empty(t, page)
	})

	t.Run("sweeps", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC()

		expired := NewJob(t, uuid.New())
		expired.ExpiresAt = now.Add(-time.Minute)
		require.NoError(t, s.Create(ctx, expired))

		live := NewJob(t, uuid.New())
		require.NoError(t, s.Create(ctx, live))

		removed, err := s.DeleteExpired(ctx, now)
		require.NoError(t, err)
		require.Len(t, removed, 1)
		assert.Equal(t, expired.ID, removed[0].ID)

		_, err = s.MarkProcessing(ctx, live.ID, *live.EntryID)
		require.NoError(t, err)

		n, err := s.FailStale(ctx, now.Add(-time.Hour), "timed out")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n, "just started")

		n, err = s.FailStale(ctx, now.Add(time.Hour), "timed out")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		removed, err = s.DeleteTerminalBefore(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, removed, "failed just now")

		removed, err = s.DeleteTerminalBefore(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, removed, 1)
		assert.Equal(t, live.ID, removed[0].ID)
	})

	t.Run("pending before", func(t *testing.T) {
		s := newStore(t)
		old := NewJob(t, uuid.New())
		old.CreatedAt = time.Now().UTC().Add(-10 * time.Minute)
		require.NoError(t, s.Create(ctx, old))
		require.NoError(t, s.Create(ctx, NewJob(t, uuid.New())))

		pending, err := s.ListPendingBefore(ctx, time.Now().UTC().Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, old.ID, pending[0].ID)
	})
}

// RunTemplateStoreTests exercises visibility and deletion.
func RunTemplateStoreTests(t *testing.T, newStore func(t *testing.T) store.TemplateStore) {
	ctx := context.Background()

	t.Run("visibility", func(t *testing.T) {
		s := newStore(t)
		owner, other := uuid.New(), uuid.New()

		private, err := domain.NewTemplate(owner, "Mine", "student-progress", domain.JobConfig{Columns: []string{"student_name"}}, false)
		require.NoError(t, err)
		public, err := domain.NewTemplate(other, "Shared", "student-progress", domain.JobConfig{}, true)
		require.NoError(t, err)
		hidden, err := domain.NewTemplate(other, "Theirs", "student-progress", domain.JobConfig{}, false)
		require.NoError(t, err)
		otherType, err := domain.NewTemplate(owner, "Staff", "staff-directory", domain.JobConfig{}, false)
		require.NoError(t, err)

		for _, tpl := range []*domain.Template{private, public, hidden, otherType} {
			require.NoError(t, s.Create(ctx, tpl))
		}

		visible, err := s.ListVisible(ctx, owner, "student-progress")
		require.NoError(t, err)
		names := make([]string, 0, len(visible))
		for _, v := range visible {
			names = append(names, v.Name)
		}
		assert.ElementsMatch(t, []string{"Mine", "Shared"}, names)

		all, err := s.ListVisible(ctx, owner, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		got, err := s.GetByID(ctx, private.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"student_name"}, got.Config.Columns)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		tpl, err := domain.NewTemplate(uuid.New(), "T", "student-progress", domain.JobConfig{}, false)
		require.NoError(t, err)
		require.NoError(t, s.Create(ctx, tpl))

		require.NoError(t, s.Delete(ctx, tpl.ID))
		assert.ErrorIs(t, s.Delete(ctx, tpl.ID), store.ErrTemplateNotFound)
		_, err = s.GetByID(ctx, tpl.ID)
		assert.ErrorIs(t, err, store.ErrTemplateNotFound)
	})
}
