package cleanup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/blob"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/platform/logger"
	"github.com/phrazzld/report-api/internal/platform/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T, cfg Config) (*Scheduler, *memory.JobStore, *blob.MemoryStore) {
	t.Helper()
	jobs := memory.NewJobStore()
	jobs.SetClock(func() time.Time { return now })
	blobs := blob.NewMemoryStore()

	s := NewScheduler(jobs, blobs, cfg, logger.Discard())
	s.now = func() time.Time { return now }
	return s, jobs, blobs
}

func putJob(t *testing.T, jobs *memory.JobStore, mutate func(j *domain.ReportJob)) *domain.ReportJob {
	t.Helper()
	j, err := domain.NewReportJob(uuid.New(), "student-progress", "", domain.FormatCSV, domain.JobConfig{}, nil, 0)
	require.NoError(t, err)
	j.CreatedAt = now.Add(-time.Hour)
	j.UpdatedAt = j.CreatedAt
	j.ExpiresAt = now.Add(time.Hour)
	mutate(j)
	jobs.Put(j)
	return j
}

func processingSince(ago time.Duration) func(j *domain.ReportJob) {
	return func(j *domain.ReportJob) {
		started := now.Add(-ago)
		j.Status = domain.JobStatusProcessing
		j.StartedAt = &started
	}
}

func TestSweepStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, jobs, _ := newScheduler(t, Config{})

	stuck := putJob(t, jobs, processingSince(61*time.Minute))
	busy := putJob(t, jobs, processingSince(59*time.Minute))
	pending := putJob(t, jobs, func(*domain.ReportJob) {})

	n, err := s.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := jobs.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "Job timed out after 1h0m0s in processing", *got.ErrorMessage)

	got, err = jobs.GetByID(ctx, busy.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)

	got, err = jobs.GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, jobs, blobs := newScheduler(t, Config{})

	expired := putJob(t, jobs, func(j *domain.ReportJob) {
		obj, err := blobs.Put(ctx, []byte("x"), blob.KeyHints{
			ReportType: j.ReportType, JobID: j.ID, Format: j.Format, CreatedAt: j.CreatedAt,
		})
		require.NoError(t, err)
		j.Status = domain.JobStatusCompleted
		j.FileReference = &obj.Key
		j.ExpiresAt = now
	})
	live := putJob(t, jobs, func(*domain.ReportJob) {})

	n, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, blobs.Has(*expired.FileReference))

	_, err = jobs.GetByID(ctx, live.ID)
	assert.NoError(t, err)
}

func TestSweepExpired_SkipsInvalidReferences(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, jobs, blobs := newScheduler(t, Config{})

	putJob(t, jobs, func(j *domain.ReportJob) {
		ref := "../../etc/passwd"
		j.Status = domain.JobStatusCompleted
		j.FileReference = &ref
		j.ExpiresAt = now.Add(-time.Minute)
	})

	n, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, blobs.Calls())
}

func TestSweepTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, jobs, _ := newScheduler(t, Config{})

	aged := func(status domain.JobStatus, age time.Duration) func(j *domain.ReportJob) {
		return func(j *domain.ReportJob) {
			j.Status = status
			j.UpdatedAt = now.Add(-age)
			if status == domain.JobStatusFailed {
				msg := "boom"
				j.ErrorMessage = &msg
			}
			if status == domain.JobStatusCompleted {
				ref := "reports/student-progress/global/x.csv"
				j.FileReference = &ref
			}
		}
	}
	oldFailed := putJob(t, jobs, aged(domain.JobStatusFailed, 31*24*time.Hour))
	oldCancelled := putJob(t, jobs, aged(domain.JobStatusCancelled, 31*24*time.Hour))
	recentCancelled := putJob(t, jobs, aged(domain.JobStatusCancelled, 29*24*time.Hour))
	oldCompleted := putJob(t, jobs, aged(domain.JobStatusCompleted, 31*24*time.Hour))

	n, err := s.SweepTerminal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []uuid.UUID{oldFailed.ID, oldCancelled.ID} {
		_, err := jobs.GetByID(ctx, id)
		assert.Error(t, err)
	}
	for _, id := range []uuid.UUID{recentCancelled.ID, oldCompleted.ID} {
		_, err := jobs.GetByID(ctx, id)
		assert.NoError(t, err)
	}
}

type countingRecoverer struct {
	calls atomic.Int32
}

func (c *countingRecoverer) RecoverOrphans(context.Context, time.Duration) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestScheduler_Run(t *testing.T) {
	t.Parallel()
	s, jobs, _ := newScheduler(t, Config{
		StaleInterval:  5 * time.Millisecond,
		OrphanInterval: 5 * time.Millisecond,
		OrphanAge:      time.Minute,
	})
	rec := &countingRecoverer{}
	s.WithOrphanRecovery(rec)

	stuck := putJob(t, jobs, processingSince(2*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool {
		got, err := jobs.GetByID(context.Background(), stuck.ID)
		return err == nil && got.Status == domain.JobStatusFailed
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return rec.calls.Load() > 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
