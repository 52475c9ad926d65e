// Package memory provides in-process implementations of the store
// interfaces. They back tests and single-node development deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/store"
)

// JobStore keeps jobs and their status history in maps guarded by one mutex,
// which makes every conditional update atomic.
type JobStore struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*domain.ReportJob
	events map[uuid.UUID][]domain.JobEvent
	now    func() time.Time
}

var _ store.JobStore = (*JobStore)(nil)

// NewJobStore returns an empty store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:   make(map[uuid.UUID]*domain.ReportJob),
		events: make(map[uuid.UUID][]domain.JobEvent),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the store's time source. Intended for tests.
func (s *JobStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Put overwrites a job without any checks. Intended for test fixtures that
// need a record in an arbitrary state.
func (s *JobStore) Put(job *domain.ReportJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
}

func (s *JobStore) record(job *domain.ReportJob, from domain.JobStatus, reason string) {
	ev := domain.NewJobEvent(job.ID, from, job.Status, reason)
	ev.At = job.UpdatedAt
	s.events[job.ID] = append(s.events[job.ID], ev)
}

// get returns the live record for id.
func (s *JobStore) get(id uuid.UUID) (*domain.ReportJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return job, nil
}

func conflict(job *domain.ReportJob, op string) error {
	return fmt.Errorf("%w: cannot %s job in status %s", store.ErrStatusConflict, op, job.Status)
}

func claimedBy(job *domain.ReportJob, entryID uuid.UUID) bool {
	return job.EntryID == nil || *job.EntryID == entryID
}

// Create implements store.JobStore.
func (s *JobStore) Create(_ context.Context, job *domain.ReportJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: report job %s", store.ErrDuplicate, job.ID)
	}
	c := job.Clone()
	s.jobs[job.ID] = c
	s.record(c, "", "created")
	return nil
}

// GetByID implements store.JobStore.
func (s *JobStore) GetByID(_ context.Context, id uuid.UUID) (*domain.ReportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// ListByUser implements store.JobStore.
func (s *JobStore) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*domain.ReportJob, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var owned []*domain.ReportJob
	for _, j := range s.jobs {
		if j.RequestedBy == userID {
			owned = append(owned, j)
		}
	}
	sort.Slice(owned, func(a, b int) bool {
		if owned[a].CreatedAt.Equal(owned[b].CreatedAt) {
			return owned[a].ID.String() > owned[b].ID.String()
		}
		return owned[a].CreatedAt.After(owned[b].CreatedAt)
	})

	total := len(owned)
	if offset >= total {
		return []*domain.ReportJob{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	page := make([]*domain.ReportJob, 0, end-offset)
	for _, j := range owned[offset:end] {
		page = append(page, j.Clone())
	}
	return page, total, nil
}

// MarkProcessing implements store.JobStore.
func (s *JobStore) MarkProcessing(_ context.Context, id, entryID uuid.UUID) (*domain.ReportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if !claimedBy(job, entryID) {
		return nil, fmt.Errorf("%w: job %s was requeued under another entry", store.ErrStatusConflict, id)
	}

	now := s.now()
	switch job.Status {
	case domain.JobStatusPending:
		job.Status = domain.JobStatusProcessing
		job.StartedAt = &now
		job.Attempts++
		job.UpdatedAt = now
		s.record(job, domain.JobStatusPending, fmt.Sprintf("attempt %d", job.Attempts))
	case domain.JobStatusProcessing:
		job.StartedAt = &now
		job.Attempts++
		job.UpdatedAt = now
	default:
		return nil, conflict(job, "process")
	}
	return job.Clone(), nil
}

// Complete implements store.JobStore.
func (s *JobStore) Complete(_ context.Context, id, entryID uuid.UUID, fileRef string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.get(id)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusProcessing || !claimedBy(job, entryID) {
		return conflict(job, "complete")
	}

	now := s.now()
	job.Status = domain.JobStatusCompleted
	job.FileReference = &fileRef
	job.FileSize = size
	job.CompletedAt = &now
	job.UpdatedAt = now
	s.record(job, domain.JobStatusProcessing, "")
	return nil
}

// Fail implements store.JobStore.
func (s *JobStore) Fail(_ context.Context, id, entryID uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.get(id)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusProcessing || !claimedBy(job, entryID) {
		return conflict(job, "fail")
	}

	s.fail(job, message)
	return nil
}

func (s *JobStore) fail(job *domain.ReportJob, message string) {
	now := s.now()
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = &message
	job.CompletedAt = &now
	job.UpdatedAt = now
	s.record(job, domain.JobStatusProcessing, message)
}

// Cancel implements store.JobStore.
func (s *JobStore) Cancel(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.get(id)
	if err != nil {
		return err
	}
	if !job.Status.CanTransitionTo(domain.JobStatusCancelled) {
		return conflict(job, "cancel")
	}

	from := job.Status
	now := s.now()
	job.Status = domain.JobStatusCancelled
	job.CompletedAt = &now
	job.UpdatedAt = now
	s.record(job, from, reason)
	return nil
}

// Requeue implements store.JobStore.
func (s *JobStore) Requeue(_ context.Context, id, entryID uuid.UUID, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.get(id)
	if err != nil {
		return err
	}
	if !job.Status.CanTransitionTo(domain.JobStatusPending) {
		return conflict(job, "retry")
	}

	from := job.Status
	now := s.now()
	job.Status = domain.JobStatusPending
	job.EntryID = &entryID
	job.ErrorMessage = nil
	job.FileReference = nil
	job.FileSize = 0
	job.Attempts = 0
	job.StartedAt = nil
	job.CompletedAt = nil
	job.UpdatedAt = now
	job.ExpiresAt = expiresAt.UTC()
	s.record(job, from, "retry requested")
	return nil
}

// Delete implements store.JobStore.
func (s *JobStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.get(id)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return conflict(job, "delete")
	}
	delete(s.jobs, id)
	delete(s.events, id)
	return nil
}

// FailStale implements store.JobStore.
func (s *JobStore) FailStale(_ context.Context, startedBefore time.Time, message string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusProcessing && job.StartedAt != nil && job.StartedAt.Before(startedBefore) {
			s.fail(job, message)
			n++
		}
	}
	return n, nil
}

// DeleteExpired implements store.JobStore.
func (s *JobStore) DeleteExpired(_ context.Context, now time.Time) ([]*domain.ReportJob, error) {
	return s.deleteWhere(func(j *domain.ReportJob) bool {
		return !j.ExpiresAt.After(now)
	}), nil
}

// DeleteTerminalBefore implements store.JobStore.
func (s *JobStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) ([]*domain.ReportJob, error) {
	return s.deleteWhere(func(j *domain.ReportJob) bool {
		return (j.Status == domain.JobStatusFailed || j.Status == domain.JobStatusCancelled) &&
			j.UpdatedAt.Before(cutoff)
	}), nil
}

func (s *JobStore) deleteWhere(match func(*domain.ReportJob) bool) []*domain.ReportJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*domain.ReportJob
	for id, job := range s.jobs {
		if match(job) {
			removed = append(removed, job)
			delete(s.jobs, id)
			delete(s.events, id)
		}
	}
	return removed
}

// ListPendingBefore implements store.JobStore.
func (s *JobStore) ListPendingBefore(_ context.Context, cutoff time.Time) ([]*domain.ReportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.ReportJob
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusPending && job.CreatedAt.Before(cutoff) {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

// Events implements store.JobStore.
func (s *JobStore) Events(_ context.Context, id uuid.UUID) ([]domain.JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(id); err != nil {
		return nil, err
	}
	return append([]domain.JobEvent(nil), s.events[id]...), nil
}
