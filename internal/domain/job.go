package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a report job
type JobStatus string

// Possible job status values
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// DefaultJobTTL is how long a job record is kept before the reaper removes it.
const DefaultJobTTL = 7 * 24 * time.Hour

// transitions lists the permitted next states for each status.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusFailed:     {JobStatusPending},
	JobStatusCancelled:  {JobStatusPending},
	JobStatusCompleted:  nil,
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no worker will touch a job in this status again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsActive reports whether the job is queued or being generated.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ReportJob is one durable request to materialize a report.
// FileReference is set only while completed and ErrorMessage only while failed.
type ReportJob struct {
	ID            uuid.UUID  `json:"id"`
	ReportType    string     `json:"report_type"`
	Name          string     `json:"name"`
	Config        JobConfig  `json:"config"`
	Format        Format     `json:"format"`
	Status        JobStatus  `json:"status"`
	FileReference *string    `json:"file_reference,omitempty"`
	FileSize      int64      `json:"file_size,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	RequestedBy   uuid.UUID  `json:"requested_by"`
	Scope         *string    `json:"scope,omitempty"`
	EntryID       *uuid.UUID `json:"-"`
	Attempts      int        `json:"attempts"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// NewReportJob creates a pending job owned by userID. ttl <= 0 uses DefaultJobTTL.
func NewReportJob(
	userID uuid.UUID,
	reportType string,
	name string,
	format Format,
	cfg JobConfig,
	scope *string,
	ttl time.Duration,
) (*ReportJob, error) {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	now := time.Now().UTC()

	job := &ReportJob{
		ID:          uuid.New(),
		ReportType:  reportType,
		Name:        name,
		Config:      cfg,
		Format:      format,
		Status:      JobStatusPending,
		RequestedBy: userID,
		Scope:       scope,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks field presence and the result/error invariants.
func (j *ReportJob) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}
	if j.RequestedBy == uuid.Nil {
		return ErrEmptyJobUserID
	}
	if j.ReportType == "" {
		return ErrEmptyReportType
	}
	if !j.Status.Valid() {
		return ErrInvalidJobStatus
	}
	if _, err := ParseFormat(string(j.Format)); err != nil {
		return err
	}

	switch {
	case j.Status == JobStatusCompleted && j.FileReference == nil:
		return ErrMissingResult
	case j.Status != JobStatusCompleted && j.FileReference != nil:
		return ErrResultWithoutStatus
	case j.Status == JobStatusFailed && j.ErrorMessage == nil:
		return ErrMissingError
	case j.Status != JobStatusFailed && j.ErrorMessage != nil:
		return ErrErrorWithoutStatus
	}

	return nil
}

// IsOwnedBy reports whether userID requested the job.
func (j *ReportJob) IsOwnedBy(userID uuid.UUID) bool {
	return j.RequestedBy == userID
}

// ScopeOrGlobal returns the scope value used in blob keys.
func (j *ReportJob) ScopeOrGlobal() string {
	if j.Scope == nil || *j.Scope == "" {
		return "global"
	}
	return *j.Scope
}

// JobSnapshot is the client-facing status view of a job.
type JobSnapshot struct {
	ID           uuid.UUID  `json:"id"`
	ReportType   string     `json:"report_type"`
	Name         string     `json:"name"`
	Format       Format     `json:"format"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	HasFile      bool       `json:"has_file"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	Attempts     int        `json:"attempts"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

// Snapshot returns the status view of the job.
func (j *ReportJob) Snapshot() JobSnapshot {
	return JobSnapshot{
		ID:           j.ID,
		ReportType:   j.ReportType,
		Name:         j.Name,
		Format:       j.Format,
		Status:       j.Status,
		Progress:     progressFor(j.Status),
		HasFile:      j.FileReference != nil,
		ErrorMessage: j.ErrorMessage,
		Attempts:     j.Attempts,
		CreatedAt:    j.CreatedAt,
		CompletedAt:  j.CompletedAt,
		ExpiresAt:    j.ExpiresAt,
	}
}

// progressFor maps a status to a coarse percentage for polling clients.
func progressFor(s JobStatus) int {
	switch s {
	case JobStatusProcessing:
		return 50
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return 100
	default:
		return 0
	}
}

// Clone returns a deep copy of the job.
func (j *ReportJob) Clone() *ReportJob {
	c := *j
	c.Config = j.Config.Clone()
	c.FileReference = clonePtr(j.FileReference)
	c.ErrorMessage = clonePtr(j.ErrorMessage)
	c.Scope = clonePtr(j.Scope)
	c.EntryID = clonePtr(j.EntryID)
	c.StartedAt = clonePtr(j.StartedAt)
	c.CompletedAt = clonePtr(j.CompletedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
