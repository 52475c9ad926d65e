package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/domain"
)

// State is the broker-side state of an entry.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	// StateDelayed is a view over waiting entries whose RunAt is in the future.
	// It is accepted by List but never stored.
	StateDelayed State = "delayed"
)

// DefaultLease is how long a claimed entry stays invisible to other
// consumers before it is considered abandoned and redelivered.
const DefaultLease = 15 * time.Minute

var (
	// ErrEntryNotFound is returned when an entry ID is unknown to the broker.
	ErrEntryNotFound = errors.New("queue entry not found")

	// ErrEntryNotActive is returned when settling an entry that is not claimed.
	ErrEntryNotActive = errors.New("queue entry is not active")

	// ErrDuplicateEntry is returned when pushing an entry ID twice.
	ErrDuplicateEntry = errors.New("queue entry already exists")
)

// Entry is one unit of work for one job attempt series.
type Entry struct {
	ID          uuid.UUID        `json:"id"`
	JobID       uuid.UUID        `json:"job_id"`
	ReportType  string           `json:"report_type"`
	Config      domain.JobConfig `json:"config"`
	Format      domain.Format    `json:"format"`
	Scope       *string          `json:"scope,omitempty"`
	RequestedBy uuid.UUID        `json:"requested_by"`
	Policy      Policy           `json:"policy"`

	State      State      `json:"state"`
	Attempt    int        `json:"attempt"`
	RunAt      time.Time  `json:"run_at"`
	LeaseUntil *time.Time `json:"lease_until,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewEntry builds a waiting entry for a job, ready to run immediately.
func NewEntry(job *domain.ReportJob, policy Policy) Entry {
	id := uuid.New()
	if job.EntryID != nil {
		id = *job.EntryID
	}
	now := time.Now().UTC()
	return Entry{
		ID:          id,
		JobID:       job.ID,
		ReportType:  job.ReportType,
		Config:      job.Config,
		Format:      job.Format,
		Scope:       job.Scope,
		RequestedBy: job.RequestedBy,
		Policy:      policy,
		State:       StateWaiting,
		RunAt:       now,
		CreatedAt:   now,
	}
}

// Exhausted reports whether the current delivery is the last one the policy allows.
func (e *Entry) Exhausted() bool {
	return e.Attempt >= e.Policy.MaxAttempts
}

// Stats counts entries per state. Error is set when the broker could not be
// queried, in which case every counter is zero.
type Stats struct {
	Waiting   int    `json:"waiting"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Delayed   int    `json:"delayed"`
	Error     string `json:"error,omitempty"`
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so the pool fails the entry without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// IsFinal reports whether a failed delivery of e settles the entry as failed.
func IsFinal(e *Entry, err error) bool {
	return IsPermanent(err) || e.Exhausted()
}

func (e *Entry) String() string {
	return fmt.Sprintf("entry %s (job %s, attempt %d/%d)", e.ID, e.JobID, e.Attempt, e.Policy.MaxAttempts)
}
