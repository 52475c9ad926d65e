package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobEvent records one status transition of a job. FromStatus is empty for
// the creation event.
type JobEvent struct {
	JobID      uuid.UUID `json:"job_id"`
	FromStatus JobStatus `json:"from_status,omitempty"`
	ToStatus   JobStatus `json:"to_status"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// NewJobEvent creates an event stamped with the current time.
func NewJobEvent(jobID uuid.UUID, from, to JobStatus, reason string) JobEvent {
	return JobEvent{
		JobID:      jobID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		At:         time.Now().UTC(),
	}
}
