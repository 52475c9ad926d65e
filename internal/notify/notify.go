package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/domain"
)

// Notification is one message for one user.
type Notification struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// UnmarshalPayload decodes the payload into v.
func (n *Notification) UnmarshalPayload(v any) error {
	return json.Unmarshal(n.Payload, v)
}

// Sink accepts notifications for delivery.
type Sink interface {
	Notify(ctx context.Context, userID uuid.UUID, message string, payload any) error
}

// Handler delivers a notification through one channel.
type Handler interface {
	HandleNotification(ctx context.Context, n *Notification) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, n *Notification) error

// HandleNotification implements Handler.
func (f HandlerFunc) HandleNotification(ctx context.Context, n *Notification) error {
	return f(ctx, n)
}

// JobPayload is attached to job notifications.
type JobPayload struct {
	JobID      uuid.UUID        `json:"job_id"`
	ReportType string           `json:"report_type"`
	Status     domain.JobStatus `json:"status"`
	Format     domain.Format    `json:"format"`
	FileSize   int64            `json:"file_size,omitempty"`
}

// CompletionMessage is the text sent when a report is ready.
func CompletionMessage(job *domain.ReportJob) (string, JobPayload) {
	msg := fmt.Sprintf("Your %s report is ready (%s)", job.Name, humanize.Bytes(uint64(max(job.FileSize, 0))))
	return msg, payloadFor(job)
}

// FailureMessage is the text sent when a report could not be generated.
func FailureMessage(job *domain.ReportJob) (string, JobPayload) {
	return fmt.Sprintf("Your %s report could not be generated", job.Name), payloadFor(job)
}

func payloadFor(job *domain.ReportJob) JobPayload {
	return JobPayload{
		JobID:      job.ID,
		ReportType: job.ReportType,
		Status:     job.Status,
		Format:     job.Format,
		FileSize:   job.FileSize,
	}
}
