package api

import (
	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/catalog"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/queue"
)

// CreateJobRequest is the payload of POST /jobs and POST /jobs/sync.
type CreateJobRequest struct {
	ReportType string           `json:"report_type" validate:"required,max=100"`
	Name       string           `json:"name"        validate:"max=200"`
	Format     string           `json:"format"      validate:"required"`
	Config     domain.JobConfig `json:"config"`
	Scope      *string          `json:"scope,omitempty" validate:"omitempty,max=100"`
}

// CreateJobResponse is returned when a job is accepted.
type CreateJobResponse struct {
	JobID uuid.UUID `json:"job_id"`
}

// JobActionResponse is returned by cancel and retry.
type JobActionResponse struct {
	JobID  uuid.UUID        `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

// SaveTemplateRequest is the payload of POST /templates.
type SaveTemplateRequest struct {
	Name       string           `json:"name"        validate:"required,max=200"`
	ReportType string           `json:"report_type" validate:"required,max=100"`
	Config     domain.JobConfig `json:"config"`
	IsPublic   bool             `json:"is_public"`
}

// CatalogResponse lists visible report types by category.
type CatalogResponse struct {
	Categories []catalog.CatalogGroup `json:"categories"`
}

// FilterValuesResponse lists the options of a dynamic filter.
type FilterValuesResponse struct {
	Options []catalog.Option `json:"options"`
}

// TemplatesResponse lists templates.
type TemplatesResponse struct {
	Templates []*domain.Template `json:"templates"`
}

// QueueEntriesResponse lists queue entries.
type QueueEntriesResponse struct {
	Entries []queue.Entry `json:"entries"`
}
