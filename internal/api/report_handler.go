package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/report-api/internal/api/shared"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/platform/logger"
	"github.com/phrazzld/report-api/internal/service"
)

// ReportHandler serves the /api/reports surface.
type ReportHandler struct {
	reports   service.ReportService
	templates service.TemplateService
	logger    *slog.Logger
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(reports service.ReportService, templates service.TemplateService, logger *slog.Logger) *ReportHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for ReportHandler")
	}
	return &ReportHandler{
		reports:   reports,
		templates: templates,
		logger:    logger.With(slog.String("component", "report_handler")),
	}
}

// Routes returns the report routes. Every route expects an authenticated
// caller. enqueueLimit, when non-nil, wraps the routes that create queue work.
func (h *ReportHandler) Routes(enqueueLimit func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/catalog", h.ListCatalog)
	r.Get("/catalog/{type}", h.GetDefinition)
	r.Get("/catalog/{type}/filters/{filterId}/values", h.GetFilterValues)

	r.Get("/templates", h.ListTemplates)
	r.Post("/templates", h.SaveTemplate)
	r.Delete("/templates/{id}", h.DeleteTemplate)

	r.Group(func(r chi.Router) {
		if enqueueLimit != nil {
			r.Use(enqueueLimit)
		}
		r.Post("/jobs", h.CreateJob)
		r.Post("/jobs/sync", h.CreateJobSync)
		r.Post("/jobs/{id}/retry", h.RetryJob)
	})
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{id}", h.GetJob)
	r.Get("/jobs/{id}/status", h.GetJobStatus)
	r.Get("/jobs/{id}/download", h.DownloadJob)
	r.Post("/jobs/{id}/cancel", h.CancelJob)
	r.Delete("/jobs/{id}", h.DeleteJob)

	r.Get("/queue/stats", h.QueueStats)
	r.Get("/queue/active", h.ActiveEntries)
	r.Get("/queue/failed", h.FailedEntries)

	return r
}

func (h *ReportHandler) enqueueRequest(req CreateJobRequest, identity shared.Identity) service.EnqueueRequest {
	return service.EnqueueRequest{
		ReportType: req.ReportType,
		Name:       req.Name,
		Format:     domain.Format(req.Format),
		Config:     req.Config,
		Scope:      req.Scope,
		Roles:      identity.Roles,
	}
}

// CreateJob handles POST /jobs. It answers 202 with the new job's ID.
func (h *ReportHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req CreateJobRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	jobID, err := h.reports.Enqueue(r.Context(), identity.UserID, h.enqueueRequest(req, identity))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to queue report")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, CreateJobResponse{JobID: jobID})
}

// CreateJobSync handles POST /jobs/sync. The job is queued like CreateJob
// and the response carries its snapshot instead of the bare ID.
func (h *ReportHandler) CreateJobSync(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req CreateJobRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	snap, err := h.reports.GenerateSync(r.Context(), identity.UserID, h.enqueueRequest(req, identity))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to queue report")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, snap)
}

// ListJobs handles GET /jobs?page=&limit=.
func (h *ReportHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	page, err := shared.QueryInt(r, "page", 1)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid page", err)
		return
	}
	limit, err := shared.QueryInt(r, "limit", service.DefaultPageSize)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	result, err := h.reports.ListHistory(r.Context(), identity.UserID, page, limit)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list jobs")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

// GetJob handles GET /jobs/{id} and returns the full record.
func (h *ReportHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	identity, jobID, ok := handleIdentityAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	job, err := h.reports.GetJob(r.Context(), jobID, identity.UserID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get job")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, job)
}

// GetJobStatus handles GET /jobs/{id}/status.
func (h *ReportHandler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	_, jobID, ok := handleIdentityAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	snap, err := h.reports.GetStatus(r.Context(), jobID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get job status")
		return
	}
	if snap == nil {
		shared.RespondWithError(w, r, http.StatusNotFound, "Job not found")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, snap)
}

// DownloadJob handles GET /jobs/{id}/download.
func (h *ReportHandler) DownloadJob(w http.ResponseWriter, r *http.Request) {
	identity, jobID, ok := handleIdentityAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	dl, err := h.reports.Download(r.Context(), jobID, identity.UserID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to download report")
		return
	}
	logger.FromContextOrDefault(r.Context(), h.logger).Debug("serving report download",
		slog.String("job_id", jobID.String()),
		slog.Int("size", len(dl.Data)))
	shared.RespondWithFile(w, r, dl.Filename, dl.ContentType, dl.Data)
}

// CancelJob handles POST /jobs/{id}/cancel.
func (h *ReportHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	identity, jobID, ok := handleIdentityAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.reports.Cancel(r.Context(), jobID, identity.UserID); err != nil {
		HandleAPIError(w, r, err, "Failed to cancel job")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, JobActionResponse{JobID: jobID, Status: domain.JobStatusCancelled})
}

// RetryJob handles POST /jobs/{id}/retry.
func (h *ReportHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	identity, jobID, ok := handleIdentityAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.reports.Retry(r.Context(), jobID, identity.UserID); err != nil {
		HandleAPIError(w, r, err, "Failed to retry job")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, JobActionResponse{JobID: jobID, Status: domain.JobStatusPending})
}

// DeleteJob handles DELETE /jobs/{id}.
func (h *ReportHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	identity, jobID, ok := handleIdentityAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.reports.Delete(r.Context(), jobID, identity.UserID); err != nil {
		HandleAPIError(w, r, err, "Failed to delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
