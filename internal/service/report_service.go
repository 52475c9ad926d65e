package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/blob"
	"github.com/phrazzld/report-api/internal/catalog"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/platform/logger"
	"github.com/phrazzld/report-api/internal/queue"
	"github.com/phrazzld/report-api/internal/redact"
	"github.com/phrazzld/report-api/internal/store"
)

// CancelReason is recorded in the status history of user-cancelled jobs.
const CancelReason = "Cancelled by user"

// History page size bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Introspection list sizes.
const (
	activeListLimit = 100
	failedListLimit = 50
)

// EnqueueRequest describes one report generation request.
type EnqueueRequest struct {
	ReportType string
	Name       string
	Format     domain.Format
	Config     domain.JobConfig
	Scope      *string
	// Roles are the caller's raw role strings. The report type must be
	// visible to them.
	Roles []string
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Download is a report file ready to be served.
type Download struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ReportService is the job lifecycle orchestrator.
type ReportService interface {
	// ListCatalog returns the report types visible to the caller, grouped by category.
	ListCatalog(roles []string) []catalog.CatalogGroup

	// GetDefinition returns the schema of a visible report type.
	GetDefinition(reportType string, roles []string) (catalog.Definition, error)

	// ResolveFilterValues returns the options of a dynamic filter.
	ResolveFilterValues(ctx context.Context, reportType, filterID, scope string, roles []string) ([]catalog.Option, error)

	// Enqueue creates a pending job and queues it for generation.
	Enqueue(ctx context.Context, userID uuid.UUID, req EnqueueRequest) (uuid.UUID, error)

	// GenerateSync creates and queues a job like Enqueue and returns its
	// snapshot reported as processing. It does not wait for the file.
	GenerateSync(ctx context.Context, userID uuid.UUID, req EnqueueRequest) (*domain.JobSnapshot, error)

	// GetStatus returns the job's snapshot, or nil when the job does not exist.
	GetStatus(ctx context.Context, jobID uuid.UUID) (*domain.JobSnapshot, error)

	// GetJob returns the full record of a job owned by userID.
	GetJob(ctx context.Context, jobID, userID uuid.UUID) (*domain.ReportJob, error)

	// ListHistory returns the user's jobs, newest first.
	ListHistory(ctx context.Context, userID uuid.UUID, page, limit int) (Page[domain.JobSnapshot], error)

	// Cancel stops a pending or processing job.
	Cancel(ctx context.Context, jobID, userID uuid.UUID) error

	// Retry re-queues a failed or cancelled job under a new queue entry.
	Retry(ctx context.Context, jobID, userID uuid.UUID) error

	// Delete removes a terminal job and its file.
	Delete(ctx context.Context, jobID, userID uuid.UUID) error

	// QueueStats counts queue entries. Broker failures are reported in
	// Stats.Error with zeroed counters.
	QueueStats(ctx context.Context) queue.Stats

	// ActiveEntries lists the entries currently being processed.
	ActiveEntries(ctx context.Context) ([]queue.Entry, error)

	// FailedEntries lists the most recently failed entries.
	FailedEntries(ctx context.Context) ([]queue.Entry, error)

	// Download returns the file of a completed job owned by userID.
	Download(ctx context.Context, jobID, userID uuid.UUID) (*Download, error)

	// RecoverOrphans re-queues pending jobs older than olderThan that have
	// no live queue entry and returns how many were re-queued.
	RecoverOrphans(ctx context.Context, olderThan time.Duration) (int, error)
}

// ReportServiceOptions tunes job creation.
type ReportServiceOptions struct {
	// Policy is attached to every queue entry. Zero selects queue.DefaultPolicy.
	Policy queue.Policy

	// JobTTL is how long job records live. Zero selects domain.DefaultJobTTL.
	JobTTL time.Duration
}

type reportServiceImpl struct {
	jobs     store.JobStore
	broker   queue.Broker
	catalog  *catalog.Registry
	resolver *catalog.FilterResolver
	blobs    blob.Store
	opts     ReportServiceOptions
	logger   *slog.Logger
	now      func() time.Time
}

// NewReportService creates a ReportService. resolver may be nil when no
// option source is configured; dynamic filters then cannot be resolved.
func NewReportService(
	jobs store.JobStore,
	broker queue.Broker,
	registry *catalog.Registry,
	resolver *catalog.FilterResolver,
	blobs blob.Store,
	opts ReportServiceOptions,
	logger *slog.Logger,
) (ReportService, error) {
	switch {
	case jobs == nil:
		return nil, fmt.Errorf("%w: job store cannot be nil", ErrValidation)
	case broker == nil:
		return nil, fmt.Errorf("%w: broker cannot be nil", ErrValidation)
	case registry == nil:
		return nil, fmt.Errorf("%w: catalog cannot be nil", ErrValidation)
	case blobs == nil:
		return nil, fmt.Errorf("%w: blob store cannot be nil", ErrValidation)
	}

	if opts.Policy == (queue.Policy{}) {
		opts.Policy = queue.DefaultPolicy()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = domain.DefaultJobTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &reportServiceImpl{
		jobs:     jobs,
		broker:   broker,
		catalog:  registry,
		resolver: resolver,
		blobs:    blobs,
		opts:     opts,
		logger:   logger.With(slog.String("component", "report_service")),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// ListCatalog implements ReportService.
func (s *reportServiceImpl) ListCatalog(roles []string) []catalog.CatalogGroup {
	return s.catalog.List(roles)
}

// GetDefinition implements ReportService.
func (s *reportServiceImpl) GetDefinition(reportType string, roles []string) (catalog.Definition, error) {
	def, err := s.catalog.Visible(reportType, roles)
	if err != nil {
		return catalog.Definition{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return def, nil
}

// ResolveFilterValues implements ReportService.
func (s *reportServiceImpl) ResolveFilterValues(
	ctx context.Context,
	reportType, filterID, scope string,
	roles []string,
) ([]catalog.Option, error) {
	if _, err := s.GetDefinition(reportType, roles); err != nil {
		return nil, err
	}
	if s.resolver == nil {
		return nil, NewReportServiceError("resolve_filter", "no option source configured", nil)
	}

	opts, err := s.resolver.Resolve(ctx, reportType, filterID, scope)
	switch {
	case errors.Is(err, catalog.ErrFilterNotDynamic):
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.Is(err, catalog.ErrUnknownFilter), errors.Is(err, catalog.ErrUnknownReportType):
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	case err != nil:
		return nil, NewReportServiceError("resolve_filter", "failed to resolve filter values", err)
	}
	return opts, nil
}

// Enqueue implements ReportService.
func (s *reportServiceImpl) Enqueue(ctx context.Context, userID uuid.UUID, req EnqueueRequest) (uuid.UUID, error) {
	job, err := s.createJob(ctx, "enqueue", userID, req)
	if err != nil {
		return uuid.Nil, err
	}
	return job.ID, nil
}

// GenerateSync implements ReportService.
func (s *reportServiceImpl) GenerateSync(ctx context.Context, userID uuid.UUID, req EnqueueRequest) (*domain.JobSnapshot, error) {
	job, err := s.createJob(ctx, "generate_sync", userID, req)
	if err != nil {
		return nil, err
	}

	view := job.Clone()
	view.Status = domain.JobStatusProcessing
	snap := view.Snapshot()
	return &snap, nil
}

// createJob validates the request, stores the pending record and only then
// pushes its queue entry. A failed push leaves the record pending.
func (s *reportServiceImpl) createJob(ctx context.Context, op string, userID uuid.UUID, req EnqueueRequest) (*domain.ReportJob, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	def, err := s.GetDefinition(req.ReportType, req.Roles)
	if err != nil {
		return nil, err
	}
	format, err := domain.ParseFormat(string(req.Format))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := req.Config.ValidateShape(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := def.ValidateConfig(req.Config, format); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = def.Name
	}
	job, err := domain.NewReportJob(userID, def.Type, name, format, req.Config.Clone(), req.Scope, s.opts.JobTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	entryID := uuid.New()
	job.EntryID = &entryID

	if err := s.jobs.Create(ctx, job); err != nil {
		log.Error("failed to save report job",
			slog.String("error", err.Error()),
			slog.String("report_type", job.ReportType))
		return nil, NewReportServiceError(op, "failed to save job", err)
	}

	if err := s.broker.Push(ctx, queue.NewEntry(job, s.opts.Policy)); err != nil {
		log.Error("failed to queue report job, record left pending",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return nil, NewReportServiceError(op, "failed to queue job", err)
	}

	log.Info("report job queued",
		slog.String("job_id", job.ID.String()),
		slog.String("report_type", job.ReportType),
		slog.String("format", string(job.Format)),
		slog.String("user_id", userID.String()))
	return job, nil
}

// GetStatus implements ReportService.
func (s *reportServiceImpl) GetStatus(ctx context.Context, jobID uuid.UUID) (*domain.JobSnapshot, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, NewReportServiceError("get_status", "failed to load job", err)
	}
	snap := job.Snapshot()
	return &snap, nil
}

// GetJob implements ReportService.
func (s *reportServiceImpl) GetJob(ctx context.Context, jobID, userID uuid.UUID) (*domain.ReportJob, error) {
	return s.ownedJob(ctx, "get_job", jobID, userID)
}

// ListHistory implements ReportService. page starts at 1; limit is clamped
// to [1, MaxPageSize].
func (s *reportServiceImpl) ListHistory(ctx context.Context, userID uuid.UUID, page, limit int) (Page[domain.JobSnapshot], error) {
	if page < 1 {
		page = 1
	}
	limit = max(1, min(limit, MaxPageSize))

	jobs, total, err := s.jobs.ListByUser(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return Page[domain.JobSnapshot]{}, NewReportServiceError("list_history", "failed to list jobs", err)
	}

	items := make([]domain.JobSnapshot, len(jobs))
	for i, j := range jobs {
		items[i] = j.Snapshot()
	}
	return Page[domain.JobSnapshot]{
		Items:      items,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// Cancel implements ReportService. Removing the queue entry is best effort:
// an entry already claimed by a worker is left to find the job cancelled.
func (s *reportServiceImpl) Cancel(ctx context.Context, jobID, userID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("job_id", jobID.String()))

	job, err := s.ownedJob(ctx, "cancel", jobID, userID)
	if err != nil {
		return err
	}
	if !job.Status.CanTransitionTo(domain.JobStatusCancelled) {
		return fmt.Errorf("%w: cannot cancel a %s job", ErrInvalidTransition, job.Status)
	}

	if removed, err := s.broker.RemoveByJob(ctx, jobID); err != nil {
		log.Warn("failed to remove queue entry of cancelled job", slog.String("error", err.Error()))
	} else if removed > 0 {
		log.Debug("removed queue entries of cancelled job", slog.Int("count", removed))
	}

	if err := s.jobs.Cancel(ctx, jobID, CancelReason); err != nil {
		return mapStoreError("cancel", err)
	}
	log.Info("report job cancelled")
	return nil
}

// Retry implements ReportService.
func (s *reportServiceImpl) Retry(ctx context.Context, jobID, userID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("job_id", jobID.String()))

	job, err := s.ownedJob(ctx, "retry", jobID, userID)
	if err != nil {
		return err
	}
	if !job.Status.CanTransitionTo(domain.JobStatusPending) {
		return fmt.Errorf("%w: cannot retry a %s job", ErrInvalidTransition, job.Status)
	}

	entryID := uuid.New()
	if err := s.jobs.Requeue(ctx, jobID, entryID, s.now().Add(s.opts.JobTTL)); err != nil {
		return mapStoreError("retry", err)
	}

	job.EntryID = &entryID
	if err := s.broker.Push(ctx, queue.NewEntry(job, s.opts.Policy)); err != nil {
		log.Error("failed to queue retried job, record left pending", slog.String("error", err.Error()))
		return NewReportServiceError("retry", "failed to queue job", err)
	}
	log.Info("report job re-queued", slog.String("entry_id", entryID.String()))
	return nil
}

// Delete implements ReportService.
func (s *reportServiceImpl) Delete(ctx context.Context, jobID, userID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("job_id", jobID.String()))

	job, err := s.ownedJob(ctx, "delete", jobID, userID)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot delete a %s job", ErrInvalidTransition, job.Status)
	}

	if err := s.jobs.Delete(ctx, jobID); err != nil {
		return mapStoreError("delete", err)
	}

	if job.FileReference != nil {
		if err := s.blobs.Delete(ctx, *job.FileReference); err != nil {
			log.Warn("failed to delete report file", slog.String("error", err.Error()))
		}
	}
	log.Info("report job deleted")
	return nil
}

// QueueStats implements ReportService.
func (s *reportServiceImpl) QueueStats(ctx context.Context) queue.Stats {
	stats, err := s.broker.Stats(ctx)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Warn("queue statistics unavailable",
			slog.String("error", err.Error()))
		return queue.Stats{Error: redact.Error(err)}
	}
	return stats
}

// ActiveEntries implements ReportService.
func (s *reportServiceImpl) ActiveEntries(ctx context.Context) ([]queue.Entry, error) {
	entries, err := s.broker.List(ctx, queue.StateActive, activeListLimit)
	if err != nil {
		return nil, NewReportServiceError("active_entries", "failed to list queue entries", err)
	}
	return entries, nil
}

// FailedEntries implements ReportService.
func (s *reportServiceImpl) FailedEntries(ctx context.Context) ([]queue.Entry, error) {
	entries, err := s.broker.List(ctx, queue.StateFailed, failedListLimit)
	if err != nil {
		return nil, NewReportServiceError("failed_entries", "failed to list queue entries", err)
	}
	return entries, nil
}

// Download implements ReportService. The stored reference is validated
// before the blob store is touched.
func (s *reportServiceImpl) Download(ctx context.Context, jobID, userID uuid.UUID) (*Download, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("job_id", jobID.String()))

	job, err := s.ownedJob(ctx, "download", jobID, userID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusCompleted || job.FileReference == nil {
		return nil, fmt.Errorf("%w: job is %s", ErrFileNotReady, job.Status)
	}

	ref := *job.FileReference
	if err := blob.ValidateReference(ref); err != nil {
		log.Warn("rejected stored file reference", slog.String("error", err.Error()))
		return nil, err
	}
	if !strings.EqualFold(path.Ext(ref), job.Format.Extension()) {
		log.Warn("stored file reference does not match job format", slog.String("format", string(job.Format)))
		return nil, fmt.Errorf("%w: extension does not match format %s", blob.ErrInvalidReference, job.Format)
	}

	data, err := s.blobs.Get(ctx, ref)
	if errors.Is(err, blob.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: report file", ErrNotFound)
	}
	if err != nil {
		return nil, NewReportServiceError("download", "failed to read report file", err)
	}

	return &Download{
		Filename:    fmt.Sprintf("%s-%s%s", job.ReportType, job.CreatedAt.Format("20060102-150405"), job.Format.Extension()),
		ContentType: job.Format.ContentType(),
		Data:        data,
	}, nil
}

// RecoverOrphans implements ReportService. Jobs whose entry ID is still
// retained by the broker are skipped.
func (s *reportServiceImpl) RecoverOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	pending, err := s.jobs.ListPendingBefore(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, NewReportServiceError("recover_orphans", "failed to list pending jobs", err)
	}

	recovered := 0
	for _, job := range pending {
		live, err := s.broker.HasLive(ctx, job.ID)
		if err != nil {
			return recovered, NewReportServiceError("recover_orphans", "failed to inspect queue", err)
		}
		if live {
			continue
		}

		err = s.broker.Push(ctx, queue.NewEntry(job, s.opts.Policy))
		if errors.Is(err, queue.ErrDuplicateEntry) {
			log.Warn("orphaned job still has a finished entry, retry it manually",
				slog.String("job_id", job.ID.String()))
			continue
		}
		if err != nil {
			return recovered, NewReportServiceError("recover_orphans", "failed to queue job", err)
		}
		recovered++
	}

	if recovered > 0 {
		log.Info("re-queued orphaned report jobs", slog.Int("count", recovered))
	}
	return recovered, nil
}

func (s *reportServiceImpl) ownedJob(ctx context.Context, op string, jobID, userID uuid.UUID) (*domain.ReportJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, NewReportServiceError(op, "failed to load job", err)
	}
	if !job.IsOwnedBy(userID) {
		return nil, ErrNotOwned
	}
	return job, nil
}

// mapStoreError translates a lost conditional update or a vanished record
// into service errors.
func mapStoreError(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrStatusConflict):
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	case errors.Is(err, store.ErrJobNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return NewReportServiceError(op, "store operation failed", err)
	}
}
