package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/report-api/internal/blob"
	"github.com/phrazzld/report-api/internal/catalog"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/export"
	"github.com/phrazzld/report-api/internal/notify"
	"github.com/phrazzld/report-api/internal/queue"
	"github.com/phrazzld/report-api/internal/redact"
	"github.com/phrazzld/report-api/internal/store"
)

// notifyTimeout bounds one notification dispatch.
const notifyTimeout = 30 * time.Second

// DataSource fetches the rows of a report. Rows are flat key/value records;
// different rows may carry different keys.
type DataSource interface {
	FetchRows(ctx context.Context, def catalog.Definition, filters map[string]any, scope string) ([]map[string]any, error)
}

// Worker executes queue deliveries. It implements queue.Handler.
type Worker struct {
	jobs        store.JobStore
	catalog     *catalog.Registry
	source      DataSource
	serializers *export.Registry
	blobs       blob.Store
	sink        notify.Sink
	logger      *slog.Logger
	now         func() time.Time

	pending sync.WaitGroup
}

var _ queue.Handler = (*Worker)(nil)

// NewWorker wires a worker. sink may be nil to disable notifications.
func NewWorker(
	jobs store.JobStore,
	registry *catalog.Registry,
	source DataSource,
	serializers *export.Registry,
	blobs blob.Store,
	sink notify.Sink,
	logger *slog.Logger,
) (*Worker, error) {
	switch {
	case jobs == nil:
		return nil, fmt.Errorf("%w: job store", ErrNilDependency)
	case registry == nil:
		return nil, fmt.Errorf("%w: catalog", ErrNilDependency)
	case source == nil:
		return nil, fmt.Errorf("%w: data source", ErrNilDependency)
	case serializers == nil:
		return nil, fmt.Errorf("%w: serializers", ErrNilDependency)
	case blobs == nil:
		return nil, fmt.Errorf("%w: blob store", ErrNilDependency)
	case logger == nil:
		return nil, fmt.Errorf("%w: logger", ErrNilDependency)
	}

	return &Worker{
		jobs:        jobs,
		catalog:     registry,
		source:      source,
		serializers: serializers,
		blobs:       blobs,
		sink:        sink,
		logger:      logger.With("component", "generation_worker"),
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handle implements queue.Handler.
func (w *Worker) Handle(ctx context.Context, e *queue.Entry) error {
	return w.Process(ctx, e)
}

// Wait blocks until in-flight notifications have been dispatched.
func (w *Worker) Wait() {
	w.pending.Wait()
}

// Process runs one delivery of e. A nil return acknowledges the entry. Jobs
// that were cancelled, requeued or removed meanwhile are skipped with nil.
// Errors are returned to the queue for retry; once the entry's attempts are
// exhausted, or the error is permanent, the job is settled as failed first.
func (w *Worker) Process(ctx context.Context, e *queue.Entry) error {
	log := w.logger.With("job_id", e.JobID, "entry_id", e.ID, "attempt", e.Attempt)

	job, err := w.jobs.MarkProcessing(ctx, e.JobID, e.ID)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) || errors.Is(err, store.ErrJobNotFound) {
			log.Info("job is no longer claimable, skipping delivery", "reason", err)
			return nil
		}
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	log = log.With("report_type", job.ReportType)
	log.Info("processing report job")

	obj, err := w.generate(ctx, job)
	if err != nil {
		return w.settleFailure(ctx, e, job, err, log)
	}

	err = w.jobs.Complete(ctx, job.ID, e.ID, obj.Key, obj.Size)
	if err != nil {
		if derr := w.blobs.Delete(ctx, obj.Key); derr != nil {
			log.Warn("failed to remove orphaned report file", "error", derr, "key", obj.Key)
		}
		if errors.Is(err, store.ErrStatusConflict) || errors.Is(err, store.ErrJobNotFound) {
			log.Info("job changed while generating, discarding result", "reason", err)
			return nil
		}
		return fmt.Errorf("failed to complete job: %w", err)
	}

	log.Info("report job completed", "key", obj.Key, "size", obj.Size)

	done := job.Clone()
	done.Status = domain.JobStatusCompleted
	done.FileReference = &obj.Key
	done.FileSize = obj.Size
	msg, payload := notify.CompletionMessage(done)
	w.dispatch(done, msg, payload)
	return nil
}

// generate runs the fetch, layout, serialize and upload steps.
func (w *Worker) generate(ctx context.Context, job *domain.ReportJob) (blob.Object, error) {
	def, err := w.catalog.Get(job.ReportType)
	if err != nil {
		return blob.Object{}, queue.Permanent(err)
	}

	scope := ""
	if job.Scope != nil {
		scope = *job.Scope
	}
	rows, err := w.source.FetchRows(ctx, def, job.Config.Filters, scope)
	if err != nil {
		return blob.Object{}, fmt.Errorf("failed to fetch report data: %w", err)
	}
	if len(rows) == 0 {
		return blob.Object{}, queue.Permanent(ErrNoData)
	}

	orderRows(rows, job.Config)
	columns := catalog.ResolveColumns(def.Layout(), job.Config.Columns, rows)

	serializer, err := w.serializers.Get(job.Format)
	if err != nil {
		return blob.Object{}, queue.Permanent(err)
	}
	title := job.Name
	if title == "" {
		title = def.Name
	}
	data, err := serializer.Serialize(title, columns, rows)
	if err != nil {
		return blob.Object{}, queue.Permanent(fmt.Errorf("failed to serialize report: %w", err))
	}
	if len(data) == 0 {
		return blob.Object{}, queue.Permanent(ErrEmptyOutput)
	}

	obj, err := w.blobs.Put(ctx, data, blob.KeyHints{
		ReportType: job.ReportType,
		Scope:      job.ScopeOrGlobal(),
		JobID:      job.ID,
		Format:     job.Format,
		CreatedAt:  w.now(),
	})
	if err != nil {
		return blob.Object{}, fmt.Errorf("failed to store report file: %w", err)
	}
	return obj, nil
}

// settleFailure records a final failure on the job. The cause goes back to
// the queue unless the job moved on, in which case the delivery is acked.
func (w *Worker) settleFailure(ctx context.Context, e *queue.Entry, job *domain.ReportJob, cause error, log *slog.Logger) error {
	if !queue.IsFinal(e, cause) {
		log.Warn("report generation attempt failed, will retry", "error", redact.Error(cause))
		return cause
	}

	message := redact.ForStorage(cause)
	err := w.jobs.Fail(ctx, job.ID, e.ID, message)
	switch {
	case errors.Is(err, store.ErrStatusConflict), errors.Is(err, store.ErrJobNotFound):
		log.Info("job changed before failure was recorded", "reason", err)
		return nil
	case err != nil:
		log.Error("failed to record job failure", "error", err)
		return fmt.Errorf("failed to record job failure: %w", err)
	}

	log.Warn("report job failed", "error", message)

	failed := job.Clone()
	failed.Status = domain.JobStatusFailed
	failed.ErrorMessage = &message
	msg, payload := notify.FailureMessage(failed)
	w.dispatch(failed, msg, payload)
	return queue.Permanent(cause)
}

// dispatch notifies the requester in the background. It never blocks the
// delivery and its outcome never touches the job record.
func (w *Worker) dispatch(job *domain.ReportJob, message string, payload any) {
	if w.sink == nil {
		return
	}

	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := w.sink.Notify(ctx, job.RequestedBy, message, payload); err != nil {
			w.logger.Warn("failed to notify requester",
				"error", err,
				"job_id", job.ID,
				"user_id", job.RequestedBy)
		}
	}()
}
