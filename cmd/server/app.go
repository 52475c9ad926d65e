package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	apiMiddleware "github.com/phrazzld/report-api/internal/api/middleware"
	"github.com/phrazzld/report-api/internal/blob"
	"github.com/phrazzld/report-api/internal/catalog"
	"github.com/phrazzld/report-api/internal/cleanup"
	"github.com/phrazzld/report-api/internal/config"
	"github.com/phrazzld/report-api/internal/export"
	"github.com/phrazzld/report-api/internal/generation"
	"github.com/phrazzld/report-api/internal/notify"
	"github.com/phrazzld/report-api/internal/platform/blob/localfs"
	"github.com/phrazzld/report-api/internal/platform/blob/s3store"
	"github.com/phrazzld/report-api/internal/platform/memory"
	"github.com/phrazzld/report-api/internal/platform/postgres"
	"github.com/phrazzld/report-api/internal/platform/sqlsource"
	"github.com/phrazzld/report-api/internal/queue"
	"github.com/phrazzld/report-api/internal/service"
	"github.com/phrazzld/report-api/internal/store"
	"golang.org/x/sync/errgroup"
)

// memorySourceDSN is the report source used when neither a source nor an
// application database is configured. It starts empty.
const memorySourceDSN = "file:reports?mode=memory&cache=shared"

// application holds the shared dependencies of the server and releases them
// on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	// db is nil when the in-memory stores are used.
	db     *sql.DB
	source *sqlsource.Source
	// ownsSource is set when source has its own connection to close.
	ownsSource bool

	registry  *catalog.Registry
	jobs      store.JobStore
	templates store.TemplateStore
	broker    queue.Broker
	blobs     blob.Store

	reportService   service.ReportService
	templateService service.TemplateService

	worker    *generation.Worker
	pool      *queue.WorkerPool
	scheduler *cleanup.Scheduler

	auth    *apiMiddleware.AuthMiddleware
	limiter *apiMiddleware.RateLimiter
}

// newApplication wires every component from cfg. Nothing is started until Run.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	var err error
	app.registry, err = setupCatalog(cfg, logger)
	if err != nil {
		return nil, err
	}

	app.db, err = setupAppDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := app.setupStores(); err != nil {
		app.cleanup()
		return nil, err
	}

	app.blobs, err = setupBlobStore(ctx, cfg)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	if err := app.setupReportSource(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	if err := app.setupServices(); err != nil {
		app.cleanup()
		return nil, err
	}

	app.auth = apiMiddleware.NewAuthMiddleware(cfg.Auth.JWTSecret)
	app.limiter = apiMiddleware.NewRateLimiter(cfg.Jobs.EnqueueRatePerMinute, cfg.Jobs.EnqueueBurst)

	logger.Info("Application initialized successfully",
		"report_types", len(app.registry.Types()),
		"worker_count", cfg.Queue.WorkerCount)
	return app, nil
}

func setupCatalog(cfg *config.Config, logger *slog.Logger) (*catalog.Registry, error) {
	if cfg.Catalog.Path == "" {
		registry, err := catalog.LoadDefault()
		if err != nil {
			return nil, fmt.Errorf("failed to load built-in catalog: %w", err)
		}
		return registry, nil
	}

	registry, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", cfg.Catalog.Path, err)
	}
	logger.Info("report catalog loaded", "path", cfg.Catalog.Path)
	return registry, nil
}

// setupStores picks the Postgres stores when a database is configured and
// the in-memory ones otherwise.
func (app *application) setupStores() error {
	if app.db != nil {
		app.jobs = postgres.NewJobStore(app.db, app.logger)
		app.templates = postgres.NewTemplateStore(app.db, app.logger)
	} else {
		app.jobs = memory.NewJobStore()
		app.templates = memory.NewTemplateStore()
	}

	switch app.config.Queue.Backend {
	case "postgres":
		if app.db == nil {
			return errors.New("postgres queue backend requires a database")
		}
		app.broker = postgres.NewQueueBroker(app.db, 0, app.logger)
	default:
		app.broker = queue.NewMemoryBroker()
	}
	return nil
}

func setupBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.Storage.Backend {
	case "s3":
		s, err := s3store.New(ctx, cfg.Storage.S3Bucket, cfg.Storage.S3Region)
		if err != nil {
			return nil, fmt.Errorf("failed to set up s3 storage: %w", err)
		}
		return s, nil
	default:
		s, err := localfs.New(cfg.Storage.LocalRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to set up local storage: %w", err)
		}
		return s, nil
	}
}

// setupReportSource connects the database report rows are read from: the
// configured source, else the application database, else an empty
// in-memory sqlite database.
func (app *application) setupReportSource(ctx context.Context) error {
	cfg := app.config.Source
	opts := sqlsource.Options{QueryTimeout: cfg.QueryTimeout, MaxRows: cfg.MaxRows}

	switch {
	case cfg.Driver != "":
		src, err := sqlsource.Open(ctx, cfg.Driver, cfg.DSN, opts)
		if err != nil {
			return err
		}
		app.source, app.ownsSource = src, true
	case app.db != nil:
		app.source = sqlsource.New(app.db, sqlsource.DriverPostgres, opts)
	default:
		app.logger.Warn("no report source configured, reports will run against an empty in-memory database")
		src, err := sqlsource.Open(ctx, sqlsource.DriverSQLite, memorySourceDSN, opts)
		if err != nil {
			return err
		}
		app.source, app.ownsSource = src, true
	}
	return nil
}

func (app *application) policy() queue.Policy {
	q := app.config.Queue
	return queue.Policy{
		MaxAttempts:     q.MaxAttempts,
		Backoff:         queue.BackoffStrategy(q.Backoff),
		BaseDelay:       q.BaseDelay,
		RetainCompleted: q.RetainCompleted,
		RetainFailed:    q.RetainFailed,
	}
}

func (app *application) setupServices() error {
	cfg := app.config
	resolver := catalog.NewFilterResolver(app.registry, app.source, cfg.Jobs.FilterCacheTTL)

	var err error
	app.reportService, err = service.NewReportService(
		app.jobs,
		app.broker,
		app.registry,
		resolver,
		app.blobs,
		service.ReportServiceOptions{Policy: app.policy(), JobTTL: cfg.Jobs.TTL},
		app.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create report service: %w", err)
	}

	app.templateService, err = service.NewTemplateService(app.templates, app.registry, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create template service: %w", err)
	}

	emitter := notify.NewEmitter(app.logger)
	emitter.RegisterHandler(notify.LogHandler{Logger: app.logger.With("component", "notifications")})

	app.worker, err = generation.NewWorker(
		app.jobs,
		app.registry,
		app.source,
		export.DefaultRegistry(),
		app.blobs,
		emitter,
		app.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create generation worker: %w", err)
	}

	app.pool = queue.NewWorkerPool(app.broker, app.worker, queue.WorkerPoolConfig{
		WorkerCount:  cfg.Queue.WorkerCount,
		PollInterval: cfg.Queue.PollInterval,
	}, app.logger)

	app.scheduler = cleanup.NewScheduler(app.jobs, app.blobs, cleanup.Config{
		ExpiredInterval:  cfg.Cleanup.ExpiredInterval,
		StaleInterval:    cfg.Cleanup.StaleInterval,
		StaleAfter:       cfg.Cleanup.StaleAfter,
		TerminalInterval: cfg.Cleanup.TerminalInterval,
		TerminalAge:      cfg.Cleanup.TerminalAge,
		OrphanInterval:   cfg.Cleanup.StaleInterval,
		OrphanAge:        cfg.Queue.OrphanAge,
	}, app.logger)
	if cfg.Queue.RecoverOrphans {
		app.scheduler.WithOrphanRecovery(app.reportService)
	}
	return nil
}

// Run starts the workers, the scheduler and the HTTP server and blocks until
// ctx is cancelled. On shutdown the server drains first, then the workers
// finish their in-flight deliveries, then resources are released.
func (app *application) Run(ctx context.Context) error {
	if app.config.Queue.RecoverOrphans {
		n, err := app.reportService.RecoverOrphans(ctx, app.config.Queue.OrphanAge)
		if err != nil {
			app.logger.Error("start-up orphan recovery failed", "error", err)
		} else if n > 0 {
			app.logger.Info("re-queued orphaned report jobs", "count", n)
		}
	}

	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBackground()

	var bg errgroup.Group
	bg.Go(func() error { return app.pool.Run(bgCtx) })
	bg.Go(func() error { return app.scheduler.Run(bgCtx) })

	serverErr := app.startHTTPServer(ctx, app.setupRouter())

	stopBackground()
	bgErr := bg.Wait()
	app.worker.Wait()
	app.cleanup()

	if err := errors.Join(serverErr, bgErr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup releases database handles.
func (app *application) cleanup() {
	if app.source != nil && app.ownsSource {
		if err := app.source.Close(); err != nil {
			app.logger.Error("Error closing report source", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}
	app.logger.Info("Application shutdown completed")
}
