// Package cleanup runs the periodic maintenance sweeps over report jobs:
// removing expired records and their files, failing jobs stuck in
// processing, purging old failed and cancelled jobs and, optionally,
// re-queueing pending jobs that lost their queue entry.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/report-api/internal/blob"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/store"
	"golang.org/x/sync/errgroup"
)

// Config holds sweep intervals and age thresholds.
type Config struct {
	ExpiredInterval time.Duration

	StaleInterval time.Duration
	// StaleAfter is how long a job may stay processing before it is failed.
	StaleAfter time.Duration

	TerminalInterval time.Duration
	// TerminalAge is how long failed and cancelled jobs are kept.
	TerminalAge time.Duration

	// OrphanInterval enables orphan recovery when positive and a recoverer is set.
	OrphanInterval time.Duration
	OrphanAge      time.Duration
}

// DefaultConfig returns daily expiry, half-hourly stale checks with a one
// hour limit, and weekly purges of terminal jobs older than 30 days.
func DefaultConfig() Config {
	return Config{
		ExpiredInterval:  24 * time.Hour,
		StaleInterval:    30 * time.Minute,
		StaleAfter:       time.Hour,
		TerminalInterval: 7 * 24 * time.Hour,
		TerminalAge:      30 * 24 * time.Hour,
	}
}

// OrphanRecoverer re-queues pending jobs without a live queue entry.
type OrphanRecoverer interface {
	RecoverOrphans(ctx context.Context, olderThan time.Duration) (int, error)
}

// Scheduler runs each sweep on its own ticker. Sweep errors are logged and
// never stop the scheduler.
type Scheduler struct {
	jobs      store.JobStore
	blobs     blob.Store
	recoverer OrphanRecoverer
	config    Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler creates a scheduler. Zero config fields take their
// DefaultConfig values.
func NewScheduler(jobs store.JobStore, blobs blob.Store, config Config, logger *slog.Logger) *Scheduler {
	def := DefaultConfig()
	if config.ExpiredInterval <= 0 {
		config.ExpiredInterval = def.ExpiredInterval
	}
	if config.StaleInterval <= 0 {
		config.StaleInterval = def.StaleInterval
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = def.StaleAfter
	}
	if config.TerminalInterval <= 0 {
		config.TerminalInterval = def.TerminalInterval
	}
	if config.TerminalAge <= 0 {
		config.TerminalAge = def.TerminalAge
	}

	return &Scheduler{
		jobs:   jobs,
		blobs:  blobs,
		config: config,
		logger: logger.With("component", "cleanup"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithOrphanRecovery enables the orphan sweep.
func (s *Scheduler) WithOrphanRecovery(r OrphanRecoverer) *Scheduler {
	s.recoverer = r
	return s
}

// Run starts every sweep and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.every(gctx, "expired", s.config.ExpiredInterval, func(ctx context.Context) error {
			_, err := s.SweepExpired(ctx)
			return err
		})
		return nil
	})
	g.Go(func() error {
		s.every(gctx, "stale", s.config.StaleInterval, func(ctx context.Context) error {
			_, err := s.SweepStale(ctx)
			return err
		})
		return nil
	})
	g.Go(func() error {
		s.every(gctx, "terminal", s.config.TerminalInterval, func(ctx context.Context) error {
			_, err := s.SweepTerminal(ctx)
			return err
		})
		return nil
	})
	if s.recoverer != nil && s.config.OrphanInterval > 0 {
		g.Go(func() error {
			s.every(gctx, "orphans", s.config.OrphanInterval, func(ctx context.Context) error {
				_, err := s.recoverer.RecoverOrphans(ctx, s.config.OrphanAge)
				return err
			})
			return nil
		})
	}

	s.logger.Info("cleanup scheduler started",
		"expired_interval", s.config.ExpiredInterval,
		"stale_interval", s.config.StaleInterval,
		"terminal_interval", s.config.TerminalInterval)

	err := g.Wait()
	s.logger.Info("cleanup scheduler stopped")
	return err
}

func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, sweep func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sweep(ctx); err != nil {
				s.logger.Error("cleanup sweep failed", "sweep", name, "error", err)
			}
		}
	}
}

// SweepExpired deletes jobs past their expiry along with their files and
// returns how many records were removed.
func (s *Scheduler) SweepExpired(ctx context.Context) (int, error) {
	removed, err := s.jobs.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired jobs: %w", err)
	}
	s.deleteFiles(ctx, removed)

	if len(removed) > 0 {
		s.logger.Info("removed expired report jobs", "count", len(removed))
	}
	return len(removed), nil
}

// SweepStale fails jobs that have been processing longer than StaleAfter.
func (s *Scheduler) SweepStale(ctx context.Context) (int64, error) {
	message := fmt.Sprintf("Job timed out after %s in processing", s.config.StaleAfter)
	n, err := s.jobs.FailStale(ctx, s.now().Add(-s.config.StaleAfter), message)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	if n > 0 {
		s.logger.Warn("failed stale report jobs", "count", n, "stale_after", s.config.StaleAfter)
	}
	return n, nil
}

// SweepTerminal deletes failed and cancelled jobs older than TerminalAge.
func (s *Scheduler) SweepTerminal(ctx context.Context) (int, error) {
	removed, err := s.jobs.DeleteTerminalBefore(ctx, s.now().Add(-s.config.TerminalAge))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old terminal jobs: %w", err)
	}
	s.deleteFiles(ctx, removed)

	if len(removed) > 0 {
		s.logger.Info("purged old report jobs", "count", len(removed))
	}
	return len(removed), nil
}

// deleteFiles removes the files of deleted jobs. Failures only leave an
// unreferenced object behind, so they are logged.
func (s *Scheduler) deleteFiles(ctx context.Context, jobs []*domain.ReportJob) {
	for _, job := range jobs {
		if job.FileReference == nil {
			continue
		}
		ref := *job.FileReference
		if err := blob.ValidateReference(ref); err != nil {
			s.logger.Warn("skipping invalid file reference", "job_id", job.ID, "error", err)
			continue
		}
		if err := s.blobs.Delete(ctx, ref); err != nil {
			s.logger.Warn("failed to delete report file", "job_id", job.ID, "key", ref, "error", err)
		}
	}
}
