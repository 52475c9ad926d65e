package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Handler processes one delivery of an entry. Returning nil acknowledges the
// entry; returning an error schedules a retry or, when IsFinal, fails it.
type Handler interface {
	Handle(ctx context.Context, e *Entry) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e *Entry) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, e *Entry) error {
	return f(ctx, e)
}

// WorkerPoolConfig holds configuration options for the worker pool.
type WorkerPoolConfig struct {
	// WorkerCount is the number of concurrent consumers. Defaults to 1.
	WorkerCount int

	// PollInterval is how long an idle worker waits before claiming again.
	// Defaults to one second.
	PollInterval time.Duration
}

// WorkerPool runs a fixed number of consumers against a Broker.
type WorkerPool struct {
	broker  Broker
	handler Handler
	config  WorkerPoolConfig
	logger  *slog.Logger
}

// NewWorkerPool creates a new worker pool with the specified configuration.
func NewWorkerPool(broker Broker, handler Handler, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}

	return &WorkerPool{
		broker:  broker,
		handler: handler,
		config:  config,
		logger:  logger.With("component", "worker_pool"),
	}
}

// Run starts the workers and blocks until ctx is cancelled and every
// in-flight delivery has been settled. Deliveries already claimed when ctx
// is cancelled run to completion.
func (p *WorkerPool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.config.WorkerCount; i++ {
		id := i
		g.Go(func() error {
			p.worker(gctx, id)
			return nil
		})
	}
	p.logger.Info("worker pool started", "worker_count", p.config.WorkerCount)

	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	log := p.logger.With("worker_id", id)
	log.Debug("starting worker")

	var wake <-chan struct{}
	if w, ok := p.broker.(Waker); ok {
		wake = w.Wake()
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("stopping worker")
			return
		case <-timer.C:
		case <-wake:
		}

		// Drain everything that is due before sleeping again.
		for ctx.Err() == nil {
			worked, err := p.ProcessNext(ctx, id)
			if err != nil {
				log.Error("failed to claim queue entry", "error", err)
				break
			}
			if !worked {
				break
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.config.PollInterval)
	}
}

// ProcessNext claims and settles at most one entry. It reports whether an
// entry was processed; the error covers claiming only, handler failures are
// settled through the broker.
func (p *WorkerPool) ProcessNext(ctx context.Context, workerID int) (bool, error) {
	entry, err := p.broker.Claim(ctx)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}

	// Settle even if the pool is shutting down mid-delivery.
	hctx := context.WithoutCancel(ctx)
	log := p.logger.With(
		"worker_id", workerID,
		"entry_id", entry.ID,
		"job_id", entry.JobID,
		"attempt", entry.Attempt,
	)

	herr := p.safeHandle(hctx, entry)
	switch {
	case herr == nil:
		if err := p.broker.Ack(hctx, entry.ID); err != nil {
			log.Error("failed to ack queue entry", "error", err)
		}
	case IsFinal(entry, herr):
		log.Warn("queue entry failed permanently", "error", herr, "permanent", IsPermanent(herr))
		if err := p.broker.Fail(hctx, entry.ID, herr.Error()); err != nil {
			log.Error("failed to fail queue entry", "error", err)
		}
	default:
		delay := entry.Policy.Delay(entry.Attempt)
		log.Info("queue entry will be retried", "error", herr, "delay", delay)
		if err := p.broker.Retry(hctx, entry.ID, delay, herr.Error()); err != nil {
			log.Error("failed to reschedule queue entry", "error", err)
		}
	}

	return true, nil
}

// safeHandle converts a handler panic into an error so the entry is settled.
func (p *WorkerPool) safeHandle(ctx context.Context, e *Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler.Handle(ctx, e)
}
