package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/hookline/lifecycle"
	"github.com/xraph/hookline/record"
	"github.com/xraph/hookline/route"
)

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	// Concurrency bounds the number of jobs executing at once.
	Concurrency int

	// PollInterval is the queue polling cadence.
	PollInterval time.Duration

	// RetrySeconds is the default retry delay for routes that enable retry
	// without a delay of their own.
	RetrySeconds int

	// RetryMaxAttempts is the default attempt ceiling. Zero means unbounded.
	RetryMaxAttempts int
}

// Worker drains the job queue and executes handlers under the record
// lifecycle: each job is one delivery attempt.
type Worker struct {
	queue    Queue
	registry *Registry
	records  record.Store
	routes   route.Store
	engine   *lifecycle.Engine
	config   WorkerConfig
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a dispatch worker pool.
func NewWorker(queue Queue, registry *Registry, records record.Store, routes route.Store, engine *lifecycle.Engine, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Worker{
		queue:    queue,
		registry: registry,
		records:  records,
		routes:   routes,
		engine:   engine,
		config:   cfg,
		logger:   logger,
	}
}

// Start begins the poll loop.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight jobs to complete.
func (w *Worker) Stop(_ context.Context) {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// pollLoop periodically pops ready jobs and hands them to workers.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, w.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				job, err := w.queue.Pop(ctx, time.Now().UTC())
				if errors.Is(err, ErrQueueEmpty) {
					break
				}
				if err != nil {
					w.logger.ErrorContext(ctx, "queue pop failed", "error", err)
					break
				}

				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				w.wg.Add(1)
				go func(j *Job) {
					defer w.wg.Done()
					defer func() { <-sem }()
					w.Execute(ctx, j)
				}(job)
			}
		}
	}
}

// Execute runs a single job as one delivery attempt. Records already in a
// terminal state are skipped so a cancelled record's queued jobs become
// no-ops.
func (w *Worker) Execute(ctx context.Context, job *Job) {
	rec, err := w.records.GetRecord(ctx, job.RelayID)
	if err != nil {
		w.logger.ErrorContext(ctx, "load record for job failed",
			"job_id", job.ID, "record_id", job.RelayID, "error", err)
		return
	}

	if rec.Status.Terminal() {
		w.logger.DebugContext(ctx, "job skipped, record terminal",
			"job_id", job.ID, "record_id", rec.ID, "status", rec.Status)
		return
	}

	handler, ok := w.registry.Lookup(job.Handler)
	if !ok {
		err := fmt.Errorf("%w: %q", ErrHandlerNotFound, job.Handler)
		if failErr := w.engine.MarkFailed(ctx, rec, record.ReasonException, &lifecycle.Extras{
			ResponsePayload: lifecycle.SummarizeError(err),
		}); failErr != nil {
			w.logger.ErrorContext(ctx, "mark failed after missing handler",
				"job_id", job.ID, "error", failErr)
		}
		return
	}

	if err := w.engine.StartAttempt(ctx, rec); err != nil {
		w.logger.ErrorContext(ctx, "start attempt failed",
			"job_id", job.ID, "record_id", rec.ID, "error", err)
		return
	}

	result, handlerErr := w.invoke(ctx, handler, rec, job)

	if handlerErr == nil {
		if err := w.engine.MarkCompleted(ctx, rec, &lifecycle.Extras{
			ResponsePayload: result,
		}); err != nil {
			w.logger.ErrorContext(ctx, "mark completed failed",
				"job_id", job.ID, "record_id", rec.ID, "error", err)
		}
		return
	}

	reason := record.ReasonException
	var payload any = lifecycle.SummarizeError(handlerErr)

	var failErr *FailError
	if errors.As(handlerErr, &failErr) {
		reason = failErr.Reason
		payload = failErr.Message
	}

	if err := w.engine.MarkFailed(ctx, rec, reason, &lifecycle.Extras{
		ResponsePayload: payload,
		NextRetryAt:     w.retryAt(ctx, rec),
	}); err != nil {
		w.logger.ErrorContext(ctx, "mark failed failed",
			"job_id", job.ID, "record_id", rec.ID, "error", err)
	}
}

// invoke runs the handler with panic containment.
func (w *Worker) invoke(ctx context.Context, handler Handler, rec *record.Relay, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %q panic: %v", job.Handler, r)
		}
	}()
	return handler(ctx, rec, job.Args)
}

// retryAt computes the next retry pickup from the record's route policy, or
// nil when no further attempt is allowed.
func (w *Worker) retryAt(ctx context.Context, rec *record.Relay) *time.Time {
	if rec.RouteID.IsNil() || w.routes == nil {
		return nil
	}
	rt, err := w.routes.GetRoute(ctx, rec.RouteID)
	if err != nil {
		w.logger.WarnContext(ctx, "load route for retry policy failed",
			"record_id", rec.ID, "route_id", rec.RouteID, "error", err)
		return nil
	}

	policy := rt.Policy
	if !policy.Retry {
		return nil
	}
	if policy.RetrySeconds <= 0 {
		policy.RetrySeconds = w.config.RetrySeconds
	}
	if policy.RetrySeconds <= 0 {
		return nil
	}
	ceiling := policy.RetryMaxAttempts
	if ceiling <= 0 {
		ceiling = w.config.RetryMaxAttempts
	}
	if ceiling > 0 && rec.AttemptCount >= ceiling {
		return nil
	}

	at := time.Now().UTC().Add(time.Duration(policy.RetrySeconds) * time.Second)
	return &at
}
