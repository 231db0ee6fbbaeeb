package hookline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/hookline/capture"
	"github.com/xraph/hookline/deliver"
	"github.com/xraph/hookline/dispatch"
	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/lifecycle"
	"github.com/xraph/hookline/ratelimit"
	"github.com/xraph/hookline/record"
	"github.com/xraph/hookline/route"
	"github.com/xraph/hookline/store"
	"github.com/xraph/hookline/sweep"
)

// wireServices initializes the internal services after options have been applied.
func (h *Hookline) wireServices() {
	h.resolver = route.NewResolver(h.store, h.cache, route.Config{
		CacheTTL: h.config.CacheTTL,
	}, h.logger)

	h.capturer = capture.NewCapturer(h.store, h.resolver, h.guards, capture.Config{
		MaxPayloadBytes:  h.config.MaxPayloadBytes,
		SensitiveHeaders: h.config.SensitiveHeaders,
		MaskValue:        h.config.MaskValue,
	}, h.logger)

	h.engine = lifecycle.NewEngine(h.store, h.logger)

	transport := deliver.NewTransport(deliver.TransportConfig{
		EnforceHTTPS:     h.config.EnforceHTTPS,
		MaxRedirects:     h.config.MaxRedirects,
		MaxResponseBytes: h.config.MaxResponseBytes,
		DefaultTimeout:   time.Duration(h.config.DefaultHTTPTimeoutSeconds) * time.Second,
	})

	if h.queue == nil {
		h.queue = dispatch.NewMemoryQueue()
	}
	h.registry = dispatch.NewRegistry()

	h.limiter = ratelimit.New(h.config.RateLimitPerSecond)

	h.delivery = deliver.New(h.store, h.engine, transport, deliver.Config{
		RetrySeconds:     h.config.DefaultRetrySeconds,
		RetryMaxAttempts: h.config.DefaultRetryMaxAttempts,
		HTTPTimeout:      time.Duration(h.config.DefaultHTTPTimeoutSeconds) * time.Second,
		DefaultHandler:   h.config.DefaultDispatchHandler,
	}, h.logger).
		WithEnqueuer(dispatch.NewEnqueuer(h.queue)).
		WithLimiter(h.limiter)
	if h.metrics != nil {
		h.delivery = h.delivery.WithMetrics(h.metrics)
	}
	if h.tracer != nil {
		h.delivery = h.delivery.WithTracer(h.tracer)
	}

	h.worker = dispatch.NewWorker(h.queue, h.registry, h.store, h.store, h.engine, dispatch.WorkerConfig{
		Concurrency:      h.config.DispatchConcurrency,
		PollInterval:     h.config.DispatchPollInterval,
		RetrySeconds:     h.config.DefaultRetrySeconds,
		RetryMaxAttempts: h.config.DefaultRetryMaxAttempts,
	}, h.logger)

	h.sweeper = sweep.New(h.store, h.store, h.engine, sweep.Config{
		ChunkSize:                 h.config.ChunkSize,
		StuckAfter:                h.config.StuckAfter,
		TimeoutBuffer:             h.config.TimeoutBuffer,
		DefaultTimeoutSeconds:     h.config.DefaultTimeoutSeconds,
		DefaultHTTPTimeoutSeconds: h.config.DefaultHTTPTimeoutSeconds,
		ArchiveAfter:              h.config.ArchiveAfter,
		PurgeAfter:                h.config.PurgeAfter,
	}, h.logger)
	if h.metrics != nil {
		h.sweeper = h.sweeper.WithMetrics(h.metrics)
	}

	h.scheduler = sweep.NewScheduler(h.sweeper, sweep.Intervals{
		Retry:   h.config.SweepIntervals.Retry,
		Stuck:   h.config.SweepIntervals.Stuck,
		Timeout: h.config.SweepIntervals.Timeout,
		Archive: h.config.SweepIntervals.Archive,
		Purge:   h.config.SweepIntervals.Purge,
	}, h.logger)
}

// Start launches the dispatch worker and the sweep scheduler.
func (h *Hookline) Start(ctx context.Context) {
	h.worker.Start(ctx)
	h.scheduler.Start(ctx)
}

// Stop gracefully shuts down the background loops.
func (h *Hookline) Stop(ctx context.Context) {
	h.scheduler.Stop(ctx)
	h.worker.Stop(ctx)
}

// Capture normalizes the input into a relay record and persists it.
// A guard or size-cap rejection returns a *capture.Rejection.
func (h *Hookline) Capture(ctx context.Context, in capture.Input) (*record.Relay, error) {
	rec, err := h.capturer.Capture(ctx, in)
	if h.metrics != nil {
		h.metrics.ObserveCapture(captureOutcome(err))
	}
	return rec, err
}

// CaptureHTTP captures an inbound HTTP request. The request body is consumed.
func (h *Hookline) CaptureHTTP(ctx context.Context, r *http.Request, in capture.Input) (*record.Relay, error) {
	rec, err := h.capturer.CaptureHTTP(ctx, r, in)
	if h.metrics != nil {
		h.metrics.ObserveCapture(captureOutcome(err))
	}
	return rec, err
}

func captureOutcome(err error) string {
	if err != nil {
		return "rejected"
	}
	return "captured"
}

// Deliver executes the record according to its mode. Event-mode records must
// go through DeliverEvent. Optional per-call headers override route headers
// on http-mode deliveries.
func (h *Hookline) Deliver(ctx context.Context, rec *record.Relay, headers ...map[string]string) error {
	return h.delivery.Deliver(ctx, rec, headers...)
}

// DeliverEvent invokes the callback as the record's delivery attempt.
func (h *Hookline) DeliverEvent(ctx context.Context, rec *record.Relay, cb deliver.Callback) error {
	return h.delivery.DeliverEvent(ctx, rec, cb)
}

// Relay captures the input and immediately delivers the resulting record.
// The record is returned in its post-delivery state.
func (h *Hookline) Relay(ctx context.Context, in capture.Input) (*record.Relay, error) {
	rec, err := h.Capture(ctx, in)
	if err != nil {
		return rec, err
	}
	if err := h.Deliver(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// Cancel moves a record into CANCELLED. Terminal records are rejected.
func (h *Hookline) Cancel(ctx context.Context, recID id.ID) (*record.Relay, error) {
	rec, err := h.store.GetRecord(ctx, recID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminalState, rec.Status)
	}
	if err := h.engine.Cancel(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Requeue fully resets a record to QUEUED, clearing the attempt count.
func (h *Hookline) Requeue(ctx context.Context, recID id.ID) (*record.Relay, error) {
	rec, err := h.store.GetRecord(ctx, recID)
	if err != nil {
		return nil, err
	}
	if err := h.engine.Requeue(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RestoreArchive moves an archived record back into the live table as a
// fresh QUEUED record and removes the archive row.
func (h *Hookline) RestoreArchive(ctx context.Context, recID id.ID) (*record.Relay, error) {
	arc, err := h.store.GetArchive(ctx, recID)
	if err != nil {
		return nil, err
	}

	rec := arc.Relay
	if err := h.store.CreateRecord(ctx, &rec); err != nil {
		return nil, fmt.Errorf("hookline: restore %s: %w", recID, err)
	}
	if err := h.engine.Requeue(ctx, &rec); err != nil {
		return nil, fmt.Errorf("hookline: restore %s: %w", recID, err)
	}
	if err := h.store.DeleteArchive(ctx, recID); err != nil {
		return nil, fmt.Errorf("hookline: restore %s: drop archive: %w", recID, err)
	}

	h.logger.InfoContext(ctx, "archive restored", "record_id", rec.ID)
	return &rec, nil
}

// SeedRoutes upserts declarative route definitions by identifier and flushes
// the resolver cache when anything was written.
func (h *Hookline) SeedRoutes(ctx context.Context, seeds []route.Seed) (int, error) {
	n, err := route.SeedRoutes(ctx, h.store, seeds)
	if err != nil {
		return n, err
	}
	if n > 0 {
		if _, err := h.resolver.FlushCache(ctx); err != nil {
			return n, err
		}
	}
	return n, nil
}

// FlushRouteCache evicts every cached resolution, returning the count.
// Call it after administrative route edits.
func (h *Hookline) FlushRouteCache(ctx context.Context) (int64, error) {
	return h.resolver.FlushCache(ctx)
}

// RegisterProvider adds a programmatic route provider. Providers are
// consulted before persisted routes, in registration order.
func (h *Hookline) RegisterProvider(p route.Provider) {
	h.resolver.RegisterProvider(p)
}

// RegisterHandler adds a named dispatch handler.
func (h *Hookline) RegisterHandler(name string, fn dispatch.Handler) {
	h.registry.Register(name, fn)
}

// Sweeps returns the sweeper for manual sweep runs.
func (h *Hookline) Sweeps() *sweep.Sweeper {
	return h.sweeper
}

// Delivery returns the delivery orchestrator for direct mode-level calls.
func (h *Hookline) Delivery() *deliver.Orchestrator {
	return h.delivery
}

// Resolver returns the route resolver.
func (h *Hookline) Resolver() *route.Resolver {
	return h.resolver
}

// Lifecycle returns the lifecycle engine.
func (h *Hookline) Lifecycle() *lifecycle.Engine {
	return h.engine
}

// Store returns the underlying store.
func (h *Hookline) Store() store.Store {
	return h.store
}
