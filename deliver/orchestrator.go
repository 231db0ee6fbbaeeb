package deliver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/hookline/lifecycle"
	"github.com/xraph/hookline/observability"
	"github.com/xraph/hookline/record"
	"github.com/xraph/hookline/route"
)

// Callback handles an event-mode delivery synchronously. The returned value
// is recorded as the response payload; a returned error fails the record
// with a bounded exception summary.
type Callback func(ctx context.Context, payload any, rec *record.Relay) (any, error)

// Enqueuer hands a dispatch-mode delivery to the background job layer.
// Implemented by the dispatch package.
type Enqueuer interface {
	EnqueueDelivery(ctx context.Context, rec *record.Relay, handler string, args any, notBefore time.Time) error
}

// Limiter gates outbound calls per destination key. Implemented by the
// ratelimit package.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Metrics receives delivery outcome observations. Implemented by the
// observability package.
type Metrics interface {
	ObserveDelivery(mode record.Mode, outcome string, latency time.Duration)
}

// Config carries orchestrator-level defaults applied when a route's policy
// leaves a value unset.
type Config struct {
	// RetrySeconds is the default retry delay.
	RetrySeconds int

	// RetryMaxAttempts is the default attempt ceiling. Zero means unbounded.
	RetryMaxAttempts int

	// HTTPTimeout is the default per-call timeout.
	HTTPTimeout time.Duration

	// DefaultHandler names the dispatch handler used for dispatch-mode
	// records delivered without an explicit handler.
	DefaultHandler string
}

// Orchestrator executes delivery attempts, driving lifecycle transitions and
// retry scheduling from the effective route policy.
type Orchestrator struct {
	routes    route.Store
	engine    *lifecycle.Engine
	transport *Transport
	enqueuer  Enqueuer
	limiter   Limiter
	metrics   Metrics
	tracer    *observability.Tracer
	config    Config
	logger    *slog.Logger
}

// New creates a delivery orchestrator. The enqueuer, limiter and metrics
// collaborators are optional.
func New(routes route.Store, engine *lifecycle.Engine, transport *Transport, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	return &Orchestrator{
		routes:    routes,
		engine:    engine,
		transport: transport,
		config:    cfg,
		logger:    logger,
	}
}

// WithEnqueuer attaches the dispatch job layer.
func (o *Orchestrator) WithEnqueuer(e Enqueuer) *Orchestrator { o.enqueuer = e; return o }

// WithLimiter attaches a per-destination rate limiter.
func (o *Orchestrator) WithLimiter(l Limiter) *Orchestrator { o.limiter = l; return o }

// WithMetrics attaches a delivery metrics sink.
func (o *Orchestrator) WithMetrics(m Metrics) *Orchestrator { o.metrics = m; return o }

// WithTracer attaches an OpenTelemetry tracer for delivery attempts.
func (o *Orchestrator) WithTracer(t *observability.Tracer) *Orchestrator { o.tracer = t; return o }

// Deliver executes the record according to its mode. Event-mode records need
// a callback and must go through DeliverEvent; dispatch-mode records without
// an explicit handler use the configured default. Optional per-call headers
// apply to http-mode deliveries only.
func (o *Orchestrator) Deliver(ctx context.Context, rec *record.Relay, headers ...map[string]string) error {
	switch rec.Mode {
	case record.ModeHTTP, record.ModeAutoRoute:
		return o.DeliverHTTP(ctx, rec, headers...)
	case record.ModeDispatch:
		if o.config.DefaultHandler == "" {
			return fmt.Errorf("deliver: record %s is dispatch mode and no default handler is configured", rec.ID)
		}
		return o.Dispatch(ctx, rec, o.config.DefaultHandler, rec.Payload)
	case record.ModeEvent:
		return fmt.Errorf("deliver: record %s is event mode and needs a callback", rec.ID)
	default:
		return fmt.Errorf("deliver: record %s has unknown mode %q", rec.ID, rec.Mode)
	}
}

// DeliverHTTP performs an outbound HTTP delivery through the transport
// guard. Pre-check failures do not consume an attempt. Per-call headers
// override route-provided headers on collision; route headers fill in the
// rest.
func (o *Orchestrator) DeliverHTTP(ctx context.Context, rec *record.Relay, extra ...map[string]string) error {
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.StartAttemptSpan(ctx, rec.ID.String(), string(rec.Mode), rec.AttemptCount+1)
		defer func() { o.tracer.EndAttemptSpan(span, rec.ResponseStatus, reasonLabel(rec)) }()
	}

	target, headers, policy, limitKey, err := o.effective(ctx, rec)
	if err != nil {
		if failErr := o.engine.MarkFailed(ctx, rec, record.ReasonResolverError, &lifecycle.Extras{
			ResponsePayload: err.Error(),
		}); failErr != nil {
			return failErr
		}
		o.observe(rec.Mode, "failed", 0)
		return nil
	}
	for _, m := range extra {
		for k, v := range m {
			headers[k] = v
		}
	}

	if precheckErr := o.transport.Precheck(target); precheckErr != nil {
		if failErr := o.engine.MarkFailed(ctx, rec, record.ReasonHTTPSRequired, &lifecycle.Extras{
			ResponsePayload: precheckErr.Error(),
		}); failErr != nil {
			return failErr
		}
		o.observe(rec.Mode, "failed", 0)
		o.logger.WarnContext(ctx, "delivery blocked by https enforcement",
			"record_id", rec.ID, "url", target)
		return nil
	}

	if err := o.engine.StartAttempt(ctx, rec); err != nil {
		return err
	}

	if o.limiter != nil && limitKey != "" {
		if err := o.limiter.Wait(ctx, limitKey); err != nil {
			return o.engine.MarkFailed(ctx, rec, record.ReasonConnectionTimeout, &lifecycle.Extras{
				ResponsePayload: fmt.Sprintf("rate limit wait: %v", err),
				NextRetryAt:     o.retryAt(rec, policy),
			})
		}
	}

	timeout := o.config.HTTPTimeout
	if policy.HTTPTimeoutSeconds > 0 {
		timeout = time.Duration(policy.HTTPTimeoutSeconds) * time.Second
	}

	res := o.transport.Do(ctx, rec.Method, target, rec.Payload, headers, timeout)

	extras := &lifecycle.Extras{
		ResponseStatus:  res.StatusCode,
		ResponsePayload: res.Payload,
	}

	if res.OK() {
		if err := o.engine.MarkCompleted(ctx, rec, extras); err != nil {
			return err
		}
		o.observe(rec.Mode, "completed", res.Latency)
		return nil
	}

	extras.NextRetryAt = o.retryAt(rec, policy)
	if err := o.engine.MarkFailed(ctx, rec, *res.Reason, extras); err != nil {
		return err
	}
	o.observe(rec.Mode, "failed", res.Latency)
	o.logger.InfoContext(ctx, "delivery failed",
		"record_id", rec.ID, "reason", res.Reason.Label(),
		"status", res.StatusCode, "retry_at", rec.NextRetryAt)
	return nil
}

// DeliverEvent executes the callback synchronously. Panics inside the
// callback are converted into exception failures instead of unwinding the
// caller.
func (o *Orchestrator) DeliverEvent(ctx context.Context, rec *record.Relay, cb Callback) error {
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.StartAttemptSpan(ctx, rec.ID.String(), string(rec.Mode), rec.AttemptCount+1)
		defer func() { o.tracer.EndAttemptSpan(span, 0, reasonLabel(rec)) }()
	}

	if err := o.engine.StartAttempt(ctx, rec); err != nil {
		return err
	}

	start := time.Now()
	result, cbErr := o.invoke(ctx, rec, cb)
	latency := time.Since(start)

	if cbErr != nil {
		_, policy, perr := o.policyFor(ctx, rec)
		if perr != nil {
			policy = route.Policy{}
		}
		if err := o.engine.MarkFailed(ctx, rec, record.ReasonException, &lifecycle.Extras{
			ResponsePayload: lifecycle.SummarizeError(cbErr),
			NextRetryAt:     o.retryAt(rec, policy),
		}); err != nil {
			return err
		}
		o.observe(rec.Mode, "failed", latency)
		return nil
	}

	if err := o.engine.MarkCompleted(ctx, rec, &lifecycle.Extras{
		ResponsePayload: normalize(result),
	}); err != nil {
		return err
	}
	o.observe(rec.Mode, "completed", latency)
	return nil
}

// Dispatch defers the delivery to the background job layer. Delay policy
// moves the job's earliest execution time forward; the record stays QUEUED
// until a worker picks the job up.
func (o *Orchestrator) Dispatch(ctx context.Context, rec *record.Relay, handler string, args any) error {
	if o.enqueuer == nil {
		return fmt.Errorf("deliver: dispatch mode requires a job queue")
	}

	_, policy, err := o.policyFor(ctx, rec)
	if err != nil {
		return err
	}

	notBefore := time.Now().UTC()
	if policy.Delay && policy.DelaySeconds > 0 {
		notBefore = notBefore.Add(time.Duration(policy.DelaySeconds) * time.Second)
	}

	if err := o.enqueuer.EnqueueDelivery(ctx, rec, handler, args, notBefore); err != nil {
		return fmt.Errorf("deliver: enqueue %s: %w", rec.ID, err)
	}

	o.logger.DebugContext(ctx, "delivery dispatched",
		"record_id", rec.ID, "handler", handler, "not_before", notBefore)
	return nil
}

// invoke runs the callback with panic containment.
func (o *Orchestrator) invoke(ctx context.Context, rec *record.Relay, cb Callback) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return cb(ctx, rec.Payload, rec)
}

// effective resolves the outbound target, route header overrides, policy and
// limiter key for the record. The record's own URL wins over the route's
// destination so manual redeliveries can repoint a single record.
func (o *Orchestrator) effective(ctx context.Context, rec *record.Relay) (string, map[string]string, route.Policy, string, error) {
	rt, policy, err := o.policyFor(ctx, rec)
	if err != nil {
		return "", nil, route.Policy{}, "", err
	}

	target := rec.URL
	limitKey := ""
	headers := map[string]string{}

	if rt != nil {
		if target == "" {
			target = rt.DestinationURL
		}
		limitKey = rt.Identifier
		for k, v := range rt.Headers {
			headers[k] = v
		}
	}
	if target == "" {
		return "", nil, route.Policy{}, "", fmt.Errorf("record %s has no destination URL", rec.ID)
	}
	return target, headers, policy, limitKey, nil
}

// policyFor loads the record's route, if any, and fills policy gaps with the
// orchestrator defaults.
func (o *Orchestrator) policyFor(ctx context.Context, rec *record.Relay) (*route.Route, route.Policy, error) {
	var rt *route.Route
	if !rec.RouteID.IsNil() && o.routes != nil {
		found, err := o.routes.GetRoute(ctx, rec.RouteID)
		if err != nil {
			return nil, route.Policy{}, fmt.Errorf("load route %s: %w", rec.RouteID, err)
		}
		rt = found
	}

	var policy route.Policy
	if rt != nil {
		policy = rt.Policy
	}
	if policy.Retry && policy.RetrySeconds <= 0 {
		policy.RetrySeconds = o.config.RetrySeconds
	}
	if policy.Retry && policy.RetryMaxAttempts <= 0 {
		policy.RetryMaxAttempts = o.config.RetryMaxAttempts
	}
	return rt, policy, nil
}

// retryAt computes the next retry pickup time, or nil when the policy does
// not allow another attempt.
func (o *Orchestrator) retryAt(rec *record.Relay, policy route.Policy) *time.Time {
	if !policy.Retry || policy.RetrySeconds <= 0 {
		return nil
	}
	if policy.RetryMaxAttempts > 0 && rec.AttemptCount >= policy.RetryMaxAttempts {
		return nil
	}
	at := time.Now().UTC().Add(time.Duration(policy.RetrySeconds) * time.Second)
	return &at
}

func (o *Orchestrator) observe(mode record.Mode, outcome string, latency time.Duration) {
	if o.metrics != nil {
		o.metrics.ObserveDelivery(mode, outcome, latency)
	}
}

func reasonLabel(rec *record.Relay) string {
	if rec.FailureReason == nil {
		return ""
	}
	return rec.FailureReason.Label()
}

// normalize makes the callback result JSON-storable: serializable values
// pass through, everything else is stringified.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return v
}
