package hookline

import (
	"log/slog"
	"time"

	"github.com/xraph/hookline/capture"
	"github.com/xraph/hookline/deliver"
	"github.com/xraph/hookline/dispatch"
	"github.com/xraph/hookline/guard"
	"github.com/xraph/hookline/lifecycle"
	"github.com/xraph/hookline/observability"
	"github.com/xraph/hookline/ratelimit"
	"github.com/xraph/hookline/route"
	"github.com/xraph/hookline/store"
	"github.com/xraph/hookline/sweep"
)

// Hookline is the root webhook relay engine.
type Hookline struct {
	config    Config
	store     store.Store
	cache     route.Cache
	guards    []guard.Guard
	resolver  *route.Resolver
	capturer  *capture.Capturer
	engine    *lifecycle.Engine
	delivery  *deliver.Orchestrator
	queue     dispatch.Queue
	registry  *dispatch.Registry
	worker    *dispatch.Worker
	sweeper   *sweep.Sweeper
	scheduler *sweep.Scheduler
	limiter   *ratelimit.Limiter
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    *slog.Logger
}

// Option configures a Hookline instance.
type Option func(*Hookline) error

// New creates a new Hookline with the given options.
func New(opts ...Option) (*Hookline, error) {
	h := &Hookline{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	if h.store == nil {
		return nil, ErrNoStore
	}
	h.wireServices()
	return h, nil
}

// WithStore sets the persistence backend for the Hookline instance.
func WithStore(s store.Store) Option {
	return func(h *Hookline) error {
		h.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Hookline instance.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hookline) error {
		h.logger = logger
		return nil
	}
}

// WithConfig replaces the whole config, typically one built by LoadConfig.
func WithConfig(cfg Config) Option {
	return func(h *Hookline) error {
		h.config = cfg
		return nil
	}
}

// WithRouteCache sets the resolver cache, typically the Redis-backed one.
// Without it resolution falls back to an in-process cache.
func WithRouteCache(c route.Cache) Option {
	return func(h *Hookline) error {
		h.cache = c
		return nil
	}
}

// WithGuard appends a capture-time guard. Guards run in registration order.
func WithGuard(g guard.Guard) Option {
	return func(h *Hookline) error {
		h.guards = append(h.guards, g)
		return nil
	}
}

// WithDispatchQueue sets the job transport for dispatch-mode records.
// Without it jobs stay in an in-process queue.
func WithDispatchQueue(q dispatch.Queue) Option {
	return func(h *Hookline) error {
		h.queue = q
		return nil
	}
}

// WithMetrics attaches a Prometheus metrics set.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Hookline) error {
		h.metrics = m
		return nil
	}
}

// WithTracer attaches an OpenTelemetry tracer for delivery attempts.
func WithTracer(t *observability.Tracer) Option {
	return func(h *Hookline) error {
		h.tracer = t
		return nil
	}
}

// WithMaxPayloadBytes caps the JSON encoding of a captured payload.
func WithMaxPayloadBytes(n int) Option {
	return func(h *Hookline) error {
		h.config.MaxPayloadBytes = n
		return nil
	}
}

// WithSensitiveHeaders sets the header names masked at capture time.
func WithSensitiveHeaders(names ...string) Option {
	return func(h *Hookline) error {
		h.config.SensitiveHeaders = names
		return nil
	}
}

// WithRetryDefaults sets the retry delay and attempt ceiling used when a
// route's policy enables retry without values of its own.
func WithRetryDefaults(retrySeconds, maxAttempts int) Option {
	return func(h *Hookline) error {
		h.config.DefaultRetrySeconds = retrySeconds
		h.config.DefaultRetryMaxAttempts = maxAttempts
		return nil
	}
}

// WithHTTPTimeout sets the default per-call timeout for outbound deliveries.
func WithHTTPTimeout(d time.Duration) Option {
	return func(h *Hookline) error {
		h.config.DefaultHTTPTimeoutSeconds = int(d / time.Second)
		return nil
	}
}

// WithEnforceHTTPS toggles the HTTPS-only transport precheck.
func WithEnforceHTTPS(enforce bool) Option {
	return func(h *Hookline) error {
		h.config.EnforceHTTPS = enforce
		return nil
	}
}

// WithRateLimit sets the default outbound rate per destination key.
func WithRateLimit(perSecond int) Option {
	return func(h *Hookline) error {
		h.config.RateLimitPerSecond = perSecond
		return nil
	}
}

// WithCacheTTL sets the TTL for the route resolver's cache entries.
func WithCacheTTL(d time.Duration) Option {
	return func(h *Hookline) error {
		h.config.CacheTTL = d
		return nil
	}
}

// WithSweepIntervals sets the background sweep schedule. A zero interval
// disables that sweep.
func WithSweepIntervals(iv SweepIntervals) Option {
	return func(h *Hookline) error {
		h.config.SweepIntervals = iv
		return nil
	}
}

// WithDispatchConcurrency sets the number of dispatch worker goroutines.
func WithDispatchConcurrency(n int) Option {
	return func(h *Hookline) error {
		h.config.DispatchConcurrency = n
		return nil
	}
}

// WithDispatchPollInterval sets how often the dispatch worker polls the queue.
func WithDispatchPollInterval(d time.Duration) Option {
	return func(h *Hookline) error {
		h.config.DispatchPollInterval = d
		return nil
	}
}
