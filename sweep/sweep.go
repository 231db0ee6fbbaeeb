// Package sweep reconciles relay records in the background: overdue retries
// and stuck rows are requeued, expired rows are timed out, old rows are moved
// to the archive and stale archives are purged.
//
// Every sweep is idempotent and processes matching rows in fixed-size chunks
// ordered by ascending id, so progress is deterministic and restartable.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/lifecycle"
	"github.com/xraph/hookline/record"
	"github.com/xraph/hookline/route"
)

// Metrics receives per-sweep row counts. Implemented by the observability
// package.
type Metrics interface {
	ObserveSweep(name string, rows int)
}

// Config holds sweep thresholds.
type Config struct {
	// ChunkSize bounds rows per store call.
	ChunkSize int

	// StuckAfter is how long a PROCESSING row may sit before the stuck
	// sweep requeues it.
	StuckAfter time.Duration

	// TimeoutBuffer is added on top of a route's timeout before the
	// timeout sweep fails a row.
	TimeoutBuffer time.Duration

	// DefaultTimeoutSeconds applies to records whose route carries no
	// timeout, and to records without a route.
	DefaultTimeoutSeconds int

	// DefaultHTTPTimeoutSeconds is the second-level fallback.
	DefaultHTTPTimeoutSeconds int

	// ArchiveAfter is the age at which an untouched row is archived.
	ArchiveAfter time.Duration

	// PurgeAfter is the age at which an archived row is hard-deleted.
	PurgeAfter time.Duration
}

// Sweeper runs the reconciliation sweeps against the record store.
type Sweeper struct {
	records record.Store
	routes  route.Store
	engine  *lifecycle.Engine
	config  Config
	metrics Metrics
	logger  *slog.Logger
}

// New creates a sweeper.
func New(records record.Store, routes route.Store, engine *lifecycle.Engine, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 100
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = time.Hour
	}
	if cfg.DefaultTimeoutSeconds <= 0 {
		cfg.DefaultTimeoutSeconds = 300
	}
	return &Sweeper{
		records: records,
		routes:  routes,
		engine:  engine,
		config:  cfg,
		logger:  logger,
	}
}

// WithMetrics attaches a sweep metrics sink.
func (s *Sweeper) WithMetrics(m Metrics) *Sweeper { s.metrics = m; return s }

// RetryOverdue requeues rows whose NextRetryAt has passed, clearing the
// schedule. Returns the number of rows requeued.
func (s *Sweeper) RetryOverdue(ctx context.Context) (int, error) {
	ctx, span := startSpan(ctx, "retry_overdue")
	defer span.End()

	now := time.Now().UTC()
	count := 0
	after := id.Nil

	for {
		chunk, err := s.records.ListRetryDue(ctx, now, after, s.config.ChunkSize)
		if err != nil {
			return count, fmt.Errorf("sweep: list retry due: %w", err)
		}
		if len(chunk) == 0 {
			break
		}

		for _, rec := range chunk {
			if rec.Status == record.StatusCancelled || rec.Status == record.StatusCompleted {
				continue
			}
			if err := s.engine.RequeueAttempt(ctx, rec, nil); err != nil {
				return count, err
			}
			count++
		}

		after = chunk[len(chunk)-1].ID
		if len(chunk) < s.config.ChunkSize {
			break
		}
	}

	s.done(ctx, span, "retry_overdue", count)
	return count, nil
}

// RequeueStuck requeues PROCESSING rows whose ProcessingAt is missing or
// older than StuckAfter, setting NextRetryAt to now so the row is
// immediately retry-eligible.
func (s *Sweeper) RequeueStuck(ctx context.Context) (int, error) {
	ctx, span := startSpan(ctx, "requeue_stuck")
	defer span.End()

	now := time.Now().UTC()
	cutoff := now.Add(-s.config.StuckAfter)
	count := 0
	after := id.Nil

	for {
		chunk, err := s.records.ListStuck(ctx, cutoff, after, s.config.ChunkSize)
		if err != nil {
			return count, fmt.Errorf("sweep: list stuck: %w", err)
		}
		if len(chunk) == 0 {
			break
		}

		for _, rec := range chunk {
			retryAt := now
			if err := s.engine.RequeueAttempt(ctx, rec, &retryAt); err != nil {
				return count, err
			}
			count++
		}

		after = chunk[len(chunk)-1].ID
		if len(chunk) < s.config.ChunkSize {
			break
		}
	}

	s.done(ctx, span, "requeue_stuck", count)
	return count, nil
}

// EnforceTimeouts fails PROCESSING rows whose route timeout (falling back to
// the HTTP timeout, then the configured defaults) elapsed since ProcessingAt
// plus the buffer.
func (s *Sweeper) EnforceTimeouts(ctx context.Context) (int, error) {
	ctx, span := startSpan(ctx, "enforce_timeouts")
	defer span.End()

	now := time.Now().UTC()
	count := 0
	after := id.Nil

	for {
		chunk, err := s.records.ListProcessing(ctx, after, s.config.ChunkSize)
		if err != nil {
			return count, fmt.Errorf("sweep: list processing: %w", err)
		}
		if len(chunk) == 0 {
			break
		}

		for _, rec := range chunk {
			if rec.ProcessingAt == nil {
				// The stuck sweep owns rows that never stamped ProcessingAt.
				continue
			}

			timeout, err := s.timeoutFor(ctx, rec)
			if err != nil {
				s.logger.WarnContext(ctx, "timeout lookup failed",
					"record_id", rec.ID, "route_id", rec.RouteID, "error", err)
				continue
			}

			deadline := rec.ProcessingAt.Add(timeout + s.config.TimeoutBuffer)
			if now.Before(deadline) {
				continue
			}

			if err := s.engine.MarkFailed(ctx, rec, record.ReasonRouteTimeout, nil); err != nil {
				return count, err
			}
			count++
		}

		after = chunk[len(chunk)-1].ID
		if len(chunk) < s.config.ChunkSize {
			break
		}
	}

	s.done(ctx, span, "enforce_timeouts", count)
	return count, nil
}

// Archive moves rows untouched for longer than ArchiveAfter into the archive
// store, chunk by chunk. Each chunk commits or fails as a whole.
func (s *Sweeper) Archive(ctx context.Context) (int, error) {
	ctx, span := startSpan(ctx, "archive")
	defer span.End()

	cutoff := time.Now().UTC().Add(-s.config.ArchiveAfter)
	count := 0
	after := id.Nil

	for {
		chunk, err := s.records.ListArchivable(ctx, cutoff, after, s.config.ChunkSize)
		if err != nil {
			return count, fmt.Errorf("sweep: list archivable: %w", err)
		}
		if len(chunk) == 0 {
			break
		}

		if err := s.records.ArchiveChunk(ctx, chunk); err != nil {
			return count, fmt.Errorf("sweep: archive chunk: %w", err)
		}
		count += len(chunk)

		after = chunk[len(chunk)-1].ID
		if len(chunk) < s.config.ChunkSize {
			break
		}
	}

	s.done(ctx, span, "archive", count)
	return count, nil
}

// Purge hard-deletes archive rows older than PurgeAfter, chunk by chunk.
func (s *Sweeper) Purge(ctx context.Context) (int, error) {
	ctx, span := startSpan(ctx, "purge")
	defer span.End()

	cutoff := time.Now().UTC().Add(-s.config.PurgeAfter)
	count := 0

	for {
		n, err := s.records.PurgeArchives(ctx, cutoff, s.config.ChunkSize)
		if err != nil {
			return count, fmt.Errorf("sweep: purge archives: %w", err)
		}
		count += int(n)
		if int(n) < s.config.ChunkSize {
			break
		}
	}

	s.done(ctx, span, "purge", count)
	return count, nil
}

// timeoutFor resolves the effective processing timeout for a record.
func (s *Sweeper) timeoutFor(ctx context.Context, rec *record.Relay) (time.Duration, error) {
	seconds := 0
	if !rec.RouteID.IsNil() && s.routes != nil {
		rt, err := s.routes.GetRoute(ctx, rec.RouteID)
		if err != nil {
			return 0, err
		}
		seconds = rt.Policy.TimeoutSeconds
		if seconds <= 0 {
			seconds = rt.Policy.HTTPTimeoutSeconds
		}
	}
	if seconds <= 0 {
		seconds = s.config.DefaultTimeoutSeconds
	}
	if seconds <= 0 {
		seconds = s.config.DefaultHTTPTimeoutSeconds
	}
	return time.Duration(seconds) * time.Second, nil
}

func (s *Sweeper) done(ctx context.Context, span trace.Span, name string, rows int) {
	span.SetAttributes(attribute.Int("sweep.rows", rows))
	if s.metrics != nil {
		s.metrics.ObserveSweep(name, rows)
	}
	if rows > 0 {
		s.logger.InfoContext(ctx, "sweep processed rows", "sweep", name, "rows", rows)
	}
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	tracer := otel.Tracer("hookline/sweep")
	return tracer.Start(ctx, "sweep."+name)
}
