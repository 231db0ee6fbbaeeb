// Package lifecycle owns every valid state transition of a relay record.
//
// All transitions persist immediately through a single-row write; the engine
// performs no batching and no row-level locking. Concurrent writers to the
// same record id are not coordinated here (last write wins).
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/hookline/record"
)

// Extras are attributes merged atomically with a state transition.
type Extras struct {
	// ResponseStatus is the outbound response status code to record.
	ResponseStatus int

	// ResponsePayload is the outbound response snapshot to record.
	// A nil value leaves the stored payload untouched.
	ResponsePayload any

	// NextRetryAt schedules a retry pickup. Only meaningful on MarkFailed.
	NextRetryAt *time.Time
}

// Engine applies lifecycle transitions to relay records.
type Engine struct {
	store  record.Store
	logger *slog.Logger
}

// NewEngine creates a lifecycle engine backed by the given store.
func NewEngine(store record.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// StartAttempt moves the record into PROCESSING, increments the attempt
// count and stamps ProcessingAt. Repeated calls simply re-stamp.
func (e *Engine) StartAttempt(ctx context.Context, rec *record.Relay) error {
	now := time.Now().UTC()
	rec.Status = record.StatusProcessing
	rec.AttemptCount++
	rec.ProcessingAt = &now
	rec.CompletedAt = nil
	rec.Touch()

	if err := e.store.UpdateRecord(ctx, rec); err != nil {
		return fmt.Errorf("lifecycle: start attempt: %w", err)
	}

	e.logger.DebugContext(ctx, "attempt started",
		"record_id", rec.ID, "attempt", rec.AttemptCount)
	return nil
}

// MarkCompleted moves the record into COMPLETED, clearing the failure reason
// and any pending retry, merging extras in the same write.
func (e *Engine) MarkCompleted(ctx context.Context, rec *record.Relay, extra *Extras) error {
	now := time.Now().UTC()
	rec.Status = record.StatusCompleted
	rec.FailureReason = nil
	rec.CompletedAt = &now
	rec.NextRetryAt = nil
	applyExtras(rec, extra)
	rec.Touch()

	if err := e.store.UpdateRecord(ctx, rec); err != nil {
		return fmt.Errorf("lifecycle: mark completed: %w", err)
	}

	e.logger.DebugContext(ctx, "record completed",
		"record_id", rec.ID, "attempts", rec.AttemptCount)
	return nil
}

// MarkFailed moves the record into FAILED with the given reason. NextRetryAt
// is cleared unless the extras carry a retry schedule computed from the
// route's retry policy.
func (e *Engine) MarkFailed(ctx context.Context, rec *record.Relay, reason record.FailureReason, extra *Extras) error {
	now := time.Now().UTC()
	rec.Status = record.StatusFailed
	rec.FailureReason = reason.Ptr()
	rec.CompletedAt = &now
	rec.NextRetryAt = nil
	applyExtras(rec, extra)
	rec.Touch()

	if err := e.store.UpdateRecord(ctx, rec); err != nil {
		return fmt.Errorf("lifecycle: mark failed: %w", err)
	}

	e.logger.DebugContext(ctx, "record failed",
		"record_id", rec.ID, "reason", reason.Label(), "retry_at", rec.NextRetryAt)
	return nil
}

// RecordResponse stores an outbound response snapshot without altering the
// lifecycle state.
func (e *Engine) RecordResponse(ctx context.Context, rec *record.Relay, statusCode int, payload any) error {
	rec.ResponseStatus = statusCode
	rec.ResponsePayload = payload
	rec.Touch()

	if err := e.store.UpdateRecord(ctx, rec); err != nil {
		return fmt.Errorf("lifecycle: record response: %w", err)
	}
	return nil
}

// RecordExceptionResponse stores a bounded-length summary of the given error
// via RecordResponse.
func (e *Engine) RecordExceptionResponse(ctx context.Context, rec *record.Relay, cause error) error {
	return e.RecordResponse(ctx, rec, 0, SummarizeError(cause))
}

// Cancel moves the record into CANCELLED. Valid from any non-terminal state.
func (e *Engine) Cancel(ctx context.Context, rec *record.Relay) error {
	if rec.Status.Terminal() {
		return fmt.Errorf("lifecycle: cancel %s: status %s is terminal", rec.ID, rec.Status)
	}

	now := time.Now().UTC()
	rec.Status = record.StatusCancelled
	rec.FailureReason = record.ReasonCancelled.Ptr()
	rec.CompletedAt = &now
	rec.NextRetryAt = nil
	rec.Touch()

	if err := e.store.UpdateRecord(ctx, rec); err != nil {
		return fmt.Errorf("lifecycle: cancel: %w", err)
	}

	e.logger.DebugContext(ctx, "record cancelled", "record_id", rec.ID)
	return nil
}

// RequeueAttempt returns the record to QUEUED for another delivery attempt,
// preserving the attempt count. Failure reason and the processing/completed
// timestamps are cleared. A non-nil nextRetryAt keeps the record
// retry-eligible at that time; nil clears the schedule.
func (e *Engine) RequeueAttempt(ctx context.Context, rec *record.Relay, nextRetryAt *time.Time) error {
	rec.Status = record.StatusQueued
	rec.FailureReason = nil
	rec.CompletedAt = nil
	rec.ProcessingAt = nil
	rec.NextRetryAt = nextRetryAt
	rec.Touch()

	if err := e.store.UpdateRecord(ctx, rec); err != nil {
		return fmt.Errorf("lifecycle: requeue attempt: %w", err)
	}

	e.logger.DebugContext(ctx, "record requeued for retry",
		"record_id", rec.ID, "attempt", rec.AttemptCount, "retry_at", nextRetryAt)
	return nil
}

// Requeue fully resets the record to QUEUED: failure reason, timestamps and
// the attempt count are cleared. Used when restoring from archive or fully
// re-queuing a record.
func (e *Engine) Requeue(ctx context.Context, rec *record.Relay) error {
	rec.Status = record.StatusQueued
	rec.FailureReason = nil
	rec.CompletedAt = nil
	rec.ProcessingAt = nil
	rec.NextRetryAt = nil
	rec.AttemptCount = 0
	rec.Touch()

	if err := e.store.UpdateRecord(ctx, rec); err != nil {
		return fmt.Errorf("lifecycle: requeue: %w", err)
	}

	e.logger.DebugContext(ctx, "record requeued", "record_id", rec.ID)
	return nil
}

func applyExtras(rec *record.Relay, extra *Extras) {
	if extra == nil {
		return
	}
	if extra.ResponseStatus != 0 {
		rec.ResponseStatus = extra.ResponseStatus
	}
	if extra.ResponsePayload != nil {
		rec.ResponsePayload = extra.ResponsePayload
	}
	if extra.NextRetryAt != nil {
		rec.NextRetryAt = extra.NextRetryAt
	}
}
