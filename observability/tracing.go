package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/hookline"

// Tracer provides OpenTelemetry tracing for Hookline.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Hookline tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartAttemptSpan starts a new span for a delivery attempt.
func (t *Tracer) StartAttemptSpan(ctx context.Context, recordID, mode string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "hookline.deliver",
		trace.WithAttributes(
			attribute.String("hookline.record_id", recordID),
			attribute.String("hookline.mode", mode),
			attribute.Int("hookline.attempt", attempt),
		),
	)
}

// EndAttemptSpan ends a delivery span with result attributes.
func (t *Tracer) EndAttemptSpan(span trace.Span, statusCode int, reason string) {
	if statusCode != 0 {
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
	}
	if reason != "" {
		span.SetAttributes(attribute.String("hookline.failure_reason", reason))
	}
	span.End()
}
