// Package hookline provides a composable webhook relay engine for Go.
//
// Hookline is a library — not a service. Import it into your application to
// capture inbound webhooks as durable relay records, resolve them to
// destinations through persisted or programmatic routes, and deliver them
// over guarded HTTP, deferred dispatch jobs, or synchronous callbacks, with
// retry scheduling and background reconciliation sweeps.
//
// Key features:
//   - Durable relay records with a strict lifecycle state machine
//   - Route resolution with typed path templates and a flushable cache
//   - Capture-time guard pipeline (signatures, JSON Schema, custom checks)
//   - HTTPS-enforcing transport with redirect pinning and bounded responses
//   - Named-handler dispatch jobs with per-route delay policies
//   - Retry, stuck-requeue, timeout, archive and purge sweeps
//   - Composable store pattern (Postgres via Bun, in-memory, Redis cache/queue)
//
// Quick start:
//
//	hl, err := hookline.New(
//	    hookline.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rec, err := hl.Relay(ctx, capture.Input{
//	    Mode:    record.ModeHTTP,
//	    Method:  http.MethodPost,
//	    URL:     "https://crm.example.com/leads",
//	    Payload: map[string]any{"lead_id": 42},
//	})
package hookline
