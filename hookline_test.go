package hookline_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/capture"
	"github.com/xraph/hookline/record"
	"github.com/xraph/hookline/route"
	"github.com/xraph/hookline/store/memory"
)

func ctx() context.Context { return context.Background() }

func setup(t *testing.T, opts ...hookline.Option) (*hookline.Hookline, *memory.Store) {
	t.Helper()
	s := memory.New()
	opts = append([]hookline.Option{
		hookline.WithStore(s),
		hookline.WithEnforceHTTPS(false), // httptest servers speak plain HTTP
	}, opts...)
	h, err := hookline.New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	return h, s
}

func TestRelayHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	h, s := setup(t)

	rec, err := h.Relay(ctx(), capture.Input{
		Method:  http.MethodPost,
		URL:     srv.URL,
		Payload: map[string]any{"lead_id": 42},
	})
	if err != nil {
		t.Fatal(err)
	}

	if rec.Status != record.StatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
	if rec.AttemptCount != 1 {
		t.Fatalf("expected 1 attempt, got %d", rec.AttemptCount)
	}
	if rec.ResponseStatus != http.StatusOK {
		t.Fatalf("expected 200 response, got %d", rec.ResponseStatus)
	}

	// The post-delivery state must be persisted.
	stored, err := s.GetRecord(ctx(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != record.StatusCompleted {
		t.Fatalf("expected persisted completed, got %s", stored.Status)
	}
}

func TestCaptureAutoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h, _ := setup(t)

	if _, err := h.SeedRoutes(ctx(), []route.Seed{{
		Identifier:     "crm-leads",
		Method:         "POST",
		Path:           "/leads/{LEAD_ID:int}",
		DestinationURL: srv.URL,
	}}); err != nil {
		t.Fatal(err)
	}

	rec, err := h.Capture(ctx(), capture.Input{
		Mode:    record.ModeAutoRoute,
		Method:  http.MethodPost,
		Path:    "/leads/42",
		Payload: map[string]any{"name": "Ada"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if rec.RouteID.IsNil() {
		t.Fatal("expected a resolved route id")
	}
	if rec.Mode != record.ModeHTTP {
		t.Fatalf("expected http mode after resolution, got %s", rec.Mode)
	}
	if rec.URL != srv.URL {
		t.Fatalf("expected destination %q, got %q", srv.URL, rec.URL)
	}

	if err := h.Deliver(ctx(), rec); err != nil {
		t.Fatal(err)
	}
	if rec.Status != record.StatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
}

func TestCaptureAutoRouteNoMatch(t *testing.T) {
	h, _ := setup(t)

	_, err := h.Capture(ctx(), capture.Input{
		Mode:   record.ModeAutoRoute,
		Method: http.MethodPost,
		Path:   "/nowhere",
	})

	var rej *capture.Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected a rejection, got %v", err)
	}
	if rej.Reason != record.ReasonNoRouteMatch {
		t.Fatalf("expected no-route-match, got %s", rej.Reason)
	}
}

func TestCaptureOversizePayload(t *testing.T) {
	h, s := setup(t, hookline.WithMaxPayloadBytes(16))

	rec, err := h.Capture(ctx(), capture.Input{
		Method:  http.MethodPost,
		URL:     "https://example.com/hook",
		Payload: map[string]any{"blob": strings.Repeat("x", 64)},
	})

	var rej *capture.Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected a rejection, got %v", err)
	}
	if rej.Reason != record.ReasonPayloadTooLarge {
		t.Fatalf("expected payload-too-large, got %s", rej.Reason)
	}

	// The rejected record is persisted without the payload.
	stored, err := s.GetRecord(ctx(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != record.StatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.Payload != nil {
		t.Fatal("expected payload to be dropped")
	}
}

func TestCancelAndRequeue(t *testing.T) {
	h, _ := setup(t)

	rec, err := h.Capture(ctx(), capture.Input{
		Method: http.MethodPost,
		URL:    "https://example.com/hook",
	})
	if err != nil {
		t.Fatal(err)
	}

	cancelled, err := h.Cancel(ctx(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != record.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	// Cancelling a terminal record is rejected.
	if _, err := h.Cancel(ctx(), rec.ID); !errors.Is(err, hookline.ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}

	requeued, err := h.Requeue(ctx(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if requeued.Status != record.StatusQueued {
		t.Fatalf("expected queued, got %s", requeued.Status)
	}
	if requeued.FailureReason != nil || requeued.AttemptCount != 0 {
		t.Fatal("expected a full reset")
	}
}

func TestRestoreArchiveRoundTrip(t *testing.T) {
	h, s := setup(t)

	rec, err := h.Capture(ctx(), capture.Input{
		Method:      http.MethodPost,
		URL:         "https://example.com/hook",
		ReferenceID: "order-77",
		Payload:     map[string]any{"total": 12.5},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ArchiveChunk(ctx(), []*record.Relay{rec}); err != nil {
		t.Fatal(err)
	}

	restored, err := h.RestoreArchive(ctx(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}

	if restored.Status != record.StatusQueued {
		t.Fatalf("expected queued, got %s", restored.Status)
	}
	if restored.FailureReason != nil {
		t.Fatal("expected failure reason to be cleared")
	}
	if restored.NextRetryAt != nil || restored.ProcessingAt != nil || restored.CompletedAt != nil {
		t.Fatal("expected timestamps to be cleared")
	}
	if restored.ReferenceID != rec.ReferenceID || restored.URL != rec.URL {
		t.Fatal("expected the captured fields to survive the round trip")
	}

	if _, err := s.GetArchive(ctx(), rec.ID); !errors.Is(err, hookline.ErrArchiveNotFound) {
		t.Fatalf("expected the archive row to be gone, got %v", err)
	}
	if _, err := s.GetRecord(ctx(), rec.ID); err != nil {
		t.Fatalf("expected a live record, got %v", err)
	}
}

func TestSeedRoutesUpsert(t *testing.T) {
	h, s := setup(t)

	seeds := []route.Seed{
		{Identifier: "a", Path: "/a", DestinationURL: "https://a.example.com"},
		{Identifier: "b", Path: "/b", DestinationURL: "https://b.example.com"},
	}

	n, err := h.SeedRoutes(ctx(), seeds)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 routes written, got %d", n)
	}

	// Re-seeding updates in place instead of duplicating.
	seeds[0].DestinationURL = "https://a2.example.com"
	if _, err := h.SeedRoutes(ctx(), seeds); err != nil {
		t.Fatal(err)
	}

	routes, err := s.ListRoutes(ctx(), route.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(routes))
	}
	rt, err := s.GetRouteByIdentifier(ctx(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if rt.DestinationURL != "https://a2.example.com" {
		t.Fatalf("expected updated destination, got %q", rt.DestinationURL)
	}
}

func TestRegisterProvider(t *testing.T) {
	h, _ := setup(t)

	h.RegisterProvider(route.ProviderFunc("static", func(_ context.Context, req route.Request) (*route.Resolution, error) {
		if req.Path != "/provided" {
			return nil, nil
		}
		return &route.Resolution{
			Mode:           record.ModeHTTP,
			DestinationURL: "https://provider.example.com/hook",
		}, nil
	}))

	rec, err := h.Capture(ctx(), capture.Input{
		Mode:   record.ModeAutoRoute,
		Method: http.MethodPost,
		Path:   "/provided",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.URL != "https://provider.example.com/hook" {
		t.Fatalf("expected provider destination, got %q", rec.URL)
	}
	if !rec.RouteID.IsNil() {
		t.Fatal("expected no persisted route id for a provider match")
	}
}

func TestDeliverEventCallback(t *testing.T) {
	h, _ := setup(t)

	rec, err := h.Capture(ctx(), capture.Input{
		Mode:    record.ModeEvent,
		Payload: map[string]any{"n": 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	err = h.DeliverEvent(ctx(), rec, func(_ context.Context, payload any, _ *record.Relay) (any, error) {
		m, _ := payload.(map[string]any)
		return map[string]any{"echo": m["n"]}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != record.StatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
}

func TestDispatchEndToEnd(t *testing.T) {
	h, s := setup(t, hookline.WithDispatchPollInterval(10*time.Millisecond))

	h.RegisterHandler("noop", func(_ context.Context, rec *record.Relay, _ json.RawMessage) (any, error) {
		return map[string]any{"handled": rec.ID.String()}, nil
	})

	rec, err := h.Capture(ctx(), capture.Input{
		Mode:    record.ModeDispatch,
		Payload: map[string]any{"k": "v"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Delivery().Dispatch(ctx(), rec, "noop", nil); err != nil {
		t.Fatal(err)
	}

	h.Start(ctx())
	defer h.Stop(ctx())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := s.GetRecord(ctx(), rec.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == record.StatusCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("dispatch job was not executed before the deadline")
}
