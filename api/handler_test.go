package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/api"
	"github.com/xraph/hookline/capture"
	"github.com/xraph/hookline/record"
	"github.com/xraph/hookline/store/memory"
)

// testServer creates a Handler backed by a memory store and returns the
// hookline instance alongside the test server.
func testServer(t *testing.T) (*hookline.Hookline, *httptest.Server) {
	t.Helper()

	hl, err := hookline.New(
		hookline.WithStore(memory.New()),
		hookline.WithEnforceHTTPS(false),
	)
	if err != nil {
		t.Fatalf("new hookline: %v", err)
	}

	h := api.NewHandler(hl, slog.Default())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return hl, srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func captureRecord(t *testing.T, hl *hookline.Hookline, ref string) *record.Relay {
	t.Helper()
	rec, err := hl.Capture(context.Background(), capture.Input{
		Method:      "POST",
		URL:         "http://dest.internal/hook",
		ReferenceID: ref,
		Provider:    "stripe",
		Payload:     map[string]any{"event": "charge.succeeded"},
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	return rec
}

// --- Records ---

func TestRecords_GetAndList(t *testing.T) {
	hl, srv := testServer(t)
	rec := captureRecord(t, hl, "ref-100")

	resp := doJSON(t, "GET", srv.URL+"/records/"+rec.ID.String(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	var got record.Relay
	decodeBody(t, resp, &got)
	if got.ReferenceID != "ref-100" {
		t.Fatalf("expected reference ref-100, got %q", got.ReferenceID)
	}

	resp = doJSON(t, "GET", srv.URL+"/records?status=queued", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var list []record.Relay
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 queued record, got %d", len(list))
	}

	resp = doJSON(t, "GET", srv.URL+"/records?status=bogus", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status filter: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRecords_NotFound(t *testing.T) {
	_, srv := testServer(t)

	resp := doJSON(t, "GET", srv.URL+"/records/rly_00000000000000000000000000", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "GET", srv.URL+"/records/not-an-id", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRecords_CancelAndRequeue(t *testing.T) {
	hl, srv := testServer(t)
	rec := captureRecord(t, hl, "ref-200")

	resp := doJSON(t, "POST", srv.URL+"/records/"+rec.ID.String()+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", resp.StatusCode)
	}
	var cancelled record.Relay
	decodeBody(t, resp, &cancelled)
	if cancelled.Status != record.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	// A second cancel hits the terminal-state guard.
	resp = doJSON(t, "POST", srv.URL+"/records/"+rec.ID.String()+"/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second cancel: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "POST", srv.URL+"/records/"+rec.ID.String()+"/requeue", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("requeue: expected 200, got %d", resp.StatusCode)
	}
	var requeued record.Relay
	decodeBody(t, resp, &requeued)
	if requeued.Status != record.StatusQueued {
		t.Fatalf("expected queued after requeue, got %s", requeued.Status)
	}
	if requeued.AttemptCount != 0 {
		t.Fatalf("expected attempt count reset, got %d", requeued.AttemptCount)
	}
}

// --- Routes ---

func TestRoutes_SeedListGet(t *testing.T) {
	_, srv := testServer(t)

	resp := doJSON(t, "POST", srv.URL+"/routes/seed", []map[string]any{
		{
			"identifier":      "orders",
			"method":          "POST",
			"path":            "/orders/{ORDER_ID:int}",
			"type":            "http",
			"destination_url": "http://dest.internal/orders",
		},
		{
			"identifier":      "invoices",
			"method":          "POST",
			"path":            "/invoices",
			"type":            "http",
			"destination_url": "http://dest.internal/invoices",
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seed: expected 200, got %d", resp.StatusCode)
	}
	var seeded map[string]int
	decodeBody(t, resp, &seeded)
	if seeded["written"] != 2 {
		t.Fatalf("expected 2 routes written, got %d", seeded["written"])
	}

	resp = doJSON(t, "GET", srv.URL+"/routes", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var routes []map[string]any
	decodeBody(t, resp, &routes)
	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(routes))
	}

	rtID, _ := routes[0]["id"].(string)
	resp = doJSON(t, "GET", srv.URL+"/routes/"+rtID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "POST", srv.URL+"/routes/flush-cache", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("flush: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// --- Archives ---

func TestArchives_Restore(t *testing.T) {
	hl, srv := testServer(t)
	rec := captureRecord(t, hl, "ref-300")

	if err := hl.Store().ArchiveChunk(context.Background(), []*record.Relay{rec}); err != nil {
		t.Fatalf("archive chunk: %v", err)
	}

	resp := doJSON(t, "GET", srv.URL+"/archives", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var archives []record.Archive
	decodeBody(t, resp, &archives)
	if len(archives) != 1 {
		t.Fatalf("expected 1 archive, got %d", len(archives))
	}

	resp = doJSON(t, "POST", srv.URL+"/archives/"+rec.ID.String()+"/restore", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("restore: expected 200, got %d", resp.StatusCode)
	}
	var restored record.Relay
	decodeBody(t, resp, &restored)
	if restored.Status != record.StatusQueued {
		t.Fatalf("expected queued after restore, got %s", restored.Status)
	}

	// The archive row is gone once the record is live again.
	resp = doJSON(t, "GET", srv.URL+"/archives/"+rec.ID.String(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after restore, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// --- Sweeps ---

func TestSweeps_RunByName(t *testing.T) {
	_, srv := testServer(t)

	resp := doJSON(t, "POST", srv.URL+"/sweeps/retry", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry sweep: expected 200, got %d", resp.StatusCode)
	}
	var out map[string]any
	decodeBody(t, resp, &out)
	if out["sweep"] != "retry" {
		t.Fatalf("expected sweep name retry, got %v", out["sweep"])
	}

	resp = doJSON(t, "POST", srv.URL+"/sweeps/bogus", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown sweep: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// --- Stats ---

func TestStats(t *testing.T) {
	hl, srv := testServer(t)
	captureRecord(t, hl, "ref-400")
	captureRecord(t, hl, "ref-401")

	resp := doJSON(t, "GET", srv.URL+"/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", resp.StatusCode)
	}
	var stats struct {
		Total    int64            `json:"total"`
		ByStatus map[string]int64 `json:"by_status"`
	}
	decodeBody(t, resp, &stats)
	if stats.Total != 2 {
		t.Fatalf("expected total 2, got %d", stats.Total)
	}
	if stats.ByStatus["queued"] != 2 {
		t.Fatalf("expected 2 queued, got %d", stats.ByStatus["queued"])
	}
}
