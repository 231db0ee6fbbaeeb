package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
	"github.com/xraph/hookline/record"
	"github.com/xraph/hookline/route"
)

func ctx() context.Context { return context.Background() }

func newRecord(status record.Status) *record.Relay {
	return &record.Relay{
		Entity: entity.New(),
		ID:     id.NewRecordID(),
		Mode:   record.ModeHTTP,
		Status: status,
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	s := New()

	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); !errors.Is(err, hookline.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// record.Store
// ──────────────────────────────────────────────────

func TestRecordCRUD(t *testing.T) {
	s := New()

	rec := newRecord(record.StatusQueued)
	rec.Provider = "stripe"
	rec.ReferenceID = "inv-42"

	if err := s.CreateRecord(ctx(), rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRecord(ctx(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Provider != "stripe" {
		t.Fatalf("got provider %q", got.Provider)
	}

	// Copies: mutating the returned record must not leak into the store.
	got.Provider = "mutated"
	again, err := s.GetRecord(ctx(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Provider != "stripe" {
		t.Fatal("store leaked a live pointer")
	}

	got.Provider = "github"
	if err := s.UpdateRecord(ctx(), got); err != nil {
		t.Fatal(err)
	}
	again, _ = s.GetRecord(ctx(), rec.ID)
	if again.Provider != "github" {
		t.Fatalf("update not applied, got %q", again.Provider)
	}

	if _, err := s.GetRecord(ctx(), id.NewRecordID()); !errors.Is(err, hookline.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if err := s.UpdateRecord(ctx(), newRecord(record.StatusQueued)); !errors.Is(err, hookline.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestListRecordsFilters(t *testing.T) {
	s := New()

	a := newRecord(record.StatusQueued)
	a.Provider = "stripe"
	b := newRecord(record.StatusFailed)
	b.Provider = "stripe"
	c := newRecord(record.StatusQueued)
	c.Provider = "github"
	c.ReferenceID = "ref-1"

	for _, rec := range []*record.Relay{a, b, c} {
		if err := s.CreateRecord(ctx(), rec); err != nil {
			t.Fatal(err)
		}
	}

	queued := record.StatusQueued
	got, err := s.ListRecords(ctx(), record.ListOpts{Status: &queued})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 queued, got %d", len(got))
	}

	got, _ = s.ListRecords(ctx(), record.ListOpts{Provider: "stripe"})
	if len(got) != 2 {
		t.Fatalf("expected 2 stripe records, got %d", len(got))
	}

	got, _ = s.ListRecords(ctx(), record.ListOpts{Reference: "ref-1"})
	if len(got) != 1 || got[0].ID.String() != c.ID.String() {
		t.Fatal("reference filter failed")
	}

	n, err := s.CountByStatus(ctx(), record.StatusFailed)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 failed, got %d", n)
	}
}

func TestKeysetPagination(t *testing.T) {
	s := New()

	now := time.Now().UTC()
	due := now.Add(-time.Minute)
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		rec := newRecord(record.StatusFailed)
		rec.NextRetryAt = &due
		if err := s.CreateRecord(ctx(), rec); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, rec.ID.String())
	}

	first, err := s.ListRetryDue(ctx(), now, id.Nil, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(first))
	}
	if first[0].ID.String() >= first[1].ID.String() {
		t.Fatal("rows not in ascending id order")
	}

	second, err := s.ListRetryDue(ctx(), now, first[1].ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 3 {
		t.Fatalf("expected remaining 3 rows, got %d", len(second))
	}

	seen := map[string]bool{}
	for _, rec := range append(first, second...) {
		if seen[rec.ID.String()] {
			t.Fatalf("row %s returned twice", rec.ID)
		}
		seen[rec.ID.String()] = true
	}
	if len(seen) != len(ids) {
		t.Fatalf("expected all %d rows across pages, got %d", len(ids), len(seen))
	}
}

func TestListStuckAndProcessing(t *testing.T) {
	s := New()

	cutoff := time.Now().UTC().Add(-time.Hour)

	old := cutoff.Add(-time.Minute)
	stuck := newRecord(record.StatusProcessing)
	stuck.ProcessingAt = &old

	orphan := newRecord(record.StatusProcessing) // ProcessingAt never stamped

	fresh := time.Now().UTC()
	active := newRecord(record.StatusProcessing)
	active.ProcessingAt = &fresh

	for _, rec := range []*record.Relay{stuck, orphan, active} {
		if err := s.CreateRecord(ctx(), rec); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListStuck(ctx(), cutoff, id.Nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected stuck+orphan, got %d rows", len(got))
	}

	all, err := s.ListProcessing(ctx(), id.Nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 processing rows, got %d", len(all))
	}
}

func TestArchiveChunkAndPurge(t *testing.T) {
	s := New()

	recs := make([]*record.Relay, 0, 3)
	for i := 0; i < 3; i++ {
		rec := newRecord(record.StatusCompleted)
		if err := s.CreateRecord(ctx(), rec); err != nil {
			t.Fatal(err)
		}
		recs = append(recs, rec)
	}

	if err := s.ArchiveChunk(ctx(), recs[:2]); err != nil {
		t.Fatal(err)
	}

	// Archived rows leave the live table.
	if _, err := s.GetRecord(ctx(), recs[0].ID); !errors.Is(err, hookline.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if _, err := s.GetRecord(ctx(), recs[2].ID); err != nil {
		t.Fatalf("unarchived row must survive: %v", err)
	}

	arc, err := s.GetArchive(ctx(), recs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if arc.ID.String() != recs[0].ID.String() {
		t.Fatal("archive keeps the original relay id")
	}
	if arc.ArchivedAt.IsZero() {
		t.Fatal("ArchivedAt not stamped")
	}

	list, err := s.ListArchives(ctx(), record.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 archives, got %d", len(list))
	}

	// A chunk containing a missing row archives nothing.
	if err := s.ArchiveChunk(ctx(), []*record.Relay{recs[2], newRecord(record.StatusCompleted)}); err == nil {
		t.Fatal("expected error for partial chunk")
	}
	if _, err := s.GetRecord(ctx(), recs[2].ID); err != nil {
		t.Fatalf("failed chunk must not archive any row: %v", err)
	}

	n, err := s.PurgeArchives(ctx(), time.Now().UTC().Add(time.Minute), 1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged with limit 1, got %d", n)
	}
	n, _ = s.PurgeArchives(ctx(), time.Now().UTC().Add(time.Minute), 10)
	if n != 1 {
		t.Fatalf("expected 1 remaining purged, got %d", n)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	s := New()

	rec := newRecord(record.StatusCompleted)
	rec.Provider = "stripe"
	if err := s.CreateRecord(ctx(), rec); err != nil {
		t.Fatal(err)
	}
	if err := s.ArchiveChunk(ctx(), []*record.Relay{rec}); err != nil {
		t.Fatal(err)
	}

	arc, err := s.GetArchive(ctx(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}

	restored := arc.Relay
	if err := s.CreateRecord(ctx(), &restored); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteArchive(ctx(), rec.ID); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRecord(ctx(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Provider != "stripe" {
		t.Fatal("restored record lost fields")
	}
	if _, err := s.GetArchive(ctx(), rec.ID); !errors.Is(err, hookline.ErrArchiveNotFound) {
		t.Fatalf("expected ErrArchiveNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// route.Store
// ──────────────────────────────────────────────────

func newRoute(identifier, method, path string, enabled bool) *route.Route {
	return &route.Route{
		Entity:         entity.New(),
		ID:             id.NewRouteID(),
		Identifier:     identifier,
		Method:         method,
		Path:           path,
		Mode:           record.ModeHTTP,
		DestinationURL: "https://downstream.example.com/hook",
		Enabled:        enabled,
	}
}

func TestRouteCRUD(t *testing.T) {
	s := New()

	rt := newRoute("stripe-invoices", "POST", "/stripe/invoices", true)
	if err := s.CreateRoute(ctx(), rt); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRoute(ctx(), rt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Identifier != "stripe-invoices" {
		t.Fatalf("got identifier %q", got.Identifier)
	}

	got, err = s.GetRouteByIdentifier(ctx(), "stripe-invoices")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != rt.ID.String() {
		t.Fatal("identifier lookup returned wrong route")
	}

	got.Identifier = "stripe-all"
	if err := s.UpdateRoute(ctx(), got); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetRouteByIdentifier(ctx(), "stripe-invoices"); !errors.Is(err, hookline.ErrRouteNotFound) {
		t.Fatal("stale identifier index entry survived rename")
	}
	if _, err := s.GetRouteByIdentifier(ctx(), "stripe-all"); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteRoute(ctx(), rt.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetRoute(ctx(), rt.ID); !errors.Is(err, hookline.ErrRouteNotFound) {
		t.Fatalf("expected ErrRouteNotFound, got %v", err)
	}
}

func TestListRoutesByMethod(t *testing.T) {
	s := New()

	routes := []*route.Route{
		newRoute("a", "POST", "/a", true),
		newRoute("b", "post", "/b", true),
		newRoute("c", "POST", "/c", false),
		newRoute("d", "GET", "/d", true),
	}
	for _, rt := range routes {
		if err := s.CreateRoute(ctx(), rt); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListRoutesByMethod(ctx(), "POST", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 enabled POST routes, got %d", len(got))
	}

	got, _ = s.ListRoutesByMethod(ctx(), "POST", false)
	if len(got) != 1 || got[0].Identifier != "c" {
		t.Fatal("disabled bucket wrong")
	}
}
