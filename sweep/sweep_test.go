package sweep_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
	"github.com/xraph/hookline/lifecycle"
	"github.com/xraph/hookline/record"
	"github.com/xraph/hookline/route"
	"github.com/xraph/hookline/store/memory"
	"github.com/xraph/hookline/sweep"
)

func ctx() context.Context { return context.Background() }

func newSweeper(st *memory.Store, cfg sweep.Config) *sweep.Sweeper {
	engine := lifecycle.NewEngine(st, nil)
	return sweep.New(st, st, engine, cfg, nil)
}

func seedRecord(t *testing.T, st *memory.Store, mutate func(*record.Relay)) *record.Relay {
	t.Helper()
	rec := &record.Relay{
		Entity: entity.New(),
		ID:     id.NewRecordID(),
		Mode:   record.ModeHTTP,
		Status: record.StatusQueued,
	}
	if mutate != nil {
		mutate(rec)
	}
	if err := st.CreateRecord(ctx(), rec); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestRetryOverdue(t *testing.T) {
	st := memory.New()
	s := newSweeper(st, sweep.Config{ChunkSize: 2})

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	var due []*record.Relay
	for i := 0; i < 3; i++ {
		due = append(due, seedRecord(t, st, func(r *record.Relay) {
			r.Status = record.StatusFailed
			r.FailureReason = record.ReasonHTTPError.Ptr()
			r.NextRetryAt = &past
			r.AttemptCount = 1
		}))
	}
	notYet := seedRecord(t, st, func(r *record.Relay) {
		r.Status = record.StatusFailed
		r.NextRetryAt = &future
	})

	n, err := s.RetryOverdue(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 requeued, got %d", n)
	}

	for _, rec := range due {
		got, _ := st.GetRecord(ctx(), rec.ID)
		if got.Status != record.StatusQueued {
			t.Fatalf("got status %v", got.Status)
		}
		if got.NextRetryAt != nil || got.FailureReason != nil || got.CompletedAt != nil {
			t.Fatal("requeue must clear schedule, reason and timestamps")
		}
		if got.AttemptCount != 1 {
			t.Fatalf("requeue must preserve attempt count, got %d", got.AttemptCount)
		}
	}

	got, _ := st.GetRecord(ctx(), notYet.ID)
	if got.Status != record.StatusFailed {
		t.Fatal("future retry must be untouched")
	}

	// Idempotent: nothing left to pick up.
	n, err = s.RetryOverdue(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("second run must be a no-op, got %d", n)
	}
}

func TestRequeueStuck(t *testing.T) {
	st := memory.New()
	s := newSweeper(st, sweep.Config{ChunkSize: 10, StuckAfter: time.Hour})

	old := time.Now().UTC().Add(-2 * time.Hour)
	stuck := seedRecord(t, st, func(r *record.Relay) {
		r.Status = record.StatusProcessing
		r.ProcessingAt = &old
		r.AttemptCount = 2
	})
	orphan := seedRecord(t, st, func(r *record.Relay) {
		r.Status = record.StatusProcessing
	})
	fresh := time.Now().UTC()
	active := seedRecord(t, st, func(r *record.Relay) {
		r.Status = record.StatusProcessing
		r.ProcessingAt = &fresh
	})

	n, err := s.RequeueStuck(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 requeued, got %d", n)
	}

	for _, rec := range []*record.Relay{stuck, orphan} {
		got, _ := st.GetRecord(ctx(), rec.ID)
		if got.Status != record.StatusQueued {
			t.Fatalf("got status %v", got.Status)
		}
		if got.NextRetryAt == nil {
			t.Fatal("stuck requeue must set NextRetryAt to now")
		}
		if got.ProcessingAt != nil {
			t.Fatal("stuck requeue must clear ProcessingAt")
		}
	}
	preserved, _ := st.GetRecord(ctx(), stuck.ID)
	if preserved.AttemptCount != 2 {
		t.Fatalf("attempt count must survive, got %d", preserved.AttemptCount)
	}

	got, _ := st.GetRecord(ctx(), active.ID)
	if got.Status != record.StatusProcessing {
		t.Fatal("active row must be untouched")
	}

	n, _ = s.RequeueStuck(ctx())
	if n != 0 {
		t.Fatalf("second run must be a no-op, got %d", n)
	}
}

func TestEnforceTimeouts(t *testing.T) {
	st := memory.New()

	rt := &route.Route{
		Entity:     entity.New(),
		ID:         id.NewRouteID(),
		Identifier: "slow",
		Method:     "POST",
		Path:       "/slow",
		Mode:       record.ModeHTTP,
		Policy:     route.Policy{TimeoutSeconds: 60},
		Enabled:    true,
	}
	if err := st.CreateRoute(ctx(), rt); err != nil {
		t.Fatal(err)
	}

	s := newSweeper(st, sweep.Config{
		ChunkSize:             10,
		TimeoutBuffer:         10 * time.Second,
		DefaultTimeoutSeconds: 300,
	})

	expiredAt := time.Now().UTC().Add(-2 * time.Minute)
	expired := seedRecord(t, st, func(r *record.Relay) {
		r.Status = record.StatusProcessing
		r.ProcessingAt = &expiredAt
		r.RouteID = rt.ID
	})

	recentAt := time.Now().UTC().Add(-30 * time.Second)
	within := seedRecord(t, st, func(r *record.Relay) {
		r.Status = record.StatusProcessing
		r.ProcessingAt = &recentAt
		r.RouteID = rt.ID
	})

	// No route: the 300s default applies, so 2 minutes is not expired.
	routeless := seedRecord(t, st, func(r *record.Relay) {
		r.Status = record.StatusProcessing
		r.ProcessingAt = &expiredAt
	})

	n, err := s.EnforceTimeouts(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 timed out, got %d", n)
	}

	got, _ := st.GetRecord(ctx(), expired.ID)
	if got.Status != record.StatusFailed {
		t.Fatalf("got status %v", got.Status)
	}
	if got.FailureReason == nil || *got.FailureReason != record.ReasonRouteTimeout {
		t.Fatalf("got reason %v", got.FailureReason)
	}

	for _, rec := range []*record.Relay{within, routeless} {
		got, _ := st.GetRecord(ctx(), rec.ID)
		if got.Status != record.StatusProcessing {
			t.Fatalf("row %s must be untouched, got %v", rec.ID, got.Status)
		}
	}

	n, _ = s.EnforceTimeouts(ctx())
	if n != 0 {
		t.Fatalf("second run must be a no-op, got %d", n)
	}
}

func TestArchiveAndPurge(t *testing.T) {
	st := memory.New()
	s := newSweeper(st, sweep.Config{
		ChunkSize:    2,
		ArchiveAfter: time.Hour,
		PurgeAfter:   -time.Minute, // everything just archived is already purgeable
	})

	var old []*record.Relay
	for i := 0; i < 3; i++ {
		rec := seedRecord(t, st, func(r *record.Relay) {
			r.Status = record.StatusCompleted
		})
		rec.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
		if err := st.UpdateRecord(ctx(), rec); err != nil {
			t.Fatal(err)
		}
		old = append(old, rec)
	}
	live := seedRecord(t, st, nil)

	n, err := s.Archive(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 archived, got %d", n)
	}

	for _, rec := range old {
		if _, err := st.GetRecord(ctx(), rec.ID); !errors.Is(err, hookline.ErrRecordNotFound) {
			t.Fatalf("archived row still live: %v", err)
		}
		if _, err := st.GetArchive(ctx(), rec.ID); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := st.GetRecord(ctx(), live.ID); err != nil {
		t.Fatalf("recent row must stay live: %v", err)
	}

	n, _ = s.Archive(ctx())
	if n != 0 {
		t.Fatalf("second archive run must be a no-op, got %d", n)
	}

	n, err = s.Purge(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 purged, got %d", n)
	}
	n, _ = s.Purge(ctx())
	if n != 0 {
		t.Fatalf("second purge run must be a no-op, got %d", n)
	}
}

func TestSchedulerRunsSweeps(t *testing.T) {
	st := memory.New()
	s := newSweeper(st, sweep.Config{ChunkSize: 10})

	past := time.Now().UTC().Add(-time.Minute)
	rec := seedRecord(t, st, func(r *record.Relay) {
		r.Status = record.StatusFailed
		r.NextRetryAt = &past
	})

	sched := sweep.NewScheduler(s, sweep.Intervals{Retry: 10 * time.Millisecond}, nil)
	sched.Start(ctx())
	defer sched.Stop(ctx())

	deadline := time.After(2 * time.Second)
	for {
		got, err := st.GetRecord(ctx(), rec.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == record.StatusQueued {
			return
		}
		select {
		case <-deadline:
			t.Fatal("scheduler did not run the retry sweep in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
