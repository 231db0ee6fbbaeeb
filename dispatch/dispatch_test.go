package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/hookline/dispatch"
	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
	"github.com/xraph/hookline/lifecycle"
	"github.com/xraph/hookline/record"
	"github.com/xraph/hookline/store/memory"
)

func ctx() context.Context { return context.Background() }

func seedRecord(t *testing.T, st *memory.Store) *record.Relay {
	t.Helper()
	rec := &record.Relay{
		Entity:  entity.New(),
		ID:      id.NewRecordID(),
		Mode:    record.ModeDispatch,
		Status:  record.StatusQueued,
		Payload: map[string]any{"order": "ord-7"},
	}
	if err := st.CreateRecord(ctx(), rec); err != nil {
		t.Fatal(err)
	}
	return rec
}

func seedJob(t *testing.T, rec *record.Relay, handler string, args any) *dispatch.Job {
	t.Helper()
	job, err := dispatch.NewJob(rec, handler, args, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	return job
}

// ──────────────────────────────────────────────────
// Queue
// ──────────────────────────────────────────────────

func TestMemoryQueueHonorsNotBefore(t *testing.T) {
	q := dispatch.NewMemoryQueue()
	st := memory.New()
	rec := seedRecord(t, st)

	now := time.Now().UTC()

	ready, err := dispatch.NewJob(rec, "a", nil, now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	deferred, err := dispatch.NewJob(rec, "b", nil, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if err := q.Push(ctx(), deferred); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(ctx(), ready); err != nil {
		t.Fatal(err)
	}

	got, err := q.Pop(ctx(), now)
	if err != nil {
		t.Fatal(err)
	}
	if got.Handler != "a" {
		t.Fatalf("expected ready job, got %q", got.Handler)
	}

	if _, err := q.Pop(ctx(), now); !errors.Is(err, dispatch.ErrQueueEmpty) {
		t.Fatalf("deferred job must not pop early, got %v", err)
	}

	got, err = q.Pop(ctx(), now.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if got.Handler != "b" {
		t.Fatalf("expected deferred job, got %q", got.Handler)
	}
}

// ──────────────────────────────────────────────────
// Worker
// ──────────────────────────────────────────────────

func testWorker(st *memory.Store, reg *dispatch.Registry) *dispatch.Worker {
	engine := lifecycle.NewEngine(st, nil)
	return dispatch.NewWorker(dispatch.NewMemoryQueue(), reg, st, st, engine, dispatch.WorkerConfig{}, nil)
}

func TestExecuteCompletesRecord(t *testing.T) {
	st := memory.New()
	reg := dispatch.NewRegistry()
	reg.Register("orders.sync", func(_ context.Context, rec *record.Relay, args json.RawMessage) (any, error) {
		var decoded map[string]string
		if err := json.Unmarshal(args, &decoded); err != nil {
			return nil, err
		}
		return map[string]any{"synced": decoded["order"]}, nil
	})

	rec := seedRecord(t, st)
	job := seedJob(t, rec, "orders.sync", map[string]string{"order": "ord-7"})

	testWorker(st, reg).Execute(ctx(), job)

	got, err := st.GetRecord(ctx(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != record.StatusCompleted {
		t.Fatalf("got status %v", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("got %d attempts", got.AttemptCount)
	}
	resp, ok := got.ResponsePayload.(map[string]any)
	if !ok || resp["synced"] != "ord-7" {
		t.Fatalf("got response %#v", got.ResponsePayload)
	}
}

func TestExecuteTypedFailure(t *testing.T) {
	st := memory.New()
	reg := dispatch.NewRegistry()
	reg.Register("orders.sync", func(_ context.Context, _ *record.Relay, _ json.RawMessage) (any, error) {
		return nil, dispatch.Fail(record.ReasonHTTPError, "downstream said 503")
	})

	rec := seedRecord(t, st)
	testWorker(st, reg).Execute(ctx(), seedJob(t, rec, "orders.sync", nil))

	got, _ := st.GetRecord(ctx(), rec.ID)
	if got.Status != record.StatusFailed {
		t.Fatalf("got status %v", got.Status)
	}
	if got.FailureReason == nil || *got.FailureReason != record.ReasonHTTPError {
		t.Fatalf("got reason %v", got.FailureReason)
	}
	if got.ResponsePayload != "downstream said 503" {
		t.Fatalf("got response %#v", got.ResponsePayload)
	}
}

func TestExecutePlainErrorIsException(t *testing.T) {
	st := memory.New()
	reg := dispatch.NewRegistry()
	reg.Register("orders.sync", func(_ context.Context, _ *record.Relay, _ json.RawMessage) (any, error) {
		return nil, errors.New("nil pointer somewhere")
	})

	rec := seedRecord(t, st)
	testWorker(st, reg).Execute(ctx(), seedJob(t, rec, "orders.sync", nil))

	got, _ := st.GetRecord(ctx(), rec.ID)
	if got.FailureReason == nil || *got.FailureReason != record.ReasonException {
		t.Fatalf("got reason %v", got.FailureReason)
	}
	summary, ok := got.ResponsePayload.(map[string]any)
	if !ok || summary["error"] != "nil pointer somewhere" {
		t.Fatalf("exception summary not recorded, got %#v", got.ResponsePayload)
	}
}

func TestExecuteMissingHandlerFailsWithoutAttempt(t *testing.T) {
	st := memory.New()
	rec := seedRecord(t, st)

	testWorker(st, dispatch.NewRegistry()).Execute(ctx(), seedJob(t, rec, "ghost", nil))

	got, _ := st.GetRecord(ctx(), rec.ID)
	if got.Status != record.StatusFailed {
		t.Fatalf("got status %v", got.Status)
	}
	if got.AttemptCount != 0 {
		t.Fatalf("missing handler must not consume an attempt, got %d", got.AttemptCount)
	}
}

func TestExecuteSkipsTerminalRecord(t *testing.T) {
	st := memory.New()
	reg := dispatch.NewRegistry()
	called := false
	reg.Register("orders.sync", func(_ context.Context, _ *record.Relay, _ json.RawMessage) (any, error) {
		called = true
		return nil, nil
	})

	rec := seedRecord(t, st)
	engine := lifecycle.NewEngine(st, nil)
	if err := engine.Cancel(ctx(), rec); err != nil {
		t.Fatal(err)
	}

	testWorker(st, reg).Execute(ctx(), seedJob(t, rec, "orders.sync", nil))

	if called {
		t.Fatal("handler must not run for a terminal record")
	}
	got, _ := st.GetRecord(ctx(), rec.ID)
	if got.Status != record.StatusCancelled {
		t.Fatalf("got status %v", got.Status)
	}
}

func TestWorkerDrainsQueue(t *testing.T) {
	st := memory.New()
	reg := dispatch.NewRegistry()
	done := make(chan string, 2)
	reg.Register("orders.sync", func(_ context.Context, rec *record.Relay, _ json.RawMessage) (any, error) {
		done <- rec.ID.String()
		return "ok", nil
	})

	q := dispatch.NewMemoryQueue()
	engine := lifecycle.NewEngine(st, nil)
	w := dispatch.NewWorker(q, reg, st, st, engine, dispatch.WorkerConfig{
		Concurrency:  2,
		PollInterval: 10 * time.Millisecond,
	}, nil)

	a := seedRecord(t, st)
	b := seedRecord(t, st)
	for _, rec := range []*record.Relay{a, b} {
		if err := q.Push(ctx(), seedJob(t, rec, "orders.sync", nil)); err != nil {
			t.Fatal(err)
		}
	}

	w.Start(ctx())
	defer w.Stop(ctx())

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case rid := <-done:
			seen[rid] = true
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not drain queue in time")
		}
	}
	if !seen[a.ID.String()] || !seen[b.ID.String()] {
		t.Fatal("not all jobs executed")
	}
}
