package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/xraph/hookline/record"
)

var (
	// ErrQueueEmpty is returned by Pop when no job is ready.
	ErrQueueEmpty = errors.New("dispatch: queue is empty")

	// ErrQueueClosed is returned after the queue is closed.
	ErrQueueClosed = errors.New("dispatch: queue is closed")

	// ErrHandlerNotFound is returned when a job names an unregistered handler.
	ErrHandlerNotFound = errors.New("dispatch: handler not found")
)

// Queue is the job transport. Pop returns ErrQueueEmpty when no job is ready
// at the given time.
type Queue interface {
	// Push appends a job.
	Push(ctx context.Context, job *Job) error

	// Pop removes and returns the most overdue ready job.
	Pop(ctx context.Context, now time.Time) (*Job, error)

	// Len returns the number of queued jobs, ready or not.
	Len(ctx context.Context) (int, error)

	// Close releases queue resources.
	Close() error
}

// Enqueuer adapts a Queue to the delivery orchestrator's dispatch hook.
type Enqueuer struct {
	queue Queue
}

// NewEnqueuer wraps a queue for use by the delivery orchestrator.
func NewEnqueuer(q Queue) *Enqueuer { return &Enqueuer{queue: q} }

// EnqueueDelivery builds a job for the record and pushes it.
func (e *Enqueuer) EnqueueDelivery(ctx context.Context, rec *record.Relay, handler string, args any, notBefore time.Time) error {
	job, err := NewJob(rec, handler, args, notBefore)
	if err != nil {
		return err
	}
	return e.queue.Push(ctx, job)
}

// MemoryQueue is an in-process Queue for tests and single-node embedding.
type MemoryQueue struct {
	mu     sync.Mutex
	jobs   []*Job
	closed bool
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Push appends a job.
func (q *MemoryQueue) Push(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.jobs = append(q.jobs, job)
	return nil
}

// Pop removes and returns the ready job with the earliest NotBefore.
func (q *MemoryQueue) Pop(_ context.Context, now time.Time) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	best := -1
	for i, job := range q.jobs {
		if job.NotBefore.After(now) {
			continue
		}
		if best < 0 || job.NotBefore.Before(q.jobs[best].NotBefore) {
			best = i
		}
	}
	if best < 0 {
		return nil, ErrQueueEmpty
	}

	job := q.jobs[best]
	q.jobs = append(q.jobs[:best], q.jobs[best+1:]...)
	return job, nil
}

// Len returns the number of queued jobs.
func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs), nil
}

// Close marks the queue closed.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Snapshot returns the queued jobs sorted by NotBefore, for inspection.
func (q *MemoryQueue) Snapshot() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Job, len(q.jobs))
	copy(out, q.jobs)
	sort.Slice(out, func(i, j int) bool {
		return out[i].NotBefore.Before(out[j].NotBefore)
	})
	return out
}
