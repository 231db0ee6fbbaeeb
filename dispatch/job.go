// Package dispatch defers relay deliveries through a job queue: dispatch-mode
// records become jobs naming a registered handler plus structured arguments,
// and a worker pool executes them under the record lifecycle.
//
// Jobs never carry code. The handler name is resolved against the process
// registry at execution time, so jobs survive a restart as plain data.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
	"github.com/xraph/hookline/record"
)

// Job is one deferred delivery: a handler name, its arguments and the relay
// record it executes for.
type Job struct {
	entity.Entity

	// ID is the unique TypeID for this job.
	ID id.ID `json:"id"`

	// RelayID references the record this job delivers.
	RelayID id.ID `json:"relay_id"`

	// Handler names the registered handler to invoke.
	Handler string `json:"handler"`

	// Args are the structured arguments passed to the handler.
	Args json.RawMessage `json:"args,omitempty"`

	// NotBefore is the earliest execution time, moved forward by delay policy.
	NotBefore time.Time `json:"not_before"`
}

// NewJob creates a job for the given record and handler. Args must be
// JSON-serializable.
func NewJob(rec *record.Relay, handler string, args any, notBefore time.Time) (*Job, error) {
	var raw json.RawMessage
	if args != nil {
		encoded, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("dispatch: encode args for %q: %w", handler, err)
		}
		raw = encoded
	}
	return &Job{
		Entity:    entity.New(),
		ID:        id.NewJobID(),
		RelayID:   rec.ID,
		Handler:   handler,
		Args:      raw,
		NotBefore: notBefore.UTC(),
	}, nil
}

// Handler executes one job against its relay record. The returned value is
// recorded as the response payload. Return an error created with Fail to
// control the recorded failure reason; any other error is an exception.
type Handler func(ctx context.Context, rec *record.Relay, args json.RawMessage) (any, error)

// Registry maps handler names to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces a handler under the given name.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered handler names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// FailError is a typed handler failure carrying the reason to record.
type FailError struct {
	Reason  record.FailureReason
	Message string
}

// Fail creates a typed failure. Handlers return it to pick the recorded
// failure reason instead of the generic exception classification.
func Fail(reason record.FailureReason, message string) error {
	return &FailError{Reason: reason, Message: message}
}

func (e *FailError) Error() string {
	return fmt.Sprintf("dispatch: %s: %s", e.Reason.Label(), e.Message)
}
