// Package guard defines the pluggable validator contract run against inbound
// headers and payloads before a relay record is fully captured.
package guard

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/xraph/hookline/record"
)

// Guard validates an inbound request before capture. Implementations signal
// rejection by returning a *HeaderViolation or *PayloadViolation.
type Guard interface {
	// Name identifies the guard in violation responses and logs.
	Name() string

	// ValidateHeaders checks the inbound headers.
	ValidateHeaders(ctx context.Context, gc *Context) error

	// ValidatePayload checks the decoded payload.
	ValidatePayload(ctx context.Context, gc *Context) error

	// CaptureFailures reports whether a rejected request should still be
	// persisted as a failed relay record.
	CaptureFailures() bool
}

// Base is the default no-op guard. Compose it into concrete guards to
// inherit pass-through behavior for the checks they do not implement.
type Base struct{}

// Name implements Guard.
func (Base) Name() string { return "guard" }

// ValidateHeaders implements Guard; it accepts everything.
func (Base) ValidateHeaders(context.Context, *Context) error { return nil }

// ValidatePayload implements Guard; it accepts everything.
func (Base) ValidatePayload(context.Context, *Context) error { return nil }

// CaptureFailures implements Guard; rejected requests are persisted.
func (Base) CaptureFailures() bool { return true }

// Context is the validation input handed to guards.
type Context struct {
	headers map[string]string

	// Payload is the decoded request payload.
	Payload any

	// RawBody is the undecoded request body.
	RawBody []byte

	// Record is the in-progress relay record. Nil unless the active guard
	// reports CaptureFailures.
	Record *record.Relay
}

// NewContext builds a guard context over the captured header map.
func NewContext(headers map[string]string, payload any, rawBody []byte) *Context {
	normalized := make(map[string]string, len(headers))
	for k, v := range headers {
		normalized[http.CanonicalHeaderKey(k)] = v
	}
	return &Context{headers: normalized, Payload: payload, RawBody: rawBody}
}

// Header returns the value for a header name, case-insensitively.
func (gc *Context) Header(name string) string {
	return gc.headers[http.CanonicalHeaderKey(name)]
}

// HeaderViolation is raised when a guard rejects the inbound headers.
type HeaderViolation struct {
	Guard      string
	Violations []string
}

func (e *HeaderViolation) Error() string {
	return fmt.Sprintf("guard %s: header violations: %s", e.Guard, strings.Join(e.Violations, "; "))
}

// PayloadViolation is raised when a guard rejects the inbound payload.
type PayloadViolation struct {
	Guard      string
	Violations []string
}

func (e *PayloadViolation) Error() string {
	return fmt.Sprintf("guard %s: payload violations: %s", e.Guard, strings.Join(e.Violations, "; "))
}
