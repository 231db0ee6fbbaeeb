// Package record defines the relay record: the authoritative live row for one
// inbound-to-outbound webhook transaction and its lifecycle state.
package record

import (
	"time"

	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
)

// Mode selects how a relay record is delivered.
type Mode string

const (
	// ModeEvent invokes a caller-supplied synchronous callback.
	ModeEvent Mode = "event"

	// ModeHTTP performs an outbound HTTP call through the transport guard.
	ModeHTTP Mode = "http"

	// ModeDispatch hands the record to the deferred job queue.
	ModeDispatch Mode = "dispatch"

	// ModeAutoRoute resolves the destination through the route resolver at
	// capture time and then delivers over HTTP.
	ModeAutoRoute Mode = "auto_route"
)

// Relay is the persisted record of one webhook transaction.
type Relay struct {
	entity.Entity

	// ID is the unique TypeID for this record.
	ID id.ID `json:"id"`

	// Mode is the delivery mode for this record.
	Mode Mode `json:"mode"`

	// RouteID references the resolved route, if any.
	RouteID id.ID `json:"route_id,omitempty"`

	// ReferenceID is a caller-supplied correlation key.
	ReferenceID string `json:"reference_id,omitempty"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// SourceIP is the normalized IPv4 address of the inbound caller,
	// empty when unknown or not IPv4.
	SourceIP string `json:"source_ip,omitempty"`

	// Provider labels the upstream system that produced the webhook.
	Provider string `json:"provider,omitempty"`

	// Headers holds the captured inbound headers. Keys are canonicalized,
	// sensitive values are masked at capture time.
	Headers map[string]string `json:"headers,omitempty"`

	// Method is the outbound HTTP method actually used.
	Method string `json:"method,omitempty"`

	// URL is the outbound URL actually used.
	URL string `json:"url,omitempty"`

	// Payload is the captured payload: a decoded structured value, or the
	// raw body string when decoding failed.
	Payload any `json:"payload,omitempty"`

	// ResponseStatus is the HTTP status code observed after delivery.
	ResponseStatus int `json:"response_status,omitempty"`

	// ResponsePayload is the size-bounded response snapshot.
	ResponsePayload any `json:"response_payload,omitempty"`

	// FailureReason classifies why the record did not succeed.
	// Non-nil iff Status is Failed or Cancelled.
	FailureReason *FailureReason `json:"failure_reason,omitempty"`

	// AttemptCount is the number of delivery attempts made so far.
	// It only ever increases, except on a full requeue.
	AttemptCount int `json:"attempt_count"`

	// NextRetryAt schedules the retry-overdue sweep pickup.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// ProcessingAt is set when an attempt starts and cleared on requeue.
	ProcessingAt *time.Time `json:"processing_at,omitempty"`

	// CompletedAt is set when the record reaches a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Archive is the immutable snapshot of a relay moved out of the live table.
// Its primary key is the original relay id.
type Archive struct {
	Relay

	// ArchivedAt is when the record was moved into the archive.
	ArchivedAt time.Time `json:"archived_at"`
}

// ListOpts configures filtering and pagination for record listing.
type ListOpts struct {
	Offset    int
	Limit     int
	Status    *Status
	Provider  string
	Reference string
}
