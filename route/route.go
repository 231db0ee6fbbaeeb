// Package route resolves inbound method+path pairs (or programmatic context)
// to a destination, delivery defaults and header overrides.
package route

import (
	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
	"github.com/xraph/hookline/record"
)

// Policy carries a route's delivery defaults.
type Policy struct {
	// Retry enables retry scheduling on delivery failure.
	Retry bool `json:"retry"`

	// RetrySeconds is the delay before a failed delivery becomes retry-eligible.
	RetrySeconds int `json:"retry_seconds"`

	// RetryMaxAttempts bounds the total number of delivery attempts.
	RetryMaxAttempts int `json:"retry_max_attempts"`

	// Delay defers the first delivery attempt.
	Delay bool `json:"delay"`

	// DelaySeconds is the deferral applied when Delay is set.
	DelaySeconds int `json:"delay_seconds"`

	// TimeoutSeconds bounds total processing time, enforced by sweep.
	TimeoutSeconds int `json:"timeout_seconds"`

	// HTTPTimeoutSeconds bounds a single outbound HTTP call.
	HTTPTimeoutSeconds int `json:"http_timeout_seconds"`
}

// Route is a stored mapping from inbound method+path to a destination and
// delivery policy. Routes are immutable during resolution; administrative
// edits must flush the resolver cache explicitly.
type Route struct {
	entity.Entity

	// ID is the unique TypeID for this route.
	ID id.ID `json:"id"`

	// Identifier is the operator-facing unique name for this route.
	Identifier string `json:"identifier"`

	// Method is the inbound HTTP method this route matches (upper-cased).
	Method string `json:"method"`

	// Path is the literal path or a template with {name[:type]} placeholders.
	Path string `json:"path"`

	// Mode is the delivery mode applied to records captured through this route.
	Mode record.Mode `json:"mode"`

	// DestinationURL is the outbound target.
	DestinationURL string `json:"destination_url"`

	// Headers are header overrides merged into outbound deliveries.
	Headers map[string]string `json:"headers,omitempty"`

	// Policy carries the retry/delay/timeout defaults.
	Policy Policy `json:"policy"`

	// Enabled gates the route during resolution.
	Enabled bool `json:"enabled"`
}

// Dynamic reports whether the route's path contains placeholders.
func (r *Route) Dynamic() bool {
	for i := 0; i < len(r.Path); i++ {
		if r.Path[i] == '{' {
			return true
		}
	}
	return false
}

// Resolution is the result of resolving a request against the routing layer.
type Resolution struct {
	// RouteID is the matched route's id, Nil for programmatic matches.
	RouteID id.ID `json:"route_id,omitempty"`

	// Identifier is the matched route's identifier, empty for programmatic matches.
	Identifier string `json:"identifier,omitempty"`

	// Mode is the delivery mode to apply.
	Mode record.Mode `json:"mode"`

	// DestinationURL is the outbound target.
	DestinationURL string `json:"destination_url"`

	// Headers are header overrides for the outbound delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// Policy carries the lifecycle defaults from the route or provider.
	Policy Policy `json:"policy"`

	// Params holds named parameters captured from a dynamic path template.
	Params map[string]string `json:"params,omitempty"`
}

// ListOpts configures filtering and pagination for route listing.
type ListOpts struct {
	Offset  int
	Limit   int
	Method  string
	Enabled *bool
}
