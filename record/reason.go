package record

import (
	"fmt"
	"net/http"
)

// FailureReason classifies why a relay record did not succeed.
// The set is closed: every producer in the codebase uses one of these values,
// including the transport guard's redirect and HTTPS enforcement failures.
type FailureReason int

const (
	// ReasonPayloadTooLarge: the encoded payload exceeded the configured cap.
	ReasonPayloadTooLarge FailureReason = iota + 1

	// ReasonInvalidPayload: the inbound body could not be decoded.
	ReasonInvalidPayload

	// ReasonGuardHeaders: a guard rejected the inbound headers.
	ReasonGuardHeaders

	// ReasonGuardPayload: a guard rejected the inbound payload.
	ReasonGuardPayload

	// ReasonNoRouteMatch: no enabled route matched the inbound method+path.
	ReasonNoRouteMatch

	// ReasonRouteDisabled: the only matching routes are disabled.
	ReasonRouteDisabled

	// ReasonResolverError: a programmatic route provider returned an error.
	ReasonResolverError

	// ReasonException: an uncaught error during event or dispatch execution.
	ReasonException

	// ReasonRouteTimeout: the route's timeout elapsed, enforced by sweep.
	ReasonRouteTimeout

	// ReasonHTTPError: the outbound call returned a non-2xx status.
	ReasonHTTPError

	// ReasonConnectionError: the outbound call failed at the network level.
	ReasonConnectionError

	// ReasonConnectionTimeout: the outbound call timed out.
	ReasonConnectionTimeout

	// ReasonHTTPSRequired: the target URL was not HTTPS while enforcement is on.
	ReasonHTTPSRequired

	// ReasonTooManyRedirects: the redirect hop count exceeded the maximum.
	ReasonTooManyRedirects

	// ReasonRedirectHostChange: a redirect left the original request host.
	ReasonRedirectHostChange

	// ReasonCancelled: an operator cancelled the record.
	ReasonCancelled
)

// reasonInfo is the side table mapping each reason to its metadata.
// httpStatus is the status-like code surfaced to the inbound caller when the
// failure happens at capture time; delivery-time reasons use 502.
var reasonInfo = map[FailureReason]struct {
	label       string
	description string
	httpStatus  int
}{
	ReasonPayloadTooLarge:    {"payload_too_large", "payload exceeds the configured size cap", http.StatusRequestEntityTooLarge},
	ReasonInvalidPayload:     {"invalid_payload", "payload could not be decoded", http.StatusBadRequest},
	ReasonGuardHeaders:       {"invalid_guard_headers", "a guard rejected the request headers", http.StatusForbidden},
	ReasonGuardPayload:       {"invalid_guard_payload", "a guard rejected the request payload", http.StatusUnprocessableEntity},
	ReasonNoRouteMatch:       {"no_route_match", "no enabled route matches the request", http.StatusNotFound},
	ReasonRouteDisabled:      {"route_disabled", "the matching route is disabled", http.StatusServiceUnavailable},
	ReasonResolverError:      {"route_resolver_error", "a route provider failed", http.StatusInternalServerError},
	ReasonException:          {"exception", "an uncaught error occurred during delivery", http.StatusBadGateway},
	ReasonRouteTimeout:       {"route_timeout", "the route's processing timeout elapsed", http.StatusGatewayTimeout},
	ReasonHTTPError:          {"http_error", "the destination returned a non-success status", http.StatusBadGateway},
	ReasonConnectionError:    {"connection_error", "the destination could not be reached", http.StatusBadGateway},
	ReasonConnectionTimeout:  {"connection_timeout", "the destination did not respond in time", http.StatusGatewayTimeout},
	ReasonHTTPSRequired:      {"https_required", "the destination URL must use HTTPS", http.StatusBadGateway},
	ReasonTooManyRedirects:   {"too_many_redirects", "the destination redirected too many times", http.StatusBadGateway},
	ReasonRedirectHostChange: {"redirect_host_change", "a redirect left the original destination host", http.StatusBadGateway},
	ReasonCancelled:          {"cancelled", "cancelled by an operator", http.StatusConflict},
}

// FailureReasons returns the closed set of all reasons in declaration order.
func FailureReasons() []FailureReason {
	return []FailureReason{
		ReasonPayloadTooLarge, ReasonInvalidPayload, ReasonGuardHeaders,
		ReasonGuardPayload, ReasonNoRouteMatch, ReasonRouteDisabled,
		ReasonResolverError, ReasonException, ReasonRouteTimeout,
		ReasonHTTPError, ReasonConnectionError, ReasonConnectionTimeout,
		ReasonHTTPSRequired, ReasonTooManyRedirects, ReasonRedirectHostChange,
		ReasonCancelled,
	}
}

// Label returns the short machine-friendly name for the reason.
func (r FailureReason) Label() string {
	if info, ok := reasonInfo[r]; ok {
		return info.label
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Description returns the human-readable description for the reason.
func (r FailureReason) Description() string {
	if info, ok := reasonInfo[r]; ok {
		return info.description
	}
	return fmt.Sprintf("unknown failure reason %d", int(r))
}

// HTTPStatus returns the status-like code surfaced to the inbound caller.
func (r FailureReason) HTTPStatus() int {
	if info, ok := reasonInfo[r]; ok {
		return info.httpStatus
	}
	return http.StatusInternalServerError
}

// String implements fmt.Stringer.
func (r FailureReason) String() string { return r.Label() }

// Ptr returns a pointer to the reason, for assignment to Relay.FailureReason.
func (r FailureReason) Ptr() *FailureReason { return &r }
