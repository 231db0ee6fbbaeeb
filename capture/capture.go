// Package capture normalizes inbound requests into relay records: it masks
// sensitive headers, enforces the payload size cap, runs the guard pipeline
// and resolves auto-routed records before persisting them.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/hookline/guard"
	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
	"github.com/xraph/hookline/record"
	"github.com/xraph/hookline/route"
	"github.com/xraph/hookline/scope"
)

// Config controls capture normalization.
type Config struct {
	// MaxPayloadBytes caps the JSON encoding of the captured payload.
	MaxPayloadBytes int

	// SensitiveHeaders lists header names whose values are masked.
	SensitiveHeaders []string

	// MaskValue replaces sensitive header values.
	MaskValue string
}

// Input is a manually supplied capture request, used when the payload does
// not arrive over the host application's HTTP server.
type Input struct {
	// Mode selects the delivery mode. Defaults to ModeHTTP.
	Mode record.Mode

	// Method and URL describe the outbound call for http-mode records.
	Method string
	URL    string

	// Path is the inbound path used for auto_route resolution.
	Path string

	// ReferenceID is the caller-supplied correlation key.
	ReferenceID string

	// Provider labels the upstream system; scope.Provider is the fallback.
	Provider string

	// Headers are the inbound headers to capture.
	Headers map[string]string

	// Payload is the already-decoded payload.
	Payload any

	// RawBody is the undecoded body; used for guard signature checks and as
	// the payload source when Payload is nil.
	RawBody []byte

	// SourceIP is the inbound caller address, with or without a port.
	SourceIP string
}

// Rejection wraps a capture-time failure with the failure reason and the
// structured response body surfaced to the inbound caller.
type Rejection struct {
	Reason record.FailureReason
	Body   any
	Err    error
}

func (e *Rejection) Error() string {
	return fmt.Sprintf("capture: %s: %v", e.Reason.Label(), e.Err)
}

func (e *Rejection) Unwrap() error { return e.Err }

// HTTPStatus returns the status-like code for the inbound caller.
func (e *Rejection) HTTPStatus() int { return e.Reason.HTTPStatus() }

// Capturer builds and persists relay records.
type Capturer struct {
	store    record.Store
	resolver *route.Resolver
	guards   []guard.Guard
	config   Config
	logger   *slog.Logger
}

// NewCapturer creates a capturer. The resolver may be nil when auto_route
// mode is not used.
func NewCapturer(store record.Store, resolver *route.Resolver, guards []guard.Guard, cfg Config, logger *slog.Logger) *Capturer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capturer{
		store:    store,
		resolver: resolver,
		guards:   guards,
		config:   cfg,
		logger:   logger,
	}
}

// CaptureHTTP normalizes an inbound HTTP request into Input and captures it.
// The request body is consumed.
func (c *Capturer) CaptureHTTP(ctx context.Context, r *http.Request, in Input) (*record.Relay, error) {
	if in.RawBody == nil && r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("capture: read body: %w", err)
		}
		in.RawBody = body
	}

	if in.Headers == nil {
		in.Headers = make(map[string]string, len(r.Header))
		for name, values := range r.Header {
			if len(values) > 0 {
				in.Headers[name] = values[0]
			}
		}
	}
	if in.Method == "" {
		in.Method = r.Method
	}
	if in.Path == "" {
		in.Path = r.URL.Path
	}
	if in.SourceIP == "" {
		in.SourceIP = r.RemoteAddr
	}

	return c.Capture(ctx, in)
}

// Capture builds, validates, routes and persists a relay record.
//
// Capture-time failures (oversized or malformed payloads, guard rejections,
// routing failures) are terminal: the record is persisted as FAILED with no
// retry scheduled, and a *Rejection is returned to the caller.
func (c *Capturer) Capture(ctx context.Context, in Input) (*record.Relay, error) {
	mode := in.Mode
	if mode == "" {
		mode = record.ModeHTTP
	}
	provider := in.Provider
	if provider == "" {
		provider = scope.Provider(ctx)
	}

	rec := &record.Relay{
		Entity:      entity.New(),
		ID:          id.NewRecordID(),
		Mode:        mode,
		ReferenceID: in.ReferenceID,
		Status:      record.StatusQueued,
		SourceIP:    NormalizeIP(in.SourceIP),
		Provider:    provider,
		Headers:     c.maskHeaders(in.Headers),
		Method:      strings.ToUpper(strings.TrimSpace(in.Method)),
		URL:         in.URL,
	}

	// Decode before the guards run so payload guards see structured data.
	payload, decodeErr := decodePayload(in)
	rec.Payload = payload

	if failed, err := c.runGuards(ctx, rec, in, payload); err != nil {
		return failed, err
	}

	if decodeErr != nil {
		return c.reject(ctx, rec, record.ReasonInvalidPayload,
			map[string]any{"error": "payload could not be decoded"}, decodeErr, true)
	}

	if oversize, size := c.payloadTooLarge(payload); oversize {
		rec.Payload = nil
		return c.reject(ctx, rec, record.ReasonPayloadTooLarge,
			map[string]any{"error": "payload too large", "bytes": size}, nil, true)
	}

	if mode == record.ModeAutoRoute {
		if err := c.autoRoute(ctx, rec, in); err != nil {
			return nil, err
		}
	}

	if err := c.store.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("capture: persist record: %w", err)
	}

	c.logger.DebugContext(ctx, "record captured",
		"record_id", rec.ID, "mode", rec.Mode, "provider", rec.Provider)
	return rec, nil
}

// runGuards invokes every guard's header check, then every payload check.
// A violation is mapped to its reason and persisted only when the rejecting
// guard reports CaptureFailures; the violation is always re-raised.
func (c *Capturer) runGuards(ctx context.Context, rec *record.Relay, in Input, payload any) (*record.Relay, error) {
	if len(c.guards) == 0 {
		return nil, nil
	}

	gc := guard.NewContext(in.Headers, payload, in.RawBody)

	for _, g := range c.guards {
		if g.CaptureFailures() {
			gc.Record = rec
		} else {
			gc.Record = nil
		}
		if err := g.ValidateHeaders(ctx, gc); err != nil {
			return c.guardViolation(ctx, rec, g, err)
		}
	}

	for _, g := range c.guards {
		if g.CaptureFailures() {
			gc.Record = rec
		} else {
			gc.Record = nil
		}
		if err := g.ValidatePayload(ctx, gc); err != nil {
			return c.guardViolation(ctx, rec, g, err)
		}
	}
	return nil, nil
}

func (c *Capturer) guardViolation(ctx context.Context, rec *record.Relay, g guard.Guard, err error) (*record.Relay, error) {
	var (
		hv *guard.HeaderViolation
		pv *guard.PayloadViolation
	)

	switch {
	case errors.As(err, &hv):
		body := map[string]any{"guard": hv.Guard, "violations": hv.Violations}
		return c.reject(ctx, rec, record.ReasonGuardHeaders, body, err, g.CaptureFailures())
	case errors.As(err, &pv):
		body := map[string]any{"guard": pv.Guard, "violations": pv.Violations}
		return c.reject(ctx, rec, record.ReasonGuardPayload, body, err, g.CaptureFailures())
	default:
		// Not a violation: the guard itself failed.
		return nil, fmt.Errorf("capture: guard %s: %w", g.Name(), err)
	}
}

// reject finalizes a capture-time failure. The record is persisted in FAILED
// only when persist is set; the rejection is returned either way.
func (c *Capturer) reject(ctx context.Context, rec *record.Relay, reason record.FailureReason, body any, cause error, persist bool) (*record.Relay, error) {
	rej := &Rejection{Reason: reason, Body: body, Err: cause}
	if !persist {
		return nil, rej
	}

	now := time.Now().UTC()
	rec.Status = record.StatusFailed
	rec.FailureReason = reason.Ptr()
	rec.CompletedAt = &now
	rec.ResponseStatus = reason.HTTPStatus()
	rec.ResponsePayload = body

	if err := c.store.CreateRecord(ctx, rec); err != nil {
		c.logger.ErrorContext(ctx, "persist rejected record failed",
			"record_id", rec.ID, "reason", reason.Label(), "error", err)
	}
	return rec, rej
}

// autoRoute resolves the destination and stamps the record with the route's
// delivery settings. Resolver failures are capture-time terminal failures.
func (c *Capturer) autoRoute(ctx context.Context, rec *record.Relay, in Input) error {
	if c.resolver == nil {
		_, err := c.reject(ctx, rec, record.ReasonNoRouteMatch,
			map[string]any{"error": "no resolver configured"}, nil, true)
		return err
	}

	res, err := c.resolver.Resolve(ctx, in.Method, in.Path)
	if err != nil {
		reason := record.ReasonNoRouteMatch
		var pe *route.ProviderError
		switch {
		case errors.As(err, &pe):
			reason = record.ReasonResolverError
		case errors.Is(err, route.ErrDisabled):
			reason = record.ReasonRouteDisabled
		}
		_, rejErr := c.reject(ctx, rec, reason, map[string]any{"error": err.Error()}, err, true)
		return rejErr
	}

	rec.RouteID = res.RouteID
	rec.URL = res.DestinationURL
	if res.Mode != "" && res.Mode != record.ModeAutoRoute {
		rec.Mode = res.Mode
	} else {
		rec.Mode = record.ModeHTTP
	}
	return nil
}

func (c *Capturer) maskHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}

	sensitive := make(map[string]bool, len(c.config.SensitiveHeaders))
	for _, name := range c.config.SensitiveHeaders {
		sensitive[http.CanonicalHeaderKey(name)] = true
	}

	masked := make(map[string]string, len(headers))
	for name, value := range headers {
		canonical := http.CanonicalHeaderKey(name)
		if sensitive[canonical] {
			masked[canonical] = c.config.MaskValue
		} else {
			masked[canonical] = value
		}
	}
	return masked
}

// payloadTooLarge measures the payload by its JSON encoding so the cap holds
// for all payload shapes, not just strings.
func (c *Capturer) payloadTooLarge(payload any) (bool, int) {
	if c.config.MaxPayloadBytes <= 0 || payload == nil {
		return false, 0
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return false, 0
	}
	return len(encoded) > c.config.MaxPayloadBytes, len(encoded)
}

func decodePayload(in Input) (any, error) {
	if in.Payload != nil {
		return in.Payload, nil
	}
	if len(in.RawBody) == 0 {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal(in.RawBody, &decoded); err != nil {
		// Preserve the raw body on decode failure.
		return string(in.RawBody), err
	}
	return decoded, nil
}

// NormalizeIP reduces an address (optionally host:port) to a dotted IPv4
// string, or empty when the address is absent or not IPv4.
func NormalizeIP(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ""
}
