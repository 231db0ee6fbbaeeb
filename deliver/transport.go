// Package deliver executes delivery attempts for relay records: a
// synchronous callback (event mode), an outbound HTTP call through the
// transport guard (http mode), or a deferred job (dispatch mode).
package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xraph/hookline/record"
)

// Redirect policy sentinels returned from the in-flight CheckRedirect hook.
var (
	errTooManyRedirects = errors.New("deliver: redirect limit exceeded")
	errHostChange       = errors.New("deliver: redirect left the original host")
)

// PrecheckError is returned when a target URL fails HTTPS enforcement. Its
// message is recorded verbatim as the response payload.
type PrecheckError struct {
	URL string
}

func (e *PrecheckError) Error() string {
	return fmt.Sprintf("delivery to non-HTTPS URL %q is not allowed", e.URL)
}

// TransportConfig controls the outbound HTTP safety layer.
type TransportConfig struct {
	// EnforceHTTPS rejects non-HTTPS targets before any attempt starts.
	EnforceHTTPS bool

	// MaxRedirects bounds the redirect hop count.
	MaxRedirects int

	// MaxResponseBytes bounds the stored response snapshot.
	MaxResponseBytes int

	// DefaultTimeout bounds a single call when the route carries no
	// HTTP timeout of its own.
	DefaultTimeout time.Duration
}

// Result is the outcome of one transport call.
type Result struct {
	// StatusCode is the final HTTP status, 0 on connection failures.
	StatusCode int

	// Payload is the decoded JSON response, or the truncated body string.
	Payload any

	// Reason classifies the failure. Nil on 2xx.
	Reason *record.FailureReason

	// Redirects is the observed redirect hop count.
	Redirects int

	// Latency is the wall time of the call.
	Latency time.Duration
}

// OK reports whether the call completed with a 2xx status and no policy
// violation.
func (r Result) OK() bool { return r.Reason == nil }

// Transport performs outbound HTTP deliveries with HTTPS enforcement,
// redirect host-pinning, response truncation and failure classification.
type Transport struct {
	config TransportConfig
}

// NewTransport creates a transport guard.
func NewTransport(cfg TransportConfig) *Transport {
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 1024
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	return &Transport{config: cfg}
}

// Precheck validates the target URL before any attempt-level bookkeeping.
// It returns a *PrecheckError for non-HTTPS targets while enforcement is on.
func (t *Transport) Precheck(rawURL string) error {
	if !t.config.EnforceHTTPS {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || !strings.EqualFold(u.Scheme, "https") {
		return &PrecheckError{URL: rawURL}
	}
	return nil
}

// Do issues the outbound call. Redirect hops are validated in flight: the
// transfer aborts the instant a hop's target host differs from the original
// request's host, or once the hop count exceeds the configured maximum.
// After the call returns, both conditions are re-validated against the final
// response as defense in depth for transports that only keep final-hop
// bookkeeping.
func (t *Transport) Do(ctx context.Context, method, rawURL string, payload any, headers map[string]string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = t.config.DefaultTimeout
	}
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return failure(record.ReasonException, fmt.Sprintf("encode payload: %v", err), 0, 0)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return failure(record.ReasonConnectionError, fmt.Sprintf("build request: %v", err), 0, 0)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Hookline/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	// Pin the full host:port origin, not the bare name. A hop that keeps
	// the hostname but switches port is still a different origin.
	origHost := req.URL.Host
	var hops int

	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(next *http.Request, via []*http.Request) error {
			hops = len(via)
			if hops > t.config.MaxRedirects {
				return errTooManyRedirects
			}
			if next.URL.Host != origHost {
				return errHostChange
			}
			return nil
		},
	}

	start := time.Now()
	resp, err := client.Do(req) //nolint:gosec // the URL is an operator-configured destination
	latency := time.Since(start)

	if err != nil {
		reason, msg := classify(err)
		return failure(reason, msg, hops, latency)
	}
	defer resp.Body.Close()

	// Post-hoc re-validation: some transports only surface final-hop
	// bookkeeping, and the last hop can land back on an allowed host while
	// the aggregate count is still excessive.
	if hops > t.config.MaxRedirects {
		return failure(record.ReasonTooManyRedirects, errTooManyRedirects.Error(), hops, latency)
	}
	if resp.Request != nil && resp.Request.URL.Host != origHost {
		return failure(record.ReasonRedirectHostChange, errHostChange.Error(), hops, latency)
	}

	snapshot := t.readBody(resp.Body)

	res := Result{
		StatusCode: resp.StatusCode,
		Payload:    snapshot,
		Redirects:  hops,
		Latency:    latency,
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.Reason = record.ReasonHTTPError.Ptr()
	}
	return res
}

// readBody returns the decoded JSON body, or the body truncated to the
// configured maximum when it is not JSON-decodable within that bound.
func (t *Transport) readBody(r io.Reader) any {
	max := t.config.MaxResponseBytes
	data, err := io.ReadAll(io.LimitReader(r, int64(max)+1))
	if err != nil {
		return fmt.Sprintf("read response: %v", err)
	}
	if len(data) == 0 {
		return nil
	}

	if len(data) <= max {
		var decoded any
		if jsonErr := json.Unmarshal(data, &decoded); jsonErr == nil {
			return decoded
		}
		return string(data)
	}
	return string(data[:max])
}

// classify maps a transport error to a failure reason. The in-flight
// redirect sentinels take priority; timeout-flavored connection errors map
// to ConnectionTimeout, everything else to ConnectionError.
func classify(err error) (record.FailureReason, string) {
	switch {
	case errors.Is(err, errTooManyRedirects):
		return record.ReasonTooManyRedirects, errTooManyRedirects.Error()
	case errors.Is(err, errHostChange):
		return record.ReasonRedirectHostChange, errHostChange.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return record.ReasonConnectionTimeout, err.Error()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return record.ReasonConnectionTimeout, err.Error()
	}

	// net/http wraps ErrUseLastResponse-style redirect failures in url.Error.
	var uerr *url.Error
	if errors.As(err, &uerr) && strings.Contains(uerr.Err.Error(), "stopped after") {
		return record.ReasonTooManyRedirects, err.Error()
	}

	return record.ReasonConnectionError, err.Error()
}

func failure(reason record.FailureReason, msg string, hops int, latency time.Duration) Result {
	return Result{
		Payload:   msg,
		Reason:    reason.Ptr(),
		Redirects: hops,
		Latency:   latency,
	}
}
