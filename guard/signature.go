package guard

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/xraph/hookline/signature"
)

// Default header names for the signature guard, matching the outbound
// headers Hookline itself would emit.
const (
	DefaultSignatureHeader = "X-Hookline-Signature"
	DefaultTimestampHeader = "X-Hookline-Timestamp"
)

// SignatureGuard verifies an HMAC-SHA256 signature over the raw request body.
// The signed content is "{timestamp}.{body}" and the expected header value is
// "v1=<hex>", the same scheme Hookline uses when signing outbound deliveries.
type SignatureGuard struct {
	Base

	// Secret is the shared signing secret.
	Secret string

	// SignatureHeader overrides the header carrying the signature.
	SignatureHeader string

	// TimestampHeader overrides the header carrying the Unix timestamp.
	TimestampHeader string

	// Tolerance bounds the accepted clock skew. Zero disables the check.
	Tolerance time.Duration

	// Capture controls whether rejected requests are persisted.
	Capture bool
}

// Name implements Guard.
func (g *SignatureGuard) Name() string { return "signature" }

// CaptureFailures implements Guard.
func (g *SignatureGuard) CaptureFailures() bool { return g.Capture }

// ValidateHeaders implements Guard.
func (g *SignatureGuard) ValidateHeaders(_ context.Context, gc *Context) error {
	sigHeader := g.SignatureHeader
	if sigHeader == "" {
		sigHeader = DefaultSignatureHeader
	}
	tsHeader := g.TimestampHeader
	if tsHeader == "" {
		tsHeader = DefaultTimestampHeader
	}

	var violations []string

	sig := gc.Header(sigHeader)
	if sig == "" {
		violations = append(violations, fmt.Sprintf("missing %s header", sigHeader))
	}

	rawTS := gc.Header(tsHeader)
	var ts int64
	if rawTS == "" {
		violations = append(violations, fmt.Sprintf("missing %s header", tsHeader))
	} else {
		parsed, err := strconv.ParseInt(rawTS, 10, 64)
		if err != nil {
			violations = append(violations, fmt.Sprintf("malformed %s header", tsHeader))
		} else {
			ts = parsed
		}
	}

	if len(violations) > 0 {
		return &HeaderViolation{Guard: g.Name(), Violations: violations}
	}

	if g.Tolerance > 0 {
		skew := math.Abs(float64(time.Now().Unix() - ts))
		if time.Duration(skew)*time.Second > g.Tolerance {
			return &HeaderViolation{
				Guard:      g.Name(),
				Violations: []string{"timestamp outside the accepted tolerance"},
			}
		}
	}

	if !signature.Verify(gc.RawBody, g.Secret, ts, sig) {
		return &HeaderViolation{
			Guard:      g.Name(),
			Violations: []string{"signature mismatch"},
		}
	}
	return nil
}
