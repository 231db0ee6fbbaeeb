package hookline

import "time"

// Config holds the configuration for a Hookline instance.
type Config struct {
	// MaxPayloadBytes caps the JSON encoding of a captured payload.
	MaxPayloadBytes int `koanf:"max_payload_bytes"`

	// SensitiveHeaders lists inbound header names whose values are masked
	// at capture time.
	SensitiveHeaders []string `koanf:"sensitive_headers"`

	// MaskValue replaces sensitive header values.
	MaskValue string `koanf:"mask_value"`

	// DefaultRetrySeconds is the retry delay used when a route's policy
	// enables retry without a delay of its own.
	DefaultRetrySeconds int `koanf:"default_retry_seconds"`

	// DefaultRetryMaxAttempts bounds attempts when a route's policy leaves
	// the ceiling unset. Zero means unbounded.
	DefaultRetryMaxAttempts int `koanf:"default_retry_max_attempts"`

	// DefaultTimeoutSeconds is the total-processing bound enforced by the
	// timeout sweep for records without a route-level timeout.
	DefaultTimeoutSeconds int `koanf:"default_timeout_seconds"`

	// DefaultHTTPTimeoutSeconds bounds a single outbound HTTP call.
	DefaultHTTPTimeoutSeconds int `koanf:"default_http_timeout_seconds"`

	// DefaultDispatchHandler names the handler used for dispatch-mode
	// records delivered without an explicit handler.
	DefaultDispatchHandler string `koanf:"default_dispatch_handler"`

	// CacheTTL is the TTL for the route resolver's cache entries.
	// Set to 0 to cache without expiry.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// MaxResponseBytes bounds the stored response snapshot.
	MaxResponseBytes int `koanf:"max_response_bytes"`

	// MaxRedirects bounds the redirect hop count per outbound call.
	MaxRedirects int `koanf:"max_redirects"`

	// EnforceHTTPS rejects non-HTTPS destinations before any attempt starts.
	EnforceHTTPS bool `koanf:"enforce_https"`

	// RateLimitPerSecond is the default outbound rate per destination key.
	// Zero disables limiting.
	RateLimitPerSecond int `koanf:"rate_limit_per_second"`

	// StuckAfter is how long a PROCESSING record may sit before the stuck
	// sweep requeues it.
	StuckAfter time.Duration `koanf:"stuck_after"`

	// TimeoutBuffer is added on top of a route's timeout before the timeout
	// sweep fails a record.
	TimeoutBuffer time.Duration `koanf:"timeout_buffer"`

	// ArchiveAfter is the age at which an untouched record is archived.
	ArchiveAfter time.Duration `koanf:"archive_after"`

	// PurgeAfter is the age at which an archived record is hard-deleted.
	PurgeAfter time.Duration `koanf:"purge_after"`

	// ChunkSize bounds rows per sweep store call.
	ChunkSize int `koanf:"chunk_size"`

	// SweepIntervals schedules the background sweeps. A zero interval
	// disables that sweep.
	SweepIntervals SweepIntervals `koanf:"sweep_intervals"`

	// DispatchConcurrency is the number of dispatch worker goroutines.
	DispatchConcurrency int `koanf:"dispatch_concurrency"`

	// DispatchPollInterval is how often the dispatch worker polls the queue.
	DispatchPollInterval time.Duration `koanf:"dispatch_poll_interval"`
}

// SweepIntervals holds the per-sweep scheduler periods.
type SweepIntervals struct {
	Retry   time.Duration `koanf:"retry"`
	Stuck   time.Duration `koanf:"stuck"`
	Timeout time.Duration `koanf:"timeout"`
	Archive time.Duration `koanf:"archive"`
	Purge   time.Duration `koanf:"purge"`
}

// DefaultSensitiveHeaders are the header names masked when the caller does
// not supply a list.
var DefaultSensitiveHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Api-Key",
	"X-Auth-Token",
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxPayloadBytes:           64 * 1024,
		SensitiveHeaders:          DefaultSensitiveHeaders,
		MaskValue:                 "********",
		DefaultRetrySeconds:       60,
		DefaultRetryMaxAttempts:   5,
		DefaultTimeoutSeconds:     300,
		DefaultHTTPTimeoutSeconds: 30,
		CacheTTL:                  30 * time.Second,
		MaxResponseBytes:          1024,
		MaxRedirects:              3,
		EnforceHTTPS:              true,
		StuckAfter:                time.Hour,
		TimeoutBuffer:             30 * time.Second,
		ArchiveAfter:              30 * 24 * time.Hour,
		PurgeAfter:                90 * 24 * time.Hour,
		ChunkSize:                 100,
		SweepIntervals: SweepIntervals{
			Retry:   time.Minute,
			Stuck:   5 * time.Minute,
			Timeout: time.Minute,
			Archive: time.Hour,
			Purge:   24 * time.Hour,
		},
		DispatchConcurrency:  4,
		DispatchPollInterval: time.Second,
	}
}
