package route

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
	"github.com/xraph/hookline/record"
)

// Seed is one entry of the route seed format. Unspecified fields default:
// method POST, path "/", type "http", enabled true.
type Seed struct {
	Identifier         string            `json:"identifier"`
	Method             string            `json:"method"`
	Path               string            `json:"path"`
	Type               string            `json:"type"`
	DestinationURL     string            `json:"destination_url"`
	Headers            map[string]string `json:"headers"`
	IsRetry            bool              `json:"is_retry"`
	RetrySeconds       int               `json:"retry_seconds"`
	RetryMaxAttempts   int               `json:"retry_max_attempts"`
	IsDelay            bool              `json:"is_delay"`
	DelaySeconds       int               `json:"delay_seconds"`
	TimeoutSeconds     int               `json:"timeout_seconds"`
	HTTPTimeoutSeconds int               `json:"http_timeout_seconds"`
	Enabled            *bool             `json:"enabled"`
}

// ParseSeeds decodes a JSON array of seed entries.
func ParseSeeds(data []byte) ([]Seed, error) {
	var seeds []Seed
	if err := json.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("route: parse seeds: %w", err)
	}
	return seeds, nil
}

// Route materializes the seed into a Route with defaults applied.
func (s Seed) Route() (*Route, error) {
	if s.Identifier == "" {
		return nil, fmt.Errorf("route: seed is missing an identifier")
	}

	method := strings.ToUpper(strings.TrimSpace(s.Method))
	if method == "" {
		method = "POST"
	}
	path := s.Path
	if path == "" {
		path = "/"
	}
	mode := record.Mode(s.Type)
	if mode == "" {
		mode = record.ModeHTTP
	}
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}

	return &Route{
		Entity:         entity.New(),
		ID:             id.NewRouteID(),
		Identifier:     s.Identifier,
		Method:         method,
		Path:           NormalizePath(path),
		Mode:           mode,
		DestinationURL: s.DestinationURL,
		Headers:        s.Headers,
		Policy: Policy{
			Retry:              s.IsRetry,
			RetrySeconds:       s.RetrySeconds,
			RetryMaxAttempts:   s.RetryMaxAttempts,
			Delay:              s.IsDelay,
			DelaySeconds:       s.DelaySeconds,
			TimeoutSeconds:     s.TimeoutSeconds,
			HTTPTimeoutSeconds: s.HTTPTimeoutSeconds,
		},
		Enabled: enabled,
	}, nil
}

// SeedRoutes upserts (by identifier) every seed entry into the store,
// returning the number of routes written. Callers must flush the resolver
// cache afterwards.
func SeedRoutes(ctx context.Context, store Store, seeds []Seed) (int, error) {
	var written int
	for _, s := range seeds {
		rt, err := s.Route()
		if err != nil {
			return written, err
		}

		existing, err := store.GetRouteByIdentifier(ctx, rt.Identifier)
		if err == nil && existing != nil {
			rt.ID = existing.ID
			rt.Entity = existing.Entity
			rt.Touch()
			if err := store.UpdateRoute(ctx, rt); err != nil {
				return written, fmt.Errorf("route: seed update %q: %w", rt.Identifier, err)
			}
		} else {
			if err := store.CreateRoute(ctx, rt); err != nil {
				return written, fmt.Errorf("route: seed create %q: %w", rt.Identifier, err)
			}
		}
		written++
	}
	return written, nil
}
