package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Resolution failures. ErrDisabled distinguishes "misconfigured" from
// "truly absent" for operators.
var (
	// ErrNoMatch is returned when no provider and no enabled route matches.
	ErrNoMatch = errors.New("route: no route match")

	// ErrDisabled is returned when the only matching routes are disabled.
	ErrDisabled = errors.New("route: route is disabled")
)

// ProviderError wraps an error raised by a programmatic provider. It is
// surfaced to the caller rather than treated as a resolver miss.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("route: provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Request is the normalized resolution input handed to providers.
type Request struct {
	// Method is the upper-cased inbound HTTP method.
	Method string

	// Path is the normalized inbound path (leading slash, collapsed).
	Path string
}

// Provider computes a Resolution programmatically. Providers are tried in
// registration order before persisted routes; the first non-nil result wins.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// Resolve returns a resolution, or (nil, nil) when the provider does not
	// match the request.
	Resolve(ctx context.Context, req Request) (*Resolution, error)

	// CacheKey returns the cache key and TTL for this request. An empty key
	// disables caching; a zero TTL uses the resolver's default.
	CacheKey(req Request) (string, time.Duration)
}

type funcProvider struct {
	name string
	fn   func(ctx context.Context, req Request) (*Resolution, error)
}

func (p *funcProvider) Name() string { return p.name }

func (p *funcProvider) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	return p.fn(ctx, req)
}

func (p *funcProvider) CacheKey(Request) (string, time.Duration) { return "", 0 }

// ProviderFunc adapts a plain function into an uncached Provider.
func ProviderFunc(name string, fn func(ctx context.Context, req Request) (*Resolution, error)) Provider {
	return &funcProvider{name: name, fn: fn}
}

// Config configures the resolver.
type Config struct {
	// CacheTTL is the default TTL for cached buckets and provider results.
	// Zero disables expiry.
	CacheTTL time.Duration
}

// Resolver resolves inbound requests to destinations and delivery defaults.
type Resolver struct {
	store     Store
	cache     Cache
	patterns  *patternCache
	providers []Provider
	ttl       time.Duration
	logger    *slog.Logger
}

// NewResolver creates a resolver backed by the given store and cache.
// A nil cache falls back to an in-process MemoryCache.
func NewResolver(store Store, cache Cache, cfg Config, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:    store,
		cache:    cache,
		patterns: newPatternCache(),
		ttl:      cfg.CacheTTL,
		logger:   logger,
	}
}

// RegisterProvider appends a programmatic provider. Providers run in
// registration order, before persisted routes.
func (r *Resolver) RegisterProvider(p Provider) {
	r.providers = append(r.providers, p)
}

// FlushCache evicts every outstanding cache key and the key index itself,
// returning the number of keys evicted. Must be called after administrative
// route edits; resolution never invalidates on its own.
func (r *Resolver) FlushCache(ctx context.Context) (int64, error) {
	n, err := r.cache.Flush(ctx)
	if err != nil {
		return 0, fmt.Errorf("route: flush cache: %w", err)
	}
	r.logger.DebugContext(ctx, "route cache flushed", "keys", n)
	return n, nil
}

// Resolve resolves a method+path pair.
//
// Resolution order:
//  1. Programmatic providers, in registration order (first match wins).
//  2. Dynamic persisted routes for the method, in storage order.
//  3. Exact static lookup.
//  4. Disabled routes, to report ErrDisabled instead of ErrNoMatch.
func (r *Resolver) Resolve(ctx context.Context, method, path string) (*Resolution, error) {
	req := Request{
		Method: strings.ToUpper(strings.TrimSpace(method)),
		Path:   NormalizePath(path),
	}

	res, err := r.resolveProviders(ctx, req)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	res, err = r.resolvePersisted(ctx, req, true)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	// Query disabled routes separately so operators can tell a disabled
	// route apart from a truly absent one.
	res, err = r.resolvePersisted(ctx, req, false)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return nil, fmt.Errorf("%w: %s %s", ErrDisabled, req.Method, req.Path)
	}

	return nil, fmt.Errorf("%w: %s %s", ErrNoMatch, req.Method, req.Path)
}

func (r *Resolver) resolveProviders(ctx context.Context, req Request) (*Resolution, error) {
	for _, p := range r.providers {
		key, ttl := p.CacheKey(req)
		if key != "" {
			cached := new(Resolution)
			hit, err := r.cache.Get(ctx, providerCacheKey(key), cached)
			if err != nil {
				r.logger.WarnContext(ctx, "provider cache read failed",
					"provider", p.Name(), "error", err)
			} else if hit {
				return cached, nil
			}
		}

		res, err := p.Resolve(ctx, req)
		if err != nil {
			return nil, &ProviderError{Provider: p.Name(), Err: err}
		}
		if res == nil {
			continue
		}

		if key != "" {
			if ttl <= 0 {
				ttl = r.ttl
			}
			if err := r.cache.Set(ctx, providerCacheKey(key), res, ttl); err != nil {
				r.logger.WarnContext(ctx, "provider cache write failed",
					"provider", p.Name(), "error", err)
			}
		}
		return res, nil
	}
	return nil, nil
}

// resolvePersisted tries dynamic templates before the static exact lookup.
// Both orders are externally observable when a path matches a literal and a
// template entry; dynamic-first is the contract.
func (r *Resolver) resolvePersisted(ctx context.Context, req Request, enabled bool) (*Resolution, error) {
	dynamic, static, err := r.buckets(ctx, req.Method, enabled)
	if err != nil {
		return nil, err
	}

	for _, rt := range dynamic {
		p, err := r.patterns.get(rt.Path)
		if err != nil {
			r.logger.WarnContext(ctx, "route template rejected",
				"route", rt.Identifier, "path", rt.Path, "error", err)
			continue
		}
		if params, ok := p.match(req.Path); ok {
			return resolutionFromRoute(rt, params), nil
		}
	}

	for _, rt := range static {
		if rt.Path == req.Path {
			return resolutionFromRoute(rt, nil), nil
		}
	}

	return nil, nil
}

// buckets returns the dynamic and static route lists for a (method, enabled)
// pair, reading through the cache.
func (r *Resolver) buckets(ctx context.Context, method string, enabled bool) (dynamic, static []*Route, err error) {
	key := bucketCacheKey(method, enabled)

	var routes []*Route
	hit, err := r.cache.Get(ctx, key, &routes)
	if err != nil {
		r.logger.WarnContext(ctx, "route bucket cache read failed", "key", key, "error", err)
	}
	if !hit {
		routes, err = r.store.ListRoutesByMethod(ctx, method, enabled)
		if err != nil {
			return nil, nil, fmt.Errorf("route: list routes: %w", err)
		}
		if err := r.cache.Set(ctx, key, routes, r.ttl); err != nil {
			r.logger.WarnContext(ctx, "route bucket cache write failed", "key", key, "error", err)
		}
	}

	for _, rt := range routes {
		if rt.Dynamic() {
			dynamic = append(dynamic, rt)
		} else {
			static = append(static, rt)
		}
	}
	return dynamic, static, nil
}

func resolutionFromRoute(rt *Route, params map[string]string) *Resolution {
	return &Resolution{
		RouteID:        rt.ID,
		Identifier:     rt.Identifier,
		Mode:           rt.Mode,
		DestinationURL: rt.DestinationURL,
		Headers:        rt.Headers,
		Policy:         rt.Policy,
		Params:         params,
	}
}

func bucketCacheKey(method string, enabled bool) string {
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	return "hookline:routes:" + method + ":" + state
}

func providerCacheKey(key string) string {
	return "hookline:provider:" + key
}

// NormalizePath returns path with a leading slash, collapsed duplicate
// slashes and no trailing slash (except for the root path).
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}

	var b strings.Builder
	b.Grow(len(path) + 1)
	if path[0] != '/' {
		b.WriteByte('/')
	}
	var prevSlash bool
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(path[i])
	}

	out := b.String()
	if len(out) > 1 {
		out = strings.TrimRight(out, "/")
		if out == "" {
			out = "/"
		}
	}
	return out
}
