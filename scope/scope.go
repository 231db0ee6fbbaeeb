// Package scope carries the provider label through a context. The host
// application tags inbound requests with the upstream system's name so that
// captured relay records can be filtered per provider.
package scope

import "context"

type ctxKey struct{}

// WithProvider returns a context carrying the given provider label.
func WithProvider(ctx context.Context, provider string) context.Context {
	if provider == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, provider)
}

// Provider returns the provider label carried by the context, if any.
func Provider(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}
