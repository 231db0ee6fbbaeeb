package route

import (
	"context"

	"github.com/xraph/hookline/id"
)

// Store defines the persistence contract for routes.
type Store interface {
	// CreateRoute persists a new route.
	CreateRoute(ctx context.Context, rt *Route) error

	// GetRoute returns a route by ID.
	GetRoute(ctx context.Context, rtID id.ID) (*Route, error)

	// GetRouteByIdentifier returns a route by its operator-facing identifier.
	GetRouteByIdentifier(ctx context.Context, identifier string) (*Route, error)

	// UpdateRoute modifies an existing route. Callers must flush the
	// resolver cache afterwards; the store does not.
	UpdateRoute(ctx context.Context, rt *Route) error

	// DeleteRoute removes a route.
	DeleteRoute(ctx context.Context, rtID id.ID) error

	// ListRoutes returns routes, optionally filtered.
	ListRoutes(ctx context.Context, opts ListOpts) ([]*Route, error)

	// ListRoutesByMethod returns routes for a method and enabled flag in
	// storage order. This is the resolver's hot path.
	ListRoutesByMethod(ctx context.Context, method string, enabled bool) ([]*Route, error)
}
