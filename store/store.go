// Package store defines the composite Store interface for all hookline
// persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them, so backends implement one type while callers depend only on
// the slice they need.
package store

import (
	"context"

	"github.com/xraph/hookline/record"
	"github.com/xraph/hookline/route"
)

// Store is the aggregate persistence interface.
type Store interface {
	record.Store
	route.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
