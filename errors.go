package hookline

import (
	"errors"

	"github.com/xraph/hookline/dispatch"
	"github.com/xraph/hookline/route"
)

// Sentinel errors returned by Hookline operations.
var (
	// ErrNoStore is returned when a Hookline is created without a store.
	ErrNoStore = errors.New("hookline: store is required")

	// ErrRecordNotFound is returned when a relay record cannot be found.
	ErrRecordNotFound = errors.New("hookline: record not found")

	// ErrRouteNotFound is returned when a route cannot be found.
	ErrRouteNotFound = errors.New("hookline: route not found")

	// ErrArchiveNotFound is returned when an archived record cannot be found.
	ErrArchiveNotFound = errors.New("hookline: archive not found")

	// ErrTerminalState is returned when an operation requires a non-terminal record.
	ErrTerminalState = errors.New("hookline: record is in a terminal state")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("hookline: store is closed")
)

// Re-exported sentinels from the subsystem packages, so callers holding only
// the root import can still branch on them.
var (
	// ErrNoRouteMatch is returned when no provider and no enabled route
	// matches a request.
	ErrNoRouteMatch = route.ErrNoMatch

	// ErrRouteDisabled is returned when only disabled routes match a request.
	ErrRouteDisabled = route.ErrDisabled

	// ErrHandlerNotFound is returned when a dispatch job names an
	// unregistered handler.
	ErrHandlerNotFound = dispatch.ErrHandlerNotFound

	// ErrQueueEmpty is returned by a queue pop that found no ready job.
	ErrQueueEmpty = dispatch.ErrQueueEmpty
)
