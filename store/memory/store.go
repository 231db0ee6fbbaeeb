// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/record"
	"github.com/xraph/hookline/route"
	hookstore "github.com/xraph/hookline/store"
)

// compile-time interface check.
var _ hookstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
type Store struct {
	mu sync.RWMutex

	records      map[string]*record.Relay   // keyed by ID string
	archives     map[string]*record.Archive // keyed by original relay ID string
	routes       map[string]*route.Route    // keyed by ID string
	routesByName map[string]*route.Route    // keyed by identifier

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		records:      make(map[string]*record.Relay),
		archives:     make(map[string]*record.Archive),
		routes:       make(map[string]*route.Route),
		routesByName: make(map[string]*route.Route),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return hookline.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// record.Store
// ──────────────────────────────────────────────────

// copyRecord returns a shallow copy so callers can mutate without a lock.
func copyRecord(rec *record.Relay) *record.Relay {
	cp := *rec
	return &cp
}

// CreateRecord persists a new relay record.
func (s *Store) CreateRecord(_ context.Context, rec *record.Relay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID.String()] = copyRecord(rec)
	return nil
}

// GetRecord returns a record by ID.
func (s *Store) GetRecord(_ context.Context, recID id.ID) (*record.Relay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recID.String()]
	if !ok {
		return nil, hookline.ErrRecordNotFound
	}
	return copyRecord(rec), nil
}

// UpdateRecord writes the full current state of a record.
func (s *Store) UpdateRecord(_ context.Context, rec *record.Relay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID.String()]; !ok {
		return hookline.ErrRecordNotFound
	}
	s.records[rec.ID.String()] = copyRecord(rec)
	return nil
}

// ListRecords returns live records, newest first, optionally filtered.
func (s *Store) ListRecords(_ context.Context, opts record.ListOpts) ([]*record.Relay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*record.Relay, 0, len(s.records))
	for _, rec := range s.records {
		if opts.Status != nil && rec.Status != *opts.Status {
			continue
		}
		if opts.Provider != "" && rec.Provider != opts.Provider {
			continue
		}
		if opts.Reference != "" && rec.ReferenceID != opts.Reference {
			continue
		}
		result = append(result, copyRecord(rec))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() > result[j].ID.String()
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountByStatus returns the number of live records in the given status.
func (s *Store) CountByStatus(_ context.Context, status record.Status) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, rec := range s.records {
		if rec.Status == status {
			count++
		}
	}
	return count, nil
}

// ListRetryDue returns failed records whose NextRetryAt is at or before now,
// in ascending id order strictly after afterID.
func (s *Store) ListRetryDue(_ context.Context, now time.Time, afterID id.ID, limit int) ([]*record.Relay, error) {
	return s.keyset(afterID, limit, func(rec *record.Relay) bool {
		return rec.NextRetryAt != nil && !rec.NextRetryAt.After(now)
	}), nil
}

// ListStuck returns PROCESSING records whose ProcessingAt is unset or older
// than the cutoff.
func (s *Store) ListStuck(_ context.Context, cutoff time.Time, afterID id.ID, limit int) ([]*record.Relay, error) {
	return s.keyset(afterID, limit, func(rec *record.Relay) bool {
		if rec.Status != record.StatusProcessing {
			return false
		}
		return rec.ProcessingAt == nil || rec.ProcessingAt.Before(cutoff)
	}), nil
}

// ListProcessing returns records currently in PROCESSING.
func (s *Store) ListProcessing(_ context.Context, afterID id.ID, limit int) ([]*record.Relay, error) {
	return s.keyset(afterID, limit, func(rec *record.Relay) bool {
		return rec.Status == record.StatusProcessing
	}), nil
}

// ListArchivable returns records whose UpdatedAt is older than the cutoff.
func (s *Store) ListArchivable(_ context.Context, cutoff time.Time, afterID id.ID, limit int) ([]*record.Relay, error) {
	return s.keyset(afterID, limit, func(rec *record.Relay) bool {
		return rec.UpdatedAt.Before(cutoff)
	}), nil
}

// ArchiveChunk moves the given records into the archive and deletes the
// originals under a single lock, mirroring the relational backends' per-chunk
// transaction.
func (s *Store) ArchiveChunk(_ context.Context, recs []*record.Relay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, rec := range recs {
		live, ok := s.records[rec.ID.String()]
		if !ok {
			return hookline.ErrRecordNotFound
		}
		s.archives[rec.ID.String()] = &record.Archive{
			Relay:      *copyRecord(live),
			ArchivedAt: now,
		}
	}
	for _, rec := range recs {
		delete(s.records, rec.ID.String())
	}
	return nil
}

// GetArchive returns an archived record by its original relay id.
func (s *Store) GetArchive(_ context.Context, recID id.ID) (*record.Archive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	arc, ok := s.archives[recID.String()]
	if !ok {
		return nil, hookline.ErrArchiveNotFound
	}
	cp := *arc
	return &cp, nil
}

// ListArchives returns archived records, oldest first.
func (s *Store) ListArchives(_ context.Context, opts record.ListOpts) ([]*record.Archive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*record.Archive, 0, len(s.archives))
	for _, arc := range s.archives {
		if opts.Status != nil && arc.Status != *opts.Status {
			continue
		}
		if opts.Provider != "" && arc.Provider != opts.Provider {
			continue
		}
		if opts.Reference != "" && arc.ReferenceID != opts.Reference {
			continue
		}
		cp := *arc
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// DeleteArchive removes a single archive row.
func (s *Store) DeleteArchive(_ context.Context, recID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.archives[recID.String()]; !ok {
		return hookline.ErrArchiveNotFound
	}
	delete(s.archives, recID.String())
	return nil
}

// PurgeArchives hard-deletes archives older than the cutoff, at most limit
// rows per call.
func (s *Store) PurgeArchives(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.archives))
	for k, arc := range s.archives {
		if arc.ArchivedAt.Before(cutoff) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	if limit > 0 && limit < len(keys) {
		keys = keys[:limit]
	}
	for _, k := range keys {
		delete(s.archives, k)
	}
	return int64(len(keys)), nil
}

// keyset collects matching records in ascending id order strictly after
// afterID, at most limit rows.
func (s *Store) keyset(afterID id.ID, limit int, match func(*record.Relay) bool) []*record.Relay {
	s.mu.RLock()
	defer s.mu.RUnlock()

	after := ""
	if !afterID.IsNil() {
		after = afterID.String()
	}

	result := make([]*record.Relay, 0, limit)
	for _, rec := range s.records {
		if !match(rec) {
			continue
		}
		if after != "" && rec.ID.String() <= after {
			continue
		}
		result = append(result, copyRecord(rec))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result
}

// ──────────────────────────────────────────────────
// route.Store
// ──────────────────────────────────────────────────

func copyRoute(rt *route.Route) *route.Route {
	cp := *rt
	return &cp
}

// CreateRoute persists a new route.
func (s *Store) CreateRoute(_ context.Context, rt *route.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyRoute(rt)
	s.routes[rt.ID.String()] = cp
	s.routesByName[rt.Identifier] = cp
	return nil
}

// GetRoute returns a route by ID.
func (s *Store) GetRoute(_ context.Context, rtID id.ID) (*route.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.routes[rtID.String()]
	if !ok {
		return nil, hookline.ErrRouteNotFound
	}
	return copyRoute(rt), nil
}

// GetRouteByIdentifier returns a route by its operator-facing identifier.
func (s *Store) GetRouteByIdentifier(_ context.Context, identifier string) (*route.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.routesByName[identifier]
	if !ok {
		return nil, hookline.ErrRouteNotFound
	}
	return copyRoute(rt), nil
}

// UpdateRoute modifies an existing route.
func (s *Store) UpdateRoute(_ context.Context, rt *route.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.routes[rt.ID.String()]
	if !ok {
		return hookline.ErrRouteNotFound
	}
	if prev.Identifier != rt.Identifier {
		delete(s.routesByName, prev.Identifier)
	}

	rt.UpdatedAt = time.Now().UTC()
	cp := copyRoute(rt)
	s.routes[rt.ID.String()] = cp
	s.routesByName[rt.Identifier] = cp
	return nil
}

// DeleteRoute removes a route.
func (s *Store) DeleteRoute(_ context.Context, rtID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.routes[rtID.String()]
	if !ok {
		return hookline.ErrRouteNotFound
	}
	delete(s.routes, rtID.String())
	delete(s.routesByName, rt.Identifier)
	return nil
}

// ListRoutes returns routes, optionally filtered.
func (s *Store) ListRoutes(_ context.Context, opts route.ListOpts) ([]*route.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*route.Route, 0, len(s.routes))
	for _, rt := range s.routes {
		if opts.Method != "" && !strings.EqualFold(rt.Method, opts.Method) {
			continue
		}
		if opts.Enabled != nil && rt.Enabled != *opts.Enabled {
			continue
		}
		result = append(result, copyRoute(rt))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// ListRoutesByMethod returns routes for a method and enabled flag in storage
// order.
func (s *Store) ListRoutesByMethod(_ context.Context, method string, enabled bool) ([]*route.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*route.Route, 0, len(s.routes))
	for _, rt := range s.routes {
		if !strings.EqualFold(rt.Method, method) || rt.Enabled != enabled {
			continue
		}
		result = append(result, copyRoute(rt))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
