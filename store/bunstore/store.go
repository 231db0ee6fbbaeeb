// Package bunstore implements the Hookline store on PostgreSQL using the Bun
// ORM. One row per live record, a separate archive table keyed by the original
// relay id, and plain SQL keyset scans for the sweep predicates.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	hookline "github.com/xraph/hookline"
	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/record"
	"github.com/xraph/hookline/route"
	hlstore "github.com/xraph/hookline/store"
)

// compile-time interface check
var _ hlstore.Store = (*Store)(nil)

// Store implements store.Store using the Bun ORM.
type Store struct {
	db *bun.DB
}

// New creates a new Bun-backed store.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// OpenPostgres opens a PostgreSQL connection through the pgx stdlib driver
// and wraps it in a Bun-backed store.
func OpenPostgres(dsn string) (*Store, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	sqldb := stdlib.OpenDB(*cfg)
	return New(bun.NewDB(sqldb, pgdialect.New())), nil
}

// DB returns the underlying Bun database for direct access.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the required tables using Bun's CreateTable.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*relayModel)(nil),
		(*archiveModel)(nil),
		(*routeModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
	}

	// Create indexes. The sweep scans are keyset reads over id, so the
	// predicate columns carry partial indexes where the row set is narrow.
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_hookline_relays_status ON hookline_relays (status)",
		"CREATE INDEX IF NOT EXISTS idx_hookline_relays_retry ON hookline_relays (next_retry_at) WHERE next_retry_at IS NOT NULL",
		"CREATE INDEX IF NOT EXISTS idx_hookline_relays_route ON hookline_relays (route_id) WHERE route_id IS NOT NULL",
		"CREATE INDEX IF NOT EXISTS idx_hookline_relays_provider ON hookline_relays (provider) WHERE provider != ''",
		"CREATE INDEX IF NOT EXISTS idx_hookline_relays_reference ON hookline_relays (reference_id) WHERE reference_id != ''",
		"CREATE INDEX IF NOT EXISTS idx_hookline_relays_updated ON hookline_relays (updated_at)",
		"CREATE INDEX IF NOT EXISTS idx_hookline_archives_archived ON hookline_relay_archives (archived_at)",
		"CREATE INDEX IF NOT EXISTS idx_hookline_routes_method ON hookline_routes (method, enabled)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_hookline_routes_identifier ON hookline_routes (identifier)",
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Record Store ====================

func (s *Store) CreateRecord(ctx context.Context, rec *record.Relay) error {
	m := toRelayModel(rec)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*record.Relay, error) {
	m := new(relayModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", recID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hookline.ErrRecordNotFound
		}
		return nil, err
	}
	return fromRelayModel(m)
}

func (s *Store) UpdateRecord(ctx context.Context, rec *record.Relay) error {
	m := toRelayModel(rec)
	res, err := s.db.NewUpdate().
		Model(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookline.ErrRecordNotFound
	}
	return nil
}

func (s *Store) ListRecords(ctx context.Context, opts record.ListOpts) ([]*record.Relay, error) {
	var models []relayModel
	q := s.db.NewSelect().Model(&models)

	if opts.Status != nil {
		q = q.Where("status = ?", int(*opts.Status))
	}
	if opts.Provider != "" {
		q = q.Where("provider = ?", opts.Provider)
	}
	if opts.Reference != "" {
		q = q.Where("reference_id = ?", opts.Reference)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromRelayModels(models)
}

func (s *Store) CountByStatus(ctx context.Context, status record.Status) (int64, error) {
	count, err := s.db.NewSelect().
		Model((*relayModel)(nil)).
		Where("status = ?", int(status)).
		Count(ctx)
	return int64(count), err
}

func (s *Store) ListRetryDue(ctx context.Context, now time.Time, afterID id.ID, limit int) ([]*record.Relay, error) {
	return s.keyset(ctx, afterID, limit, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("next_retry_at IS NOT NULL").Where("next_retry_at <= ?", now)
	})
}

func (s *Store) ListStuck(ctx context.Context, cutoff time.Time, afterID id.ID, limit int) ([]*record.Relay, error) {
	return s.keyset(ctx, afterID, limit, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("status = ?", int(record.StatusProcessing)).
			Where("(processing_at IS NULL OR processing_at < ?)", cutoff)
	})
}

func (s *Store) ListProcessing(ctx context.Context, afterID id.ID, limit int) ([]*record.Relay, error) {
	return s.keyset(ctx, afterID, limit, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("status = ?", int(record.StatusProcessing))
	})
}

func (s *Store) ListArchivable(ctx context.Context, cutoff time.Time, afterID id.ID, limit int) ([]*record.Relay, error) {
	return s.keyset(ctx, afterID, limit, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("updated_at < ?", cutoff)
	})
}

// keyset runs one page of a keyset scan: ascending id order, strictly after
// afterID. TypeIDs are K-sortable, so id order is creation order.
func (s *Store) keyset(ctx context.Context, afterID id.ID, limit int, apply func(*bun.SelectQuery) *bun.SelectQuery) ([]*record.Relay, error) {
	var models []relayModel
	q := apply(s.db.NewSelect().Model(&models))
	if !afterID.IsNil() {
		q = q.Where("id > ?", afterID.String())
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	q = q.Order("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromRelayModels(models)
}

func fromRelayModels(models []relayModel) ([]*record.Relay, error) {
	result := make([]*record.Relay, len(models))
	for i := range models {
		rec, err := fromRelayModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

// ==================== Archive Store ====================

// ArchiveChunk moves the given records into the archive table and deletes the
// originals inside one transaction. A record that vanished between the list
// call and here aborts the whole chunk.
func (s *Store) ArchiveChunk(ctx context.Context, recs []*record.Relay) error {
	if len(recs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, rec := range recs {
			arc := &record.Archive{Relay: *rec, ArchivedAt: now}
			if _, err := tx.NewInsert().Model(toArchiveModel(arc)).Exec(ctx); err != nil {
				return err
			}
			res, err := tx.NewDelete().
				Model((*relayModel)(nil)).
				Where("id = ?", rec.ID.String()).
				Exec(ctx)
			if err != nil {
				return err
			}
			rows, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if rows == 0 {
				return hookline.ErrRecordNotFound
			}
		}
		return nil
	})
}

func (s *Store) GetArchive(ctx context.Context, recID id.ID) (*record.Archive, error) {
	m := new(archiveModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", recID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hookline.ErrArchiveNotFound
		}
		return nil, err
	}
	return fromArchiveModel(m)
}

func (s *Store) ListArchives(ctx context.Context, opts record.ListOpts) ([]*record.Archive, error) {
	var models []archiveModel
	q := s.db.NewSelect().Model(&models)

	if opts.Status != nil {
		q = q.Where("status = ?", int(*opts.Status))
	}
	if opts.Provider != "" {
		q = q.Where("provider = ?", opts.Provider)
	}
	if opts.Reference != "" {
		q = q.Where("reference_id = ?", opts.Reference)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*record.Archive, len(models))
	for i := range models {
		arc, err := fromArchiveModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = arc
	}
	return result, nil
}

func (s *Store) DeleteArchive(ctx context.Context, recID id.ID) error {
	res, err := s.db.NewDelete().
		Model((*archiveModel)(nil)).
		Where("id = ?", recID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookline.ErrArchiveNotFound
	}
	return nil
}

func (s *Store) PurgeArchives(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*archiveModel)(nil)).
		Where("id IN (?)", s.db.NewSelect().
			Model((*archiveModel)(nil)).
			Column("id").
			Where("archived_at < ?", cutoff).
			Order("id ASC").
			Limit(limit)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ==================== Route Store ====================

func (s *Store) CreateRoute(ctx context.Context, rt *route.Route) error {
	m := toRouteModel(rt)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) GetRoute(ctx context.Context, rtID id.ID) (*route.Route, error) {
	m := new(routeModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", rtID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hookline.ErrRouteNotFound
		}
		return nil, err
	}
	return fromRouteModel(m)
}

func (s *Store) GetRouteByIdentifier(ctx context.Context, identifier string) (*route.Route, error) {
	m := new(routeModel)
	err := s.db.NewSelect().
		Model(m).
		Where("identifier = ?", identifier).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hookline.ErrRouteNotFound
		}
		return nil, err
	}
	return fromRouteModel(m)
}

func (s *Store) UpdateRoute(ctx context.Context, rt *route.Route) error {
	m := toRouteModel(rt)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookline.ErrRouteNotFound
	}
	return nil
}

func (s *Store) DeleteRoute(ctx context.Context, rtID id.ID) error {
	res, err := s.db.NewDelete().
		Model((*routeModel)(nil)).
		Where("id = ?", rtID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookline.ErrRouteNotFound
	}
	return nil
}

func (s *Store) ListRoutes(ctx context.Context, opts route.ListOpts) ([]*route.Route, error) {
	var models []routeModel
	q := s.db.NewSelect().Model(&models)

	if opts.Method != "" {
		q = q.Where("UPPER(method) = UPPER(?)", opts.Method)
	}
	if opts.Enabled != nil {
		q = q.Where("enabled = ?", *opts.Enabled)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromRouteModels(models)
}

func (s *Store) ListRoutesByMethod(ctx context.Context, method string, enabled bool) ([]*route.Route, error) {
	var models []routeModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("UPPER(method) = UPPER(?)", method).
		Where("enabled = ?", enabled).
		Order("created_at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromRouteModels(models)
}

func fromRouteModels(models []routeModel) ([]*route.Route, error) {
	result := make([]*route.Route, len(models))
	for i := range models {
		rt, err := fromRouteModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rt
	}
	return result, nil
}
