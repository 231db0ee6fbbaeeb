package record

import (
	"context"
	"time"

	"github.com/xraph/hookline/id"
)

// Store defines the persistence contract for relay records and their
// archives. Sweep list methods use keyset pagination: rows are returned in
// ascending id order, strictly after afterID (pass id.Nil to start), at most
// limit rows per call. TypeIDs are K-sortable, so id order is creation order.
type Store interface {
	// CreateRecord persists a new relay record. Must be durable before returning.
	CreateRecord(ctx context.Context, rec *Relay) error

	// GetRecord returns a record by ID.
	GetRecord(ctx context.Context, recID id.ID) (*Relay, error)

	// UpdateRecord writes the full current state of a record as a single-row write.
	UpdateRecord(ctx context.Context, rec *Relay) error

	// ListRecords returns live records, optionally filtered.
	ListRecords(ctx context.Context, opts ListOpts) ([]*Relay, error)

	// CountByStatus returns the number of live records in the given status.
	CountByStatus(ctx context.Context, status Status) (int64, error)

	// ListRetryDue returns records whose NextRetryAt is at or before now.
	ListRetryDue(ctx context.Context, now time.Time, afterID id.ID, limit int) ([]*Relay, error)

	// ListStuck returns PROCESSING records whose ProcessingAt is unset or
	// older than the cutoff.
	ListStuck(ctx context.Context, cutoff time.Time, afterID id.ID, limit int) ([]*Relay, error)

	// ListProcessing returns records currently in PROCESSING.
	ListProcessing(ctx context.Context, afterID id.ID, limit int) ([]*Relay, error)

	// ListArchivable returns records whose UpdatedAt is older than the cutoff.
	ListArchivable(ctx context.Context, cutoff time.Time, afterID id.ID, limit int) ([]*Relay, error)

	// ArchiveChunk moves the given records into the archive store and deletes
	// the originals, all-or-nothing within one transaction. ArchivedAt is
	// stamped for rows that do not already carry it.
	ArchiveChunk(ctx context.Context, recs []*Relay) error

	// GetArchive returns an archived record by its original relay id.
	GetArchive(ctx context.Context, recID id.ID) (*Archive, error)

	// ListArchives returns archived records, oldest first.
	ListArchives(ctx context.Context, opts ListOpts) ([]*Archive, error)

	// DeleteArchive removes a single archive row (used by restore).
	DeleteArchive(ctx context.Context, recID id.ID) error

	// PurgeArchives hard-deletes archives older than the cutoff in chunks of
	// at most limit rows, returning the number deleted.
	PurgeArchives(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
