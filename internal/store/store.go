package store

import (
	"context"
	"errors"
	"time"

	"commodity-tracker/internal/models"
)

var (
	// ErrNotFound is returned by lookups when no row exists.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a conditional snapshot write lost a
	// race to a concurrent writer for the same commodity.
	ErrConflict = errors.New("store: concurrent snapshot conflict")
)

// SnapshotStore is the materialized "current state" view, one row per
// commodity_id.
type SnapshotStore interface {
	Get(ctx context.Context, commodityID string) (*models.CommoditySnapshot, error)
	// GetForUpdate locks the snapshot row for the duration of the
	// surrounding Transact call, so the read version can be re-checked
	// before writing.
	GetForUpdate(ctx context.Context, commodityID string) (*models.CommoditySnapshot, error)
	Upsert(ctx context.Context, snap *models.CommoditySnapshot) error
	List(ctx context.Context, category string, limit int) ([]models.CommoditySnapshot, error)
}

// HistoryStore is the append-only versioned archive.
type HistoryStore interface {
	// AppendIfAbsent inserts the row unless (commodity_id, version_ts)
	// already exists; re-ingesting the same observation is a no-op.
	AppendIfAbsent(ctx context.Context, row *models.CommodityHistory) (inserted bool, err error)
	Range(ctx context.Context, commodityID string, from, to time.Time, limit int) ([]models.CommodityHistory, error)
	Get(ctx context.Context, commodityID string, versionTS time.Time) (*models.CommodityHistory, error)
}

// ChangeQuery filters the change ledger. Zero values mean "no filter".
type ChangeQuery struct {
	CommodityID string
	FieldName   string
	ChangeType  string
	RequestID   string
	Limit       int
}

// ChangeLog is the immutable ledger of field-level transitions. Entries
// are only ever appended; QueryRecent orders by insertion (newest first),
// which is when the change became knowable to the system.
type ChangeLog interface {
	Record(ctx context.Context, entries []models.ChangeEntry) error
	QueryRecent(ctx context.Context, q ChangeQuery) ([]models.ChangeEntry, error)
}

// BatchLedger tracks ingestion runs and their per-record failures.
type BatchLedger interface {
	Create(ctx context.Context, run *models.BatchRun) error
	Finalize(ctx context.Context, run *models.BatchRun) error
	Get(ctx context.Context, batchID string) (*models.BatchRun, error)
	RecordFailures(ctx context.Context, failures []models.BatchFailure) error
	Failures(ctx context.Context, batchID string) ([]models.BatchFailure, error)
}

// Stores bundles the four stores behind one handle. Transact runs fn
// against a Stores view bound to a single transaction, so a record's
// history append, change-log append and snapshot upsert commit or fail
// as a unit.
type Stores interface {
	Snapshots() SnapshotStore
	History() HistoryStore
	Changes() ChangeLog
	Batches() BatchLedger
	Transact(ctx context.Context, fn func(Stores) error) error
}
