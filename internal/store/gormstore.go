package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commodity-tracker/internal/models"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// snapshotColumns are the columns rewritten on a snapshot upsert.
// version_ts is intentionally absent: it is assigned last so the guard
// expressions still see the old value (MySQL evaluates the assignment
// list left to right).
var snapshotColumns = []string{
	"name", "localized_name", "category", "price", "price_unit",
	"quantity_unit", "change_percent", "change_value", "high", "low",
	"open", "source", "source_url", "extra", "updated_at",
}

// guardedSnapshotSet builds ON DUPLICATE KEY assignments that only take
// effect when the incoming version_ts is strictly newer, so a racing
// older write can never roll the snapshot back.
func guardedSnapshotSet() clause.Set {
	set := make(clause.Set, 0, len(snapshotColumns)+1)
	for _, col := range snapshotColumns {
		set = append(set, clause.Assignment{
			Column: clause.Column{Name: col},
			Value:  gorm.Expr("IF(VALUES(version_ts) > version_ts, VALUES(" + col + "), " + col + ")"),
		})
	}
	set = append(set, clause.Assignment{
		Column: clause.Column{Name: "version_ts"},
		Value:  gorm.Expr("IF(VALUES(version_ts) > version_ts, VALUES(version_ts), version_ts)"),
	})
	return set
}

// GormStores implements Stores on a MySQL database via gorm.
type GormStores struct {
	db *gorm.DB
}

func NewGormStores(db *gorm.DB) *GormStores {
	return &GormStores{db: db}
}

func (s *GormStores) Snapshots() SnapshotStore { return gormSnapshots{s.db} }
func (s *GormStores) History() HistoryStore    { return gormHistory{s.db} }
func (s *GormStores) Changes() ChangeLog       { return gormChanges{s.db} }
func (s *GormStores) Batches() BatchLedger     { return gormBatches{s.db} }

func (s *GormStores) Transact(ctx context.Context, fn func(Stores) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStores{db: tx})
	})
	if isSerializationFailure(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// isSerializationFailure detects InnoDB deadlock (1213) and lock wait
// timeout (1205), which the pipeline retries as concurrent conflicts.
func isSerializationFailure(err error) bool {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	return false
}

type gormSnapshots struct{ db *gorm.DB }

func (g gormSnapshots) Get(ctx context.Context, commodityID string) (*models.CommoditySnapshot, error) {
	var snap models.CommoditySnapshot
	err := g.db.WithContext(ctx).Where("commodity_id = ?", commodityID).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (g gormSnapshots) GetForUpdate(ctx context.Context, commodityID string) (*models.CommoditySnapshot, error) {
	var snap models.CommoditySnapshot
	err := g.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("commodity_id = ?", commodityID).
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (g gormSnapshots) Upsert(ctx context.Context, snap *models.CommoditySnapshot) error {
	snap.UpdatedAt = time.Now()
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "commodity_id"}},
		DoUpdates: guardedSnapshotSet(),
	}).Create(snap).Error
}

func (g gormSnapshots) List(ctx context.Context, category string, limit int) ([]models.CommoditySnapshot, error) {
	q := g.db.WithContext(ctx).Order("commodity_id asc")
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var snaps []models.CommoditySnapshot
	if err := q.Find(&snaps).Error; err != nil {
		return nil, err
	}
	return snaps, nil
}

type gormHistory struct{ db *gorm.DB }

func (g gormHistory) AppendIfAbsent(ctx context.Context, row *models.CommodityHistory) (bool, error) {
	if row.RecordedAt.IsZero() {
		row.RecordedAt = time.Now()
	}
	res := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "commodity_id"}, {Name: "version_ts"}},
		DoNothing: true,
	}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (g gormHistory) Range(ctx context.Context, commodityID string, from, to time.Time, limit int) ([]models.CommodityHistory, error) {
	q := g.db.WithContext(ctx).Where("commodity_id = ?", commodityID).Order("version_ts asc")
	if !from.IsZero() {
		q = q.Where("version_ts >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("version_ts <= ?", to)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.CommodityHistory
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (g gormHistory) Get(ctx context.Context, commodityID string, versionTS time.Time) (*models.CommodityHistory, error) {
	var row models.CommodityHistory
	err := g.db.WithContext(ctx).
		Where("commodity_id = ? AND version_ts = ?", commodityID, versionTS).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

type gormChanges struct{ db *gorm.DB }

func (g gormChanges) Record(ctx context.Context, entries []models.ChangeEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Create(&entries).Error
}

func (g gormChanges) QueryRecent(ctx context.Context, q ChangeQuery) ([]models.ChangeEntry, error) {
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = 50
	case limit > 500:
		limit = 500
	}
	tx := g.db.WithContext(ctx).Order("id desc").Limit(limit)
	if q.CommodityID != "" {
		tx = tx.Where("commodity_id = ?", q.CommodityID)
	}
	if q.FieldName != "" {
		tx = tx.Where("field_name = ?", q.FieldName)
	}
	if q.ChangeType != "" {
		tx = tx.Where("change_type = ?", q.ChangeType)
	}
	if q.RequestID != "" {
		tx = tx.Where("request_id = ?", q.RequestID)
	}
	var entries []models.ChangeEntry
	if err := tx.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

type gormBatches struct{ db *gorm.DB }

func (g gormBatches) Create(ctx context.Context, run *models.BatchRun) error {
	return g.db.WithContext(ctx).Create(run).Error
}

func (g gormBatches) Finalize(ctx context.Context, run *models.BatchRun) error {
	return g.db.WithContext(ctx).Model(&models.BatchRun{}).
		Where("batch_id = ?", run.BatchID).
		Updates(map[string]interface{}{
			"status":      run.Status,
			"total":       run.Total,
			"inserted":    run.Inserted,
			"updated":     run.Updated,
			"unchanged":   run.Unchanged,
			"errored":     run.Errored,
			"finished_at": run.FinishedAt,
		}).Error
}

func (g gormBatches) Get(ctx context.Context, batchID string) (*models.BatchRun, error) {
	var run models.BatchRun
	err := g.db.WithContext(ctx).Where("batch_id = ?", batchID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (g gormBatches) RecordFailures(ctx context.Context, failures []models.BatchFailure) error {
	if len(failures) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Create(&failures).Error
}

func (g gormBatches) Failures(ctx context.Context, batchID string) ([]models.BatchFailure, error) {
	var failures []models.BatchFailure
	err := g.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("id asc").Find(&failures).Error
	if err != nil {
		return nil, err
	}
	return failures, nil
}
