package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ExtraMap stores unmodeled crawler fields as a JSON text column.
// The pipeline preserves it verbatim and never inspects the keys.
type ExtraMap map[string]string

func (m ExtraMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *ExtraMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported extra column type %T", value)
	}
}

// CommoditySnapshot holds the single current state per commodity.
// Exactly one row per commodity_id; latest version_ts always wins.
type CommoditySnapshot struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	CommodityID   string    `json:"commodity_id" gorm:"uniqueIndex;size:64;not null"`
	Name          string    `json:"name"`
	LocalizedName string    `json:"localized_name"`
	Category      string    `json:"category" gorm:"index;size:64"`
	Price         float64   `json:"price"`
	PriceUnit     string    `json:"price_unit" gorm:"size:32"`
	QuantityUnit  string    `json:"quantity_unit" gorm:"size:32"`
	ChangePercent *float64  `json:"change_percent"`
	ChangeValue   *float64  `json:"change_value"`
	High          *float64  `json:"high"`
	Low           *float64  `json:"low"`
	Open          *float64  `json:"open"`
	Source        string    `json:"source" gorm:"size:64"`
	SourceURL     string    `json:"source_url"`
	VersionTS     time.Time `json:"version_ts" gorm:"index;not null"`
	Extra         ExtraMap  `json:"extra,omitempty" gorm:"type:text"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CommodityHistory is the append-only archive of every distinct observed
// state. (commodity_id, version_ts) is unique so replayed batches cannot
// create duplicate rows; ID doubles as the monotonically increasing
// sequence number.
type CommodityHistory struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	CommodityID   string    `json:"commodity_id" gorm:"uniqueIndex:idx_commodity_version,priority:1;size:64;not null"`
	Name          string    `json:"name"`
	LocalizedName string    `json:"localized_name"`
	Category      string    `json:"category" gorm:"index;size:64"`
	Price         float64   `json:"price"`
	PriceUnit     string    `json:"price_unit" gorm:"size:32"`
	QuantityUnit  string    `json:"quantity_unit" gorm:"size:32"`
	ChangePercent *float64  `json:"change_percent"`
	ChangeValue   *float64  `json:"change_value"`
	High          *float64  `json:"high"`
	Low           *float64  `json:"low"`
	Open          *float64  `json:"open"`
	Source        string    `json:"source" gorm:"size:64"`
	SourceURL     string    `json:"source_url"`
	VersionTS     time.Time `json:"version_ts" gorm:"uniqueIndex:idx_commodity_version,priority:2;not null"`
	Extra         ExtraMap  `json:"extra,omitempty" gorm:"type:text"`
	RecordedAt    time.Time `json:"recorded_at" gorm:"index"` // ingestion wall clock, not source time
}

// Change classification values stored in ChangeEntry.ChangeType.
const (
	ChangeTypeInsert = "INSERT"
	ChangeTypeUpdate = "UPDATE"
)

// ChangeEntry is one immutable row of the change ledger. UPDATE entries
// carry one row per differing field; an INSERT carries a single summary
// row with an empty FieldName and a null OldValue.
type ChangeEntry struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	RequestID   string    `json:"request_id" gorm:"index;size:64"` // batch identifier
	CommodityID string    `json:"commodity_id" gorm:"index;size:64;not null"`
	ChangeType  string    `json:"change_type" gorm:"index;size:16;not null"`
	FieldName   string    `json:"field_name" gorm:"index;size:32"`
	OldValue    *string   `json:"old_value"`
	NewValue    *string   `json:"new_value"`
	VersionTS   time.Time `json:"version_ts" gorm:"not null"`
	Summary     string    `json:"summary"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
}

// Batch run statuses.
const (
	BatchStatusRunning = "running"
	BatchStatusSuccess = "success"
	BatchStatusPartial = "partial"
	BatchStatusFailed  = "failed"
)

// BatchRun is the ledger row for one ingestion run. Mutated only by its
// coordinator while running; frozen once a terminal status is written.
type BatchRun struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	BatchID    string     `json:"batch_id" gorm:"uniqueIndex;size:64;not null"`
	Source     string     `json:"source" gorm:"size:64"`
	Category   string     `json:"category" gorm:"size:64"`
	Status     string     `json:"status" gorm:"index;size:16;not null"`
	Total      int        `json:"total"`
	Inserted   int        `json:"inserted"`
	Updated    int        `json:"updated"`
	Unchanged  int        `json:"unchanged"`
	Errored    int        `json:"errored"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// BatchFailure records one (commodity, error kind) pair for a partial or
// failed run, for diagnosis by the caller.
type BatchFailure struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	BatchID     string    `json:"batch_id" gorm:"index;size:64;not null"`
	CommodityID string    `json:"commodity_id" gorm:"size:64"`
	ErrorKind   string    `json:"error_kind" gorm:"size:32"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}
