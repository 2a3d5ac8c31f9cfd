package database

import (
	"fmt"
	"log"
	"time"

	"commodity-tracker/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func Initialize(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&models.CommoditySnapshot{},
		&models.CommodityHistory{},
		&models.ChangeEntry{},
		&models.BatchRun{},
		&models.BatchFailure{},
	); err != nil {
		return nil, fmt.Errorf("auto migration failed: %w", err)
	}

	// Idempotent ingestion depends on this constraint; never start
	// without it.
	if err := ensureHistoryVersionIndex(db); err != nil {
		return nil, err
	}

	log.Println("Database initialized successfully")
	return db, nil
}

// ensureHistoryVersionIndex verifies the composite unique index on
// (commodity_id, version_ts) exists, adding it with raw SQL when the
// migrator failed to (older deployments predate the gorm index tag).
func ensureHistoryVersionIndex(db *gorm.DB) error {
	if db.Migrator().HasIndex(&models.CommodityHistory{}, "idx_commodity_version") {
		return nil
	}
	if err := db.Migrator().CreateIndex(&models.CommodityHistory{}, "idx_commodity_version"); err == nil {
		log.Println("Added index idx_commodity_version via GORM migrator")
		return nil
	}

	// Fallback to raw SQL (in case migrator fails)
	var count int64
	checkSQL := `SELECT COUNT(*) FROM information_schema.statistics WHERE table_schema = DATABASE() AND table_name = 'commodity_histories' AND index_name = 'idx_commodity_version'`
	if err := db.Raw(checkSQL).Scan(&count).Error; err != nil {
		return fmt.Errorf("failed checking idx_commodity_version: %w", err)
	}
	if count > 0 {
		return nil
	}
	alterSQL := `ALTER TABLE commodity_histories ADD UNIQUE INDEX idx_commodity_version (commodity_id, version_ts)`
	if err := db.Exec(alterSQL).Error; err != nil {
		return fmt.Errorf("failed adding idx_commodity_version: %w", err)
	}
	log.Println("Added unique index idx_commodity_version to commodity_histories")
	return nil
}
