package main

import (
	"context"
	"flag"
	"log"
	"time"

	"commodity-tracker/internal/config"
	"commodity-tracker/internal/database"
	"commodity-tracker/internal/export"
	"commodity-tracker/internal/models"
	"commodity-tracker/internal/store"

	"github.com/joho/godotenv"
)

var (
	outPath     = flag.String("out", "changes.xlsx", "output workbook path")
	limit       = flag.Int("limit", 500, "max change entries, newest first")
	commodityID = flag.String("commodity", "", "filter by commodity id")
	fieldName   = flag.String("field", "", "filter by field name (e.g. price)")
	changeType  = flag.String("type", "", "filter by change type (INSERT/UPDATE)")
)

// Dumps the change ledger to an .xlsx workbook for offline review.
func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	stores := store.NewGormStores(db)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	entries, err := stores.Changes().QueryRecent(ctx, store.ChangeQuery{
		CommodityID: *commodityID,
		FieldName:   *fieldName,
		ChangeType:  *changeType,
		Limit:       *limit,
	})
	if err != nil {
		log.Fatalf("query change log: %v", err)
	}
	if *changeType != "" && *changeType != models.ChangeTypeInsert && *changeType != models.ChangeTypeUpdate {
		log.Printf("warning: unknown change type %q, export may be empty", *changeType)
	}

	f, err := export.ChangeWorkbook(entries)
	if err != nil {
		log.Fatalf("build workbook: %v", err)
	}
	if err := f.SaveAs(*outPath); err != nil {
		log.Fatalf("save workbook: %v", err)
	}
	log.Printf("wrote %d change entries to %s", len(entries), *outPath)
}
