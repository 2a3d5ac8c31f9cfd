package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"commodity-tracker/internal/config"
	"commodity-tracker/internal/database"
	"commodity-tracker/internal/ingest"
	"commodity-tracker/internal/services/upstream"
	"commodity-tracker/internal/store"

	"github.com/joho/godotenv"
)

var (
	pollInterval = flag.Duration("interval", 5*time.Minute, "upstream poll interval")
	runOnce      = flag.Bool("once", false, "poll each source once and exit")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()

	var stores store.Stores
	switch cfg.Storage {
	case "memory":
		log.Println("Using in-memory storage (data is lost on exit)")
		stores = store.NewMemoryStores()
	default:
		db, err := database.Initialize(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to database:", err)
		}
		stores = store.NewGormStores(db)
	}

	detector := ingest.NewDetector(cfg.PriceTolerance)
	pipeline := ingest.NewPipeline(stores, detector, nil)
	coordinator := ingest.NewCoordinator(stores, pipeline, cfg.BatchWorkers)
	client := upstream.NewClient(cfg.UpstreamBaseURL)

	sources := strings.Split(cfg.UpstreamSources, ",")
	log.Printf("crawld started (PID %d): upstream=%s sources=%v interval=%v",
		os.Getpid(), cfg.UpstreamBaseURL, sources, *pollInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	pollAll(coordinator, client, sources)
	if *runOnce {
		return
	}

	ticker := time.NewTicker(*pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sigChan:
			log.Println("Shutdown signal received, exiting")
			return
		case <-ticker.C:
			pollAll(coordinator, client, sources)
		}
	}
}

// pollAll submits one batch per source. An unreachable source becomes a
// failed batch in the ledger rather than a crash; the next tick is a new
// batch with a new identifier.
func pollAll(coordinator *ingest.Coordinator, client *upstream.Client, sources []string) {
	for _, source := range sources {
		source = strings.TrimSpace(source)
		if source == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

		req := ingest.BatchRequest{Source: source}
		result, err := client.FetchRecords(ctx, source)
		if err != nil {
			log.Printf("source %s unreachable: %v", source, err)
			req.UpstreamError = err.Error()
		} else {
			req.Category = result.Category
			req.Records = result.Records
		}

		summary, err := coordinator.Run(ctx, req)
		if err != nil {
			log.Printf("source %s: batch could not start: %v", source, err)
		} else {
			log.Printf("source %s: batch %s %s (%d records)",
				source, summary.Run.BatchID, summary.Run.Status, summary.Run.Total)
		}
		cancel()
	}
}
