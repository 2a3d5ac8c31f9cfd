package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"commodity-tracker/internal/models"
	"commodity-tracker/internal/store"

	"github.com/google/uuid"
)

// BatchRequest is one ingestion run as submitted by the upstream crawler.
// BatchID may be left empty; a retried crawl must come in as a new batch
// with a new identifier, never by reopening a finished one.
type BatchRequest struct {
	BatchID  string                   `json:"batch_id"`
	Source   string                   `json:"source"`
	Category string                   `json:"category"`
	Records  []models.CommodityRecord `json:"records"`
	// UpstreamError is set by the crawler when the source was unreachable
	// and no records could be collected; the run is ledgered as failed.
	UpstreamError string `json:"upstream_error,omitempty"`
}

// BatchSummary is the finished run plus its per-record failures.
type BatchSummary struct {
	Run      models.BatchRun       `json:"run"`
	Failures []models.BatchFailure `json:"failures,omitempty"`
}

// Coordinator owns the lifecycle of one batch: it fans records out across
// workers (grouped by commodity so per-commodity order is kept while
// different commodities never serialize against each other), folds each
// record's outcome into the counters, and writes the terminal status.
type Coordinator struct {
	stores   store.Stores
	pipeline *Pipeline
	workers  int
}

func NewCoordinator(stores store.Stores, pipeline *Pipeline, workers int) *Coordinator {
	if workers <= 0 {
		workers = 8
	}
	return &Coordinator{stores: stores, pipeline: pipeline, workers: workers}
}

// batchState collects worker results; the source of truth for counters
// until the run row is finalized.
type batchState struct {
	mu       sync.Mutex
	run      *models.BatchRun
	failures []models.BatchFailure
}

func (b *batchState) record(commodityID string, outcome Outcome, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch outcome {
	case OutcomeInserted:
		b.run.Inserted++
	case OutcomeUpdated:
		b.run.Updated++
	case OutcomeUnchanged:
		b.run.Unchanged++
	case OutcomeErrored:
		b.run.Errored++
		b.failures = append(b.failures, models.BatchFailure{
			BatchID:     b.run.BatchID,
			CommodityID: commodityID,
			ErrorKind:   errorKind(err),
			Message:     err.Error(),
		})
	}
}

// Run processes one batch to a terminal status. It only returns an error
// when the run itself could not be started; record-level problems are
// folded into the summary instead.
func (c *Coordinator) Run(ctx context.Context, req BatchRequest) (*BatchSummary, error) {
	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	run := &models.BatchRun{
		BatchID:   batchID,
		Source:    req.Source,
		Category:  req.Category,
		Status:    models.BatchStatusRunning,
		Total:     len(req.Records),
		StartedAt: time.Now(),
	}
	if err := c.stores.Batches().Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create batch run %s: %w", batchID, err)
	}

	state := &batchState{run: run}

	if req.UpstreamError != "" && len(req.Records) == 0 {
		state.failures = append(state.failures, models.BatchFailure{
			BatchID:   batchID,
			ErrorKind: ErrorKindStorage,
			Message:   "upstream source unreachable: " + req.UpstreamError,
		})
		return c.finalize(ctx, state, models.BatchStatusFailed)
	}

	groups := groupByCommodity(req.Records)
	jobs := make(chan []models.CommodityRecord)
	var wg sync.WaitGroup
	workers := c.workers
	if len(groups) < workers {
		workers = len(groups)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range jobs {
				for _, rec := range group {
					if ctx.Err() != nil {
						state.record(rec.CommodityID, OutcomeErrored, errCanceled)
						continue
					}
					outcome, err := c.pipeline.ProcessRecord(ctx, batchID, rec)
					if err != nil {
						log.Printf("batch %s: record %s failed: %v", batchID, rec.CommodityID, err)
					}
					state.record(rec.CommodityID, outcome, err)
				}
			}
		}()
	}
	for _, group := range groups {
		jobs <- group
	}
	close(jobs)
	wg.Wait()

	var status string
	switch {
	case run.Errored == 0:
		status = models.BatchStatusSuccess
	case run.Errored == run.Total:
		status = models.BatchStatusFailed
	default:
		status = models.BatchStatusPartial
	}
	return c.finalize(ctx, state, status)
}

func (c *Coordinator) finalize(ctx context.Context, state *batchState, status string) (*BatchSummary, error) {
	now := time.Now()
	state.run.Status = status
	state.run.FinishedAt = &now
	if err := c.stores.Batches().Finalize(ctx, state.run); err != nil {
		return nil, fmt.Errorf("finalize batch run %s: %w", state.run.BatchID, err)
	}
	if err := c.stores.Batches().RecordFailures(ctx, state.failures); err != nil {
		log.Printf("batch %s: recording %d failures: %v", state.run.BatchID, len(state.failures), err)
	}
	log.Printf("batch %s finished: status=%s total=%d inserted=%d updated=%d unchanged=%d errored=%d",
		state.run.BatchID, state.run.Status, state.run.Total,
		state.run.Inserted, state.run.Updated, state.run.Unchanged, state.run.Errored)
	return &BatchSummary{Run: *state.run, Failures: state.failures}, nil
}

// groupByCommodity splits a batch into per-commodity groups, keeping
// submission order inside each group. Groups come out in first-seen order.
func groupByCommodity(records []models.CommodityRecord) [][]models.CommodityRecord {
	index := make(map[string]int)
	var groups [][]models.CommodityRecord
	for _, rec := range records {
		i, ok := index[rec.CommodityID]
		if !ok {
			i = len(groups)
			index[rec.CommodityID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], rec)
	}
	return groups
}
