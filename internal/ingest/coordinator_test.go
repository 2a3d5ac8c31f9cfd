package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"commodity-tracker/internal/models"
	"commodity-tracker/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t1 = time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	t2 = time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)
)

func newTestCoordinator() (*Coordinator, *store.MemoryStores) {
	stores := store.NewMemoryStores()
	pipeline := NewPipeline(stores, NewDetector(0), nil)
	return NewCoordinator(stores, pipeline, 4), stores
}

func goldRecord(price string, ts time.Time) models.CommodityRecord {
	return models.CommodityRecord{
		CommodityID: "gold",
		Name:        "Gold",
		Category:    "metals",
		Price:       price,
		PriceUnit:   "USD",
		Source:      "tgju",
		VersionTS:   ts,
	}
}

func TestFirstInsert(t *testing.T) {
	c, stores := newTestCoordinator()

	summary, err := c.Run(context.Background(), BatchRequest{
		Source:  "tgju",
		Records: []models.CommodityRecord{goldRecord("2650.00", t1)},
	})
	require.NoError(t, err)

	assert.Equal(t, models.BatchStatusSuccess, summary.Run.Status)
	assert.Equal(t, 1, summary.Run.Inserted)
	assert.NotEmpty(t, summary.Run.BatchID)
	require.NotNil(t, summary.Run.FinishedAt)

	snap, err := stores.Snapshots().Get(context.Background(), "gold")
	require.NoError(t, err)
	assert.Equal(t, 2650.0, snap.Price)
	assert.True(t, snap.VersionTS.Equal(t1))

	rows, err := stores.History().Range(context.Background(), "gold", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].RecordedAt.IsZero())

	entries, err := stores.Changes().QueryRecent(context.Background(), store.ChangeQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ChangeTypeInsert, entries[0].ChangeType)
	assert.Equal(t, summary.Run.BatchID, entries[0].RequestID)
}

func TestPriceUpdateEmitsChangeEntry(t *testing.T) {
	c, stores := newTestCoordinator()
	ctx := context.Background()

	_, err := c.Run(ctx, BatchRequest{Records: []models.CommodityRecord{goldRecord("2650.00", t1)}})
	require.NoError(t, err)

	summary, err := c.Run(ctx, BatchRequest{Records: []models.CommodityRecord{goldRecord("2680.00", t2)}})
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusSuccess, summary.Run.Status)
	assert.Equal(t, 1, summary.Run.Updated)

	entries, err := stores.Changes().QueryRecent(ctx, store.ChangeQuery{FieldName: "price"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2650", *entries[0].OldValue)
	assert.Equal(t, "2680", *entries[0].NewValue)
	assert.Contains(t, entries[0].Summary, "price moved from 2650 to 2680")

	snap, err := stores.Snapshots().Get(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, 2680.0, snap.Price)
	assert.True(t, snap.VersionTS.Equal(t2))
}

func TestOutOfOrderReplayIsStale(t *testing.T) {
	c, stores := newTestCoordinator()
	ctx := context.Background()

	_, err := c.Run(ctx, BatchRequest{Records: []models.CommodityRecord{goldRecord("2650.00", t1)}})
	require.NoError(t, err)
	_, err = c.Run(ctx, BatchRequest{Records: []models.CommodityRecord{goldRecord("2680.00", t2)}})
	require.NoError(t, err)

	// the T1 observation arrives again after T2 was committed
	summary, err := c.Run(ctx, BatchRequest{Records: []models.CommodityRecord{goldRecord("2650.00", t1)}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Run.Unchanged)
	assert.Equal(t, 0, summary.Run.Updated)

	snap, err := stores.Snapshots().Get(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, 2680.0, snap.Price)
	assert.True(t, snap.VersionTS.Equal(t2))

	rows, err := stores.History().Range(ctx, "gold", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestResubmittedBatchIsIdempotent(t *testing.T) {
	c, stores := newTestCoordinator()
	ctx := context.Background()
	records := []models.CommodityRecord{
		goldRecord("2650.00", t1),
		{CommodityID: "silver", Name: "Silver", Price: "31.20", VersionTS: t1},
	}

	first, err := c.Run(ctx, BatchRequest{Records: records})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Run.Inserted)

	before, err := stores.Snapshots().Get(ctx, "gold")
	require.NoError(t, err)
	entriesBefore, err := stores.Changes().QueryRecent(ctx, store.ChangeQuery{})
	require.NoError(t, err)

	// at-least-once delivery: the crawler replays the same observations
	second, err := c.Run(ctx, BatchRequest{Records: records})
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusSuccess, second.Run.Status)
	assert.Equal(t, 0, second.Run.Inserted)
	assert.Equal(t, 2, second.Run.Unchanged)

	after, err := stores.Snapshots().Get(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	entriesAfter, err := stores.Changes().QueryRecent(ctx, store.ChangeQuery{})
	require.NoError(t, err)
	assert.Len(t, entriesAfter, len(entriesBefore))

	rows, err := stores.History().Range(ctx, "gold", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestMixedBatchIsPartial(t *testing.T) {
	c, stores := newTestCoordinator()
	ctx := context.Background()

	summary, err := c.Run(ctx, BatchRequest{Records: []models.CommodityRecord{
		goldRecord("2650.00", t1),
		{CommodityID: "oil", Name: "Crude Oil", Price: "not-a-price", VersionTS: t1},
		{CommodityID: "silver", Name: "Silver", Price: "31.20", VersionTS: t1},
	}})
	require.NoError(t, err)

	assert.Equal(t, models.BatchStatusPartial, summary.Run.Status)
	assert.Equal(t, 2, summary.Run.Inserted)
	assert.Equal(t, 1, summary.Run.Errored)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "oil", summary.Failures[0].CommodityID)
	assert.Equal(t, ErrorKindValidation, summary.Failures[0].ErrorKind)

	// the malformed record must leave no trace in any store
	_, err = stores.Snapshots().Get(ctx, "oil")
	assert.ErrorIs(t, err, store.ErrNotFound)
	rows, err := stores.History().Range(ctx, "oil", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	failures, err := stores.Batches().Failures(ctx, summary.Run.BatchID)
	require.NoError(t, err)
	assert.Len(t, failures, 1)
}

func TestAllRecordsFailedIsFailed(t *testing.T) {
	c, _ := newTestCoordinator()

	summary, err := c.Run(context.Background(), BatchRequest{Records: []models.CommodityRecord{
		{CommodityID: "gold", Price: "??", VersionTS: t1},
		{CommodityID: "silver", Price: "", VersionTS: t1},
	}})
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusFailed, summary.Run.Status)
	assert.Equal(t, 2, summary.Run.Errored)
}

func TestUnreachableUpstreamIsFailed(t *testing.T) {
	c, stores := newTestCoordinator()

	summary, err := c.Run(context.Background(), BatchRequest{
		Source:        "tgju",
		UpstreamError: "connection refused",
	})
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusFailed, summary.Run.Status)
	require.Len(t, summary.Failures, 1)
	assert.Contains(t, summary.Failures[0].Message, "connection refused")

	run, err := stores.Batches().Get(context.Background(), summary.Run.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusFailed, run.Status)
}

func TestCountConservation(t *testing.T) {
	c, _ := newTestCoordinator()

	records := []models.CommodityRecord{
		goldRecord("2650.00", t1),
		goldRecord("2680.00", t2),
		goldRecord("2650.00", t1), // stale duplicate within the batch
		{CommodityID: "silver", Price: "31.20", VersionTS: t1},
		{CommodityID: "oil", Price: "broken", VersionTS: t1},
	}
	summary, err := c.Run(context.Background(), BatchRequest{Records: records})
	require.NoError(t, err)

	total := summary.Run.Inserted + summary.Run.Updated + summary.Run.Unchanged + summary.Run.Errored
	assert.Equal(t, len(records), total)
	assert.Equal(t, len(records), summary.Run.Total)
}

func TestSuppliedBatchIDIsKeptAndNotReopened(t *testing.T) {
	c, stores := newTestCoordinator()
	ctx := context.Background()

	summary, err := c.Run(ctx, BatchRequest{
		BatchID: "run-2026-08-30-a",
		Records: []models.CommodityRecord{goldRecord("2650.00", t1)},
	})
	require.NoError(t, err)
	assert.Equal(t, "run-2026-08-30-a", summary.Run.BatchID)

	// a terminal batch is never reopened; a replay needs a fresh id
	_, err = c.Run(ctx, BatchRequest{
		BatchID: "run-2026-08-30-a",
		Records: []models.CommodityRecord{goldRecord("2680.00", t2)},
	})
	require.Error(t, err)

	run, err := stores.Batches().Get(ctx, "run-2026-08-30-a")
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusSuccess, run.Status)
	assert.Equal(t, 1, run.Total)
}

func TestMonotonicSnapshotAcrossConcurrentBatches(t *testing.T) {
	stores := store.NewMemoryStores()
	pipeline := NewPipeline(stores, NewDetector(0), nil)
	c := NewCoordinator(stores, pipeline, 4)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for b := 0; b < 8; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			var records []models.CommodityRecord
			for i := 0; i < 10; i++ {
				ts := base.Add(time.Duration(b*10+i) * time.Minute)
				records = append(records, goldRecord(fmt.Sprintf("%d.00", 2600+b*10+i), ts))
			}
			_, err := c.Run(ctx, BatchRequest{Records: records})
			assert.NoError(t, err)
		}(b)
	}
	wg.Wait()

	snap, err := stores.Snapshots().Get(ctx, "gold")
	require.NoError(t, err)
	// max version_ts across all 80 records is base + 79m
	assert.True(t, snap.VersionTS.Equal(base.Add(79*time.Minute)))
	assert.Equal(t, 2679.0, snap.Price)
}

func TestDifferentCommoditiesDoNotBlockEachOther(t *testing.T) {
	c, stores := newTestCoordinator()
	ctx := context.Background()

	var records []models.CommodityRecord
	for i := 0; i < 20; i++ {
		records = append(records, models.CommodityRecord{
			CommodityID: fmt.Sprintf("commodity-%02d", i),
			Price:       fmt.Sprintf("%d", 100+i),
			VersionTS:   t1,
		})
	}
	summary, err := c.Run(ctx, BatchRequest{Records: records})
	require.NoError(t, err)
	assert.Equal(t, 20, summary.Run.Inserted)

	snaps, err := stores.Snapshots().List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, snaps, 20)
}
