package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"commodity-tracker/internal/models"
	"commodity-tracker/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// faultingStores wraps a real backend and fails the first failCount
// Transact calls with err before letting calls through. failCount < 0
// fails every call.
type faultingStores struct {
	store.Stores
	err       error
	mu        sync.Mutex
	failCount int
	attempts  int
}

func (f *faultingStores) Transact(ctx context.Context, fn func(store.Stores) error) error {
	f.mu.Lock()
	f.attempts++
	fail := f.failCount != 0
	if f.failCount > 0 {
		f.failCount--
	}
	f.mu.Unlock()
	if fail {
		return f.err
	}
	return f.Stores.Transact(ctx, fn)
}

func conflictErr() error {
	return fmt.Errorf("%w: Deadlock found when trying to get lock", store.ErrConflict)
}

func TestConflictRetryCommitsRecord(t *testing.T) {
	backend := store.NewMemoryStores()
	faulting := &faultingStores{Stores: backend, failCount: 1, err: conflictErr()}
	pipeline := NewPipeline(faulting, NewDetector(0), nil)
	ctx := context.Background()

	outcome, err := pipeline.ProcessRecord(ctx, "b1", goldRecord("2650.00", t1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)
	assert.Equal(t, 2, faulting.attempts)

	// the lost race is invisible to the caller; the commit still landed
	snap, err := backend.Snapshots().Get(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, 2650.0, snap.Price)
}

func TestConflictRetryIsBounded(t *testing.T) {
	backend := store.NewMemoryStores()
	faulting := &faultingStores{Stores: backend, failCount: -1, err: conflictErr()}
	pipeline := NewPipeline(faulting, NewDetector(0), nil)

	outcome, err := pipeline.ProcessRecord(context.Background(), "b1", goldRecord("2650.00", t1))
	assert.Equal(t, OutcomeErrored, outcome)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, maxCommitAttempts, faulting.attempts)
}

func TestPersistentConflictReportedAsConflictKind(t *testing.T) {
	backend := store.NewMemoryStores()
	faulting := &faultingStores{Stores: backend, failCount: -1, err: conflictErr()}
	pipeline := NewPipeline(faulting, NewDetector(0), nil)
	c := NewCoordinator(backend, pipeline, 4)

	summary, err := c.Run(context.Background(), BatchRequest{
		Records: []models.CommodityRecord{goldRecord("2650.00", t1)},
	})
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusFailed, summary.Run.Status)
	assert.Equal(t, 1, summary.Run.Errored)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, ErrorKindConflict, summary.Failures[0].ErrorKind)
}

func TestStorageOutageFailsBatch(t *testing.T) {
	backend := store.NewMemoryStores()
	faulting := &faultingStores{
		Stores:    backend,
		failCount: -1,
		err:       errors.New("dial tcp 127.0.0.1:3306: connect: connection refused"),
	}
	pipeline := NewPipeline(faulting, NewDetector(0), nil)
	c := NewCoordinator(backend, pipeline, 4)
	ctx := context.Background()

	summary, err := c.Run(ctx, BatchRequest{Records: []models.CommodityRecord{
		goldRecord("2650.00", t1),
		{CommodityID: "silver", Price: "31.20", VersionTS: t1},
	}})
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusFailed, summary.Run.Status)
	assert.Equal(t, 2, summary.Run.Errored)
	require.Len(t, summary.Failures, 2)
	for _, f := range summary.Failures {
		assert.Equal(t, ErrorKindStorage, f.ErrorKind)
	}

	// a non-retryable failure is not retried
	assert.Equal(t, 2, faulting.attempts)

	// nothing was committed for either record
	_, err = backend.Snapshots().Get(ctx, "gold")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
