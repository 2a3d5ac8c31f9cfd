package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"commodity-tracker/internal/models"
)

// MemoryStores is an in-process Stores backend used for local development
// (STORAGE=memory) and tests. A single mutex serializes Transact calls,
// which makes every per-record commit atomic; in-memory writes cannot
// partially fail, so no rollback journal is needed.
type MemoryStores struct {
	mu         sync.Mutex
	snapshots  map[string]models.CommoditySnapshot
	history    []models.CommodityHistory
	historyKey map[string]struct{}
	changes    []models.ChangeEntry
	runs       map[string]models.BatchRun
	failures   map[string][]models.BatchFailure
	historySeq uint
	changeSeq  uint
}

func NewMemoryStores() *MemoryStores {
	return &MemoryStores{
		snapshots:  make(map[string]models.CommoditySnapshot),
		historyKey: make(map[string]struct{}),
		runs:       make(map[string]models.BatchRun),
		failures:   make(map[string][]models.BatchFailure),
	}
}

func (m *MemoryStores) Snapshots() SnapshotStore { return memSnapshots{m, true} }
func (m *MemoryStores) History() HistoryStore    { return memHistory{m, true} }
func (m *MemoryStores) Changes() ChangeLog       { return memChanges{m, true} }
func (m *MemoryStores) Batches() BatchLedger     { return memBatches{m, true} }

func (m *MemoryStores) Transact(ctx context.Context, fn func(Stores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(txView{m})
}

// txView is handed to Transact callbacks; the caller already holds the
// mutex, so its stores skip locking.
type txView struct{ m *MemoryStores }

func (t txView) Snapshots() SnapshotStore { return memSnapshots{t.m, false} }
func (t txView) History() HistoryStore    { return memHistory{t.m, false} }
func (t txView) Changes() ChangeLog       { return memChanges{t.m, false} }
func (t txView) Batches() BatchLedger     { return memBatches{t.m, false} }
func (t txView) Transact(ctx context.Context, fn func(Stores) error) error {
	return fn(t)
}

func acquire(m *MemoryStores, lock bool) func() {
	if !lock {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func histKey(commodityID string, ts time.Time) string {
	return commodityID + "|" + ts.UTC().Format(time.RFC3339Nano)
}

func cloneExtra(m models.ExtraMap) models.ExtraMap {
	if m == nil {
		return nil
	}
	out := make(models.ExtraMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type memSnapshots struct {
	m    *MemoryStores
	lock bool
}

func (v memSnapshots) Get(ctx context.Context, commodityID string) (*models.CommoditySnapshot, error) {
	defer acquire(v.m, v.lock)()
	snap, ok := v.m.snapshots[commodityID]
	if !ok {
		return nil, ErrNotFound
	}
	out := snap
	// detach the extra map so a caller mutation cannot reach store state
	out.Extra = cloneExtra(out.Extra)
	return &out, nil
}

func (v memSnapshots) GetForUpdate(ctx context.Context, commodityID string) (*models.CommoditySnapshot, error) {
	// the Transact mutex already serializes writers
	return v.Get(ctx, commodityID)
}

func (v memSnapshots) Upsert(ctx context.Context, snap *models.CommoditySnapshot) error {
	defer acquire(v.m, v.lock)()
	s := *snap
	s.UpdatedAt = time.Now()
	if prev, ok := v.m.snapshots[s.CommodityID]; ok {
		if !s.VersionTS.After(prev.VersionTS) {
			// latest version_ts wins; a racing older write is a no-op
			return nil
		}
		s.ID = prev.ID
	} else {
		s.ID = uint(len(v.m.snapshots) + 1)
	}
	v.m.snapshots[s.CommodityID] = s
	*snap = s
	return nil
}

func (v memSnapshots) List(ctx context.Context, category string, limit int) ([]models.CommoditySnapshot, error) {
	defer acquire(v.m, v.lock)()
	out := make([]models.CommoditySnapshot, 0, len(v.m.snapshots))
	for _, snap := range v.m.snapshots {
		if category != "" && snap.Category != category {
			continue
		}
		snap.Extra = cloneExtra(snap.Extra)
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommodityID < out[j].CommodityID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memHistory struct {
	m    *MemoryStores
	lock bool
}

func (v memHistory) AppendIfAbsent(ctx context.Context, row *models.CommodityHistory) (bool, error) {
	defer acquire(v.m, v.lock)()
	key := histKey(row.CommodityID, row.VersionTS)
	if _, ok := v.m.historyKey[key]; ok {
		return false, nil
	}
	v.m.historySeq++
	r := *row
	r.ID = v.m.historySeq
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now()
	}
	v.m.historyKey[key] = struct{}{}
	v.m.history = append(v.m.history, r)
	*row = r
	return true, nil
}

func (v memHistory) Range(ctx context.Context, commodityID string, from, to time.Time, limit int) ([]models.CommodityHistory, error) {
	defer acquire(v.m, v.lock)()
	var out []models.CommodityHistory
	for _, row := range v.m.history {
		if row.CommodityID != commodityID {
			continue
		}
		if !from.IsZero() && row.VersionTS.Before(from) {
			continue
		}
		if !to.IsZero() && row.VersionTS.After(to) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionTS.Before(out[j].VersionTS) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v memHistory) Get(ctx context.Context, commodityID string, versionTS time.Time) (*models.CommodityHistory, error) {
	defer acquire(v.m, v.lock)()
	for i := range v.m.history {
		if v.m.history[i].CommodityID == commodityID && v.m.history[i].VersionTS.Equal(versionTS) {
			out := v.m.history[i]
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

type memChanges struct {
	m    *MemoryStores
	lock bool
}

func (v memChanges) Record(ctx context.Context, entries []models.ChangeEntry) error {
	defer acquire(v.m, v.lock)()
	now := time.Now()
	for _, e := range entries {
		v.m.changeSeq++
		e.ID = v.m.changeSeq
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		v.m.changes = append(v.m.changes, e)
	}
	return nil
}

func (v memChanges) QueryRecent(ctx context.Context, q ChangeQuery) ([]models.ChangeEntry, error) {
	defer acquire(v.m, v.lock)()
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = 50
	case limit > 500:
		limit = 500
	}
	var out []models.ChangeEntry
	for i := len(v.m.changes) - 1; i >= 0 && len(out) < limit; i-- {
		e := v.m.changes[i]
		if q.CommodityID != "" && e.CommodityID != q.CommodityID {
			continue
		}
		if q.FieldName != "" && e.FieldName != q.FieldName {
			continue
		}
		if q.ChangeType != "" && e.ChangeType != q.ChangeType {
			continue
		}
		if q.RequestID != "" && e.RequestID != q.RequestID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type memBatches struct {
	m    *MemoryStores
	lock bool
}

func (v memBatches) Create(ctx context.Context, run *models.BatchRun) error {
	defer acquire(v.m, v.lock)()
	if _, ok := v.m.runs[run.BatchID]; ok {
		return fmt.Errorf("batch %s already exists", run.BatchID)
	}
	r := *run
	r.ID = uint(len(v.m.runs) + 1)
	v.m.runs[r.BatchID] = r
	*run = r
	return nil
}

func (v memBatches) Finalize(ctx context.Context, run *models.BatchRun) error {
	defer acquire(v.m, v.lock)()
	stored, ok := v.m.runs[run.BatchID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = run.Status
	stored.Total = run.Total
	stored.Inserted = run.Inserted
	stored.Updated = run.Updated
	stored.Unchanged = run.Unchanged
	stored.Errored = run.Errored
	stored.FinishedAt = run.FinishedAt
	v.m.runs[run.BatchID] = stored
	return nil
}

func (v memBatches) Get(ctx context.Context, batchID string) (*models.BatchRun, error) {
	defer acquire(v.m, v.lock)()
	run, ok := v.m.runs[batchID]
	if !ok {
		return nil, ErrNotFound
	}
	out := run
	return &out, nil
}

func (v memBatches) RecordFailures(ctx context.Context, failures []models.BatchFailure) error {
	defer acquire(v.m, v.lock)()
	for _, f := range failures {
		if f.CreatedAt.IsZero() {
			f.CreatedAt = time.Now()
		}
		v.m.failures[f.BatchID] = append(v.m.failures[f.BatchID], f)
	}
	return nil
}

func (v memBatches) Failures(ctx context.Context, batchID string) ([]models.BatchFailure, error) {
	defer acquire(v.m, v.lock)()
	return append([]models.BatchFailure(nil), v.m.failures[batchID]...), nil
}
