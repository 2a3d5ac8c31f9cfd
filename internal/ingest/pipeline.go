package ingest

import (
	"context"
	"errors"
	"fmt"

	"commodity-tracker/internal/models"
	"commodity-tracker/internal/store"
)

// Outcome of one record's ingestion, mirrored by the batch counters.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeErrored   Outcome = "errored"
)

// maxCommitAttempts bounds transparent retries when a per-commodity
// conditional write loses a race to a concurrent batch.
const maxCommitAttempts = 3

// Notifier receives change entries after they are committed. Used to push
// the live websocket feed; a nil notifier disables it.
type Notifier interface {
	NotifyChanges(entries []models.ChangeEntry)
}

// Pipeline processes one record at a time: parse, diff against the current
// snapshot, then commit the history row, the change entries and the
// snapshot update as a single transaction.
type Pipeline struct {
	stores   store.Stores
	detector *Detector
	notifier Notifier
}

func NewPipeline(stores store.Stores, detector *Detector, notifier Notifier) *Pipeline {
	return &Pipeline{stores: stores, detector: detector, notifier: notifier}
}

// ProcessRecord ingests one record for one batch. Errors are returned for
// the coordinator to fold into its counters; they never abort sibling
// records.
func (p *Pipeline) ProcessRecord(ctx context.Context, batchID string, rec models.CommodityRecord) (Outcome, error) {
	next, err := buildState(rec)
	if err != nil {
		return OutcomeErrored, err
	}

	for attempt := 1; ; attempt++ {
		outcome, err := p.attempt(ctx, batchID, next)
		if errors.Is(err, store.ErrConflict) && attempt < maxCommitAttempts {
			continue
		}
		if err != nil {
			return OutcomeErrored, err
		}
		return outcome, nil
	}
}

func (p *Pipeline) attempt(ctx context.Context, batchID string, next *models.CommoditySnapshot) (Outcome, error) {
	var tr Transition
	var committed []models.ChangeEntry
	err := p.stores.Transact(ctx, func(s store.Stores) error {
		// the locked read serializes racing writers per commodity; two
		// batches for the same id cannot interleave past this point
		prev, err := s.Snapshots().GetForUpdate(ctx, next.CommodityID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("lock snapshot: %w", err)
		}

		tr = p.detector.Detect(prev, next)
		if tr.Class == ClassStale {
			// superseded or duplicate observation, nothing advances
			return nil
		}

		hist := historyRow(next)
		if _, err := s.History().AppendIfAbsent(ctx, hist); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		if len(tr.Entries) > 0 {
			entries := make([]models.ChangeEntry, len(tr.Entries))
			copy(entries, tr.Entries)
			for i := range entries {
				entries[i].RequestID = batchID
			}
			if err := s.Changes().Record(ctx, entries); err != nil {
				return fmt.Errorf("append change log: %w", err)
			}
			committed = entries
		}

		if err := s.Snapshots().Upsert(ctx, next); err != nil {
			return fmt.Errorf("upsert snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return OutcomeErrored, err
	}

	if p.notifier != nil && len(committed) > 0 {
		p.notifier.NotifyChanges(committed)
	}

	switch tr.Class {
	case ClassInsert:
		return OutcomeInserted, nil
	case ClassUpdate:
		return OutcomeUpdated, nil
	default:
		return OutcomeUnchanged, nil
	}
}

func historyRow(next *models.CommoditySnapshot) *models.CommodityHistory {
	return &models.CommodityHistory{
		CommodityID:   next.CommodityID,
		Name:          next.Name,
		LocalizedName: next.LocalizedName,
		Category:      next.Category,
		Price:         next.Price,
		PriceUnit:     next.PriceUnit,
		QuantityUnit:  next.QuantityUnit,
		ChangePercent: next.ChangePercent,
		ChangeValue:   next.ChangeValue,
		High:          next.High,
		Low:           next.Low,
		Open:          next.Open,
		Source:        next.Source,
		SourceURL:     next.SourceURL,
		VersionTS:     next.VersionTS,
		Extra:         next.Extra,
	}
}
