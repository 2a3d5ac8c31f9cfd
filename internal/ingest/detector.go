package ingest

import (
	"fmt"
	"math"
	"strconv"

	"commodity-tracker/internal/models"
)

// Classification of one incoming record against the current snapshot.
type Classification string

const (
	ClassInsert    Classification = "insert"
	ClassUpdate    Classification = "update"
	ClassUnchanged Classification = "unchanged"
	ClassStale     Classification = "stale"
)

// Transition is the detector's verdict plus the change-log entries it
// implies. Entries carry everything except the batch RequestID, which the
// pipeline stamps at commit time.
type Transition struct {
	Class   Classification
	Entries []models.ChangeEntry
}

// Detector diffs an incoming state against the prior snapshot field by
// field. Strings compare exactly; numerics compare within an absolute
// tolerance (default 0). The extra map is carried through untouched and
// never diffed.
type Detector struct {
	tolerance float64
}

func NewDetector(tolerance float64) *Detector {
	if tolerance < 0 {
		tolerance = 0
	}
	return &Detector{tolerance: tolerance}
}

// Detect classifies the transition from prev (nil when the commodity has
// never been seen) to next. Equal version_ts counts as stale so a replayed
// batch cannot emit duplicate change entries.
func (d *Detector) Detect(prev, next *models.CommoditySnapshot) Transition {
	if prev == nil {
		newVal := formatFloat(next.Price)
		return Transition{
			Class: ClassInsert,
			Entries: []models.ChangeEntry{{
				CommodityID: next.CommodityID,
				ChangeType:  models.ChangeTypeInsert,
				NewValue:    &newVal,
				VersionTS:   next.VersionTS,
				Summary:     fmt.Sprintf("%s first observed at %s %s", displayName(next), newVal, next.PriceUnit),
			}},
		}
	}
	if !next.VersionTS.After(prev.VersionTS) {
		return Transition{Class: ClassStale}
	}

	var entries []models.ChangeEntry
	add := func(field string, oldVal, newVal *string) {
		e := models.ChangeEntry{
			CommodityID: next.CommodityID,
			ChangeType:  models.ChangeTypeUpdate,
			FieldName:   field,
			OldValue:    oldVal,
			NewValue:    newVal,
			VersionTS:   next.VersionTS,
		}
		if field == "price" {
			e.Summary = fmt.Sprintf("%s price moved from %s to %s %s",
				displayName(next), deref(oldVal), deref(newVal), next.PriceUnit)
		}
		entries = append(entries, e)
	}

	d.diffString(add, "name", prev.Name, next.Name)
	d.diffString(add, "localized_name", prev.LocalizedName, next.LocalizedName)
	d.diffString(add, "category", prev.Category, next.Category)
	d.diffFloat(add, "price", &prev.Price, &next.Price)
	d.diffString(add, "price_unit", prev.PriceUnit, next.PriceUnit)
	d.diffString(add, "quantity_unit", prev.QuantityUnit, next.QuantityUnit)
	d.diffFloat(add, "change_percent", prev.ChangePercent, next.ChangePercent)
	d.diffFloat(add, "change_value", prev.ChangeValue, next.ChangeValue)
	d.diffFloat(add, "high", prev.High, next.High)
	d.diffFloat(add, "low", prev.Low, next.Low)
	d.diffFloat(add, "open", prev.Open, next.Open)
	d.diffString(add, "source", prev.Source, next.Source)
	d.diffString(add, "source_url", prev.SourceURL, next.SourceURL)

	if len(entries) == 0 {
		// newer version but identical values: record the version, log nothing
		return Transition{Class: ClassUnchanged}
	}
	return Transition{Class: ClassUpdate, Entries: entries}
}

func (d *Detector) diffString(add func(string, *string, *string), field, oldVal, newVal string) {
	if oldVal == newVal {
		return
	}
	o, n := oldVal, newVal
	add(field, &o, &n)
}

func (d *Detector) diffFloat(add func(string, *string, *string), field string, oldVal, newVal *float64) {
	switch {
	case oldVal == nil && newVal == nil:
		return
	case oldVal != nil && newVal != nil && math.Abs(*oldVal-*newVal) <= d.tolerance:
		return
	}
	add(field, formatFloatPtr(oldVal), formatFloatPtr(newVal))
}

func displayName(s *models.CommoditySnapshot) string {
	if s.Name != "" {
		return s.Name
	}
	return s.CommodityID
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatFloatPtr(v *float64) *string {
	if v == nil {
		return nil
	}
	s := formatFloat(*v)
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
