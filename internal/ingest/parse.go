package ingest

import (
	"strconv"
	"strings"

	"commodity-tracker/internal/models"
)

// buildState validates a crawled record and converts its scraped-text
// numerics into the typed snapshot shape. Crawlers hand us values like
// "2,650.00" or "+1.2%", so thousands separators, currency prefixes and
// percent signs are stripped before parsing.
func buildState(rec models.CommodityRecord) (*models.CommoditySnapshot, error) {
	if strings.TrimSpace(rec.CommodityID) == "" {
		return nil, &ValidationError{Field: "commodity_id", Reason: "missing"}
	}
	if rec.VersionTS.IsZero() {
		return nil, &ValidationError{Field: "version_ts", Reason: "missing"}
	}
	price, err := parseNumeric("price", rec.Price)
	if err != nil {
		return nil, err
	}
	if price == nil {
		return nil, &ValidationError{Field: "price", Reason: "missing"}
	}
	changePercent, err := parseNumeric("change_percent", rec.ChangePercent)
	if err != nil {
		return nil, err
	}
	changeValue, err := parseNumeric("change_value", rec.ChangeValue)
	if err != nil {
		return nil, err
	}
	high, err := parseNumeric("high", rec.High)
	if err != nil {
		return nil, err
	}
	low, err := parseNumeric("low", rec.Low)
	if err != nil {
		return nil, err
	}
	open, err := parseNumeric("open", rec.Open)
	if err != nil {
		return nil, err
	}

	return &models.CommoditySnapshot{
		CommodityID:   rec.CommodityID,
		Name:          rec.Name,
		LocalizedName: rec.LocalizedName,
		Category:      rec.Category,
		Price:         *price,
		PriceUnit:     rec.PriceUnit,
		QuantityUnit:  rec.QuantityUnit,
		ChangePercent: changePercent,
		ChangeValue:   changeValue,
		High:          high,
		Low:           low,
		Open:          open,
		Source:        rec.Source,
		SourceURL:     rec.SourceURL,
		VersionTS:     rec.VersionTS,
		Extra:         rec.Extra,
	}, nil
}

var numericCleaner = strings.NewReplacer(",", "", "%", "", "$", "", "+", "", " ", "")

// parseNumeric returns nil for an empty value and a ValidationError for a
// non-numeric one.
func parseNumeric(field, raw string) (*float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "-" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(numericCleaner.Replace(s), 64)
	if err != nil {
		return nil, &ValidationError{Field: field, Reason: "not a number: " + raw}
	}
	return &v, nil
}
