package models

import "time"

// CommodityRecord is one crawled observation of one commodity, exactly as
// submitted by the upstream crawler. Numeric fields arrive as scraped text
// (the crawler does not normalize them) and are parsed at the ingestion
// boundary; VersionTS is the source-asserted timestamp that defines record
// identity, not the time we received it.
type CommodityRecord struct {
	CommodityID   string    `json:"commodity_id"`
	Name          string    `json:"name"`
	LocalizedName string    `json:"localized_name"`
	Category      string    `json:"category"`
	Price         string    `json:"price"`
	PriceUnit     string    `json:"price_unit"`
	QuantityUnit  string    `json:"quantity_unit"`
	ChangePercent string    `json:"change_percent"`
	ChangeValue   string    `json:"change_value"`
	High          string    `json:"high"`
	Low           string    `json:"low"`
	Open          string    `json:"open"`
	Source        string    `json:"source"`
	SourceURL     string    `json:"source_url"`
	VersionTS     time.Time `json:"version_ts"`
	Extra         ExtraMap  `json:"extra,omitempty"`
}
