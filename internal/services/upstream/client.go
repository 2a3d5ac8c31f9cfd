package upstream

import (
	"context"
	"fmt"
	"time"

	"commodity-tracker/internal/models"

	"github.com/go-resty/resty/v2"
)

// Client talks to the external crawler service that scrapes commodity
// pages. The crawler owns retries and scheduling; we only collect what it
// already scraped.
type Client struct {
	client *resty.Client
}

// CrawlResult is one poll of one source.
type CrawlResult struct {
	Source   string                   `json:"source"`
	Category string                   `json:"category"`
	Records  []models.CommodityRecord `json:"records"`
}

func NewClient(baseURL string) *Client {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(30 * time.Second)
	client.SetRetryCount(2)
	return &Client{client: client}
}

// FetchRecords pulls the latest scraped records for one source label.
func (c *Client) FetchRecords(ctx context.Context, source string) (*CrawlResult, error) {
	var result CrawlResult
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("source", source).
		SetResult(&result).
		Get("/api/records")
	if err != nil {
		return nil, fmt.Errorf("fetch records for %s: %w", source, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch records for %s: upstream returned %s", source, resp.Status())
	}
	if result.Source == "" {
		result.Source = source
	}
	return &result, nil
}
