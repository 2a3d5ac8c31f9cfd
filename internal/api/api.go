package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"commodity-tracker/internal/export"
	"commodity-tracker/internal/ingest"
	"commodity-tracker/internal/models"
	"commodity-tracker/internal/store"

	"github.com/gin-gonic/gin"
)

type APIHandler struct {
	stores      store.Stores
	coordinator *ingest.Coordinator
}

func SetupRoutes(r *gin.RouterGroup, stores store.Stores, coordinator *ingest.Coordinator) *APIHandler {
	handler := &APIHandler{
		stores:      stores,
		coordinator: coordinator,
	}

	batches := r.Group("/batches")
	{
		batches.POST("", handler.SubmitBatch)
		batches.GET("/:id", handler.GetBatch)
	}

	commodities := r.Group("/commodities")
	{
		commodities.GET("", handler.ListSnapshots)
		commodities.GET("/:id/snapshot", handler.GetSnapshot)
		commodities.GET("/:id/history", handler.GetHistory)
	}

	changes := r.Group("/changes")
	{
		changes.GET("", handler.GetRecentChanges)
		changes.GET("/price-deltas", handler.GetPriceDeltas)
		changes.GET("/export", handler.ExportChanges)
	}

	return handler
}

// SubmitBatch: POST /api/v1/batches
// Runs one ingestion batch to a terminal status and returns the summary.
// Record-level problems never fail the request; they show up in the
// summary counters and failure list.
func (h *APIHandler) SubmitBatch(c *gin.Context) {
	var req ingest.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch payload: " + err.Error()})
		return
	}
	summary, err := h.coordinator.Run(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetBatch: GET /api/v1/batches/:id
func (h *APIHandler) GetBatch(c *gin.Context) {
	batchID := c.Param("id")
	run, err := h.stores.Batches().Get(c.Request.Context(), batchID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown batch"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	failures, err := h.stores.Batches().Failures(c.Request.Context(), batchID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ingest.BatchSummary{Run: *run, Failures: failures})
}

// ListSnapshots: GET /api/v1/commodities?category=&limit=
func (h *APIHandler) ListSnapshots(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	snaps, err := h.stores.Snapshots().List(c.Request.Context(), c.Query("category"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(snaps), "items": snaps})
}

// GetSnapshot: GET /api/v1/commodities/:id/snapshot
func (h *APIHandler) GetSnapshot(c *gin.Context) {
	snap, err := h.stores.Snapshots().Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown commodity"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetHistory: GET /api/v1/commodities/:id/history?from=&to=&limit=
// from/to are RFC3339 and bound version_ts, not ingestion time.
func (h *APIHandler) GetHistory(c *gin.Context) {
	var from, to time.Time
	var err error
	if s := c.Query("from"); s != "" {
		if from, err = time.Parse(time.RFC3339, s); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
			return
		}
	}
	if s := c.Query("to"); s != "" {
		if to, err = time.Parse(time.RFC3339, s); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
			return
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	rows, err := h.stores.History().Range(c.Request.Context(), c.Param("id"), from, to, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(rows), "items": rows})
}

// changeWithHistory pairs a ledger entry with the history row it refers
// to, so alerting/summarization consumers get the full observed state.
type changeWithHistory struct {
	Change  models.ChangeEntry       `json:"change"`
	History *models.CommodityHistory `json:"history,omitempty"`
}

// GetRecentChanges: GET /api/v1/changes?limit=&commodity_id=&field=&type=&batch_id=
// Ordered by insertion, newest first: insertion order is when the change
// became knowable to the system.
func (h *APIHandler) GetRecentChanges(c *gin.Context) {
	q := h.changeQuery(c)
	entries, err := h.stores.Changes().QueryRecent(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]changeWithHistory, 0, len(entries))
	for _, e := range entries {
		item := changeWithHistory{Change: e}
		hist, err := h.stores.History().Get(c.Request.Context(), e.CommodityID, e.VersionTS)
		if err == nil {
			item.History = hist
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "items": items})
}

// priceDelta is the derived view over price UPDATE entries.
type priceDelta struct {
	CommodityID string    `json:"commodity_id"`
	OldPrice    float64   `json:"old_price"`
	NewPrice    float64   `json:"new_price"`
	Delta       float64   `json:"delta"`
	Percent     float64   `json:"percent"`
	VersionTS   time.Time `json:"version_ts"`
	Summary     string    `json:"summary"`
}

// GetPriceDeltas: GET /api/v1/changes/price-deltas?limit=&commodity_id=
func (h *APIHandler) GetPriceDeltas(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.stores.Changes().QueryRecent(c.Request.Context(), store.ChangeQuery{
		CommodityID: c.Query("commodity_id"),
		FieldName:   "price",
		ChangeType:  models.ChangeTypeUpdate,
		Limit:       limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	deltas := make([]priceDelta, 0, len(entries))
	for _, e := range entries {
		if e.OldValue == nil || e.NewValue == nil {
			continue
		}
		oldPrice, err1 := strconv.ParseFloat(*e.OldValue, 64)
		newPrice, err2 := strconv.ParseFloat(*e.NewValue, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		d := priceDelta{
			CommodityID: e.CommodityID,
			OldPrice:    oldPrice,
			NewPrice:    newPrice,
			Delta:       newPrice - oldPrice,
			VersionTS:   e.VersionTS,
			Summary:     e.Summary,
		}
		if oldPrice != 0 {
			d.Percent = (newPrice - oldPrice) / oldPrice * 100
		}
		deltas = append(deltas, d)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(deltas), "items": deltas})
}

// ExportChanges: GET /api/v1/changes/export?limit=
// Streams the recent change log as an .xlsx workbook.
func (h *APIHandler) ExportChanges(c *gin.Context) {
	q := h.changeQuery(c)
	entries, err := h.stores.Changes().QueryRecent(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	f, err := export.ChangeWorkbook(entries)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	filename := fmt.Sprintf("changes-%s.xlsx", time.Now().Format("20060102-150405"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		c.Status(http.StatusInternalServerError)
	}
}

func (h *APIHandler) changeQuery(c *gin.Context) store.ChangeQuery {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	return store.ChangeQuery{
		CommodityID: c.Query("commodity_id"),
		FieldName:   c.Query("field"),
		ChangeType:  c.Query("type"),
		RequestID:   c.Query("batch_id"),
		Limit:       limit,
	}
}
