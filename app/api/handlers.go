package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/feed"
)

const (
	feedItemLimit = 50
	maxPageSize   = 200
)

func NewHandler(configCache SourceLister, itemRepo ItemReader) *Handler {
	return &Handler{
		itemRepo:    itemRepo,
		generator:   feed.NewGenerator(),
		configCache: configCache,
	}
}

// GetFeed renders the latest enriched items as RSS. ?category= narrows it.
func (h *Handler) GetFeed(c *gin.Context) {
	items, err := h.itemRepo.ListItems(c.Request.Context(), database.ListFilter{
		Category: c.Query("category"),
		Status:   database.StatusComplete,
		Limit:    feedItemLimit,
	})
	if err != nil {
		slog.Error("Database error", "operation", "list_items", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	rss, err := h.generator.Run(items)
	if err != nil {
		slog.Error("RSS generation error", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(items)))
	if len(items) > 0 {
		c.Header("X-Last-Updated", items[0].CreatedAt.Format(time.RFC3339))
	}

	c.String(http.StatusOK, rss)
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if stats, err := h.itemRepo.GetItemStats(c.Request.Context()); err == nil {
		health["items"] = stats.Total
	} else {
		slog.Error("Database error", "operation", "get_item_stats", "error", err)
		health["status"] = "degraded"
	}

	health["loaded_configurations"] = h.configCache.GetConfigCount()

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.itemRepo.GetItemStats(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "get_item_stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": gin.H{
			"total":    stats.Total,
			"pending":  stats.Pending,
			"complete": stats.Complete,
			"failed":   stats.Failed,
			"saved":    stats.Saved,
		},
		"sources": h.configCache.GetConfigCount(),
	})
}

func (h *Handler) APIListSources(c *gin.Context) {
	configs := h.configCache.GetEnabledConfigs()

	sources := make([]map[string]interface{}, 0, len(configs))
	for _, feedConfig := range configs {
		sources = append(sources, map[string]interface{}{
			"name":        feedConfig.Name,
			"source_name": feedConfig.DisplayName(),
			"url":         feedConfig.URL,
			"max_items":   feedConfig.Settings.MaxItems,
			"timeout":     (time.Duration(feedConfig.Settings.Timeout) * time.Second).String(),
			"filters":     len(feedConfig.Filters),
		})
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"sources": sources,
		"total":   len(sources),
	})
}

// APIListItems supports ?category, ?q, ?saved, ?status, ?limit and ?offset.
func (h *Handler) APIListItems(c *gin.Context) {
	filter := database.ListFilter{
		Category: c.Query("category"),
		Query:    strings.TrimSpace(c.Query("q")),
	}

	if raw := c.Query("saved"); raw != "" {
		saved, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid saved parameter"})
			return
		}
		filter.Saved = &saved
	}

	if raw := c.Query("status"); raw != "" {
		status := database.ItemStatus(raw)
		switch status {
		case database.StatusPending, database.StatusComplete, database.StatusFailed:
			filter.Status = status
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status parameter"})
			return
		}
	}

	var ok bool
	if filter.Limit, ok = intQuery(c, "limit"); !ok {
		return
	}
	if filter.Offset, ok = intQuery(c, "offset"); !ok {
		return
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}

	items, err := h.itemRepo.ListItems(c.Request.Context(), filter)
	if err != nil {
		slog.Error("Database error", "operation", "list_items", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	resp := make([]itemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, newItemResponse(item))
	}

	c.JSON(http.StatusOK, gin.H{
		"items":  resp,
		"count":  len(resp),
		"offset": filter.Offset,
	})
}

func (h *Handler) APIGetItem(c *gin.Context) {
	id := c.Param("id")

	item, err := h.itemRepo.GetItem(c.Request.Context(), id)
	if err != nil {
		slog.Error("Database error", "operation", "get_item", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return
	}

	c.JSON(http.StatusOK, newItemResponse(*item))
}

func (h *Handler) APISaveItem(c *gin.Context) {
	h.setSaved(c, true)
}

func (h *Handler) APIUnsaveItem(c *gin.Context) {
	h.setSaved(c, false)
}

func (h *Handler) setSaved(c *gin.Context, saved bool) {
	id := c.Param("id")

	found, err := h.itemRepo.SetSaved(c.Request.Context(), id, saved)
	if err != nil {
		slog.Error("Database error", "operation", "set_saved", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return
	}

	slog.Info("Item saved flag changed", "id", id, "saved", saved)
	c.JSON(http.StatusOK, gin.H{"id": id, "is_saved": saved})
}

func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name + " parameter"})
		return 0, false
	}
	return value, true
}
