package httpserver

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailpipeline/internal/scheduler"
	"mailpipeline/pkg/apperr"
)

const (
	recentAlertsLimit = 20
	failedEventsLimit = 50
	readyTimeout      = time.Second
)

type opsHandler struct {
	deps Deps
}

// Ready handles GET /readyz
func (h *opsHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(h.deps.Checks))
	for name := range h.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.deps.Checks[name].Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// RecentAlerts handles GET /alerts
func (h *opsHandler) RecentAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"alerts": h.deps.Alerts.GetRecentAlerts(recentAlertsLimit),
	})
}

// MetricsSnapshot handles GET /metrics/snapshot
func (h *opsHandler) MetricsSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Metrics.GetAllMetrics())
}

// TriggerIngestion handles POST /ingestion/run
func (h *opsHandler) TriggerIngestion(c *gin.Context) {
	stats, err := h.deps.Trigger.RunOnce(c.Request.Context())
	if errors.Is(err, scheduler.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.deps.Logger.Error("Manual ingestion run failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "ingestion run failed", "stats": stats})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// FailedEvents handles GET /outbox/failed
func (h *opsHandler) FailedEvents(c *gin.Context) {
	limit := failedEventsLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	events, err := h.deps.Outbox.ListFailed(c.Request.Context(), limit)
	if err != nil {
		h.deps.Logger.Error("Failed to list failed outbox events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ReplayEvent handles POST /outbox/:id/replay
func (h *opsHandler) ReplayEvent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	if err := h.deps.Outbox.ReplayEvent(c.Request.Context(), id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		h.deps.Logger.Error("Failed to replay outbox event", zap.Int64("event_id", id), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "replay failed, event reset to pending"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "sent", "event_id": id})
}
