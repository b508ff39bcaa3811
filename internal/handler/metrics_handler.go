package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/internal/service"
	"github.com/noah-isme/sma-records-api/pkg/jobs"
	"github.com/noah-isme/sma-records-api/pkg/response"
)

// MetricsHandler serves liveness, the Prometheus scrape and the JSON counter summary.
type MetricsHandler struct {
	metrics *service.MetricsService
	queue   func() jobs.Stats
	started time.Time
}

// NewMetricsHandler constructs a metrics handler.
func NewMetricsHandler(metrics *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, started: time.Now()}
}

// WithRegisterQueue adds the register queue counters to the summary.
func (h *MetricsHandler) WithRegisterQueue(stats func() jobs.Stats) *MetricsHandler {
	h.queue = stats
	return h
}

// Prometheus serves the scrape endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Snapshot godoc
// @Summary Aggregated record counters
// @Tags Metrics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /metrics/summary [get]
func (h *MetricsHandler) Snapshot(c *gin.Context) {
	snapshot := h.metrics.Snapshot()
	if h.queue != nil {
		stats := h.queue()
		snapshot.RegisterQueue = &models.QueueStats{Succeeded: stats.Succeeded, Retried: stats.Retried, Dropped: stats.Dropped}
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// Health reports liveness; it never touches dependencies.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}
