package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Stats handles GET /api/v1/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to get stats", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Reset handles DELETE /api/v1/reset
// Removes every identity, identity photo and cached signature
func (h *AdminHandler) Reset(c *gin.Context) {
	report, err := h.service.Reset(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to reset", err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// Health handles GET /health
func (h *AdminHandler) Health(c *gin.Context) {
	failures := gin.H{}
	for _, check := range h.healthChecks {
		if err := check.Check(c.Request.Context()); err != nil {
			h.logger.Warn("Health check failed",
				slog.String("component", check.Name),
				slog.String("error", err.Error()),
			)
			failures[check.Name] = err.Error()
		}
	}

	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"service":  h.serviceName,
			"failures": failures,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.serviceName,
	})
}
