package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagelift/models"
	"github.com/use-agent/pagelift/settings"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// PoolStatter reports browser pool usage, usually a *scraper.Scraper.
type PoolStatter interface {
	Stats() models.PoolStats
}

// Health returns a handler for GET /api/v1/health.
//
// Reports pool utilisation and degrades status when > 80% of pages are active.
// pool may be nil when no browser is running.
func Health(pool PoolStatter, src settings.Source, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		var stats models.PoolStats
		if pool != nil {
			stats = pool.Stats()
		}

		status := "healthy"
		if stats.MaxPages > 0 && stats.ActivePages > int(float64(stats.MaxPages)*0.8) {
			status = "degraded"
		}

		snap := settings.FetchOrDefault(c.Request.Context(), src, nil)
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:      status,
			Uptime:      time.Since(startTime).Round(time.Second).String(),
			PoolStats:   stats,
			Fingerprint: snap.Fingerprint(),
			Version:     Version,
		})
	}
}
