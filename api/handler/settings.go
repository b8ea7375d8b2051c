package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagelift/models"
	"github.com/use-agent/pagelift/settings"
)

// GetSettings returns a handler for GET /api/v1/settings.
func GetSettings(src settings.Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := src.Fetch(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, models.SettingsResponse{
				Error: &models.ErrorDetail{Code: models.ErrCodeSettings, Message: err.Error()},
			})
			return
		}
		c.JSON(http.StatusOK, models.SettingsResponse{Settings: snap, Fingerprint: snap.Fingerprint()})
	}
}

// PutSettings returns a handler for PUT /api/v1/settings. The saved
// snapshot reaches running engines through the store's subscribers.
func PutSettings(store settings.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var snap settings.Snapshot
		if err := c.ShouldBindJSON(&snap); err != nil {
			c.JSON(http.StatusBadRequest, models.SettingsResponse{
				Error: &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: err.Error()},
			})
			return
		}
		if err := store.Save(c.Request.Context(), snap); err != nil {
			c.JSON(http.StatusServiceUnavailable, models.SettingsResponse{
				Error: &models.ErrorDetail{Code: models.ErrCodeSettings, Message: err.Error()},
			})
			return
		}
		c.JSON(http.StatusOK, models.SettingsResponse{Settings: snap, Fingerprint: snap.Fingerprint()})
	}
}
