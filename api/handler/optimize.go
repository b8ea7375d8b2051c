package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagelift/models"
)

// Optimize returns a handler for POST /api/v1/optimize.
func Optimize(p *Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. Bind & validate request.
		var req models.OptimizeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, models.ErrCodeInvalidInput, err.Error())
			return
		}
		req.Defaults()

		// 2. Fetch, replay and assemble.
		resp, err := p.Run(c.Request.Context(), &req)
		if err != nil {
			oe := toOptimizeError(err)
			slog.Warn("optimize failed", "url", req.URL, "code", oe.Code, "error", err)
			respondError(c, mapErrorToStatus(oe.Code), oe.Code, oe.Message)
			return
		}

		slog.Info("optimize completed",
			"url", req.URL,
			"engine", resp.EngineUsed,
			"state", resp.State,
			"geometry", resp.GeometryCaptured,
			"total_ms", resp.Timing.TotalMs,
			"cache", resp.CacheStatus,
		)
		c.JSON(http.StatusOK, resp)
	}
}

// respondError writes a failed OptimizeResponse.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, models.OptimizeResponse{
		Success: false,
		Error: &models.ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// mapErrorToStatus converts an internal error code to an HTTP status code.
func mapErrorToStatus(code string) int {
	switch code {
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case models.ErrCodeNavigation:
		return http.StatusBadGateway
	case models.ErrCodeInvalidInput, models.ErrCodeParse:
		return http.StatusBadRequest
	case models.ErrCodeNotFound:
		return http.StatusNotFound
	case models.ErrCodeSettings:
		return http.StatusServiceUnavailable
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
