package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagelift/api/handler"
	"github.com/use-agent/pagelift/api/middleware"
	"github.com/use-agent/pagelift/config"
	"github.com/use-agent/pagelift/settings"
)

// Deps are the collaborators the routes are built from.
type Deps struct {
	Config    *config.Config
	Pipeline  *handler.Pipeline
	Batches   *handler.Batches
	Settings  settings.Store
	Pool      handler.PoolStatter // nil without a browser
	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
// Background cleanup started by the middleware stops with ctx.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(ctx context.Context, d Deps) *gin.Engine {
	gin.SetMode(d.Config.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(d.Pool, d.Settings, d.StartTime))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if d.Config.Auth.Enabled {
		protected.Use(middleware.Auth(d.Config.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, d.Config.RateLimit))

	// Optimize
	protected.POST("/optimize", handler.Optimize(d.Pipeline))

	// Batch
	if d.Batches != nil {
		protected.POST("/batch/optimize", d.Batches.Post())
		protected.GET("/batch/:id", d.Batches.Get())
	}

	// Settings
	protected.GET("/settings", handler.GetSettings(d.Settings))
	protected.PUT("/settings", handler.PutSettings(d.Settings))

	return r
}
