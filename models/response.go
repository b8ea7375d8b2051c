package models

import (
	"github.com/use-agent/pagelift/optimizer"
	"github.com/use-agent/pagelift/patch"
	"github.com/use-agent/pagelift/settings"
)

// OptimizeResponse is the response for POST /api/v1/optimize.
type OptimizeResponse struct {
	// Success indicates whether the page was fetched and optimized.
	Success bool `json:"success"`

	// StatusCode is the HTTP status code of the fetched page.
	StatusCode int `json:"status_code"`

	// FinalURL is the URL after following all redirects.
	FinalURL string `json:"final_url"`

	// HTML is the optimized document.
	HTML string `json:"html"`

	Metadata   Metadata   `json:"metadata"`
	OGMetadata OGMetadata `json:"og_metadata"`

	// Metrics counts the optimizations applied to the page.
	Metrics optimizer.Metrics `json:"metrics"`

	// State is the engine lifecycle state when the page was rendered.
	State string `json:"state"`

	// Settings is the effective snapshot, Fingerprint its cache identity.
	Settings    settings.Snapshot `json:"settings"`
	Fingerprint string            `json:"fingerprint"`

	// Patches is the page-context configuration embedded in the document.
	Patches *patch.Config `json:"patches,omitempty"`

	// GeometryCaptured reports whether element boxes came from a real
	// browser layout. Without it, geometry-driven passes skip.
	GeometryCaptured bool `json:"geometry_captured"`

	Size   SizeInfo   `json:"size"`
	Timing TimingInfo `json:"timing"`

	// CacheStatus indicates whether the response was served from cache.
	// Values: "hit", "miss", or empty (caching not requested).
	CacheStatus string `json:"cache_status,omitempty"`

	// EngineUsed indicates which fetch engine produced the page
	// (e.g. "http", "rod", "rod-stealth", "inline").
	EngineUsed string `json:"engine_used,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// OGMetadata contains Open Graph protocol meta tags.
type OGMetadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Type        string `json:"type,omitempty"`
}

// Metadata holds page-level information extracted from the document.
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	Author      string `json:"author,omitempty"`
	Language    string `json:"language,omitempty"`
	SourceURL   string `json:"source_url"`
}

// SizeInfo compares the document before and after optimization.
type SizeInfo struct {
	OriginalBytes  int `json:"original_bytes"`
	OptimizedBytes int `json:"optimized_bytes"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// FetchMs is the time spent fetching or rendering the page.
	FetchMs int64 `json:"fetch_ms"`

	// OptimizeMs is the time spent replaying the page through the engine.
	OptimizeMs int64 `json:"optimize_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status      string    `json:"status"` // "healthy" or "degraded"
	Uptime      string    `json:"uptime"`
	PoolStats   PoolStats `json:"pool_stats"`
	Fingerprint string    `json:"settings_fingerprint"`
	Version     string    `json:"version"`
}

// PoolStats reports the state of the browser page pool.
type PoolStats struct {
	MaxPages     int   `json:"max_pages"`
	ActivePages  int   `json:"active_pages"`
	RetiredPages int64 `json:"retired_pages"`
}

// SettingsResponse is the response for the settings endpoints.
type SettingsResponse struct {
	Settings    settings.Snapshot `json:"settings"`
	Fingerprint string            `json:"fingerprint"`
	Error       *ErrorDetail      `json:"error,omitempty"`
}
