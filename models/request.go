package models

import (
	"fmt"

	"github.com/use-agent/pagelift/settings"
)

// Fetch modes.
const (
	FetchAuto    = "auto"
	FetchHTTP    = "http"
	FetchBrowser = "browser"
)

// OptimizeRequest is the payload for POST /api/v1/optimize.
type OptimizeRequest struct {
	// URL is the page to optimize. Required. When HTML is also set, URL is
	// only used as the document's base.
	URL string `json:"url" binding:"required,url"`

	// HTML optimizes the given markup instead of fetching URL.
	HTML string `json:"html,omitempty"`

	// Timeout is the maximum duration in seconds for fetch plus optimize.
	// Default: 30. Max: 120.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=120"`

	// Stealth enables anti-bot-detection evasions in the browser.
	Stealth bool `json:"stealth,omitempty"`

	// Headers are sent with the page request.
	Headers map[string]string `json:"headers,omitempty"`

	// FetchMode controls the fetching strategy.
	// "auto" (default): race HTTP against the browser.
	// "http": pure HTTP, no geometry.
	// "browser": headless Chrome with layout capture.
	FetchMode string `json:"fetch_mode,omitempty" binding:"omitempty,oneof=auto browser http"`

	// Viewport sizes the browser window and the replay layout.
	Viewport *Viewport `json:"viewport,omitempty"`

	// Settings overrides the stored optimization settings for this request.
	Settings *SettingsOverride `json:"settings,omitempty"`

	// MaxAge allows a cached response no older than this many milliseconds.
	MaxAge int `json:"max_age,omitempty" binding:"omitempty,min=0"`
}

// Viewport is a window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width" binding:"min=320,max=7680"`
	Height int `json:"height" binding:"min=240,max=4320"`
}

// SettingsOverride patches a settings snapshot. Nil fields keep the base.
type SettingsOverride struct {
	Enabled  *bool           `json:"enabled,omitempty"`
	Features map[string]bool `json:"features,omitempty"`
}

// Apply returns base with the override applied. Unknown feature names are
// rejected.
func (o *SettingsOverride) Apply(base settings.Snapshot) (settings.Snapshot, error) {
	if o == nil {
		return base, nil
	}
	s := base
	if o.Enabled != nil {
		s = s.WithEnabled(*o.Enabled)
	}
	for name, on := range o.Features {
		f := settings.Feature(name)
		if !settings.Known(f) {
			return base, fmt.Errorf("unknown feature %q", name)
		}
		s = s.With(f, on)
	}
	return s, nil
}

// Defaults applies default values to unset fields.
func (r *OptimizeRequest) Defaults() {
	if r.Timeout == 0 {
		r.Timeout = 30
	}
	if r.FetchMode == "" {
		r.FetchMode = FetchAuto
	}
}
