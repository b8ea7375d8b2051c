// Package fetch retrieves pages for optimization. Several engines race
// with staged escalation: plain HTTP first, then a real browser that can
// also capture the rendered layout.
package fetch

import (
	"context"
	"time"
)

// Engine is the interface that all fetch engines must implement.
type Engine interface {
	// Name returns the engine identifier (e.g. "http", "rod", "rod-stealth").
	Name() string

	// Fetch retrieves the page content for the given request.
	Fetch(ctx context.Context, req *Request) (*Result, error)
}

// Renderer is implemented by engines that run a layout engine and can
// return Geometry.
type Renderer interface {
	Renders() bool
}

// renders reports whether e can capture geometry.
func renders(e Engine) bool {
	r, ok := e.(Renderer)
	return ok && r.Renders()
}

// Request contains everything an engine needs to fetch a page.
type Request struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Stealth bool

	// Viewport is the window size for rendering engines. Zero picks the
	// engine default.
	ViewportWidth  int
	ViewportHeight int

	// NeedGeometry restricts the race to rendering engines, SkipRender to
	// the others.
	NeedGeometry bool
	SkipRender   bool
}

// Result is the output of a successful engine fetch.
type Result struct {
	HTML       string
	Title      string
	StatusCode int
	FinalURL   string
	EngineName string

	// Geometry is nil unless a rendering engine produced the page.
	Geometry *Geometry
}
