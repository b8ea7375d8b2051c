// Package session replays one fetched page through the optimizer: it
// rebuilds the page on a simulated host with the captured layout, walks it
// through its load phases, lets idle work drain and renders the result.
package session

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/use-agent/pagelift/dom"
	"github.com/use-agent/pagelift/fetch"
	"github.com/use-agent/pagelift/host"
	"github.com/use-agent/pagelift/models"
	"github.com/use-agent/pagelift/optimizer"
	"github.com/use-agent/pagelift/patch"
	"github.com/use-agent/pagelift/settings"
)

// Replay defaults.
const (
	DefaultViewportWidth  = 1440
	DefaultViewportHeight = 900
	DefaultLoadDelay      = 150 * time.Millisecond

	// maxDrainRounds bounds the idle drain after the page completes.
	maxDrainRounds = 8
)

// epoch is the simulated navigation start. Replays are deterministic.
var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Input is one page to optimize.
type Input struct {
	URL  string
	HTML string

	// Geometry is the captured layout. Nil leaves every box unknown.
	Geometry *fetch.Geometry

	Settings settings.Snapshot

	// ViewportWidth and ViewportHeight size the layout when Geometry is nil.
	ViewportWidth  int
	ViewportHeight int

	// ScrollThrough scrolls the viewport to the bottom after load so
	// intersection-driven work sees the whole page.
	ScrollThrough bool

	LoadDelay time.Duration
	Optimizer optimizer.Options
	Logger    *slog.Logger
}

// Result is the optimized page.
type Result struct {
	HTML    string
	Metrics optimizer.Metrics
	State   optimizer.State
	Patches *patch.Config

	// Aligned counts the captured boxes matched to parsed elements.
	Aligned int
}

// Run optimizes in.HTML. ctx bounds the whole replay; its cancellation
// aborts with a timeout error.
func Run(ctx context.Context, in Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.NewOptimizeError(models.ErrCodeTimeout, "optimization timed out", err)
	}
	logger := in.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if in.LoadDelay <= 0 {
		in.LoadDelay = DefaultLoadDelay
	}
	if in.Optimizer.Logger == nil {
		in.Optimizer.Logger = logger
	}

	// ── 1. Simulated host ─────────────────────────────────────────────
	clock := host.NewManualClock(epoch)
	loop := host.NewLoop(host.WithClock(clock), host.WithLogger(logger))
	defer loop.Terminate()

	layout := newLayout(in)
	page, err := host.NewPage(strings.NewReader(in.HTML), in.URL, loop, layout)
	if err != nil {
		return nil, models.NewOptimizeError(models.ErrCodeParse, "failed to parse page HTML", err)
	}
	doc := page.Document()

	// ── 2. Captured layout ────────────────────────────────────────────
	loads, aligned := applyGeometry(doc, layout, in.Geometry)
	if in.Geometry != nil && aligned < len(in.Geometry.Boxes) {
		logger.Debug("session: geometry partially aligned",
			"url", in.URL, "aligned", aligned, "boxes", len(in.Geometry.Boxes))
	}

	// ── 3. Page-context patches ──────────────────────────────────────
	if cfg := patch.FromSnapshot(in.Settings); cfg.Any() {
		if _, err := patch.Install(page, cfg); err != nil {
			logger.Warn("session: patches not installed", "url", in.URL, "error", err)
		}
	}

	// ── 4. Engine ─────────────────────────────────────────────────────
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	eng := optimizer.New(page, settings.NewMemorySource(in.Settings), in.Optimizer)
	if err := eng.Start(runCtx); err != nil {
		return nil, models.NewOptimizeError(models.ErrCodeOptimize, "failed to start optimizer", err)
	}
	defer eng.Invalidate()

	step := func() error {
		loop.RunPending()
		if err := ctx.Err(); err != nil {
			return models.NewOptimizeError(models.ErrCodeTimeout, "optimization timed out", err)
		}
		return nil
	}

	// ── 5. Load phases ────────────────────────────────────────────────
	if err := step(); err != nil {
		return nil, err
	}
	if err := page.Advance(dom.Interactive); err != nil {
		return nil, models.NewOptimizeError(models.ErrCodeInternal, "host loop stopped", err)
	}
	if err := step(); err != nil {
		return nil, err
	}
	for _, ld := range loads {
		n := ld
		_ = loop.Post(func() { doc.MarkLoaded(n.node, n.width, n.height) })
	}
	if err := step(); err != nil {
		return nil, err
	}
	clock.Advance(in.LoadDelay)
	if err := page.Advance(dom.Complete); err != nil {
		return nil, models.NewOptimizeError(models.ErrCodeInternal, "host loop stopped", err)
	}
	if err := step(); err != nil {
		return nil, err
	}

	// ── 6. Scroll and drain idle work ─────────────────────────────────
	if in.ScrollThrough {
		if err := scrollThrough(page, layout, step); err != nil {
			return nil, err
		}
	}
	drain := max(in.Optimizer.IdleTimeout, in.Optimizer.PrefetchIdleTimeout,
		optimizer.DefaultIdleTimeout, optimizer.DefaultPrefetchIdleTimeout)
	for range maxDrainRounds {
		clock.Advance(drain)
		if loop.RunPending() == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, models.NewOptimizeError(models.ErrCodeTimeout, "optimization timed out", err)
		}
	}

	// ── 7. Render ─────────────────────────────────────────────────────
	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		return nil, models.NewOptimizeError(models.ErrCodeInternal, "failed to render optimized HTML", err)
	}
	res := &Result{
		HTML:    buf.String(),
		Metrics: eng.MetricsSnapshot(),
		State:   eng.State(),
		Aligned: aligned,
	}
	if cfg, ok := patch.Installed(doc); ok {
		res.Patches = &cfg
	}
	return res, nil
}

func newLayout(in Input) *host.StaticLayout {
	if g := in.Geometry; g != nil && !g.Viewport.Empty() {
		l := host.NewStaticLayout(g.Viewport.Width, g.Viewport.Height)
		l.ScrollTo(g.Viewport.Y)
		return l
	}
	w, h := in.ViewportWidth, in.ViewportHeight
	if w <= 0 || h <= 0 {
		w, h = DefaultViewportWidth, DefaultViewportHeight
	}
	return host.NewStaticLayout(float64(w), float64(h))
}

// load is a resource that had finished loading at capture time.
type load struct {
	node          *html.Node
	width, height int
}

// applyGeometry pairs captured boxes with parsed elements in document order.
// Pairing stops at the first tag mismatch; later elements keep unknown
// geometry.
func applyGeometry(doc *dom.Document, layout *host.StaticLayout, g *fetch.Geometry) ([]load, int) {
	if g == nil {
		return nil, 0
	}
	var loads []load
	i, stopped := 0, false
	dom.Walk(doc.Root(), func(n *html.Node) bool {
		if stopped || i >= len(g.Boxes) {
			return false
		}
		b := g.Boxes[i]
		if !strings.EqualFold(b.Tag, n.Data) {
			stopped = true
			return false
		}
		i++
		if b.Rendered {
			layout.SetRect(n, b.Rect)
		}
		if b.Loaded && dom.IsElement(n, "img", "video", "audio", "iframe") {
			loads = append(loads, load{node: n, width: b.NaturalWidth, height: b.NaturalHeight})
		}
		return true
	})
	return loads, i
}

// scrollThrough moves the viewport down one screen at a time.
func scrollThrough(page *host.Page, layout *host.StaticLayout, step func() error) error {
	root := page.Document().Root()
	var bottom float64
	dom.Walk(root, func(n *html.Node) bool {
		if r, ok := layout.BoundingRect(n); ok {
			bottom = max(bottom, r.Bottom())
		}
		return true
	})
	vp := layout.Viewport()
	for y := vp.Y + vp.Height; y < bottom; y += vp.Height {
		page.ScrollTo(y)
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
