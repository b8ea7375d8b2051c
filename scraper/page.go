package scraper

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/pagelift/fetch"
	"github.com/use-agent/pagelift/models"
	"github.com/ysmood/gson"
)

// Default window size when the request does not set one.
const (
	defaultViewportWidth  = 1440
	defaultViewportHeight = 900
)

// Capture renders req.URL in a pooled tab and returns the serialized DOM
// together with its layout. Its signature matches fetch.RodFetchFunc.
//
// Lifecycle (numbered steps match the inline comments):
//
//  1. Timeout guard     : hard deadline on the entire operation
//  2. Acquire page      : borrow a tab from the pool
//  3. DEFER: cleanup    : score the tab, then about:blank + return to
//     pool or close it when unhealthy
//  4. Viewport + stealth: must precede navigation
//  5. Context binding   : propagate timeout to all Rod operations
//  6. Navigate + wait   : load event, then DOM stable
//  7. Extract           : HTML, status, title, final URL
//  8. Geometry          : element boxes at scroll position zero
func (s *Scraper) Capture(ctx context.Context, req *fetch.Request) (_ *fetch.Result, err error) {
	// ── 1. Timeout guard ──────────────────────────────────────────────
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.scraperCfg.DefaultTimeout
	}
	if timeout > s.scraperCfg.MaxTimeout {
		timeout = s.scraperCfg.MaxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// ── 2. Acquire page from pool ─────────────────────────────────────
	s.activePages.Add(1)
	defer s.activePages.Add(-1)

	page, acquireErr := s.pagePool.Get(func() (*rod.Page, error) {
		return s.browser.Page(proto.TargetCreateTarget{})
	})
	if acquireErr != nil {
		s.pagePool.Put(nil)
		return nil, models.NewOptimizeError(
			models.ErrCodeBrowserCrash,
			"failed to acquire page from pool",
			acquireErr,
		)
	}

	// ── 3. Cleanup uses the page without the request context ─────────
	defer func() {
		if s.health.record(page, err == nil) {
			slog.Debug("retiring unhealthy page")
			s.health.forget(page)
			s.retired.Add(1)
			_ = page.Close()
			s.pagePool.Put(nil)
			return
		}
		if navErr := page.Navigate("about:blank"); navErr != nil {
			slog.Warn("cleanup: failed to navigate to about:blank",
				"error", navErr,
			)
		}
		s.pagePool.Put(page)
	}()

	// ── 4. Viewport, stealth and headers ──────────────────────────────
	width, height := req.ViewportWidth, req.ViewportHeight
	if width <= 0 || height <= 0 {
		width, height = defaultViewportWidth, defaultViewportHeight
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}).Call(page); err != nil {
		slog.Warn("viewport override failed, using browser default", "error", err)
	}

	if req.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth",
				"error", evalErr,
			)
		}
	}

	extraHeaders := make(map[string]string, len(req.Headers)+1)
	if _, hasReferer := req.Headers["Referer"]; !hasReferer {
		if u, parseErr := url.Parse(req.URL); parseErr == nil {
			extraHeaders["Referer"] = "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname())
		}
	}
	for k, v := range req.Headers {
		extraHeaders[k] = v
	}
	if len(extraHeaders) > 0 {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(extraHeaders),
		}.Call(page)
	}

	// ── 5. Bind request context to page ───────────────────────────────
	p := page.Context(ctx)

	// ── 6. Navigate and wait ──────────────────────────────────────────
	navPage := p
	if s.scraperCfg.NavigationTimeout > 0 {
		navPage = p.Timeout(s.scraperCfg.NavigationTimeout)
	}
	if err := navPage.Navigate(req.URL); err != nil {
		return nil, categorizeError(err, "navigation to target URL failed")
	}
	if err := navPage.WaitLoad(); err != nil {
		slog.Debug("load event did not fire, proceeding with current DOM", "error", err)
	}
	if stableErr := p.WaitDOMStable(300*time.Millisecond, 0.1); stableErr != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM",
			"error", stableErr,
		)
	}

	// ── 7. Extract ────────────────────────────────────────────────────
	var statusCode int
	if res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`); err == nil {
		statusCode = res.Value.Int()
	}

	rawHTML, htmlErr := p.HTML()
	if htmlErr != nil {
		return nil, categorizeError(htmlErr, "failed to extract page HTML")
	}

	title := evalStringOrEmpty(p, `() => document.title`)
	finalURL := evalStringOrEmpty(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = req.URL
	}

	// ── 8. Geometry (best-effort) ─────────────────────────────────────
	_, _ = p.Eval(`() => window.scrollTo(0, 0)`)
	var geo *fetch.Geometry
	if raw := evalStringOrEmpty(p, geometryJS); raw != "" {
		g, err := parseGeometry(raw)
		if err != nil {
			slog.Warn("geometry capture unusable", "url", req.URL, "error", err)
		} else {
			geo = g
		}
	}

	return &fetch.Result{
		HTML:       rawHTML,
		Title:      title,
		StatusCode: statusCode,
		FinalURL:   finalURL,
		Geometry:   geo,
	}, nil
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors.
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// categorizeError wraps raw errors into typed OptimizeErrors so the API
// layer can map them to HTTP status codes.
func categorizeError(err error, msg string) *models.OptimizeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewOptimizeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewOptimizeError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewOptimizeError(models.ErrCodeNavigation, msg, err)
	}
}
