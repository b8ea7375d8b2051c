package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/use-agent/pagelift/cache"
	"github.com/use-agent/pagelift/config"
	"github.com/use-agent/pagelift/fetch"
	"github.com/use-agent/pagelift/meta"
	"github.com/use-agent/pagelift/models"
	"github.com/use-agent/pagelift/optimizer"
	"github.com/use-agent/pagelift/session"
	"github.com/use-agent/pagelift/settings"
)

// Fetcher retrieves a page, usually a *fetch.Dispatcher.
type Fetcher interface {
	Dispatch(ctx context.Context, req *fetch.Request) (*fetch.Result, error)
}

// Pipeline fetches a page, replays it through the optimizer and assembles
// the response. It is shared by the single and batch handlers.
type Pipeline struct {
	Fetcher   Fetcher
	Settings  settings.Source
	Cache     *cache.Cache // optional
	Optimizer config.OptimizerConfig
	Scraper   config.ScraperConfig
	Logger    *slog.Logger
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Run optimizes one page. req must have had Defaults applied.
//
// Orchestration flow:
//  1. Resolve settings (stored snapshot + request override).
//  2. Cache lookup.
//  3. Fetch → HTML (+ geometry from a browser)   (records fetch_ms)
//  4. Replay through the optimizer              (records optimize_ms)
//  5. Metadata, timing, cache store.
func (p *Pipeline) Run(ctx context.Context, req *models.OptimizeRequest) (*models.OptimizeResponse, error) {
	totalStart := time.Now()

	timeout := time.Duration(req.Timeout) * time.Second
	if p.Scraper.MaxTimeout > 0 && timeout > p.Scraper.MaxTimeout {
		timeout = p.Scraper.MaxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// ── 1. Settings ─────────────────────────────────────────────────
	base := settings.FetchOrDefault(ctx, p.Settings, p.logger())
	snap, err := req.Settings.Apply(base)
	if err != nil {
		return nil, models.NewOptimizeError(models.ErrCodeInvalidInput, err.Error(), err)
	}
	width, height := p.Optimizer.ViewportWidth, p.Optimizer.ViewportHeight
	if req.Viewport != nil {
		width, height = req.Viewport.Width, req.Viewport.Height
	}

	// ── 2. Cache lookup ─────────────────────────────────────────────
	var cacheKey string
	if p.Cache != nil && req.MaxAge > 0 && req.HTML == "" {
		cacheKey = cache.Key(req.URL, snap.Fingerprint(), req.FetchMode, width, height)
		if cached, hit := p.Cache.Get(cacheKey, req.MaxAge); hit {
			cached.CacheStatus = "hit"
			cached.Timing = models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()}
			return cached, nil
		}
	}

	// ── 3. Fetch ────────────────────────────────────────────────────
	fetchStart := time.Now()
	page, err := p.fetch(ctx, req, width, height)
	fetchMs := time.Since(fetchStart).Milliseconds()
	if err != nil {
		return nil, err
	}

	// ── 4. Optimize ─────────────────────────────────────────────────
	optStart := time.Now()
	out, err := session.Run(ctx, session.Input{
		URL:            page.FinalURL,
		HTML:           page.HTML,
		Geometry:       page.Geometry,
		Settings:       snap,
		ViewportWidth:  width,
		ViewportHeight: height,
		LoadDelay:      p.Optimizer.LoadDelay,
		Optimizer: optimizer.Options{
			IdleTimeout:         p.Optimizer.IdleTimeout,
			PrefetchIdleTimeout: p.Optimizer.PrefetchIdleTimeout,
			Logger:              p.logger(),
		},
		Logger: p.logger(),
	})
	optimizeMs := time.Since(optStart).Milliseconds()
	if err != nil {
		return nil, err
	}

	// ── 5. Assemble ─────────────────────────────────────────────────
	md, og := meta.Extract(page.HTML, page.FinalURL, page.Title)
	resp := &models.OptimizeResponse{
		Success:          true,
		StatusCode:       page.StatusCode,
		FinalURL:         page.FinalURL,
		HTML:             out.HTML,
		Metadata:         md,
		OGMetadata:       og,
		Metrics:          out.Metrics,
		State:            out.State.String(),
		Settings:         snap,
		Fingerprint:      snap.Fingerprint(),
		Patches:          out.Patches,
		GeometryCaptured: page.Geometry != nil && out.Aligned > 0,
		Size: models.SizeInfo{
			OriginalBytes:  len(page.HTML),
			OptimizedBytes: len(out.HTML),
		},
		EngineUsed: page.EngineName,
		Timing: models.TimingInfo{
			TotalMs:    time.Since(totalStart).Milliseconds(),
			FetchMs:    fetchMs,
			OptimizeMs: optimizeMs,
		},
	}

	if cacheKey != "" {
		p.Cache.Set(cacheKey, resp)
		resp.CacheStatus = "miss"
	}
	return resp, nil
}

// fetch returns inline markup as-is or dispatches to the engines.
func (p *Pipeline) fetch(ctx context.Context, req *models.OptimizeRequest, width, height int) (*fetch.Result, error) {
	if req.HTML != "" {
		return &fetch.Result{HTML: req.HTML, FinalURL: req.URL, EngineName: "inline"}, nil
	}
	if p.Fetcher == nil {
		return nil, models.NewOptimizeError(models.ErrCodeInvalidInput, "fetching is disabled; provide html", nil)
	}
	res, err := p.Fetcher.Dispatch(ctx, &fetch.Request{
		URL:            req.URL,
		Headers:        req.Headers,
		Timeout:        time.Duration(req.Timeout) * time.Second,
		Stealth:        req.Stealth,
		ViewportWidth:  width,
		ViewportHeight: height,
		NeedGeometry:   req.FetchMode == models.FetchBrowser,
		SkipRender:     req.FetchMode == models.FetchHTTP,
	})
	if err != nil {
		var oe *models.OptimizeError
		switch {
		case errors.As(err, &oe):
			return nil, oe
		case errors.Is(err, context.DeadlineExceeded):
			return nil, models.NewOptimizeError(models.ErrCodeTimeout, "fetch timed out", err)
		case errors.Is(err, fetch.ErrNoEngine):
			return nil, models.NewOptimizeError(models.ErrCodeInvalidInput, "no engine available for fetch_mode "+req.FetchMode, err)
		default:
			return nil, models.NewOptimizeError(models.ErrCodeNavigation, "failed to fetch page", err)
		}
	}
	if res.FinalURL == "" {
		res.FinalURL = req.URL
	}
	return res, nil
}

// toOptimizeError converts any error into a coded one.
func toOptimizeError(err error) *models.OptimizeError {
	var oe *models.OptimizeError
	if errors.As(err, &oe) {
		return oe
	}
	return models.NewOptimizeError(models.ErrCodeInternal, err.Error(), err)
}
