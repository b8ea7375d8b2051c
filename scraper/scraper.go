// Package scraper drives a pooled headless browser to render pages and
// capture their layout.
package scraper

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/use-agent/pagelift/config"
	"github.com/use-agent/pagelift/models"
)

// captureFlags keep a headless tab's layout and timers close to a
// visitor's foreground tab.
var captureFlags = map[flags.Flag]string{
	"disable-blink-features":                 "AutomationControlled",
	"disable-background-timer-throttling":    "",
	"disable-backgrounding-occluded-windows": "",
	"disable-renderer-backgrounding":         "",
	"disable-dev-shm-usage":                  "",
	"hide-scrollbars":                        "",
	"autoplay-policy":                        "no-user-gesture-required",
}

// Scraper owns the browser process and the tab pool used for captures.
// It is safe for concurrent use.
type Scraper struct {
	browser     *rod.Browser
	pagePool    rod.Pool[rod.Page]
	browserCfg  config.BrowserConfig
	scraperCfg  config.ScraperConfig
	activePages atomic.Int32
	retired     atomic.Int64
	health      *healthTable[*rod.Page]
}

// newLauncher builds the browser launcher for cfg.
func newLauncher(cfg config.BrowserConfig) *launcher.Launcher {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)
	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.DefaultProxy != "" {
		l = l.Proxy(cfg.DefaultProxy)
	}
	l.Delete("enable-automation")
	for f, v := range captureFlags {
		if v == "" {
			l.Set(f)
			continue
		}
		l.Set(f, v)
	}
	return l
}

// NewScraper launches a headless browser and creates the tab pool.
func NewScraper(browserCfg config.BrowserConfig, scraperCfg config.ScraperConfig) (*Scraper, error) {
	controlURL, err := newLauncher(browserCfg).Launch()
	if err != nil {
		return nil, models.NewOptimizeError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewOptimizeError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	slog.Info("page pool created", "maxPages", browserCfg.MaxPages)
	return &Scraper{
		browser:    browser,
		pagePool:   rod.NewPagePool(browserCfg.MaxPages),
		browserCfg: browserCfg,
		scraperCfg: scraperCfg,
		health:     newHealthTable[*rod.Page](time.Now),
	}, nil
}

// Stats returns a snapshot of the pool's current state.
func (s *Scraper) Stats() models.PoolStats {
	return models.PoolStats{
		MaxPages:     s.browserCfg.MaxPages,
		ActivePages:  int(s.activePages.Load()),
		RetiredPages: s.retired.Load(),
	}
}

// Close drains the tab pool and kills the browser process.
func (s *Scraper) Close() {
	s.pagePool.Cleanup(func(p *rod.Page) {
		_ = p.Close()
	})
	s.browser.MustClose()
	slog.Info("scraper closed", "retiredPages", s.retired.Load())
}
