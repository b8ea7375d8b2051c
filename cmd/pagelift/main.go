package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/pagelift/api"
	"github.com/use-agent/pagelift/api/handler"
	"github.com/use-agent/pagelift/cache"
	"github.com/use-agent/pagelift/config"
	"github.com/use-agent/pagelift/fetch"
	"github.com/use-agent/pagelift/scraper"
	"github.com/use-agent/pagelift/settings"
	"github.com/use-agent/pagelift/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("pagelift starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxPages", cfg.Browser.MaxPages,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// ── 3. Settings store ───────────────────────────────────────────
	store, closeStore, err := openSettings(ctx, cfg.Settings)
	if err != nil {
		slog.Error("failed to open settings", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// ── 4. Initialise scraper (launches browser) ────────────────────
	sc, err := scraper.NewScraper(cfg.Browser, cfg.Scraper)
	if err != nil {
		slog.Error("failed to initialise scraper", "error", err)
		os.Exit(1)
	}
	defer sc.Close()

	// ── 5. Fetch dispatcher ─────────────────────────────────────────
	// Rod engines call back into the scraper; fetch/ never imports scraper/.
	engines := []fetch.Engine{
		fetch.NewRodEngine(sc.Capture, false),
		fetch.NewRodEngine(sc.Capture, true),
	}
	if cfg.Fetch.EnableMultiEngine {
		engines = append([]fetch.Engine{fetch.NewHTTPEngine(cfg.Fetch.HTTPTimeout)}, engines...)
	}
	memory := fetch.NewDomainMemory(cfg.Fetch.DomainMemoryTTL)
	defer memory.Stop()
	dispatcher := fetch.NewDispatcher(engines, cfg.Fetch.EscalationDelays, memory)
	slog.Info("fetch dispatcher ready",
		"engines", dispatcher.Engines(),
		"delays", cfg.Fetch.EscalationDelays,
	)

	// ── 6. Cache, pipeline & batches ────────────────────────────────
	cc := cache.New(cfg.Cache.MaxEntries)
	defer cc.Stop()

	pipeline := &handler.Pipeline{
		Fetcher:   dispatcher,
		Settings:  store,
		Cache:     cc,
		Optimizer: cfg.Optimizer,
		Scraper:   cfg.Scraper,
		Logger:    slog.Default(),
	}
	notifier := webhook.NewNotifier(nil, nil)
	batches := handler.NewBatches(ctx, pipeline, notifier, cfg.Browser.MaxPages)
	go batches.CleanupLoop(ctx, 5*time.Minute, time.Hour)

	// ── 7. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(ctx, api.Deps{
		Config:    cfg,
		Pipeline:  pipeline,
		Batches:   batches,
		Settings:  store,
		Pool:      sc,
		StartTime: time.Now(),
	})

	// ── 8. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 9. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Cancel running batches, then let pending webhooks finish.
	stop()
	batches.Wait()
	notifier.Wait()

	// sc.Close() runs via defer to drain the page pool and kill Chrome.
	slog.Info("pagelift stopped")
}

// openSettings returns the file-backed store when a path is configured and
// an in-memory one seeded with the defaults otherwise.
func openSettings(ctx context.Context, cfg config.SettingsConfig) (settings.Store, func(), error) {
	if cfg.Path == "" {
		slog.Info("settings kept in memory")
		return settings.NewMemorySource(settings.Defaults()), func() {}, nil
	}

	fs, err := settings.NewFileSource(cfg.Path,
		settings.WithDebounce(cfg.Debounce),
		settings.WithFileLogger(slog.Default()),
	)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Watch {
		if err := fs.Start(ctx); err != nil {
			return nil, nil, err
		}
	}
	slog.Info("settings loaded from file", "path", fs.Path(), "watch", cfg.Watch)
	return fs, func() { _ = fs.Close() }, nil
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(h))
}
