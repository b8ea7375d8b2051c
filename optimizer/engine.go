// Package optimizer incrementally rewrites a live document to improve
// perceived load performance. It applies phase-ordered optimization passes,
// watches for inserted elements, and defers follow-up work to idle time,
// tracking per-node claims so no work is ever repeated.
//
// All engine work runs on the host loop. Start, ApplySettings, Refresh and
// Invalidate may be called from any goroutine; they post to the loop.
// MetricsSnapshot reads atomics and is always safe.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/use-agent/pagelift/dom"
	"github.com/use-agent/pagelift/host"
	"github.com/use-agent/pagelift/settings"
)

// DefaultPrefetchIdleTimeout bounds the wait before a scheduled prefetch
// hint is injected.
const DefaultPrefetchIdleTimeout = 2 * time.Second

var (
	// ErrInvalidated is returned by every call after the host context is
	// gone.
	ErrInvalidated = errors.New("optimizer: host context invalidated")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("optimizer: already started")
)

// Host is the page the engine optimizes.
type Host interface {
	Document() *dom.Document
	Layout() dom.Layout
	Loop() *host.Loop
	ObserveIntersections(cb func([]host.IntersectionEntry)) *host.IntersectionObserver
	NavigationStart() time.Time
}

// Options tunes the engine. Zero values select defaults.
type Options struct {
	IdleTimeout         time.Duration
	PrefetchIdleTimeout time.Duration
	Logger              *slog.Logger
}

// Engine is the per-document optimizer state.
type Engine struct {
	host   Host
	doc    *dom.Document
	loop   *host.Loop
	layout dom.Layout
	source settings.Source
	opts   Options
	logger *slog.Logger

	// Loop-owned.
	gate        Gate
	applied     bool
	gen         int
	marker      Marker
	sizeWaits   dom.NodeTable[weak.Pointer[dom.Listener]]
	cssRestores dom.NodeTable[cssRestore]
	hintOrigins map[string]struct{}
	prefetch    prefetcher
	watcher     Watcher
	batch       *Batch

	metrics     counters
	state       atomic.Int32
	invalidated atomic.Bool

	mu          sync.Mutex
	unsubscribe func()
	stopCtx     func() bool
}

// New creates an engine for h. src may be nil, in which case Defaults are
// used and no updates are pushed.
func New(h Host, src settings.Source, opts Options) *Engine {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.PrefetchIdleTimeout <= 0 {
		opts.PrefetchIdleTimeout = DefaultPrefetchIdleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := &Engine{
		host:        h,
		doc:         h.Document(),
		loop:        h.Loop(),
		layout:      h.Layout(),
		source:      src,
		opts:        opts,
		logger:      opts.Logger,
		hintOrigins: make(map[string]struct{}),
		prefetch:    prefetcher{hrefs: make(map[string]bool)},
	}
	e.watcher = Watcher{e: e}
	e.batch = newBatch(e.loop, opts.IdleTimeout, e.runBatch)
	return e
}

// Start fetches settings, subscribes to pushed updates and posts the
// initial pass. Cancelling ctx invalidates the engine.
func (e *Engine) Start(ctx context.Context) error {
	if e.invalidated.Load() {
		return ErrInvalidated
	}
	if !e.state.CompareAndSwap(int32(StateUninitialized), int32(StateSettingsPending)) {
		return ErrAlreadyStarted
	}

	snap := settings.FetchOrDefault(ctx, e.source, e.logger)

	e.mu.Lock()
	e.stopCtx = context.AfterFunc(ctx, func() { _ = e.Invalidate() })
	if e.source != nil {
		e.unsubscribe = e.source.Subscribe(func(s settings.Snapshot) {
			if err := e.ApplySettings(s); err != nil && !errors.Is(err, ErrInvalidated) {
				e.logger.Warn("optimizer: settings push dropped", "error", err)
			}
		})
	}
	e.mu.Unlock()

	return e.post(func() { e.replaceSettings(snap) })
}

// ApplySettings replaces the snapshot and re-runs the pass.
func (e *Engine) ApplySettings(s settings.Snapshot) error {
	return e.post(func() { e.replaceSettings(s) })
}

// Refresh re-runs the full pass under the current snapshot.
func (e *Engine) Refresh() error {
	return e.post(e.refresh)
}

// Invalidate stops the engine for good: the watcher is disconnected and
// pending idle work abandoned. Injected artifacts stay in place.
func (e *Engine) Invalidate() error {
	if !e.invalidated.CompareAndSwap(false, true) {
		return ErrInvalidated
	}
	e.mu.Lock()
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	if e.stopCtx != nil {
		e.stopCtx()
	}
	e.mu.Unlock()

	if err := e.loop.Post(func() { e.teardown(false) }); err != nil {
		e.logger.Debug("optimizer: teardown not posted", "error", err)
	}
	e.state.Store(int32(StateInvalidated))
	e.logger.Info("optimizer: invalidated")
	return nil
}

// MetricsSnapshot returns the counters. Safe from any goroutine.
func (e *Engine) MetricsSnapshot() Metrics { return e.metrics.snapshot() }

// State returns the lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Applied reports the applied latch. Loop-owned.
func (e *Engine) Applied() bool { return e.applied }

// Marker exposes the node claims. Loop-owned.
func (e *Engine) Marker() *Marker { return &e.marker }

func (e *Engine) post(fn func()) error {
	if e.invalidated.Load() {
		return ErrInvalidated
	}
	err := e.loop.Post(func() {
		if e.invalidated.Load() {
			return
		}
		fn()
	})
	if err != nil {
		return fmt.Errorf("optimizer: post: %w", err)
	}
	return nil
}
