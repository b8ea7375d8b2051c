package optimizer

import (
	"golang.org/x/net/html"

	"github.com/use-agent/pagelift/dom"
	"github.com/use-agent/pagelift/host"
	"github.com/use-agent/pagelift/settings"
)

// State is the lifecycle coordinator's state.
type State int32

const (
	StateUninitialized State = iota
	StateSettingsPending
	StateApplying
	StateApplied
	StateInvalidated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSettingsPending:
		return "settings-pending"
	case StateApplying:
		return "applying"
	case StateApplied:
		return "applied"
	case StateInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// executor is one optimization family.
type executor struct {
	name    string
	feature settings.Feature
	counter Counter
	run     func(e *Engine, scope *html.Node) int
}

var (
	lazyLoad          = executor{"lazy-loading", settings.LazyLoad, LazyLoaded, execLazyLoad}
	autoplay          = executor{"autoplay", settings.BlockAutoplay, AutoplayBlocked, execAutoplay}
	mediaPreload      = executor{"media-preload", settings.MediaPreload, MediaPreloadReduced, execMediaPreload}
	imagePriority     = executor{"image-priority", settings.ImagePriority, ImagesPrioritized, execImagePriority}
	layoutStability   = executor{"layout-stability", settings.LayoutStability, LayoutStabilized, execLayoutStability}
	nonBlockingCSS    = executor{"non-blocking-css", settings.NonBlockingCSS, StylesheetsDeferred, execNonBlockingCSS}
	contentVisibility = executor{"content-visibility", settings.ContentVisibility, ContentVisibilityApplied, execContentVisibility}
	resourceHints     = executor{"resource-hints", settings.ResourceHints, ResourceHintsAdded, execResourceHints}
	heroPreload       = executor{"hero-preload", settings.HeroPreload, HeroPreloaded, execHeroPreload}
	linkPrefetch      = executor{"link-prefetch", settings.LinkPrefetch, LinksPrefetched, execLinkPrefetch}
	fontDisplay       = executor{"font-display", settings.FontDisplay, FontsRewritten, execFontDisplay}
	animations        = executor{"animations", settings.DisableAnimations, AnimationsDisabled, execAnimations}
)

// Phase groups, keyed to document readiness.
var (
	immediateGroup    = []executor{animations, nonBlockingCSS, autoplay}
	contentReadyGroup = []executor{lazyLoad, mediaPreload, imagePriority, layoutStability, resourceHints, heroPreload, fontDisplay}
	fullyLoadedGroup  = []executor{layoutStability, contentVisibility, linkPrefetch, fontDisplay}

	// deferredGroup is what an idle batch re-runs over the whole document.
	deferredGroup = []executor{lazyLoad, autoplay, mediaPreload, imagePriority, layoutStability, resourceHints, linkPrefetch, fontDisplay}
)

// replaceSettings swaps the snapshot wholesale and re-applies, or tears down
// when the master switch is off.
func (e *Engine) replaceSettings(s settings.Snapshot) {
	wasOn := e.gate.Master()
	e.gate = NewGate(s)
	e.applied = false
	e.setState(StateSettingsPending)

	if !s.Enabled() {
		if wasOn {
			e.logger.Info("optimizer: disabled, tearing down")
		}
		e.teardown(true)
		return
	}
	e.apply()
}

func (e *Engine) refresh() {
	e.applied = false
	e.setState(StateSettingsPending)
	if !e.gate.Master() {
		return
	}
	e.apply()
}

// apply fires the phase groups for the current settings generation and
// starts the watcher.
func (e *Engine) apply() {
	e.setState(StateApplying)
	e.applied = true
	e.gen++
	gen := e.gen
	root := e.doc.Root()

	// ── 1. Drop global artifacts whose feature is now off ──
	e.retractArtifacts(false)

	// ── 2. Immediate group ──
	e.runGroup(immediateGroup, root)

	// ── 3. Content-ready and fully-loaded groups, now or on phase change ──
	e.doc.WhenReady(dom.Interactive, e.phase(gen, func() {
		e.runGroup(contentReadyGroup, root)
	}))
	e.doc.WhenReady(dom.Complete, e.phase(gen, e.fullyLoaded))

	// ── 4. Applied: watch for later insertions ──
	e.setState(StateApplied)
	e.watcher.Start()
	e.logger.Debug("optimizer: applied", "generation", gen, "readyState", e.doc.ReadyState().String())
}

// phase wraps a phase callback so it only runs for the generation that
// registered it.
func (e *Engine) phase(gen int, fn func()) func() {
	return func() {
		if e.invalidated.Load() || gen != e.gen || !e.gate.Master() {
			return
		}
		fn()
	}
}

func (e *Engine) fullyLoaded() {
	e.runGroup(fullyLoadedGroup, e.doc.Root())
	if e.metrics.latchLoadTime(e.loop.Now().Sub(e.host.NavigationStart())) {
		e.logger.Debug("optimizer: load time latched")
	}
}

// runBatch is the idle batch body: the deferred group over the whole
// document.
func (e *Engine) runBatch(d host.IdleDeadline) {
	if e.invalidated.Load() || !e.gate.Master() {
		return
	}
	e.runGroup(deferredGroup, e.doc.Root())
	e.logger.Debug("optimizer: idle batch ran", "timedOut", d.DidTimeout)
}

func (e *Engine) runGroup(group []executor, scope *html.Node) {
	for _, x := range group {
		if e.gate.Enabled(x.feature) {
			e.runExecutor(x, scope)
		}
	}
}

// runExecutor runs one executor, containing any panic to that executor.
func (e *Engine) runExecutor(x executor, scope *html.Node) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("optimizer: executor panicked", "executor", x.name, "panic", r)
		}
	}()
	if n := x.run(e, scope); n > 0 {
		e.metrics.add(x.counter, n)
		e.logger.Debug("optimizer: executor applied", "executor", x.name, "count", n)
	}
}

// teardown stops incremental work. With retract set, global artifacts are
// removed as well. Node claims are kept.
func (e *Engine) teardown(retract bool) {
	e.watcher.Stop()
	e.batch.Cancel()
	e.prefetch.stop(e.loop)
	if retract {
		e.retractArtifacts(true)
	}
}

// retractArtifacts removes the global style elements, all of them or only
// those whose feature is disabled.
func (e *Engine) retractArtifacts(all bool) {
	if all || !e.gate.Enabled(settings.DisableAnimations) {
		e.retractStyle(AnimationsStyleID)
	}
	if all || !e.gate.Enabled(settings.ContentVisibility) {
		e.retractStyle(ContentVisibilityStyleID)
	}
}

// setState moves the coordinator to s unless the engine is invalidated,
// which is terminal.
func (e *Engine) setState(s State) {
	for {
		cur := e.state.Load()
		if State(cur) == StateInvalidated {
			return
		}
		if e.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}
