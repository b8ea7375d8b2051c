package optimizer

import (
	"golang.org/x/net/html"

	"github.com/use-agent/pagelift/dom"
	"github.com/use-agent/pagelift/settings"
)

// Watcher reacts to elements inserted into the document. Stylesheet
// mitigation runs inside the delivery itself, before the host can paint;
// everything else is handed to the idle batch.
type Watcher struct {
	e   *Engine
	obs *dom.MutationObserver
}

// Start subscribes to mutation records. Starting an active watcher is a
// no-op.
func (w *Watcher) Start() {
	if w.Active() {
		return
	}
	w.obs = w.e.doc.Observe(w.deliver)
}

// Stop unsubscribes.
func (w *Watcher) Stop() {
	if w.obs != nil {
		w.obs.Disconnect()
		w.obs = nil
	}
}

// Active reports whether the watcher is subscribed.
func (w *Watcher) Active() bool { return w.obs != nil && w.obs.Active() }

func (w *Watcher) deliver(recs []dom.Record) {
	e := w.e
	if e.invalidated.Load() {
		w.Stop()
		return
	}

	added := false
	for _, r := range recs {
		if r.Type != dom.ChildList {
			continue
		}
		for _, n := range r.Added {
			if n.Type != html.ElementNode || e.marker.IsClaimed(n, KeyInjected) || !e.doc.Contains(n) {
				continue
			}
			added = true
			if e.gate.Enabled(settings.NonBlockingCSS) {
				e.runExecutor(nonBlockingCSS, n)
			}
		}
	}
	if added {
		e.batch.Signal()
	}
}
