package host

import (
	"slices"

	"golang.org/x/net/html"

	"github.com/use-agent/pagelift/dom"
)

// IntersectionEntry reports a change in a target's viewport intersection.
type IntersectionEntry struct {
	Target       *html.Node
	Intersecting bool
	Rect         dom.Rect
}

// IntersectionObserver watches targets against the page viewport. The first
// check after Observe always reports the target; later checks report only
// changes. Callbacks run as loop tasks.
type IntersectionObserver struct {
	page      *Page
	cb        func([]IntersectionEntry)
	targets   []*html.Node
	last      map[*html.Node]bool
	connected bool
	scheduled bool
}

// Observe starts watching n. Observing the same node twice is a no-op.
func (o *IntersectionObserver) Observe(n *html.Node) {
	if !o.connected || slices.Contains(o.targets, n) {
		return
	}
	o.targets = append(o.targets, n)
	o.schedule()
}

// Unobserve stops watching n.
func (o *IntersectionObserver) Unobserve(n *html.Node) {
	if i := slices.Index(o.targets, n); i >= 0 {
		o.targets = slices.Delete(o.targets, i, i+1)
	}
	delete(o.last, n)
}

// Disconnect stops watching every target. The observer cannot be reused.
func (o *IntersectionObserver) Disconnect() {
	if !o.connected {
		return
	}
	o.connected = false
	o.targets = nil
	o.last = nil
	o.page.pruneObservers()
}

// Connected reports whether Disconnect has not been called.
func (o *IntersectionObserver) Connected() bool { return o.connected }

// Len returns the number of observed targets.
func (o *IntersectionObserver) Len() int { return len(o.targets) }

func (o *IntersectionObserver) schedule() {
	if o.scheduled {
		return
	}
	o.scheduled = true
	if err := o.page.loop.Post(o.check); err != nil {
		o.scheduled = false
	}
}

func (o *IntersectionObserver) check() {
	o.scheduled = false
	if !o.connected {
		return
	}
	vp := o.page.layout.Viewport()
	var entries []IntersectionEntry
	for _, n := range o.targets {
		r, ok := o.page.layout.BoundingRect(n)
		in := ok && o.page.doc.Contains(n) && vp.Intersects(r)
		if prev, seen := o.last[n]; seen && prev == in {
			continue
		}
		o.last[n] = in
		entries = append(entries, IntersectionEntry{Target: n, Intersecting: in, Rect: r})
	}
	if len(entries) > 0 {
		o.cb(entries)
	}
}
