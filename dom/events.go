package dom

import (
	"slices"

	"golang.org/x/net/html"
)

// Element event names dispatched by the host.
const (
	EventLoad           = "load"
	EventLoadedMetadata = "loadedmetadata"
	EventError          = "error"
)

// ListenerOptions mirrors addEventListener options.
type ListenerOptions struct {
	Once    bool
	Passive bool
}

// ListenerHook may rewrite the options of every listener registration.
type ListenerHook func(event string, opts ListenerOptions) ListenerOptions

// InterceptListeners installs a hook on the listener-registration entry point.
func (d *Document) InterceptListeners(h ListenerHook) {
	d.listenerHooks = append(d.listenerHooks, h)
}

// Listener is a registered element event callback. A Once listener is a
// single-fire future: it either fires exactly once or is cancelled, either
// explicitly or because its node was removed from the document.
type Listener struct {
	doc       *Document
	node      *html.Node
	event     string
	fn        func()
	opts      ListenerOptions
	fired     bool
	cancelled bool
}

// Cancel unregisters the listener. It is a no-op after firing.
func (l *Listener) Cancel() {
	if l.cancelled || (l.fired && l.opts.Once) {
		return
	}
	l.cancelled = true
	l.doc.unlink(l)
}

// Fired reports whether the callback has run at least once.
func (l *Listener) Fired() bool { return l.fired }

// Done reports whether a Once listener can no longer fire.
func (l *Listener) Done() bool { return l.cancelled || (l.opts.Once && l.fired) }

// Options returns the effective options after hooks ran.
func (l *Listener) Options() ListenerOptions { return l.opts }

// AddEventListener registers fn for event on n.
func (d *Document) AddEventListener(n *html.Node, event string, fn func(), opts ListenerOptions) *Listener {
	for _, h := range d.listenerHooks {
		opts = h(event, opts)
	}
	l := &Listener{doc: d, node: n, event: event, fn: fn, opts: opts}
	d.listeners[n] = append(d.listeners[n], l)
	return l
}

// Once registers a single-fire listener.
func (d *Document) Once(n *html.Node, event string, fn func()) *Listener {
	return d.AddEventListener(n, event, fn, ListenerOptions{Once: true})
}

// Dispatch fires event on n and returns the number of callbacks run.
func (d *Document) Dispatch(n *html.Node, event string) int {
	var due []*Listener
	for _, l := range d.listeners[n] {
		if l.event == event && !l.cancelled {
			due = append(due, l)
		}
	}
	ran := 0
	for _, l := range due {
		if l.cancelled || (l.opts.Once && l.fired) {
			continue
		}
		l.fired = true
		if l.opts.Once {
			d.unlink(l)
		}
		l.fn()
		ran++
	}
	return ran
}

func (d *Document) unlink(l *Listener) {
	ls := slices.DeleteFunc(d.listeners[l.node], func(x *Listener) bool { return x == l })
	if len(ls) == 0 {
		delete(d.listeners, l.node)
		return
	}
	d.listeners[l.node] = ls
}

// dropListeners cancels every listener in the subtree rooted at n.
func (d *Document) dropListeners(n *html.Node) {
	Walk(n, func(c *html.Node) bool {
		for _, l := range d.listeners[c] {
			l.cancelled = true
		}
		delete(d.listeners, c)
		return true
	})
}
