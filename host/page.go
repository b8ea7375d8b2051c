package host

import (
	"fmt"
	"io"
	"slices"
	"time"

	"golang.org/x/net/html"

	"github.com/use-agent/pagelift/dom"
)

// Scroller is implemented by layouts whose viewport can move.
type Scroller interface {
	ScrollTo(y float64)
}

// Page bundles a document with the loop it lives on and its geometry.
type Page struct {
	doc       *dom.Document
	loop      *Loop
	layout    dom.Layout
	observers []*IntersectionObserver
	start     time.Time
}

// NewPage parses an HTML document onto loop. Mutation records are delivered
// as loop microtasks.
func NewPage(r io.Reader, pageURL string, loop *Loop, layout dom.Layout) (*Page, error) {
	doc, err := dom.Parse(r, pageURL, dom.WithMicrotasks(loop.Microtask))
	if err != nil {
		return nil, fmt.Errorf("host: new page: %w", err)
	}
	return &Page{doc: doc, loop: loop, layout: layout, start: loop.Now()}, nil
}

// Document returns the page's document.
func (p *Page) Document() *dom.Document { return p.doc }

// Loop returns the page's event loop.
func (p *Page) Loop() *Loop { return p.loop }

// Layout returns the page's geometry.
func (p *Page) Layout() dom.Layout { return p.layout }

// NavigationStart is the loop time at which the page was created.
func (p *Page) NavigationStart() time.Time { return p.start }

// ObserveIntersections creates an intersection observer reporting to cb.
func (p *Page) ObserveIntersections(cb func([]IntersectionEntry)) *IntersectionObserver {
	o := &IntersectionObserver{
		page:      p,
		cb:        cb,
		last:      make(map[*html.Node]bool),
		connected: true,
	}
	p.pruneObservers()
	p.observers = append(p.observers, o)
	return o
}

// pruneObservers drops disconnected observers.
func (p *Page) pruneObservers() {
	p.observers = slices.DeleteFunc(p.observers, func(o *IntersectionObserver) bool {
		return !o.connected
	})
}

// ScrollTo moves the viewport, if the layout supports it, and rechecks every
// connected intersection observer.
func (p *Page) ScrollTo(y float64) {
	s, ok := p.layout.(Scroller)
	if !ok {
		return
	}
	s.ScrollTo(y)
	p.pruneObservers()
	for _, o := range p.observers {
		o.schedule()
	}
}

// LoadResource posts a task that marks the element with the given id as
// loaded with the given natural size, firing its load events.
func (p *Page) LoadResource(id string, width, height int) error {
	return p.loop.Post(func() {
		if n := p.doc.ElementByID(id); n != nil {
			p.doc.MarkLoaded(n, width, height)
		}
	})
}

// Advance posts a task that moves the document to readiness phase s.
func (p *Page) Advance(s dom.ReadyState) error {
	return p.loop.Post(func() { p.doc.SetReadyState(s) })
}
