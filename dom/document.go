// Package dom models a live, mutable HTML document on top of x/net/html.
//
// Document is the only mutation path the optimizer uses: every structural or
// attribute change made through it is reported to registered
// MutationObservers, delivered as a batch at the next microtask checkpoint.
// It also carries the host-side state the tree itself cannot express:
// readiness phase, element event listeners and per-element resource state.
package dom

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ErrDetached is returned when an operation needs a node that has a parent.
var ErrDetached = errors.New("dom: node is not attached")

// ReadyState is the document readiness phase.
type ReadyState int

const (
	Loading ReadyState = iota
	Interactive
	Complete
)

func (s ReadyState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Interactive:
		return "interactive"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("ReadyState(%d)", int(s))
	}
}

// Option configures a Document.
type Option func(*Document)

// WithMicrotasks sets the function used to schedule mutation-record
// delivery. Without it, records are only delivered by Flush.
func WithMicrotasks(schedule func(func())) Option {
	return func(d *Document) { d.microtask = schedule }
}

// WithReadyState sets the initial readiness phase. Default: Loading.
func WithReadyState(s ReadyState) Option {
	return func(d *Document) { d.ready = s }
}

// Document is a live HTML document. It is not safe for concurrent use; all
// calls are expected to come from the host's event loop.
type Document struct {
	root *html.Node
	base *url.URL

	ready        ReadyState
	readyWaiters [Complete + 1][]func()

	microtask      func(func())
	observers      []*MutationObserver
	deliveryQueued bool

	listeners     map[*html.Node][]*Listener
	listenerHooks []ListenerHook
	insertHooks   []InsertHook

	resources NodeTable[*Resource]
}

// New wraps an already parsed tree.
func New(root *html.Node, base *url.URL, opts ...Option) *Document {
	if base == nil {
		base = &url.URL{}
	}
	d := &Document{
		root:      root,
		base:      base,
		listeners: make(map[*html.Node][]*Listener),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Parse reads an HTML document. baseURL resolves relative references and
// defines the document's origin.
func Parse(r io.Reader, baseURL string, opts ...Option) (*Document, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("dom: parse base url: %w", err)
	}
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse html: %w", err)
	}
	return New(root, base, opts...), nil
}

// ParseString is Parse over a string.
func ParseString(s, baseURL string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), baseURL, opts...)
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// URL returns the document URL.
func (d *Document) URL() *url.URL { return d.base }

// Resolve parses ref relative to the document URL.
func (d *Document) Resolve(ref string) (*url.URL, error) {
	return d.base.Parse(strings.TrimSpace(ref))
}

// SameOrigin reports whether u shares scheme and host with the document.
func (d *Document) SameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, d.base.Scheme) && strings.EqualFold(u.Host, d.base.Host)
}

// Head returns the <head> element, or nil.
func (d *Document) Head() *html.Node { return findElement(d.root, "head") }

// Body returns the <body> element, or nil.
func (d *Document) Body() *html.Node { return findElement(d.root, "body") }

// Selection returns a goquery selection rooted at the document.
func (d *Document) Selection() *goquery.Selection {
	return goquery.NewDocumentFromNode(d.root).Selection
}

// Find runs a CSS selector over the whole document.
func (d *Document) Find(selector string) *goquery.Selection {
	return d.Selection().Find(selector)
}

// ElementByID returns the first element with the given id, or nil.
func (d *Document) ElementByID(id string) *html.Node {
	var found *html.Node
	Walk(d.root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if v, ok := Attr(n, "id"); ok && v == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// Contains reports whether n is attached to this document.
func (d *Document) Contains(n *html.Node) bool {
	for c := n; c != nil; c = c.Parent {
		if c == d.root {
			return true
		}
	}
	return false
}

// Render serializes the document.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// String serializes the document, returning "" on render failure.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// ReadyState returns the current readiness phase.
func (d *Document) ReadyState() ReadyState { return d.ready }

// SetReadyState advances the readiness phase, running the waiters of every
// phase passed through in order. Moving backwards is ignored.
func (d *Document) SetReadyState(s ReadyState) {
	for d.ready < s {
		d.ready++
		waiters := d.readyWaiters[d.ready]
		d.readyWaiters[d.ready] = nil
		for _, fn := range waiters {
			fn()
		}
	}
}

// WhenReady runs fn once the document reaches phase s. If it already has,
// fn runs synchronously.
func (d *Document) WhenReady(s ReadyState, fn func()) {
	if d.ready >= s {
		fn()
		return
	}
	d.readyWaiters[s] = append(d.readyWaiters[s], fn)
}
