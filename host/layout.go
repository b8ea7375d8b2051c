package host

import (
	"sync"

	"golang.org/x/net/html"

	"github.com/use-agent/pagelift/dom"
)

// StaticLayout is a dom.Layout backed by precomputed rectangles, typically
// captured from a rendering browser. Nodes without a rectangle have unknown
// geometry.
type StaticLayout struct {
	mu       sync.RWMutex
	viewport dom.Rect
	rects    dom.NodeTable[dom.Rect]
}

// NewStaticLayout returns a layout with a viewport of the given size at the
// top of the document.
func NewStaticLayout(width, height float64) *StaticLayout {
	return &StaticLayout{viewport: dom.Rect{Width: width, Height: height}}
}

// Viewport implements dom.Layout.
func (l *StaticLayout) Viewport() dom.Rect {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.viewport
}

// BoundingRect implements dom.Layout.
func (l *StaticLayout) BoundingRect(n *html.Node) (dom.Rect, bool) {
	return l.rects.Load(n)
}

// SetRect records the document-space rectangle of n.
func (l *StaticLayout) SetRect(n *html.Node, r dom.Rect) {
	l.rects.Store(n, r)
}

// ScrollTo moves the viewport's top edge to y.
func (l *StaticLayout) ScrollTo(y float64) {
	l.mu.Lock()
	l.viewport.Y = max(y, 0)
	l.mu.Unlock()
}
