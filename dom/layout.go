package dom

import "golang.org/x/net/html"

// Rect is an axis-aligned box in document coordinates (CSS pixels).
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the right edge.
func (r Rect) Right() float64 { return r.X + r.Width }

// Bottom returns the bottom edge.
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Area returns Width*Height, or zero for empty rects.
func (r Rect) Area() float64 {
	if r.Empty() {
		return 0
	}
	return r.Width * r.Height
}

// Empty reports whether r has no extent.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Intersect returns the overlap of r and o.
func (r Rect) Intersect(o Rect) Rect {
	x0, y0 := max(r.X, o.X), max(r.Y, o.Y)
	x1, y1 := min(r.Right(), o.Right()), min(r.Bottom(), o.Bottom())
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Intersects reports whether r and o overlap.
func (r Rect) Intersects(o Rect) bool { return !r.Intersect(o).Empty() }

// Layout exposes the rendered geometry of a document.
//
// Both the viewport and element boxes are in document coordinates, so the
// viewport's Y is the current vertical scroll offset.
type Layout interface {
	Viewport() Rect
	// BoundingRect returns the border box of n. ok is false when n is not
	// rendered or its geometry is unknown.
	BoundingRect(n *html.Node) (r Rect, ok bool)
}
