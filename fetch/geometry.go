package fetch

import "github.com/use-agent/pagelift/dom"

// Geometry is the rendered layout of a page at capture time.
type Geometry struct {
	Viewport dom.Rect `json:"viewport"`

	// Boxes lists every element in document order.
	Boxes []Box `json:"boxes"`
}

// Box is one element's layout and resource state.
type Box struct {
	Tag      string   `json:"tag"`
	Rect     dom.Rect `json:"rect"`
	Rendered bool     `json:"rendered"`

	// Natural size of images and videos, zero when unknown.
	NaturalWidth  int `json:"naturalWidth,omitempty"`
	NaturalHeight int `json:"naturalHeight,omitempty"`

	// Loaded is true for images, media and stylesheets that finished
	// loading before capture.
	Loaded bool `json:"loaded,omitempty"`
}
