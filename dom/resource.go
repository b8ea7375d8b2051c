package dom

import (
	"errors"

	"golang.org/x/net/html"
)

var (
	// ErrCrossOrigin is returned when a stylesheet's rules are not readable.
	ErrCrossOrigin = errors.New("dom: cross-origin stylesheet")

	// ErrNoSheet is returned for elements without an available stylesheet.
	ErrNoSheet = errors.New("dom: no stylesheet")
)

// Resource is the host-side loading state of an element.
type Resource struct {
	Loaded        bool
	NaturalWidth  int
	NaturalHeight int
	Paused        bool
	Sheet         *Sheet
}

// Sheet is the rule text of a stylesheet as exposed to page scripts.
type Sheet struct {
	Text        string
	CrossOrigin bool
}

// Resource returns the resource state of n, creating it on first use.
func (d *Document) Resource(n *html.Node) *Resource {
	return d.resources.Update(n, func(r *Resource, ok bool) *Resource {
		if ok {
			return r
		}
		return &Resource{}
	})
}

// Loaded reports whether the resource behind n finished loading.
func (d *Document) Loaded(n *html.Node) bool {
	r, ok := d.resources.Load(n)
	return ok && r.Loaded
}

// NaturalSize returns the intrinsic size of an image or video, if known.
func (d *Document) NaturalSize(n *html.Node) (w, h int, ok bool) {
	r, found := d.resources.Load(n)
	if !found || r.NaturalWidth <= 0 || r.NaturalHeight <= 0 {
		return 0, 0, false
	}
	return r.NaturalWidth, r.NaturalHeight, true
}

// MarkLoaded records that n finished loading with the given intrinsic size
// (zero when not applicable) and dispatches the matching events.
func (d *Document) MarkLoaded(n *html.Node, w, h int) {
	r := d.Resource(n)
	r.Loaded = true
	if w > 0 && h > 0 {
		r.NaturalWidth, r.NaturalHeight = w, h
	}
	if IsElement(n, "video", "audio") {
		d.Dispatch(n, EventLoadedMetadata)
	}
	d.Dispatch(n, EventLoad)
}

// PauseMedia pauses a media element.
func (d *Document) PauseMedia(n *html.Node) {
	d.Resource(n).Paused = true
}

// StyleSheet returns the rules of a <style> or loaded stylesheet <link>.
func (d *Document) StyleSheet(n *html.Node) (*Sheet, error) {
	if IsElement(n, "style") {
		return &Sheet{Text: Text(n)}, nil
	}
	r, ok := d.resources.Load(n)
	if !ok || r.Sheet == nil {
		return nil, ErrNoSheet
	}
	if r.Sheet.CrossOrigin {
		return nil, ErrCrossOrigin
	}
	return r.Sheet, nil
}

// ReplaceStyleSheet writes new rule text back: inline styles change their
// text content, linked sheets change their object model only.
func (d *Document) ReplaceStyleSheet(n *html.Node, text string) error {
	if IsElement(n, "style") {
		d.SetText(n, text)
		return nil
	}
	r, ok := d.resources.Load(n)
	if !ok || r.Sheet == nil {
		return ErrNoSheet
	}
	if r.Sheet.CrossOrigin {
		return ErrCrossOrigin
	}
	r.Sheet.Text = text
	return nil
}
