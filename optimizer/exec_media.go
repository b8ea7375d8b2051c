package optimizer

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/use-agent/pagelift/dom"
)

// execLazyLoad adds loading="lazy" to images and iframes that lack a loading
// attribute. Tracking-pixel iframes are left alone.
func execLazyLoad(e *Engine, scope *html.Node) int {
	n := 0
	for _, el := range e.matchAll(scope, selLazy) {
		if el.DataAtom == atom.Iframe && e.isPixel(el) {
			continue
		}
		e.doc.SetAttr(el, "loading", "lazy")
		n++
	}
	return n
}

// isPixel reports 1×1 (or smaller) frames, by attributes or layout.
func (e *Engine) isPixel(n *html.Node) bool {
	w, wok := dimension(n, "width")
	h, hok := dimension(n, "height")
	if wok && hok && w <= 1 && h <= 1 {
		return true
	}
	if r, ok := e.layout.BoundingRect(n); ok && r.Width <= 1 && r.Height <= 1 {
		return true
	}
	return false
}

func execAutoplay(e *Engine, scope *html.Node) int {
	n := 0
	for _, el := range e.matchAll(scope, selAutoplay) {
		e.doc.RemoveAttr(el, "autoplay")
		e.doc.PauseMedia(el)
		n++
	}
	return n
}

// execMediaPreload downgrades eager media preloading to metadata.
func execMediaPreload(e *Engine, scope *html.Node) int {
	n := 0
	for _, el := range e.matchAll(scope, selMedia) {
		if !e.marker.TryClaim(el, KeyMediaPreload) {
			continue
		}
		v, _ := dom.Attr(el, "preload")
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "auto":
			e.doc.SetAttr(el, "preload", "metadata")
			n++
		}
	}
	return n
}
