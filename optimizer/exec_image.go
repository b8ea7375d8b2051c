package optimizer

import (
	"fmt"
	"strconv"
	"strings"
	"weak"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/use-agent/pagelift/dom"
	"github.com/use-agent/pagelift/settings"
)

// HeroMinArea is the smallest visible area, in px², an image needs to be
// preloaded as the hero.
const HeroMinArea = 40000

// execImagePriority sets async decoding and a viewport-based fetch priority.
// Images with unknown geometry get no priority hint.
func execImagePriority(e *Engine, scope *html.Node) int {
	vp := e.layout.Viewport()
	n := 0
	for _, img := range e.matchAll(scope, selImage) {
		if !e.marker.TryClaim(img, KeyPriority) {
			continue
		}
		changed := false
		if !dom.HasAttr(img, "decoding") {
			e.doc.SetAttr(img, "decoding", "async")
			changed = true
		}
		if !dom.HasAttr(img, "fetchpriority") {
			if r, ok := e.layout.BoundingRect(img); ok {
				p := "low"
				if vp.Intersects(r) {
					p = "high"
				}
				e.doc.SetAttr(img, "fetchpriority", p)
				changed = true
			}
		}
		if changed {
			n++
		}
	}
	return n
}

// execLayoutStability gives images and videos explicit dimensions. Elements
// whose intrinsic size is still unknown get a one-shot listener and are only
// claimed once the size arrives.
func execLayoutStability(e *Engine, scope *html.Node) int {
	n := 0
	for _, el := range e.matchAll(scope, selSizedMedia) {
		if e.marker.IsClaimed(el, KeyLayout) {
			continue
		}
		if dom.HasAttr(el, "width") && dom.HasAttr(el, "height") {
			continue
		}
		if w, h, ok := e.doc.NaturalSize(el); ok {
			if e.marker.TryClaim(el, KeyLayout) {
				e.stabilize(el, w, h)
				n++
			}
			continue
		}
		e.awaitSize(el)
	}
	return n
}

// awaitSize arms at most one pending size listener per element. The table
// holds the listener weakly; the document keeps it alive while pending.
func (e *Engine) awaitSize(el *html.Node) {
	if wp, ok := e.sizeWaits.Load(el); ok {
		if l := wp.Value(); l != nil && !l.Done() {
			return
		}
	}
	event := dom.EventLoad
	if el.DataAtom == atom.Video {
		event = dom.EventLoadedMetadata
	}
	l := e.doc.Once(el, event, func() {
		if e.invalidated.Load() || !e.gate.Enabled(settings.LayoutStability) {
			return
		}
		w, h, ok := e.doc.NaturalSize(el)
		if !ok || !e.marker.TryClaim(el, KeyLayout) {
			return
		}
		e.stabilize(el, w, h)
		e.metrics.add(LayoutStabilized, 1)
	})
	e.sizeWaits.Store(el, weak.Make(l))
}

func (e *Engine) stabilize(el *html.Node, w, h int) {
	aw, wok := dimension(el, "width")
	ah, hok := dimension(el, "height")
	switch {
	case wok && !hok && aw > 0:
		ah = aw * h / w
	case hok && !wok && ah > 0:
		aw = ah * w / h
	default:
		aw, ah = w, h
	}
	if !wok {
		e.doc.SetAttr(el, "width", strconv.Itoa(aw))
	}
	if !hok {
		e.doc.SetAttr(el, "height", strconv.Itoa(ah))
	}

	style, _ := dom.Attr(el, "style")
	if strings.Contains(style, "aspect-ratio") {
		return
	}
	style = strings.TrimRight(strings.TrimSpace(style), ";")
	if style != "" {
		style += "; "
	}
	e.doc.SetAttr(el, "style", fmt.Sprintf("%saspect-ratio: %d / %d", style, w, h))
}

// execHeroPreload preloads the largest visible image. It runs over the whole
// document regardless of scope.
func execHeroPreload(e *Engine, _ *html.Node) int {
	vp := e.layout.Viewport()
	var (
		best     *html.Node
		bestArea float64
	)
	for _, img := range e.matchAll(e.doc.Root(), selImage) {
		if !dom.HasAttr(img, "src") {
			continue
		}
		r, ok := e.layout.BoundingRect(img)
		if !ok {
			continue
		}
		if a := vp.Intersect(r).Area(); a > bestArea {
			best, bestArea = img, a
		}
	}
	if best == nil || bestArea < HeroMinArea {
		return 0
	}

	src, _ := dom.Attr(best, "src")
	u, err := e.doc.Resolve(src)
	if err != nil {
		e.logger.Debug("optimizer: hero preload skipped", "src", src, "error", err)
		return 0
	}
	href := u.String()
	if e.hasPreload(href) {
		return 0
	}
	e.inject(e.hintParent(), dom.NewElement("link",
		dom.A("rel", "preload"),
		dom.A("as", "image"),
		dom.A("href", href),
		dom.A("fetchpriority", "high"),
	))
	return 1
}

func (e *Engine) hasPreload(href string) bool {
	found := false
	e.doc.Find(`link[rel~="preload"][as="image"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("href")
		if u, err := e.doc.Resolve(v); err == nil && u.String() == href {
			found = true
		}
		return !found
	})
	return found
}
