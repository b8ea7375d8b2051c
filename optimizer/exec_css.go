package optimizer

import (
	"errors"
	"strings"
	"weak"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"

	"github.com/use-agent/pagelift/dom"
)

// Ids of the global style elements the engine injects.
const (
	AnimationsStyleID        = "pagelift-no-animations"
	ContentVisibilityStyleID = "pagelift-cv"

	// ContentVisibilityAttr tags sections rendered with content-visibility.
	ContentVisibilityAttr = "data-pagelift-cv"
)

const (
	animationsCSS = "*,*::before,*::after{animation-duration:0s!important;animation-delay:0s!important;" +
		"transition-duration:0s!important;transition-delay:0s!important}" +
		"html,body{scroll-behavior:auto!important}"
	contentVisibilityCSS = "[" + ContentVisibilityAttr + "]{content-visibility:auto;contain-intrinsic-size:auto 600px}"

	cvViewportFactor = 1.5
	cvMinHeight      = 300
)

// mediaFallback is prepended to a mitigated stylesheet's onload so that
// serialized output restores the media without the engine.
const mediaFallback = "this.media='all';"

// cssRestore records what a mitigated stylesheet looked like before.
type cssRestore struct {
	media     string
	hadMedia  bool
	onload    string
	hadOnload bool
	l         weak.Pointer[dom.Listener]
}

// execNonBlockingCSS switches not-yet-loaded stylesheets to a non-matching
// media query so they stop blocking render, and restores the original media
// once they load. A static onload fallback keeps serialized output working.
func execNonBlockingCSS(e *Engine, scope *html.Node) int {
	n := 0
	for _, link := range e.matchAll(scope, selStylesheet) {
		if e.marker.IsClaimed(link, KeyNonBlockingCSS) {
			e.resumeRestore(link)
			continue
		}
		if e.doc.Loaded(link) {
			continue
		}
		media, hadMedia := dom.Attr(link, "media")
		if m := strings.ToLower(strings.TrimSpace(media)); m != "" && m != "all" {
			continue
		}
		if !e.marker.TryClaim(link, KeyNonBlockingCSS) {
			continue
		}

		r := cssRestore{media: media, hadMedia: hadMedia}
		r.onload, r.hadOnload = dom.Attr(link, "onload")
		e.doc.SetAttr(link, "onload", mediaFallback+r.onload)
		e.doc.SetAttr(link, "media", "print")
		e.armRestore(link, r)
		n++
	}
	return n
}

func (e *Engine) armRestore(link *html.Node, r cssRestore) {
	l := e.doc.Once(link, dom.EventLoad, func() { e.restoreMedia(link, r) })
	r.l = weak.Make(l)
	e.cssRestores.Store(link, r)
}

// resumeRestore re-arms the restore of a claimed stylesheet whose load
// listener was cancelled by removal, or restores it at once if it loaded
// while detached.
func (e *Engine) resumeRestore(link *html.Node) {
	r, ok := e.cssRestores.Load(link)
	if !ok {
		return
	}
	if l := r.l.Value(); l != nil && !l.Done() {
		return
	}
	if v, _ := dom.Attr(link, "media"); v != "print" {
		return
	}
	if e.doc.Loaded(link) {
		e.restoreMedia(link, r)
		return
	}
	e.armRestore(link, r)
}

func (e *Engine) restoreMedia(link *html.Node, r cssRestore) {
	if v, _ := dom.Attr(link, "media"); v == "print" {
		if r.hadMedia {
			e.doc.SetAttr(link, "media", r.media)
		} else {
			e.doc.RemoveAttr(link, "media")
		}
	}
	v, ok := dom.Attr(link, "onload")
	if !ok || !strings.HasPrefix(v, mediaFallback) {
		return
	}
	if rest := strings.TrimPrefix(v, mediaFallback); rest != "" || r.hadOnload {
		e.doc.SetAttr(link, "onload", rest)
	} else {
		e.doc.RemoveAttr(link, "onload")
	}
}

// execFontDisplay rewrites @font-face rules to font-display: swap in every
// readable stylesheet. Cross-origin and unparsable sheets are skipped.
func execFontDisplay(e *Engine, scope *html.Node) int {
	n := 0
	for _, el := range e.matchAll(scope, selStyleSource) {
		if el.Type == html.ElementNode && el.Data == "link" {
			href, _ := dom.Attr(el, "href")
			if u, err := e.doc.Resolve(href); err != nil || !e.doc.SameOrigin(u) {
				continue
			}
		}
		sheet, err := e.doc.StyleSheet(el)
		if err != nil {
			if !errors.Is(err, dom.ErrNoSheet) {
				e.logger.Debug("optimizer: stylesheet not readable", "error", err)
			}
			continue
		}
		out, changed, err := rewriteFontDisplay(sheet.Text)
		if err != nil {
			e.logger.Debug("optimizer: stylesheet parse failed", "error", err)
			continue
		}
		if changed == 0 {
			continue
		}
		if err := e.doc.ReplaceStyleSheet(el, out); err != nil {
			continue
		}
		n += changed
	}
	return n
}

// rewriteFontDisplay returns text with every blocking @font-face switched to
// swap, and the number of faces changed.
func rewriteFontDisplay(text string) (string, int, error) {
	if !strings.Contains(strings.ToLower(text), "@font-face") {
		return text, 0, nil
	}
	ss, err := parser.Parse(text)
	if err != nil {
		return "", 0, err
	}
	changed := swapFontFaces(ss.Rules)
	if changed == 0 {
		return text, 0, nil
	}
	return ss.String(), changed, nil
}

func swapFontFaces(rules []*css.Rule) int {
	changed := 0
	for _, r := range rules {
		if r.Kind != css.AtRule {
			continue
		}
		if !strings.EqualFold(strings.TrimPrefix(r.Name, "@"), "font-face") {
			changed += swapFontFaces(r.Rules)
			continue
		}
		var display *css.Declaration
		for _, d := range r.Declarations {
			if strings.EqualFold(d.Property, "font-display") {
				display = d
			}
		}
		switch {
		case display == nil:
			r.Declarations = append(r.Declarations, &css.Declaration{Property: "font-display", Value: "swap"})
			changed++
		case isBlockingDisplay(display.Value):
			display.Value = "swap"
			changed++
		}
	}
	return changed
}

func isBlockingDisplay(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "" || v == "auto" || v == "block"
}

// execContentVisibility tags large landmarks far below the fold and injects
// the supporting rule once any element is tagged.
func execContentVisibility(e *Engine, scope *html.Node) int {
	vp := e.layout.Viewport()
	n := 0
	for _, el := range e.matchAll(scope, selLandmark) {
		if e.marker.IsClaimed(el, KeyContentVisibility) {
			continue
		}
		r, ok := e.layout.BoundingRect(el)
		if !ok || r.Y <= vp.Height*cvViewportFactor || r.Height <= cvMinHeight {
			continue
		}
		if e.marker.TryClaim(el, KeyContentVisibility) {
			e.doc.SetAttr(el, ContentVisibilityAttr, "")
			n++
		}
	}
	if n > 0 || e.doc.Find("["+ContentVisibilityAttr+"]").Length() > 0 {
		e.injectStyle(ContentVisibilityStyleID, contentVisibilityCSS)
	}
	return n
}

// execAnimations injects the animation suppression style once.
func execAnimations(e *Engine, _ *html.Node) int {
	if e.injectStyle(AnimationsStyleID, animationsCSS) {
		return 1
	}
	return 0
}

// injectStyle adds a singleton style element unless one with id exists.
func (e *Engine) injectStyle(id, text string) bool {
	if e.doc.ElementByID(id) != nil {
		return false
	}
	style := dom.NewElement("style", dom.A("id", id))
	style.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	e.inject(e.hintParent(), style)
	return true
}

// retractStyle removes the singleton style element with id, if present.
func (e *Engine) retractStyle(id string) bool {
	n := e.doc.ElementByID(id)
	if n == nil {
		return false
	}
	return e.doc.RemoveChild(n) == nil
}
