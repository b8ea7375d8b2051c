package optimizer

import (
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/use-agent/pagelift/dom"
)

func mustSelector(s string) cascadia.SelectorGroup {
	sel, err := cascadia.ParseGroup(s)
	if err != nil {
		panic("optimizer: bad selector " + s + ": " + err.Error())
	}
	return sel
}

var (
	selLazy        = mustSelector("img:not([loading]), iframe:not([loading])")
	selAutoplay    = mustSelector("video[autoplay], audio[autoplay]")
	selMedia       = mustSelector("video, audio")
	selImage       = mustSelector("img")
	selSizedMedia  = mustSelector("img, video")
	selStylesheet  = mustSelector("link[rel~=stylesheet]")
	selStyleSource = mustSelector("style, link[rel~=stylesheet]")
	selLandmark    = mustSelector("section, article, aside, footer")
	selHintSource  = mustSelector("img[src], script[src], iframe[src], source[src], video[src], audio[src], link[rel~=stylesheet][href]")
	selAnchor      = mustSelector("a[href]")
)

// matchAll returns scope and its descendants matching sel, in document order,
// skipping anything the engine injected.
func (e *Engine) matchAll(scope *html.Node, sel cascadia.Matcher) []*html.Node {
	var out []*html.Node
	dom.Walk(scope, func(n *html.Node) bool {
		if e.marker.IsClaimed(n, KeyInjected) {
			return false
		}
		if sel.Match(n) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// inject appends an engine-owned element to parent.
func (e *Engine) inject(parent, n *html.Node) {
	e.marker.TryClaim(n, KeyInjected)
	e.doc.AppendChild(parent, n)
}

// hintParent is where injected hints and styles go.
func (e *Engine) hintParent() *html.Node {
	if h := e.doc.Head(); h != nil {
		return h
	}
	return e.doc.Root()
}

// dimension parses an HTML width/height attribute.
func dimension(n *html.Node, key string) (int, bool) {
	v, ok := dom.Attr(n, key)
	if !ok {
		return 0, false
	}
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}
