package optimizer

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/use-agent/pagelift/dom"
	"github.com/use-agent/pagelift/host"
	"github.com/use-agent/pagelift/settings"
)

const (
	// MaxHintOrigins caps DNS/preconnect hints per document.
	MaxHintOrigins = 10
	// MaxPrefetches caps scheduled link prefetches per document.
	MaxPrefetches = 5
)

// stateChangingWords never get prefetched when they appear as a path token.
var stateChangingWords = map[string]bool{
	"logout": true, "signout": true, "delete": true, "remove": true,
	"unsubscribe": true, "cart": true, "checkout": true, "purchase": true,
	"pay": true, "order": true, "add": true,
}

// execResourceHints injects dns-prefetch and preconnect links for distinct
// cross-origin http(s) origins, up to MaxHintOrigins.
func execResourceHints(e *Engine, scope *html.Node) int {
	if len(e.hintOrigins) >= MaxHintOrigins {
		return 0
	}
	existing := e.existingHintOrigins()
	parent := e.hintParent()

	n := 0
	for _, el := range e.matchAll(scope, selHintSource) {
		ref, ok := dom.Attr(el, "src")
		if !ok {
			ref, _ = dom.Attr(el, "href")
		}
		origin, ok := e.crossOrigin(ref)
		if !ok || existing[origin] {
			continue
		}
		if _, seen := e.hintOrigins[origin]; seen {
			continue
		}
		if len(e.hintOrigins) >= MaxHintOrigins {
			break
		}
		e.hintOrigins[origin] = struct{}{}
		e.inject(parent, dom.NewElement("link", dom.A("rel", "dns-prefetch"), dom.A("href", origin)))
		e.inject(parent, dom.NewElement("link", dom.A("rel", "preconnect"), dom.A("href", origin), dom.A("crossorigin", "")))
		n++
	}
	return n
}

// crossOrigin returns the origin of ref if it is an http(s) URL on another
// origin than the document.
func (e *Engine) crossOrigin(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	u, err := e.doc.Resolve(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	if e.doc.SameOrigin(u) {
		return "", false
	}
	return u.Scheme + "://" + strings.ToLower(u.Host), true
}

// existingHintOrigins collects origins the page already hints itself.
func (e *Engine) existingHintOrigins() map[string]bool {
	out := make(map[string]bool)
	e.doc.Find(`link[rel~="dns-prefetch"], link[rel~="preconnect"]`).Each(func(_ int, s *goquery.Selection) {
		if e.marker.IsClaimed(s.Get(0), KeyInjected) {
			return
		}
		href, _ := s.Attr("href")
		if strings.HasPrefix(href, "//") {
			href = e.doc.URL().Scheme + ":" + href
		}
		if u, err := url.Parse(href); err == nil && u.Host != "" {
			out[u.Scheme+"://"+strings.ToLower(u.Host)] = true
		}
	})
	return out
}

// prefetcher tracks link-prefetch observation and scheduling for a document.
type prefetcher struct {
	observer  *host.IntersectionObserver
	gen       int
	observed  dom.NodeTable[int]
	scheduled int
	hrefs     map[string]bool
	pending   []pendingPrefetch
	capped    bool
}

type pendingPrefetch struct {
	href string
	req  *host.IdleRequest
}

// execLinkPrefetch starts observing anchors for viewport intersection.
// Prefetch hints are injected from the intersection callback. Each observer
// sees an anchor at most once; a new observer picks up claimed anchors again.
func execLinkPrefetch(e *Engine, scope *html.Node) int {
	p := &e.prefetch
	if p.capped {
		return 0
	}
	if p.observer == nil || !p.observer.Connected() {
		p.observer = e.host.ObserveIntersections(e.onIntersect)
		p.gen++
	}
	for _, a := range e.matchAll(scope, selAnchor) {
		if !e.marker.TryClaim(a, KeyPrefetchObserved) && !e.marker.IsClaimed(a, KeyPrefetchObserved) {
			continue
		}
		if g, ok := p.observed.Load(a); ok && g == p.gen {
			continue
		}
		p.observed.Store(a, p.gen)
		p.observer.Observe(a)
	}
	return 0
}

func (e *Engine) onIntersect(entries []host.IntersectionEntry) {
	p := &e.prefetch
	if e.invalidated.Load() || p.capped || !e.gate.Enabled(settings.LinkPrefetch) {
		return
	}
	for _, entry := range entries {
		if !entry.Intersecting {
			continue
		}
		p.observer.Unobserve(entry.Target)

		href, ok := e.prefetchTarget(entry.Target)
		if !ok || p.hrefs[href] {
			continue
		}
		p.hrefs[href] = true
		p.scheduled++
		req := e.loop.RequestIdle(func(host.IdleDeadline) {
			e.injectPrefetch(href)
		}, e.opts.PrefetchIdleTimeout)
		p.pending = append(p.pending, pendingPrefetch{href: href, req: req})

		if p.scheduled >= MaxPrefetches {
			p.capped = true
			p.observer.Disconnect()
			e.logger.Debug("optimizer: prefetch cap reached", "cap", MaxPrefetches)
			return
		}
	}
}

// prefetchTarget returns the absolute URL to prefetch for anchor a, or false
// when the link must not be prefetched.
func (e *Engine) prefetchTarget(a *html.Node) (string, bool) {
	raw, _ := dom.Attr(a, "href")
	u, err := e.doc.Resolve(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if !e.doc.SameOrigin(u) || u.RawQuery != "" || u.ForceQuery {
		return "", false
	}
	if cleanPath(u.Path) == cleanPath(e.doc.URL().Path) {
		return "", false
	}
	if isStateChanging(u.Path) {
		return "", false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), true
}

func cleanPath(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

// isStateChanging reports whether any word of the path names an action.
func isStateChanging(p string) bool {
	words := strings.FieldsFunc(strings.ToLower(p), func(r rune) bool {
		return r == '/' || r == '-' || r == '_' || r == '.'
	})
	for _, w := range words {
		if stateChangingWords[w] {
			return true
		}
	}
	return false
}

func (e *Engine) injectPrefetch(href string) {
	if e.invalidated.Load() || !e.gate.Enabled(settings.LinkPrefetch) {
		return
	}
	exists := false
	e.doc.Find(`link[rel~="prefetch"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("href")
		exists = v == href
		return !exists
	})
	if exists {
		return
	}
	e.inject(e.hintParent(), dom.NewElement("link", dom.A("rel", "prefetch"), dom.A("href", href)))
	e.metrics.add(LinksPrefetched, 1)
}

// stop abandons observation and any scheduled prefetch. Cancelled
// prefetches no longer count against the cap.
func (p *prefetcher) stop(loop *host.Loop) {
	if p.observer != nil {
		p.observer.Disconnect()
		p.observer = nil
	}
	for _, pp := range p.pending {
		if pp.req.Done() {
			continue
		}
		loop.CancelIdle(pp.req)
		delete(p.hrefs, pp.href)
		p.scheduled--
	}
	p.pending = nil
	p.capped = p.scheduled >= MaxPrefetches
}
