package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/pagelift/dom"
	"github.com/use-agent/pagelift/settings"
)

func TestGate(t *testing.T) {
	g := NewGate(settings.Defaults())
	if !g.Enabled(settings.LazyLoad) {
		t.Error("lazyLoad: want enabled")
	}
	if g.Enabled("unknownFeature") {
		t.Error("unknown feature: want disabled")
	}
	if NewGate(settings.Defaults().WithEnabled(false)).Enabled(settings.LazyLoad) {
		t.Error("master off: want disabled")
	}
}

func TestEngine_TwelveImages(t *testing.T) {
	var b strings.Builder
	for i := range 12 {
		fmt.Fprintf(&b, `<img id="img%d" src="/i%d.jpg">`, i, i)
	}
	h := newHarness(t, b.String(), settings.Defaults())
	h.rect("img0", dom.Rect{X: 0, Y: 0, Width: 1400, Height: 900})
	for i := 1; i < 12; i++ {
		h.rect(fmt.Sprintf("img%d", i), dom.Rect{Y: float64(1200 + i*400), Width: 400, Height: 300})
	}
	h.start()
	h.load()

	for i := range 12 {
		id := fmt.Sprintf("img%d", i)
		if got := h.attr(id, "loading"); got != "lazy" {
			t.Errorf("%s loading: got %q", id, got)
		}
		if got := h.attr(id, "decoding"); got != "async" {
			t.Errorf("%s decoding: got %q", id, got)
		}
		want := "low"
		if i == 0 {
			want = "high"
		}
		if got := h.attr(id, "fetchpriority"); got != want {
			t.Errorf("%s fetchpriority: got %q, want %q", id, got, want)
		}
	}

	preload := h.doc.Find(`link[rel="preload"][as="image"]`)
	if preload.Length() != 1 {
		t.Fatalf("hero preloads: got %d, want 1", preload.Length())
	}
	if href, _ := preload.Attr("href"); href != "https://example.com/i0.jpg" {
		t.Errorf("hero href: got %q", href)
	}

	m := h.eng.MetricsSnapshot()
	if m.Count(ImagesPrioritized) != 12 || m.Count(LazyLoaded) != 12 || m.Count(HeroPreloaded) != 1 {
		t.Errorf("metrics: %+v", m.Counts)
	}
	if m.LoadTimeMs == nil || *m.LoadTimeMs != 150 {
		t.Errorf("loadTimeMs: got %v, want 150", m.LoadTimeMs)
	}
}

func TestEngine_UnknownGeometryGetsNoPriority(t *testing.T) {
	h := newHarness(t, `<img id="a" src="/a.jpg">`, settings.Defaults())
	h.start()
	h.load()
	if dom.HasAttr(h.el("a"), "fetchpriority") {
		t.Error("fetchpriority set without geometry")
	}
	if h.attr("a", "decoding") != "async" {
		t.Error("decoding not set")
	}
}

func TestEngine_FifteenOriginsCappedAtTen(t *testing.T) {
	var b strings.Builder
	for i := range 15 {
		fmt.Fprintf(&b, `<img src="https://cdn%d.example.net/x.png">`, i)
	}
	b.WriteString(`<img src="/local.png"><img src="https://cdn0.example.net/y.png">`)
	h := newHarness(t, b.String(), settings.Defaults())
	h.start()
	h.load()

	dns := h.doc.Find(`link[rel="dns-prefetch"]`).Length()
	pre := h.doc.Find(`link[rel="preconnect"]`).Length()
	if dns != MaxHintOrigins || pre != MaxHintOrigins {
		t.Errorf("hints: dns=%d preconnect=%d, want %d each", dns, pre, MaxHintOrigins)
	}
	for i := range 15 {
		n := h.doc.Find(fmt.Sprintf(`link[href="https://cdn%d.example.net"]`, i)).Length()
		want := 2
		if i >= MaxHintOrigins {
			want = 0
		}
		if n != want {
			t.Errorf("cdn%d hint links: got %d, want %d", i, n, want)
		}
	}
	if got := h.eng.MetricsSnapshot().Count(ResourceHintsAdded); got != MaxHintOrigins {
		t.Errorf("resourceHints counter: got %d", got)
	}
}

func TestEngine_ExistingHintsSkipped(t *testing.T) {
	h := newHarness(t, `<link rel="preconnect" href="https://fonts.example.org">
<img src="https://fonts.example.org/a.png"><img src="https://img.example.net/b.png">`, settings.Defaults())
	h.start()
	h.load()
	if n := h.doc.Find(`link[href="https://fonts.example.org"]`).Length(); n != 1 {
		t.Errorf("pre-hinted origin links: got %d, want 1", n)
	}
	if n := h.doc.Find(`link[href="https://img.example.net"]`).Length(); n != 2 {
		t.Errorf("new origin links: got %d, want 2", n)
	}
}

func TestEngine_ToggleMasterSwitch(t *testing.T) {
	snap := settings.Defaults().With(settings.DisableAnimations, true)
	h := newHarness(t, `<img id="a" src="/a.jpg">`, snap)
	h.rect("a", dom.Rect{Width: 100, Height: 100})
	h.start()
	h.load()

	if h.doc.ElementByID(AnimationsStyleID) == nil {
		t.Fatal("animation style not injected")
	}
	if !h.eng.Marker().IsClaimed(h.el("a"), KeyPriority) {
		t.Fatal("image not claimed")
	}
	before := h.eng.MetricsSnapshot().Count(ImagesPrioritized)

	if err := h.eng.ApplySettings(snap.WithEnabled(false)); err != nil {
		t.Fatal(err)
	}
	h.settle()
	if h.doc.ElementByID(AnimationsStyleID) != nil {
		t.Error("animation style survived disable")
	}
	if h.eng.watcher.Active() {
		t.Error("watcher active while disabled")
	}

	h.doc.RemoveAttr(h.el("a"), "fetchpriority")
	if err := h.eng.ApplySettings(snap); err != nil {
		t.Fatal(err)
	}
	h.settle()

	if h.doc.ElementByID(AnimationsStyleID) == nil {
		t.Error("animation style not restored")
	}
	if dom.HasAttr(h.el("a"), "fetchpriority") {
		t.Error("claimed image reprocessed after re-enable")
	}
	if got := h.eng.MetricsSnapshot().Count(ImagesPrioritized); got != before {
		t.Errorf("imagesPrioritized: got %d, want %d", got, before)
	}
	if !h.eng.Applied() || h.eng.State() != StateApplied {
		t.Errorf("state: %v applied=%v", h.eng.State(), h.eng.Applied())
	}
}

func TestEngine_FeatureOffRetractsItsArtifact(t *testing.T) {
	snap := settings.Defaults().With(settings.DisableAnimations, true)
	h := newHarness(t, ``, snap)
	h.start()
	if h.doc.ElementByID(AnimationsStyleID) == nil {
		t.Fatal("animation style not injected in immediate group")
	}
	h.eng.ApplySettings(snap.With(settings.DisableAnimations, false))
	h.settle()
	if h.doc.ElementByID(AnimationsStyleID) != nil {
		t.Error("animation style kept after feature turned off")
	}
}

func TestEngine_LogoutNeverPrefetched(t *testing.T) {
	h := newHarness(t, `<a id="out" href="/logout?token=x">out</a><a id="ok" href="/docs/guide#top">guide</a>`, settings.Defaults())
	h.rect("out", dom.Rect{Y: 10, Width: 50, Height: 20})
	h.rect("ok", dom.Rect{Y: 40, Width: 50, Height: 20})
	h.start()
	h.load()
	h.settle()

	if n := h.doc.Find(`link[rel="prefetch"][href*="logout"]`).Length(); n != 0 {
		t.Errorf("logout prefetched %d times", n)
	}
	if n := h.doc.Find(`link[rel="prefetch"][href="https://example.com/docs/guide"]`).Length(); n != 1 {
		t.Errorf("guide prefetch links: got %d, want 1", n)
	}
	if got := h.eng.MetricsSnapshot().Count(LinksPrefetched); got != 1 {
		t.Errorf("linksPrefetched: got %d", got)
	}
}

func TestEngine_PrefetchCap(t *testing.T) {
	var b strings.Builder
	for i := range 8 {
		fmt.Fprintf(&b, `<a id="l%d" href="/p/%d">p</a>`, i, i)
	}
	h := newHarness(t, b.String(), settings.Defaults())
	for i := range 8 {
		h.rect(fmt.Sprintf("l%d", i), dom.Rect{Y: float64(i * 30), Width: 50, Height: 20})
	}
	h.start()
	h.load()

	if n := h.doc.Find(`link[rel="prefetch"]`).Length(); n != MaxPrefetches {
		t.Errorf("prefetch links: got %d, want %d", n, MaxPrefetches)
	}
	if h.eng.prefetch.observer != nil && h.eng.prefetch.observer.Connected() {
		t.Error("observer still connected at cap")
	}
}

func TestEngine_PrefetchResumesAfterToggle(t *testing.T) {
	for _, toggle := range []bool{false, true} {
		h := newHarness(t, `<a id="far" href="/docs/far">far</a>`, settings.Defaults())
		h.rect("far", dom.Rect{Y: 3000, Width: 50, Height: 20})
		h.start()
		h.load()

		if toggle {
			h.eng.ApplySettings(settings.Defaults().WithEnabled(false))
			h.settle()
			h.eng.ApplySettings(settings.Defaults())
			h.settle()
		}
		h.page.ScrollTo(2900)
		h.settle()

		if n := h.doc.Find(`link[rel="prefetch"][href="https://example.com/docs/far"]`).Length(); n != 1 {
			t.Errorf("toggle=%v: prefetch links: got %d, want 1", toggle, n)
		}
	}
}

func TestEngine_CancelledPrefetchRescheduled(t *testing.T) {
	h := newHarness(t, `<a id="l" href="/docs/next">next</a>`, settings.Defaults())
	h.rect("l", dom.Rect{Y: 10, Width: 50, Height: 20})
	h.start()
	h.loop.SetBusy(true)
	h.page.Advance(dom.Interactive)
	h.page.Advance(dom.Complete)
	h.loop.RunPending()

	if h.eng.prefetch.scheduled != 1 {
		t.Fatalf("scheduled before disable: got %d, want 1", h.eng.prefetch.scheduled)
	}
	h.eng.ApplySettings(settings.Defaults().WithEnabled(false))
	h.loop.RunPending()
	if h.eng.prefetch.scheduled != 0 || len(h.eng.prefetch.hrefs) != 0 {
		t.Errorf("cancelled prefetch still counted: scheduled=%d hrefs=%v", h.eng.prefetch.scheduled, h.eng.prefetch.hrefs)
	}

	h.loop.SetBusy(false)
	h.eng.ApplySettings(settings.Defaults())
	h.settle()
	if n := h.doc.Find(`link[rel="prefetch"]`).Length(); n != 1 {
		t.Errorf("prefetch links after re-enable: got %d, want 1", n)
	}
	if got := h.eng.MetricsSnapshot().Count(LinksPrefetched); got != 1 {
		t.Errorf("linksPrefetched: got %d, want 1", got)
	}
}

func TestPrefetchTarget(t *testing.T) {
	h := newHarness(t, ``, settings.Defaults())
	cases := []struct {
		href string
		ok   bool
	}{
		{"/docs/guide", true},
		{"https://example.com/blog/post-1", true},
		{"/address", true},
		{"/articles/one", false},
		{"/articles/one/", false},
		{"https://other.example.org/x", false},
		{"/search?q=go", false},
		{"mailto:a@example.com", false},
		{"/account/sign-out", true},
		{"/account/signout", false},
		{"/add-to-cart/12", false},
		{"/checkout", false},
		{"/user/delete", false},
	}
	for _, tc := range cases {
		a := dom.NewElement("a", dom.A("href", tc.href))
		if _, ok := h.eng.prefetchTarget(a); ok != tc.ok {
			t.Errorf("%q: got %v, want %v", tc.href, ok, tc.ok)
		}
	}
}

func TestEngine_StylesheetMitigatedBeforeNextObserver(t *testing.T) {
	h := newHarness(t, `<div id="c"></div>`, settings.Defaults())
	h.start()

	var seenMedia []string
	link := dom.NewElement("link", dom.A("rel", "stylesheet"), dom.A("href", "/late.css"))
	h.doc.Observe(func(recs []dom.Record) {
		for _, r := range recs {
			for _, n := range r.Added {
				if n == link {
					v, _ := dom.Attr(n, "media")
					seenMedia = append(seenMedia, v)
				}
			}
		}
	})
	h.loop.Post(func() { h.doc.AppendChild(h.el("c"), link) })
	h.loop.RunPending()

	if len(seenMedia) != 1 || seenMedia[0] != "print" {
		t.Fatalf("media seen by later observer: %v", seenMedia)
	}
	if v, _ := dom.Attr(link, "onload"); v == "" {
		t.Error("onload fallback missing")
	}

	h.doc.MarkLoaded(link, 0, 0)
	if dom.HasAttr(link, "media") || dom.HasAttr(link, "onload") {
		t.Errorf("not restored after load: %v", link.Attr)
	}
}

func TestEngine_StylesheetWithMediaUntouched(t *testing.T) {
	h := newHarness(t, `<link id="s" rel="stylesheet" href="/s.css" media="screen and (min-width: 600px)">
<link id="a" rel="stylesheet" href="/a.css" media="all">`, settings.Defaults())
	h.start()
	if got := h.attr("s", "media"); got != "screen and (min-width: 600px)" {
		t.Errorf("targeted media changed: %q", got)
	}
	if got := h.attr("a", "media"); got != "print" {
		t.Fatalf("media=all: got %q, want print", got)
	}
	h.doc.MarkLoaded(h.el("a"), 0, 0)
	if got := h.attr("a", "media"); got != "all" {
		t.Errorf("restored media: got %q, want all", got)
	}
}

func TestEngine_StylesheetWithOwnOnload(t *testing.T) {
	h := newHarness(t, `<link id="s" rel="stylesheet" href="/s.css" onload="window.cssReady=true">`, settings.Defaults())
	h.start()
	if got := h.attr("s", "media"); got != "print" {
		t.Fatalf("media: got %q, want print", got)
	}
	if got := h.attr("s", "onload"); got != "this.media='all';window.cssReady=true" {
		t.Fatalf("onload: got %q", got)
	}
	h.doc.MarkLoaded(h.el("s"), 0, 0)
	if dom.HasAttr(h.el("s"), "media") {
		t.Errorf("media not restored: %q", h.attr("s", "media"))
	}
	if got := h.attr("s", "onload"); got != "window.cssReady=true" {
		t.Errorf("site onload: got %q", got)
	}
}

func TestEngine_StylesheetRestoredAfterMove(t *testing.T) {
	h := newHarness(t, `<div id="a"></div><div id="b"></div>`, settings.Defaults())
	h.start()

	link := dom.NewElement("link", dom.A("rel", "stylesheet"), dom.A("href", "/late.css"))
	h.loop.Post(func() { h.doc.AppendChild(h.el("a"), link) })
	h.loop.RunPending()
	h.loop.Post(func() { h.doc.AppendChild(h.el("b"), link) })
	h.loop.RunPending()

	h.doc.MarkLoaded(link, 0, 0)
	if dom.HasAttr(link, "media") || dom.HasAttr(link, "onload") {
		t.Errorf("not restored after move: %v", link.Attr)
	}
}

func TestEngine_StylesheetRestoredAfterReinsert(t *testing.T) {
	h := newHarness(t, `<div id="a"></div>`, settings.Defaults())
	h.start()

	pending := dom.NewElement("link", dom.A("rel", "stylesheet"), dom.A("href", "/p.css"))
	early := dom.NewElement("link", dom.A("rel", "stylesheet"), dom.A("href", "/e.css"))
	h.loop.Post(func() {
		h.doc.AppendChild(h.el("a"), pending)
		h.doc.AppendChild(h.el("a"), early)
	})
	h.loop.RunPending()

	h.loop.Post(func() {
		h.doc.RemoveChild(pending)
		h.doc.RemoveChild(early)
	})
	h.loop.RunPending()
	h.doc.MarkLoaded(early, 0, 0)
	if v, _ := dom.Attr(early, "media"); v != "print" {
		t.Fatalf("detached link restored: %q", v)
	}

	h.loop.Post(func() {
		h.doc.AppendChild(h.el("a"), pending)
		h.doc.AppendChild(h.el("a"), early)
	})
	h.loop.RunPending()
	if dom.HasAttr(early, "media") {
		t.Errorf("link loaded while detached not restored: %v", early.Attr)
	}

	h.doc.MarkLoaded(pending, 0, 0)
	if dom.HasAttr(pending, "media") || dom.HasAttr(pending, "onload") {
		t.Errorf("not restored after reinsert: %v", pending.Attr)
	}
	if got := h.eng.MetricsSnapshot().Count(StylesheetsDeferred); got != 2 {
		t.Errorf("stylesheets deferred: got %d, want 2", got)
	}
}

func TestEngine_LayoutSizeAfterMoveAndReinsert(t *testing.T) {
	h := newHarness(t, `<div id="a"><img id="m" src="/m.jpg"><img id="r" src="/r.jpg"></div><div id="b"></div>`, settings.Defaults())
	h.start()
	h.load()

	m, r := h.el("m"), h.el("r")
	h.loop.Post(func() {
		h.doc.AppendChild(h.el("b"), m)
		h.doc.RemoveChild(r)
	})
	h.loop.RunPending()
	h.loop.Post(func() { h.doc.AppendChild(h.el("b"), r) })
	h.settle()

	h.page.LoadResource("m", 400, 300)
	h.page.LoadResource("r", 200, 100)
	h.loop.RunPending()

	if h.attr("m", "width") != "400" || h.attr("m", "height") != "300" {
		t.Errorf("moved image size: %q×%q", h.attr("m", "width"), h.attr("m", "height"))
	}
	if h.attr("r", "width") != "200" || h.attr("r", "height") != "100" {
		t.Errorf("reinserted image size: %q×%q", h.attr("r", "width"), h.attr("r", "height"))
	}
}

func TestEngine_CoalescesBatchesOnBusyHost(t *testing.T) {
	h := newHarness(t, `<div id="c"></div>`, settings.Defaults())
	h.start()
	h.loop.SetBusy(true)

	for range 5 {
		h.loop.Post(func() { h.doc.AppendChild(h.el("c"), dom.NewElement("img", dom.A("src", "/n.jpg"))) })
		h.loop.RunPending()
		h.clock.Advance(100 * time.Millisecond)
	}
	if h.eng.batch.Runs() != 0 || !h.eng.batch.Pending() {
		t.Fatalf("before timeout: runs=%d pending=%v", h.eng.batch.Runs(), h.eng.batch.Pending())
	}

	h.clock.Advance(DefaultIdleTimeout - 500*time.Millisecond)
	h.loop.RunPending()
	if h.eng.batch.Runs() != 1 {
		t.Fatalf("after timeout: runs=%d, want 1", h.eng.batch.Runs())
	}
	if n := h.doc.Find(`img[loading="lazy"]`).Length(); n != 5 {
		t.Errorf("lazy images after batch: got %d, want 5", n)
	}
}

func TestEngine_TextAndAttributeMutationsIgnored(t *testing.T) {
	h := newHarness(t, `<div id="c">x</div>`, settings.Defaults())
	h.start()
	h.loop.Post(func() {
		h.doc.SetAttr(h.el("c"), "class", "y")
		h.doc.SetText(h.el("c"), "changed")
	})
	h.loop.RunPending()
	if h.eng.batch.Pending() || h.eng.batch.Runs() != 0 {
		t.Error("batch scheduled for non-element mutations")
	}
}

func TestEngine_LayoutClaimDeferredUntilSizeKnown(t *testing.T) {
	h := newHarness(t, `<img id="a" src="/a.jpg" style="border:0"><video id="v" src="/v.mp4"></video><img id="b" src="/b.jpg" width="400">`, settings.Defaults())
	b := h.doc.Resource(h.el("b"))
	b.Loaded, b.NaturalWidth, b.NaturalHeight = true, 800, 600
	h.start()
	h.load()

	if h.eng.Marker().IsClaimed(h.el("a"), KeyLayout) {
		t.Fatal("claimed before intrinsic size known")
	}
	if h.attr("b", "height") != "300" || h.attr("b", "style") != "aspect-ratio: 800 / 600" {
		t.Errorf("b: height=%q style=%q", h.attr("b", "height"), h.attr("b", "style"))
	}

	h.page.LoadResource("a", 640, 480)
	h.page.LoadResource("v", 1920, 1080)
	h.loop.RunPending()

	if h.attr("a", "width") != "640" || h.attr("a", "height") != "480" {
		t.Errorf("a size: %q×%q", h.attr("a", "width"), h.attr("a", "height"))
	}
	if got := h.attr("a", "style"); got != "border:0; aspect-ratio: 640 / 480" {
		t.Errorf("a style: %q", got)
	}
	if h.attr("v", "width") != "1920" {
		t.Errorf("video width: %q", h.attr("v", "width"))
	}
	if got := h.eng.MetricsSnapshot().Count(LayoutStabilized); got != 3 {
		t.Errorf("layoutStabilized: got %d, want 3", got)
	}
}

func TestEngine_MediaAndAutoplay(t *testing.T) {
	h := newHarness(t, `<video id="v" autoplay src="/v.mp4"></video><audio id="a" preload="none"></audio>
<video id="w" preload="auto"></video><iframe id="px" width="1" height="1"></iframe><iframe id="f"></iframe>`, settings.Defaults())
	h.start()
	h.load()

	if dom.HasAttr(h.el("v"), "autoplay") || !h.doc.Resource(h.el("v")).Paused {
		t.Error("autoplay not suppressed")
	}
	if h.attr("v", "preload") != "metadata" || h.attr("w", "preload") != "metadata" {
		t.Errorf("preload: v=%q w=%q", h.attr("v", "preload"), h.attr("w", "preload"))
	}
	if h.attr("a", "preload") != "none" {
		t.Error("explicit preload=none changed")
	}
	if dom.HasAttr(h.el("px"), "loading") {
		t.Error("tracking pixel iframe lazy-loaded")
	}
	if h.attr("f", "loading") != "lazy" {
		t.Error("iframe not lazy-loaded")
	}
}

func TestEngine_FontDisplay(t *testing.T) {
	h := newHarness(t, `<style id="s">@font-face{font-family:A;src:url(a.woff2)}
@font-face{font-family:B;src:url(b.woff2);font-display:optional}
@media screen{@font-face{font-family:C;src:url(c.woff2);font-display:block}}</style>
<link id="same" rel="stylesheet" href="/f.css"><link id="cross" rel="stylesheet" href="https://fonts.example.org/f.css">`, settings.Defaults())
	same := h.doc.Resource(h.el("same"))
	same.Loaded, same.Sheet = true, &dom.Sheet{Text: "@font-face{font-family:D;src:url(d.woff);font-display:auto}"}
	cross := h.doc.Resource(h.el("cross"))
	cross.Loaded, cross.Sheet = true, &dom.Sheet{Text: "@font-face{font-family:E;src:url(e.woff)}", CrossOrigin: true}
	h.start()
	h.load()

	text := dom.Text(h.el("s"))
	if strings.Count(text, "font-display: swap") != 2 || !strings.Contains(text, "font-display: optional") {
		t.Errorf("inline sheet: %s", text)
	}
	if !strings.Contains(same.Sheet.Text, "font-display: swap") {
		t.Errorf("same-origin sheet: %s", same.Sheet.Text)
	}
	if strings.Contains(cross.Sheet.Text, "swap") {
		t.Error("cross-origin sheet rewritten")
	}
	if got := h.eng.MetricsSnapshot().Count(FontsRewritten); got != 3 {
		t.Errorf("fontsRewritten: got %d, want 3", got)
	}
}

func TestEngine_ContentVisibility(t *testing.T) {
	h := newHarness(t, `<section id="top"></section><article id="far"></article><footer id="small"></footer>`, settings.Defaults())
	h.rect("top", dom.Rect{Y: 100, Width: 1000, Height: 800})
	h.rect("far", dom.Rect{Y: 2000, Width: 1000, Height: 900})
	h.rect("small", dom.Rect{Y: 4000, Width: 1000, Height: 120})
	h.start()
	h.page.Advance(dom.Interactive)
	h.loop.RunPending()
	if h.doc.ElementByID(ContentVisibilityStyleID) != nil {
		t.Fatal("content-visibility ran before full load")
	}
	h.load()

	if !dom.HasAttr(h.el("far"), ContentVisibilityAttr) {
		t.Error("far article not tagged")
	}
	if dom.HasAttr(h.el("top"), ContentVisibilityAttr) || dom.HasAttr(h.el("small"), ContentVisibilityAttr) {
		t.Error("near or small landmark tagged")
	}
	if h.doc.ElementByID(ContentVisibilityStyleID) == nil {
		t.Error("supporting style missing")
	}
}

func TestEngine_SettingsPush(t *testing.T) {
	h := newHarness(t, `<img id="a" src="/a.jpg">`, settings.Defaults().With(settings.LazyLoad, false))
	h.start()
	h.load()
	if dom.HasAttr(h.el("a"), "loading") {
		t.Fatal("lazy-loading ran while off")
	}
	h.src.Save(context.Background(), settings.Defaults())
	h.settle()
	if h.attr("a", "loading") != "lazy" {
		t.Error("pushed settings not applied")
	}
}

func TestEngine_FetchFailureUsesDefaults(t *testing.T) {
	h := newHarness(t, `<img id="a" src="/a.jpg">`, settings.Snapshot{})
	h.src.SetError(settings.ErrUnavailable)
	h.start()
	h.load()
	if h.attr("a", "loading") != "lazy" {
		t.Error("defaults not applied after fetch failure")
	}
}

func TestEngine_InvalidateIsTerminal(t *testing.T) {
	h := newHarness(t, `<div id="c"></div>`, settings.Defaults())
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.eng.Start(ctx); err != nil {
		t.Fatal(err)
	}
	h.loop.RunPending()
	h.loop.SetBusy(true)
	h.loop.Post(func() { h.doc.AppendChild(h.el("c"), dom.NewElement("img")) })
	h.loop.RunPending()
	if !h.eng.batch.Pending() {
		t.Fatal("batch not pending")
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for h.eng.State() != StateInvalidated && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.settle()

	if h.eng.State() != StateInvalidated {
		t.Fatalf("state: %v", h.eng.State())
	}
	if h.eng.watcher.Active() || h.eng.batch.Runs() != 0 {
		t.Errorf("after invalidate: watcher=%v runs=%d", h.eng.watcher.Active(), h.eng.batch.Runs())
	}
	for _, err := range []error{h.eng.ApplySettings(settings.Defaults()), h.eng.Refresh(), h.eng.Invalidate(), h.eng.Start(ctx)} {
		if !errors.Is(err, ErrInvalidated) {
			t.Errorf("call after invalidate: got %v", err)
		}
	}
}

func TestEngine_RefreshResetsLatch(t *testing.T) {
	h := newHarness(t, `<img src="/a.jpg">`, settings.Defaults())
	if h.eng.State() != StateUninitialized {
		t.Fatalf("initial state: %v", h.eng.State())
	}
	h.start()
	if !h.eng.Applied() {
		t.Fatal("latch not set after start")
	}
	gen := h.eng.gen
	if err := h.eng.Refresh(); err != nil {
		t.Fatal(err)
	}
	h.loop.RunPending()
	if h.eng.gen != gen+1 || !h.eng.Applied() {
		t.Errorf("refresh: gen=%d applied=%v", h.eng.gen, h.eng.Applied())
	}
	if err := h.eng.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start: got %v", err)
	}
}

func TestMetrics_JSON(t *testing.T) {
	h := newHarness(t, `<img src="/a.jpg">`, settings.Defaults())
	h.start()

	data, err := json.Marshal(h.eng.MetricsSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"loadTimeMs":null`) {
		t.Errorf("before load: %s", data)
	}
	h.load()
	data, _ = json.Marshal(h.eng.MetricsSnapshot())
	var back Metrics
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.LoadTimeMs == nil || back.Count(LazyLoaded) != 1 {
		t.Errorf("after load: %s", data)
	}
}
