package optimizer

import (
	"context"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/use-agent/pagelift/dom"
	"github.com/use-agent/pagelift/host"
	"github.com/use-agent/pagelift/settings"
)

const testURL = "https://example.com/articles/one"

// tb is satisfied by both *testing.T and *rapid.T.
type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

type harness struct {
	t      tb
	clock  *host.ManualClock
	loop   *host.Loop
	layout *host.StaticLayout
	page   *host.Page
	doc    *dom.Document
	src    *settings.MemorySource
	eng    *Engine
}

func newHarness(t tb, body string, snap settings.Snapshot) *harness {
	t.Helper()
	clock := host.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	loop := host.NewLoop(host.WithClock(clock))
	layout := host.NewStaticLayout(1440, 900)
	page, err := host.NewPage(strings.NewReader(wrapPage(body)), testURL, loop, layout)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	src := settings.NewMemorySource(snap)
	return &harness{
		t:      t,
		clock:  clock,
		loop:   loop,
		layout: layout,
		page:   page,
		doc:    page.Document(),
		src:    src,
		eng:    New(page, src, Options{}),
	}
}

func wrapPage(body string) string {
	return "<!doctype html><html><head><title>t</title></head><body>" + body + "</body></html>"
}

func (h *harness) el(id string) *html.Node {
	h.t.Helper()
	n := h.doc.ElementByID(id)
	if n == nil {
		h.t.Fatalf("no element #%s", id)
	}
	return n
}

func (h *harness) rect(id string, r dom.Rect) { h.layout.SetRect(h.el(id), r) }

func (h *harness) start() {
	h.t.Helper()
	if err := h.eng.Start(context.Background()); err != nil {
		h.t.Fatalf("Start: %v", err)
	}
	h.loop.RunPending()
}

// settle runs everything, then lets every idle timeout expire.
func (h *harness) settle() {
	h.loop.RunPending()
	h.clock.Advance(5 * time.Second)
	h.loop.RunPending()
}

// load walks the document to complete and settles.
func (h *harness) load() {
	h.page.Advance(dom.Interactive)
	h.loop.RunPending()
	h.clock.Advance(150 * time.Millisecond)
	h.page.Advance(dom.Complete)
	h.settle()
}

func (h *harness) attr(id, key string) string {
	v, _ := dom.Attr(h.el(id), key)
	return v
}
