// Package patch installs the narrow page-context patches: timer throttling,
// passive scroll listeners and script deferral. They wrap the host's entry
// points and are configured once, at injection time.
package patch

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"golang.org/x/net/html"

	"github.com/use-agent/pagelift/dom"
	"github.com/use-agent/pagelift/host"
	"github.com/use-agent/pagelift/settings"
)

// ConfigElementID is the id of the serialized configuration element.
const ConfigElementID = "pagelift-page-config"

// MinTimerDelay is the floor applied to timer delays when throttling is on.
const MinTimerDelay = time.Second

// passiveEvents are the events whose listeners are forced passive.
var passiveEvents = []string{"scroll", "wheel", "mousewheel", "touchstart", "touchmove"}

// Config is the subset of a settings snapshot the patches read.
type Config struct {
	ThrottleTimers   bool `json:"throttleTimers"`
	PassiveListeners bool `json:"passiveListeners"`
	DeferScripts     bool `json:"deferScripts"`
}

// FromSnapshot extracts the patch flags. The master switch gates all three.
func FromSnapshot(s settings.Snapshot) Config {
	if !s.Enabled() {
		return Config{}
	}
	return Config{
		ThrottleTimers:   s.Feature(settings.ThrottleTimers),
		PassiveListeners: s.Feature(settings.PassiveListeners),
		DeferScripts:     s.Feature(settings.DeferScripts),
	}
}

// Any reports whether at least one patch is on.
func (c Config) Any() bool { return c.ThrottleTimers || c.PassiveListeners || c.DeferScripts }

// Target is the page the patches are installed into.
type Target interface {
	Document() *dom.Document
	Loop() *host.Loop
}

// Install serializes cfg into the document head and wraps the host entry
// points it enables. Installing twice leaves the first configuration in
// place and returns false.
func Install(t Target, cfg Config) (bool, error) {
	doc := t.Document()
	if doc.ElementByID(ConfigElementID) != nil {
		return false, nil
	}
	head := doc.Head()
	if head == nil {
		return false, fmt.Errorf("patch: install: %w", dom.ErrDetached)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return false, fmt.Errorf("patch: encode config: %w", err)
	}
	script := dom.NewElement("script", dom.A("type", "application/json"), dom.A("id", ConfigElementID))
	script.AppendChild(&html.Node{Type: html.TextNode, Data: string(data)})
	doc.InsertBefore(head, script, head.FirstChild)

	if cfg.ThrottleTimers {
		t.Loop().InterceptTimers(ThrottleTimers)
	}
	if cfg.PassiveListeners {
		doc.InterceptListeners(PassiveListeners)
	}
	if cfg.DeferScripts {
		doc.InterceptInsert(DeferScripts)
	}
	return true, nil
}

// Installed reads back the configuration serialized into doc.
func Installed(doc *dom.Document) (Config, bool) {
	n := doc.ElementByID(ConfigElementID)
	if n == nil {
		return Config{}, false
	}
	var cfg Config
	if err := json.Unmarshal([]byte(dom.Text(n)), &cfg); err != nil {
		return Config{}, false
	}
	return cfg, true
}

// ThrottleTimers clamps a timer delay to MinTimerDelay.
func ThrottleTimers(d time.Duration) time.Duration { return max(d, MinTimerDelay) }

// PassiveListeners forces scroll and touch listeners passive.
func PassiveListeners(event string, opts dom.ListenerOptions) dom.ListenerOptions {
	if slices.Contains(passiveEvents, event) {
		opts.Passive = true
	}
	return opts
}

// DeferScripts marks external classic scripts as deferred before they are
// inserted.
func DeferScripts(n *html.Node) {
	if !dom.IsElement(n, "script") || !dom.HasAttr(n, "src") {
		return
	}
	if dom.HasAttr(n, "async") || dom.HasAttr(n, "defer") {
		return
	}
	if typ, _ := dom.Attr(n, "type"); typ == "module" {
		return
	}
	n.Attr = append(n.Attr, html.Attribute{Key: "defer"})
}
