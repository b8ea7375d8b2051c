package optimizer

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// Counter identifies one metrics counter.
type Counter int

const (
	LazyLoaded Counter = iota
	AutoplayBlocked
	MediaPreloadReduced
	ImagesPrioritized
	LayoutStabilized
	StylesheetsDeferred
	ContentVisibilityApplied
	ResourceHintsAdded
	HeroPreloaded
	LinksPrefetched
	FontsRewritten
	AnimationsDisabled
	numCounters
)

var counterNames = [numCounters]string{
	"lazyLoaded",
	"autoplayBlocked",
	"mediaPreloadReduced",
	"imagesPrioritized",
	"layoutStabilized",
	"stylesheetsDeferred",
	"contentVisibility",
	"resourceHints",
	"heroPreloaded",
	"linksPrefetched",
	"fontsRewritten",
	"animationsDisabled",
}

func (c Counter) String() string {
	if c < 0 || c >= numCounters {
		return "unknown"
	}
	return counterNames[c]
}

// counters accumulates effects. Values only grow; the load time is latched
// by the first caller.
type counters struct {
	vals     [numCounters]atomic.Int64
	loadTime atomic.Pointer[int64]
}

func (c *counters) add(k Counter, n int) {
	if n > 0 {
		c.vals[k].Add(int64(n))
	}
}

func (c *counters) latchLoadTime(d time.Duration) bool {
	ms := d.Milliseconds()
	return c.loadTime.CompareAndSwap(nil, &ms)
}

func (c *counters) snapshot() Metrics {
	m := Metrics{Counts: make(map[string]int64, numCounters)}
	for i := range c.vals {
		m.Counts[counterNames[i]] = c.vals[i].Load()
	}
	if p := c.loadTime.Load(); p != nil {
		v := *p
		m.LoadTimeMs = &v
	}
	return m
}

// Metrics is a point-in-time copy of the counters.
type Metrics struct {
	Counts     map[string]int64
	LoadTimeMs *int64
}

// Count returns the value of c.
func (m Metrics) Count(c Counter) int64 { return m.Counts[c.String()] }

// Total sums every counter.
func (m Metrics) Total() int64 {
	var t int64
	for _, v := range m.Counts {
		t += v
	}
	return t
}

// MarshalJSON flattens the counters next to loadTimeMs, which is null until
// the page has fully loaded.
func (m Metrics) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Counts)+1)
	for k, v := range m.Counts {
		out[k] = v
	}
	out["loadTimeMs"] = m.LoadTimeMs
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	var raw map[string]*int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Counts = make(map[string]int64, len(raw))
	m.LoadTimeMs = nil
	for k, v := range raw {
		if k == "loadTimeMs" {
			m.LoadTimeMs = v
			continue
		}
		if v != nil {
			m.Counts[k] = *v
		}
	}
	return nil
}
