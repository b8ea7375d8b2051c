package optimizer

import "github.com/use-agent/pagelift/settings"

// Gate answers whether a feature may run under a snapshot.
type Gate struct {
	snap settings.Snapshot
}

// NewGate wraps s.
func NewGate(s settings.Snapshot) Gate { return Gate{snap: s} }

// Enabled is the master switch AND the feature flag. Unknown features are
// disabled.
func (g Gate) Enabled(f settings.Feature) bool {
	return g.snap.Enabled() && g.snap.Feature(f)
}

// Master reports the master switch.
func (g Gate) Master() bool { return g.snap.Enabled() }

// Snapshot returns the wrapped snapshot.
func (g Gate) Snapshot() settings.Snapshot { return g.snap }
