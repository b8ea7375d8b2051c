// Package settings holds the optimizer's configuration snapshot and the
// sources it is fetched from and pushed by.
package settings

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Feature names one optimization or page patch.
type Feature string

const (
	LazyLoad          Feature = "lazyLoad"
	BlockAutoplay     Feature = "blockAutoplay"
	MediaPreload      Feature = "mediaPreload"
	ImagePriority     Feature = "imagePriority"
	LayoutStability   Feature = "layoutStability"
	NonBlockingCSS    Feature = "nonBlockingCSS"
	ContentVisibility Feature = "contentVisibility"
	ResourceHints     Feature = "resourceHints"
	HeroPreload       Feature = "heroPreload"
	LinkPrefetch      Feature = "linkPrefetch"
	FontDisplay       Feature = "fontDisplay"
	DisableAnimations Feature = "disableAnimations"

	// Page-context patches. The engine never reads these; they are
	// serialized for the patch layer.
	ThrottleTimers   Feature = "throttleTimers"
	PassiveListeners Feature = "passiveListeners"
	DeferScripts     Feature = "deferScripts"
)

// All lists every known feature in a stable order.
var All = []Feature{
	LazyLoad, BlockAutoplay, MediaPreload, ImagePriority, LayoutStability,
	NonBlockingCSS, ContentVisibility, ResourceHints, HeroPreload,
	LinkPrefetch, FontDisplay, DisableAnimations,
	ThrottleTimers, PassiveListeners, DeferScripts,
}

// Known reports whether f is a recognised feature.
func Known(f Feature) bool { return slices.Contains(All, f) }

// Snapshot is an immutable configuration: a master switch plus one flag per
// feature. The zero value has everything off.
type Snapshot struct {
	enabled  bool
	features map[Feature]bool
}

// New builds a snapshot. Unknown features are dropped.
func New(enabled bool, features map[Feature]bool) Snapshot {
	s := Snapshot{enabled: enabled, features: make(map[Feature]bool, len(features))}
	for f, on := range features {
		if Known(f) {
			s.features[f] = on
		}
	}
	return s
}

// Defaults is the built-in configuration used when no source is reachable:
// master on, every optimization on except animation suppression, and the
// three page patches off.
func Defaults() Snapshot {
	features := make(map[Feature]bool, len(All))
	for _, f := range All {
		features[f] = true
	}
	features[DisableAnimations] = false
	features[ThrottleTimers] = false
	features[PassiveListeners] = false
	features[DeferScripts] = false
	return Snapshot{enabled: true, features: features}
}

// Enabled reports the master switch.
func (s Snapshot) Enabled() bool { return s.enabled }

// Feature reports the flag for f. Unknown or unset features are off.
func (s Snapshot) Feature(f Feature) bool { return s.features[f] }

// Features returns a copy of the per-feature flags.
func (s Snapshot) Features() map[Feature]bool { return maps.Clone(s.features) }

// With returns a copy with f set to on.
func (s Snapshot) With(f Feature, on bool) Snapshot {
	if !Known(f) {
		return s
	}
	out := Snapshot{enabled: s.enabled, features: maps.Clone(s.features)}
	if out.features == nil {
		out.features = make(map[Feature]bool, 1)
	}
	out.features[f] = on
	return out
}

// WithEnabled returns a copy with the master switch set to on.
func (s Snapshot) WithEnabled(on bool) Snapshot {
	return Snapshot{enabled: on, features: maps.Clone(s.features)}
}

// Equal reports whether two snapshots configure the same behaviour.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.enabled != o.enabled {
		return false
	}
	for _, f := range All {
		if s.features[f] != o.features[f] {
			return false
		}
	}
	return true
}

// Fingerprint returns a compact stable encoding, suitable as a cache key
// component.
func (s Snapshot) Fingerprint() string {
	var b strings.Builder
	if s.enabled {
		b.WriteByte('1')
	} else {
		b.WriteByte('0')
	}
	b.WriteByte(':')
	for _, f := range All {
		if s.features[f] {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// document is the persisted shape shared by the JSON and YAML encodings.
type document struct {
	Enabled  *bool            `json:"enabled" yaml:"enabled"`
	Features map[Feature]bool `json:"features" yaml:"features"`
}

func (s Snapshot) toDocument() document {
	enabled := s.enabled
	features := make(map[Feature]bool, len(All))
	for _, f := range All {
		features[f] = s.features[f]
	}
	return document{Enabled: &enabled, Features: features}
}

// fromDocument overlays a decoded document on Defaults, so a partial file
// only changes what it names.
func fromDocument(d document) Snapshot {
	s := Defaults()
	if d.Enabled != nil {
		s.enabled = *d.Enabled
	}
	for f, on := range d.Features {
		if Known(f) {
			s.features[f] = on
		}
	}
	return s
}

// MarshalJSON implements json.Marshaler.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toDocument())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var d document
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	*s = fromDocument(d)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Snapshot) MarshalYAML() (any, error) {
	return s.toDocument(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Snapshot) UnmarshalYAML(value *yaml.Node) error {
	var d document
	if err := value.Decode(&d); err != nil {
		return err
	}
	*s = fromDocument(d)
	return nil
}
