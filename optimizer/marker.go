package optimizer

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/use-agent/pagelift/dom"
)

// Key is a claim key in a node's processing state.
type Key uint8

const (
	KeyPriority Key = 1 << iota
	KeyLayout
	KeyContentVisibility
	KeyMediaPreload
	KeyNonBlockingCSS
	KeyPrefetchObserved
	// KeyInjected marks elements the engine created itself.
	KeyInjected
)

var keyNames = []string{"priority", "layout", "contentVisibility", "mediaPreload", "nonBlockingCSS", "prefetchObserved", "injected"}

func (k Key) String() string {
	var parts []string
	for i, name := range keyNames {
		if k&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Marker records which claims each node carries. Claims are never cleared;
// entries disappear only when the node itself is garbage collected.
type Marker struct {
	table dom.NodeTable[Key]
}

// TryClaim records k on n. It returns true only for the first claim of a
// (node, key) pair.
func (m *Marker) TryClaim(n *html.Node, k Key) bool {
	claimed := false
	m.table.Update(n, func(old Key, _ bool) Key {
		if old&k != 0 {
			return old
		}
		claimed = true
		return old | k
	})
	return claimed
}

// IsClaimed reports whether n carries k.
func (m *Marker) IsClaimed(n *html.Node, k Key) bool {
	v, _ := m.table.Load(n)
	return v&k != 0
}

// Keys returns every claim on n.
func (m *Marker) Keys(n *html.Node) Key {
	v, _ := m.table.Load(n)
	return v
}

// Len returns the number of nodes with at least one claim.
func (m *Marker) Len() int { return m.table.Len() }
