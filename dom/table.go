package dom

import (
	"runtime"
	"sync"
	"weak"

	"golang.org/x/net/html"
)

// NodeTable associates values with nodes without keeping the nodes alive.
//
// Keys are weak pointers: once a node is detached and unreachable from the
// rest of the program, the garbage collector reclaims it and a runtime
// cleanup drops the entry. The zero value is ready to use.
type NodeTable[V any] struct {
	mu sync.Mutex
	m  map[weak.Pointer[html.Node]]V
}

// Load returns the value stored for n.
func (t *NodeTable[V]) Load(n *html.Node) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.m[weak.Make(n)]
	return v, ok
}

// Store sets the value for n.
func (t *NodeTable[V]) Store(n *html.Node, v V) {
	t.Update(n, func(V, bool) V { return v })
}

// Update replaces the value for n with fn(old, ok) and returns the new value.
// fn runs under the table lock and must not call back into the table.
func (t *NodeTable[V]) Update(n *html.Node, fn func(old V, ok bool) V) V {
	wp := weak.Make(n)

	t.mu.Lock()
	if t.m == nil {
		t.m = make(map[weak.Pointer[html.Node]]V)
	}
	old, ok := t.m[wp]
	v := fn(old, ok)
	t.m[wp] = v
	t.mu.Unlock()

	if !ok {
		runtime.AddCleanup(n, t.evict, wp)
	}
	return v
}

// Delete removes the entry for n, if any.
func (t *NodeTable[V]) Delete(n *html.Node) {
	t.evict(weak.Make(n))
}

// Len reports the number of live entries.
func (t *NodeTable[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}

func (t *NodeTable[V]) evict(wp weak.Pointer[html.Node]) {
	t.mu.Lock()
	delete(t.m, wp)
	t.mu.Unlock()
}
