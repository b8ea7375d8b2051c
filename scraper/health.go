package scraper

import (
	"math"
	"sync"
	"time"
)

// Tab retirement thresholds. Successes lower the error score by half a
// point (min 0), failures raise it by one.
const (
	retireErrScore = 3.0
	retireUses     = 50
	retireAge      = 50 * time.Minute
)

type pageHealth struct {
	errScore float64
	uses     int
	created  time.Time
}

// healthTable scores pooled tabs so that crashed or leaky ones are closed
// instead of being reused.
type healthTable[K comparable] struct {
	mu    sync.Mutex
	pages map[K]*pageHealth
	now   func() time.Time
}

func newHealthTable[K comparable](now func() time.Time) *healthTable[K] {
	return &healthTable[K]{pages: make(map[K]*pageHealth), now: now}
}

// record scores one use of k and reports whether it should be retired.
func (t *healthTable[K]) record(k K, ok bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, found := t.pages[k]
	if !found {
		h = &pageHealth{created: t.now()}
		t.pages[k] = h
	}
	h.uses++
	if ok {
		h.errScore = math.Max(0, h.errScore-0.5)
	} else {
		h.errScore++
	}
	return h.errScore >= retireErrScore ||
		h.uses >= retireUses ||
		t.now().Sub(h.created) >= retireAge
}

func (t *healthTable[K]) forget(k K) {
	t.mu.Lock()
	delete(t.pages, k)
	t.mu.Unlock()
}

func (t *healthTable[K]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pages)
}
