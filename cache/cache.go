// Package cache holds recent optimize responses keyed by page and settings.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/use-agent/pagelift/models"
)

// entryTTL is the hard expiry applied by the cleanup loop.
const entryTTL = time.Hour

// entry holds a cached response with its creation timestamp.
type entry struct {
	response  *models.OptimizeResponse
	createdAt time.Time
}

// Cache is a simple in-memory cache for optimize responses.
// It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	now        func() time.Time
	done       chan struct{}
	once       sync.Once
}

// New creates a Cache with the given maximum number of entries. A
// background goroutine evicts entries older than an hour every 5 minutes
// until Stop is called.
func New(maxEntries int) *Cache {
	c := newCache(maxEntries, time.Now)
	go c.cleanupLoop(5 * time.Minute)
	return c
}

func newCache(maxEntries int, now func() time.Time) *Cache {
	return &Cache{
		store:      make(map[string]*entry),
		maxEntries: max(maxEntries, 1),
		now:        now,
		done:       make(chan struct{}),
	}
}

// Key identifies one optimization: the page, the settings fingerprint, the
// fetch mode and the viewport all change the output.
func Key(url, fingerprint, fetchMode string, width, height int) string {
	h := sha256.New()
	for _, part := range []string{url, fingerprint, fetchMode, strconv.Itoa(width), strconv.Itoa(height)} {
		h.Write([]byte(part))
		h.Write([]byte("|"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get retrieves a cached response if it exists and is younger than maxAge.
// maxAge is in milliseconds. If maxAge <= 0, no cache lookup is performed.
// The returned response is a copy.
func (c *Cache) Get(key string, maxAgeMs int) (*models.OptimizeResponse, bool) {
	if maxAgeMs <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	maxAge := time.Duration(maxAgeMs) * time.Millisecond
	if c.now().Sub(e.createdAt) > maxAge {
		return nil, false
	}

	resp := *e.response
	return &resp, true
}

// Set stores a copy of resp. If the cache is at capacity, a random entry
// is evicted to make room.
func (c *Cache) Set(key string, resp *models.OptimizeResponse) {
	stored := *resp

	c.mu.Lock()
	defer c.mu.Unlock()

	// Map iteration order is random in Go.
	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}

	c.store[key] = &entry{
		response:  &stored,
		createdAt: c.now(),
	}
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (c *Cache) Stop() {
	c.once.Do(func() { close(c.done) })
}

// evictExpired removes entries older than entryTTL.
func (c *Cache) evictExpired() int {
	cutoff := c.now().Add(-entryTTL)
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
			n++
		}
	}
	return n
}

func (c *Cache) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}
