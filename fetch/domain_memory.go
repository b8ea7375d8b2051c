package fetch

import (
	"sync"
	"time"
)

// domainEntry stores the preferred engine for a domain with a TTL.
type domainEntry struct {
	engineName string
	expiresAt  time.Time
}

// DomainMemory remembers which engine won for each domain.
// Entries expire after the configured TTL and are cleaned up periodically.
type DomainMemory struct {
	store sync.Map // domain (string) -> *domainEntry
	ttl   time.Duration
	now   func() time.Time
	done  chan struct{}
	once  sync.Once
}

// NewDomainMemory creates a DomainMemory with the given TTL and starts
// a background goroutine that prunes expired entries every hour.
func NewDomainMemory(ttl time.Duration) *DomainMemory {
	dm := newDomainMemory(ttl, time.Now)
	go dm.cleanupLoop(time.Hour)
	return dm
}

func newDomainMemory(ttl time.Duration, now func() time.Time) *DomainMemory {
	return &DomainMemory{ttl: ttl, now: now, done: make(chan struct{})}
}

// Get returns the remembered engine name for a domain, or "" if not found / expired.
func (dm *DomainMemory) Get(domain string) string {
	val, ok := dm.store.Load(domain)
	if !ok {
		return ""
	}
	entry := val.(*domainEntry)
	if dm.now().After(entry.expiresAt) {
		dm.store.CompareAndDelete(domain, entry)
		return ""
	}
	return entry.engineName
}

// Set records which engine succeeded for a domain.
func (dm *DomainMemory) Set(domain, engineName string) {
	dm.store.Store(domain, &domainEntry{
		engineName: engineName,
		expiresAt:  dm.now().Add(dm.ttl),
	})
}

// Delete forgets a domain, e.g. after the remembered engine fails.
func (dm *DomainMemory) Delete(domain string) {
	dm.store.Delete(domain)
}

// Stop terminates the background cleanup goroutine. It is safe to call
// more than once.
func (dm *DomainMemory) Stop() {
	dm.once.Do(func() { close(dm.done) })
}

// prune deletes expired entries and returns how many were removed.
func (dm *DomainMemory) prune() int {
	now := dm.now()
	removed := 0
	dm.store.Range(func(key, value any) bool {
		if now.After(value.(*domainEntry).expiresAt) {
			dm.store.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

func (dm *DomainMemory) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-dm.done:
			return
		case <-ticker.C:
			dm.prune()
		}
	}
}
