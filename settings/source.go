package settings

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrUnavailable is returned when a source cannot produce a snapshot.
var ErrUnavailable = errors.New("settings: source unavailable")

// Source supplies snapshots and pushes replacements.
type Source interface {
	// Fetch returns the current snapshot.
	Fetch(ctx context.Context) (Snapshot, error)
	// Subscribe registers fn for every later snapshot. The returned function
	// removes the subscription.
	Subscribe(fn func(Snapshot)) (cancel func())
}

// Store is a Source that also accepts writes.
type Store interface {
	Source
	Save(ctx context.Context, s Snapshot) error
}

// FetchOrDefault fetches from src, falling back to Defaults with a warning
// when the source fails.
func FetchOrDefault(ctx context.Context, src Source, logger *slog.Logger) Snapshot {
	if src == nil {
		return Defaults()
	}
	s, err := src.Fetch(ctx)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("settings: fetch failed, using defaults", "error", err)
		return Defaults()
	}
	return s
}

// subscribers is the fan-out shared by the concrete sources.
type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Snapshot)
}

func (s *subscribers) add(fn func(Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(Snapshot))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) notify(snap Snapshot) {
	s.mu.Lock()
	fns := make([]func(Snapshot), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// MemorySource keeps a snapshot in memory.
type MemorySource struct {
	subs subscribers

	mu   sync.RWMutex
	snap Snapshot
	err  error
}

// NewMemorySource returns a source holding s.
func NewMemorySource(s Snapshot) *MemorySource {
	return &MemorySource{snap: s}
}

// Fetch implements Source.
func (m *MemorySource) Fetch(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return Snapshot{}, m.err
	}
	return m.snap, nil
}

// Subscribe implements Source.
func (m *MemorySource) Subscribe(fn func(Snapshot)) func() { return m.subs.add(fn) }

// Save replaces the snapshot and notifies subscribers.
func (m *MemorySource) Save(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	m.snap = s
	m.mu.Unlock()
	m.subs.notify(s)
	return nil
}

// SetError makes Fetch fail with err until cleared with nil.
func (m *MemorySource) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}
