package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	count     int64
	windowEnd time.Time
}

// MemoryStore keeps window counters in process memory. Suitable for a
// single gateway instance; a shared store is needed behind a load balancer.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]map[Window]*counter

	// now is swappable for tests.
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]map[Window]*counter),
		now:      time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, identifier string, window Window) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.lookup(identifier, window)
	if c == nil || c.windowEnd.Before(s.now()) {
		return 0, s.now().Add(window.Duration()), nil
	}
	return c.count, c.windowEnd, nil
}

func (s *MemoryStore) Increment(_ context.Context, identifier string, window Window) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byWindow, ok := s.counters[identifier]
	if !ok {
		byWindow = make(map[Window]*counter)
		s.counters[identifier] = byWindow
	}

	c, ok := byWindow[window]
	if !ok || c.windowEnd.Before(s.now()) {
		c = &counter{windowEnd: s.now().Add(window.Duration())}
		byWindow[window] = c
	}
	c.count++
	return c.count, c.windowEnd, nil
}

func (s *MemoryStore) Reset(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, identifier)
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for identifier, byWindow := range s.counters {
		for window, c := range byWindow {
			if c.windowEnd.Before(before) {
				delete(byWindow, window)
			}
		}
		if len(byWindow) == 0 {
			delete(s.counters, identifier)
		}
	}
	return nil
}

func (s *MemoryStore) lookup(identifier string, window Window) *counter {
	if byWindow, ok := s.counters[identifier]; ok {
		return byWindow[window]
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
