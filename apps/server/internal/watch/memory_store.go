package watch

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check: *MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps watches in process memory. Used when neither Postgres
// nor Redis is configured, and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	watches   map[string]Watch
	snapshots map[string][]Snapshot
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		watches:   make(map[string]Watch),
		snapshots: make(map[string][]Snapshot),
	}
}

func (s *MemoryStore) Add(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watches[url]; !ok {
		s.watches[url] = Watch{URL: url}
	}
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watches, url)
	delete(s.snapshots, url)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, url string) (*Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.watches[url]
	if !ok {
		return nil, nil //nolint:nilnil // caller checks nil value to detect "not found"
	}
	return &w, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Watch, 0, len(s.watches))
	for _, w := range s.watches {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, w Watch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watches[w.URL]; !ok {
		return WatchNotFoundError{URL: w.URL}
	}
	s.watches[w.URL] = w
	return nil
}

func (s *MemoryStore) RecordSnapshot(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watches[snap.URL]; !ok {
		return WatchNotFoundError{URL: snap.URL}
	}
	s.snapshots[snap.URL] = append(s.snapshots[snap.URL], snap)
	return nil
}

func (s *MemoryStore) Snapshots(_ context.Context, url string, limit int) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.snapshots[url]
	out := make([]Snapshot, 0, min(len(all), max(limit, 0)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
