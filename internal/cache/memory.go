package cache

import (
	"context"
	"sort"
	"sync"

	"karavan/internal/status"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[status.GroupedKey]status.ContainerStatus
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[status.GroupedKey]status.ContainerStatus),
	}
}

func (s *MemoryStore) Get(_ context.Context, key status.GroupedKey) (status.ContainerStatus, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return status.ContainerStatus{}, false, nil
	}
	return rec.Copy(), true, nil
}

func (s *MemoryStore) Put(_ context.Context, rec status.ContainerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.Key()] = rec.Copy()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key status.GroupedKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

// List returns matching records ordered by key.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]status.ContainerStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]status.ContainerStatus, 0, len(s.records))
	for _, rec := range s.records {
		if filter.Matches(rec) {
			result = append(result, rec.Copy())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key().String() < result[j].Key().String()
	})
	return result, nil
}
