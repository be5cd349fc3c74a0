package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rflorenc/chef-migration-workbench/internal/models"
)

// MemoryStore keeps results in a map, serialized to JSON so callers
// never share mutable state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string][]byte)}
}

// Save inserts or replaces a result.
func (s *MemoryStore) Save(_ context.Context, r *models.MigrationResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("statestore: encode result %s: %w", r.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.ID] = data
	return nil
}

// Get returns a copy of the stored result, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (*models.MigrationResult, error) {
	s.mu.RLock()
	data, ok := s.results[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var r models.MigrationResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("statestore: decode result %s: %w", id, err)
	}
	return &r, nil
}

// List returns all results, most recent first.
func (s *MemoryStore) List(_ context.Context) ([]*models.MigrationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.MigrationResult, 0, len(s.results))
	for id, data := range s.results {
		var r models.MigrationResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("statestore: decode result %s: %w", id, err)
		}
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}
