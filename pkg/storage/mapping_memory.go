package storage

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/offsync/pkg/domain/tracking"
)

// MemoryMappingStore keeps mappings in process memory. Nothing survives a restart.
type MemoryMappingStore struct {
	mu       sync.Mutex
	mappings tracking.Mappings
}

// NewMemoryMappingStore creates a store seeded with the given mappings.
func NewMemoryMappingStore(seed ...tracking.Mapping) *MemoryMappingStore {
	s := &MemoryMappingStore{mappings: tracking.Mappings{}}
	for _, m := range seed {
		if m.Stage == "" {
			m.Stage = tracking.StageAssigned
		}
		s.mappings[m.IncidentID] = m
	}
	return s
}

// Load returns a copy of the current mappings.
func (s *MemoryMappingStore) Load(context.Context) (tracking.Mappings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(tracking.Mappings, len(s.mappings))
	for id, m := range s.mappings {
		out[id] = m
	}
	return out, nil
}

// Upsert records the mapping.
func (s *MemoryMappingStore) Upsert(_ context.Context, m tracking.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Stage == "" {
		m.Stage = tracking.StageAssigned
	}
	s.mappings[m.IncidentID] = m
	return nil
}

// Remove drops the mapping.
func (s *MemoryMappingStore) Remove(_ context.Context, incidentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.mappings, incidentID)
	return nil
}
