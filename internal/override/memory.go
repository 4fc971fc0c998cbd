package override

import (
	"context"
	"sync"
	"time"

	"github.com/drug-interaction-engine/internal/domain"
)

// MemoryStore is the in-process Store used by the lite profile and tests.
// Appends under one mutex give the same atomicity as the SQL transaction in
// the PostgreSQL store.
type MemoryStore struct {
	mu        sync.RWMutex
	records   []domain.OverrideRecord
	incidents []domain.Incident
	byID      map[string]int
}

// NewMemoryStore creates an empty in-memory override store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, rec *domain.OverrideRecord, incident *domain.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, *rec)
	if incident != nil {
		s.incidents = append(s.incidents, *incident)
	}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*domain.OverrideRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	rec := s.records[idx]
	return &rec, nil
}

// ListByInteraction implements Store.
func (s *MemoryStore) ListByInteraction(_ context.Context, interactionID string) ([]domain.OverrideRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.OverrideRecord
	for i := range s.records {
		if s.records[i].InteractionID == interactionID {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, from, to time.Time) ([]domain.OverrideRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.OverrideRecord
	for i := range s.records {
		if !s.records[i].CreatedAt.Before(from) && s.records[i].CreatedAt.Before(to) {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

// Incidents returns all recorded incidents, for tests and reporting.
func (s *MemoryStore) Incidents() []domain.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Incident(nil), s.incidents...)
}

var _ Store = (*MemoryStore)(nil)
