package store

import (
	"context"
	"time"
)

// DedupRepo records inbound webhook event ids so redelivered events are
// handled at most once.
type DedupRepo interface {
	// RecordEvent inserts eventID. Returns false if it was already recorded.
	RecordEvent(ctx context.Context, eventID, userID string) (bool, error)
}

// Compile-time check that InMemoryStore implements DedupRepo.
var _ DedupRepo = (*InMemoryStore)(nil)

func (s *InMemoryStore) RecordEvent(ctx context.Context, eventID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = make(map[string]time.Time)
	}
	if _, seen := s.events[eventID]; seen {
		return false, nil
	}
	s.events[eventID] = s.now().UTC()
	return true, nil
}
