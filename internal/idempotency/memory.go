package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Claim(ctx context.Context, req ClaimRequest) (Record, bool, error) {
	req = req.Normalized()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[req.Key]; ok && !existing.Takeable(req.Now) {
		return existing, false, nil
	}
	rec := req.NewRecord()
	s.records[req.Key] = rec
	return rec, true, nil
}

func (s *MemoryStore) Complete(ctx context.Context, key, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	rec.Status = StatusDone
	rec.Outcome = outcome
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok && rec.Status == StatusInProgress {
		delete(s.records, key)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	return rec, ok, nil
}

func (s *MemoryStore) Purge(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.records {
		if !rec.ExpiresAt.After(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}
