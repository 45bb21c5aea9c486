package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps claims in process. Used by tests and single-instance development runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	if existing, ok := s.entries[id]; ok && !expired(existing, now) {
		if existing.Fingerprint != fingerprint {
			return Entry{}, ErrKeyReused
		}
		return existing, nil
	}
	entry := Entry{Key: key, Fingerprint: fingerprint, State: StateNew, ExpiresAt: now.Add(ttl)}
	stored := entry
	stored.State = StateInFlight
	s.entries[id] = stored
	return entry, nil
}

func (s *MemoryStore) Complete(_ context.Context, entry Entry, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(entry.Key)
	if existing, ok := s.entries[id]; ok && existing.Fingerprint != entry.Fingerprint {
		return ErrKeyReused
	}
	entry.State = StateDone
	entry.Header = replayableHeaders(entry.Header)
	entry.Body = append([]byte(nil), entry.Body...)
	entry.ExpiresAt = now.Add(ttl)
	s.entries[id] = entry
	return nil
}

func (s *MemoryStore) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, documentID(key))
	s.mu.Unlock()
	return nil
}
