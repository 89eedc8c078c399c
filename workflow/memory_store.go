package workflow

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the StateStore used when no Redis address is configured.
// Snapshots do not survive a restart.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	ttl   time.Duration
	now   func() time.Time
}

type memoryItem struct {
	rec     Record
	expires time.Time
}

// NewMemoryStore creates a store whose entries expire ttl after their
// last save. A zero ttl never expires.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Save implements StateStore.
func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	item := memoryItem{rec: rec}
	item.rec.State = rec.State.Clone()
	if s.ttl > 0 {
		item.expires = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[rec.ID] = item
	return nil
}

// Load implements StateStore.
func (s *MemoryStore) Load(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if !item.expires.IsZero() && !s.now().Before(item.expires) {
		delete(s.items, id)
		return Record{}, ErrNotFound
	}
	rec := item.rec
	rec.State = item.rec.State.Clone()
	return rec, nil
}

// Delete implements StateStore.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

// Ping implements StateStore.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements StateStore.
func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
