package history

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store for the CLI and live modes, where history
// does not need to survive the process.
type MemStore struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string][]Entry)}
}

// Append implements Store.
func (s *MemStore) Append(_ context.Context, id string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.entries[id], entry)
	if len(list) > MaxEntries {
		list = list[len(list)-MaxEntries:]
	}
	s.entries[id] = list
	return nil
}

// History implements Store.
func (s *MemStore) History(_ context.Context, id string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries[id]))
	copy(out, s.entries[id])
	return out, nil
}

// Reset implements Store.
func (s *MemStore) Reset(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}
