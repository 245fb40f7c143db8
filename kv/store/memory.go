package store

import (
	"context"
	"sync"
)

// MemoryStore keeps the persistent subset in memory. It is meant for tests
// and for daemons running without a database file.
type MemoryStore struct {
	mutex    sync.Mutex
	snapshot map[string]interface{}
	saved    bool
	writes   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreWith returns a store that already holds snapshot.
func NewMemoryStoreWith(snapshot map[string]interface{}) *MemoryStore {
	return &MemoryStore{snapshot: copyMap(snapshot), saved: true}
}

func (s *MemoryStore) Load(_ context.Context) (map[string]interface{}, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.saved {
		return nil, false, nil
	}
	return copyMap(s.snapshot), true, nil
}

func (s *MemoryStore) Save(_ context.Context, snapshot map[string]interface{}) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.snapshot = copyMap(snapshot)
	s.saved = true
	s.writes++
	return nil
}

// Writes returns how many times Save was called.
func (s *MemoryStore) Writes() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.writes
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
