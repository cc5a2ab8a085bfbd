// Package memory implements core.Persistence in process memory.
//
// Snapshots are stored JSON-encoded, so a Load returns exactly what a
// durable adapter would: transient fields are dropped and numbers come back
// as float64.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/docsync/pkg/core"
)

// Store is a goroutine-safe in-memory snapshot store.
type Store struct {
	mu    sync.RWMutex
	data  map[string][]byte
	saves int
}

// New creates an empty store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Load implements core.Persistence.
func (s *Store) Load(_ context.Context, key string) (*core.Snapshot, error) {
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	var snap core.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %q: %w", key, err)
	}
	return &snap, nil
}

// Save implements core.Persistence.
func (s *Store) Save(_ context.Context, key string, snap *core.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %q: %w", key, err)
	}

	s.mu.Lock()
	s.data[key] = raw
	s.saves++
	s.mu.Unlock()
	return nil
}

// Keys lists stored snapshot keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Saves reports how many snapshots were written.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "memory"
}

var _ core.Persistence = (*Store)(nil)
