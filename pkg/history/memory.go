// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"sync"
)

// MemoryStore is a thread-safe in-process Store. Records are copied on the way
// in and out so callers cannot mutate stored state.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]EmailHistory
	saves int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]EmailHistory)}
}

func (s *MemoryStore) Save(_ context.Context, rec EmailHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[rec.ID] = rec.Clone()
	s.saves++
	return nil
}

func (s *MemoryStore) FindByStatus(_ context.Context, status Status) ([]EmailHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EmailHistory, 0)
	for _, rec := range s.items {
		if rec.Status == status {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*EmailHistory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.items[id]
	if !ok {
		return nil, false, nil
	}
	c := rec.Clone()
	return &c, true, nil
}

// All returns every stored record.
func (s *MemoryStore) All() []EmailHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EmailHistory, 0, len(s.items))
	for _, rec := range s.items {
		out = append(out, rec.Clone())
	}
	return out
}

// SaveCount returns how many Save calls the store has served.
func (s *MemoryStore) SaveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
