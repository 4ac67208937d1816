// Package memory implements an in-memory content store for tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"dukcapil/internal/contentstore/core"
	id "dukcapil/pkg/domain"
	"dukcapil/pkg/platform/sentinel"
)

// Store implements core.Store backed by process memory.
type Store struct {
	mu   sync.RWMutex
	objs map[id.ContentID][]byte
	puts int
}

// New returns an in-memory content store.
func New() *Store { return &Store{objs: make(map[id.ContentID][]byte)} }

func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put stores data under its digest. Re-putting identical bytes is a no-op.
func (s *Store) Put(_ context.Context, data []byte) (id.ContentID, error) {
	cid := core.ComputeID(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if _, exists := s.objs[cid]; exists {
		return cid, nil
	}
	s.objs[cid] = append([]byte(nil), data...)
	return cid, nil
}

func (s *Store) Get(_ context.Context, cid id.ContentID) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.objs[cid]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", cid, sentinel.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of distinct blobs stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objs)
}

// Puts returns the number of Put calls observed, including duplicates.
func (s *Store) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// Corrupt overwrites a stored blob in place. Tests use it to simulate storage
// corruption; production backends never mutate blobs.
func (s *Store) Corrupt(cid id.ContentID, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objs[cid] = append([]byte(nil), data...)
}
