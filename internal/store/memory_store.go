package store

import (
	"context"
	"sync"

	"github.com/devrev/pairdb/gridcache/internal/model"
)

type memoryRecord struct {
	key  any
	data []byte
}

// MemoryStore keeps encoded records in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	records map[model.CacheID]map[string]memoryRecord
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[model.CacheID]map[string]memoryRecord)}
}

// Load returns a stored value
func (s *MemoryStore) Load(_ context.Context, cache model.CacheID, keyID string) (any, bool, error) {
	s.mu.RLock()
	rec, ok := s.records[cache][keyID]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	v, err := DecodeValue(rec.data)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Store writes a value
func (s *MemoryStore) Store(_ context.Context, cache model.CacheID, keyID string, key, val any) error {
	data, err := EncodeValue(val)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[cache]
	if !ok {
		m = make(map[string]memoryRecord)
		s.records[cache] = m
	}
	m[keyID] = memoryRecord{key: key, data: data}
	return nil
}

// Erase removes a value
func (s *MemoryStore) Erase(_ context.Context, cache model.CacheID, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[cache], keyID)
	return nil
}

// Len returns the number of records held for cache
func (s *MemoryStore) Len(cache model.CacheID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[cache])
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
