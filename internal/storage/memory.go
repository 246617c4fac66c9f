package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// MemoryStore is an in-memory Store used for tests and ephemeral sessions
type MemoryStore struct {
	data   map[string][]byte
	mu     sync.RWMutex
	logger *zap.Logger

	// FailWith, when set, is returned by every operation to simulate storage errors
	FailWith error
	// FailWrites fails Set and Delete for the listed keys; reads still succeed
	FailWrites map[string]error
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		data:   make(map[string][]byte),
		logger: logger,
	}
}

// Get returns a copy of the value stored under key
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.FailWith != nil {
		return nil, s.FailWith
	}

	value, exists := s.data[key]
	if !exists {
		return nil, ErrKeyNotFound
	}

	return bytes.Clone(value), nil
}

// Set stores a copy of value under key
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return s.FailWith
	}
	if err := s.FailWrites[key]; err != nil {
		return err
	}

	s.data[key] = bytes.Clone(value)
	s.logger.Debug("memory store: value set",
		zap.String("key", key),
		zap.Int("size_bytes", len(value)),
	)

	return nil
}

// Delete removes key; deleting an absent key is not an error
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return s.FailWith
	}
	if err := s.FailWrites[key]; err != nil {
		return err
	}

	delete(s.data, key)
	return nil
}

// Clear removes all data from the store
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string][]byte)
}

// Keys returns all stored keys in sorted order
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}
