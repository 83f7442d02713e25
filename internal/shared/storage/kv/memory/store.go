// Package memory provides an in-memory kv.Store with an optional byte budget.
// It backs tests and the degraded no-persistence mode.
package memory

import (
	"context"
	"sync"

	"quizzer-backend/internal/shared/storage/kv"
)

// Store is a mutex-guarded map store. A MaxBytes budget of zero means
// unlimited; with a budget set, writes that would push total stored bytes past
// it fail with kv.ErrQuotaExceeded, which lets tests exercise quota handling
// without a real backend.
type Store struct {
	mu       sync.RWMutex
	data     map[string][]byte
	maxBytes int64
}

// New constructs a Store. maxBytes <= 0 disables the budget.
func New(maxBytes int64) *Store {
	return &Store{
		data:     make(map[string][]byte),
		maxBytes: maxBytes,
	}
}

// Get returns a copy of the value for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.data[key]
	if !ok {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Set stores a copy of value under key, enforcing the byte budget.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxBytes > 0 {
		total := int64(len(key) + len(value))
		for k, v := range s.data {
			if k == key {
				continue
			}
			total += int64(len(k) + len(v))
		}
		if total > s.maxBytes {
			return kv.ErrQuotaExceeded
		}
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	return nil
}

// Delete removes key if present.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Keys lists all stored keys.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys, nil
}

var _ kv.Store = (*Store)(nil)
