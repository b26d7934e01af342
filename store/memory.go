package store

import (
	"context"
	"sync"
)

// MemoryStore is a zero-config, map-backed store for development and
// testing. Data is lost on process exit.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]map[string]any
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]map[string]any),
	}
}

// Get returns the stored value, or (nil, nil) if not found.
func (s *MemoryStore) Get(_ context.Context, namespace, key string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns, ok := s.data[namespace]
	if !ok {
		return nil, nil
	}
	value, ok := ns[key]
	if !ok {
		return nil, nil
	}
	return value, nil
}

// Set creates or overwrites a value.
func (s *MemoryStore) Set(_ context.Context, namespace, key string, value map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string]map[string]any)
		s.data[namespace] = ns
	}
	ns[key] = value
	return nil
}

// Delete removes a value. No-op if the key does not exist.
func (s *MemoryStore) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ns, ok := s.data[namespace]; ok {
		delete(ns, key)
	}
	return nil
}

// ListKeys returns all keys within a namespace.
func (s *MemoryStore) ListKeys(_ context.Context, namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.data[namespace]
	keys := make([]string, 0, len(ns))
	for key := range ns {
		keys = append(keys, key)
	}
	return keys, nil
}

// Exists reports whether the key exists in the namespace.
func (s *MemoryStore) Exists(_ context.Context, namespace, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns, ok := s.data[namespace]
	if !ok {
		return false, nil
	}
	_, ok = ns[key]
	return ok, nil
}

// ClearNamespace deletes all keys within a namespace.
func (s *MemoryStore) ClearNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, namespace)
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
