package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openmined/policykit/internal/filelock"
)

// FileStore is a durable store that keeps one JSON document per namespace
// under a root directory. Writes are atomic (temp file + rename) and guarded
// by a flock lock so multiple processes can share the same directory.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore creates (if necessary) the root directory and returns a
// store over it.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

// namespacePath maps a namespace to its JSON file. Namespace names contain
// characters like ':' that are unsafe in filenames, so anything outside
// [A-Za-z0-9._-] is replaced.
func (s *FileStore) namespacePath(namespace string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, namespace)
	return filepath.Join(s.root, sanitized+".json")
}

// readNamespace loads a namespace document. A missing file is an empty
// namespace, not an error.
func (s *FileStore) readNamespace(namespace string) (map[string]map[string]any, error) {
	path := s.namespacePath(namespace)

	lock := filelock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, &Error{Op: "read", Detail: namespace, Err: err}
	}
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]map[string]any{}, nil
	}
	if err != nil {
		return nil, &Error{Op: "read", Detail: namespace, Err: err}
	}

	entries := map[string]map[string]any{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &Error{Op: "read", Detail: "decode " + path, Err: err}
	}
	return entries, nil
}

// writeNamespace persists a namespace document atomically under lock.
func (s *FileStore) writeNamespace(namespace string, entries map[string]map[string]any) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return &Error{Op: "write", Detail: "encode " + namespace, Err: err}
	}
	if err := filelock.LockAndWrite(s.namespacePath(namespace), data); err != nil {
		return &Error{Op: "write", Detail: namespace, Err: err}
	}
	return nil
}

// Get returns the stored value, or (nil, nil) if not found.
func (s *FileStore) Get(_ context.Context, namespace, key string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readNamespace(namespace)
	if err != nil {
		return nil, err
	}
	value, ok := entries[key]
	if !ok {
		return nil, nil
	}
	return value, nil
}

// Set creates or overwrites a value.
func (s *FileStore) Set(_ context.Context, namespace, key string, value map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readNamespace(namespace)
	if err != nil {
		return err
	}
	entries[key] = value
	return s.writeNamespace(namespace, entries)
}

// Delete removes a value. No-op if the key does not exist.
func (s *FileStore) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readNamespace(namespace)
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return s.writeNamespace(namespace, entries)
}

// ListKeys returns all keys within a namespace.
func (s *FileStore) ListKeys(_ context.Context, namespace string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readNamespace(namespace)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	return keys, nil
}

// Exists reports whether the key exists in the namespace.
func (s *FileStore) Exists(_ context.Context, namespace, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readNamespace(namespace)
	if err != nil {
		return false, err
	}
	_, ok := entries[key]
	return ok, nil
}

// ClearNamespace deletes all keys within a namespace.
func (s *FileStore) ClearNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.namespacePath(namespace)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &Error{Op: "clear_namespace", Detail: namespace, Err: err}
	}
	os.Remove(path + ".lock")
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}
