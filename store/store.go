// Package store provides generic key-value persistence for policy state.
//
// Policies each manage their own namespace (e.g. "rate_limit:standard").
// A store is agnostic to what is being stored: it persists JSON-shaped
// map[string]any blobs keyed by (namespace, key). All implementations are
// safe for concurrent use.
package store

import (
	"context"
	"fmt"
)

// Store is the interface all storage backends implement.
type Store interface {
	// Get returns the stored value, or (nil, nil) if the key does not exist.
	Get(ctx context.Context, namespace, key string) (map[string]any, error)

	// Set creates or overwrites a value.
	Set(ctx context.Context, namespace, key string, value map[string]any) error

	// Delete removes a value. It is a no-op if the key does not exist.
	Delete(ctx context.Context, namespace, key string) error

	// ListKeys returns all keys within a namespace.
	ListKeys(ctx context.Context, namespace string) ([]string, error)

	// Exists reports whether the key exists in the namespace.
	Exists(ctx context.Context, namespace, key string) (bool, error)

	// ClearNamespace deletes all keys within a namespace.
	ClearNamespace(ctx context.Context, namespace string) error

	// Close releases any resources held by the store.
	Close() error
}

// Error describes a failed store operation.
type Error struct {
	Op     string // Operation that failed (get, set, delete, ...)
	Detail string // Human-readable detail
	Err    error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("store error during '%s'", e.Op)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Backend type strings accepted by Open.
const (
	TypeMemory = "memory"
	TypeSQLite = "sqlite"
	TypeFile   = "file"
)

// Config selects and configures a storage backend.
type Config struct {
	// Type is the backend type: memory, sqlite, or file.
	Type string `yaml:"type" json:"type"`

	// Path is the database file (sqlite) or root directory (file).
	// Unused by the memory backend.
	Path string `yaml:"path" json:"path"`
}

// Open builds a store from configuration. An empty type defaults to memory.
func Open(cfg Config) (Store, error) {
	switch cfg.Type {
	case "", TypeMemory:
		return NewMemoryStore(), nil
	case TypeSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite store requires 'path' configuration")
		}
		return NewSQLiteStore(cfg.Path)
	case TypeFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file store requires 'path' configuration")
		}
		return NewFileStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store type: %q (supported: memory, sqlite, file)", cfg.Type)
	}
}
