package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS policy_store (
    namespace TEXT NOT NULL,
    key       TEXT NOT NULL,
    value     TEXT NOT NULL,
    PRIMARY KEY (namespace, key)
)`

// SQLiteStore is a durable store backed by a single SQLite file.
// Values are persisted as JSON TEXT.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (creating if necessary) the database at dbPath and
// initializes the schema. Use ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		// Ensure parent directory exists for file-based databases
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Configure SQLite for concurrent access. busy_timeout must be set
	// first so subsequent operations wait on locks instead of failing.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := execWithRetry(db, createTableSQL, 5, 10*time.Millisecond); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// execWithRetry executes a SQL statement with exponential backoff retry on
// "database is locked" errors that can occur during concurrent
// initialization of the same database file.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return lastErr
}

// Get returns the stored value, or (nil, nil) if not found.
func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM policy_store WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "get", Detail: namespace + "/" + key, Err: err}
	}

	var value map[string]any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, &Error{Op: "get", Detail: "decode stored value", Err: err}
	}
	return value, nil
}

// Set creates or overwrites a value.
func (s *SQLiteStore) Set(ctx context.Context, namespace, key string, value map[string]any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &Error{Op: "set", Detail: "encode value", Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO policy_store (namespace, key, value) VALUES (?, ?, ?)",
		namespace, key, string(raw),
	)
	if err != nil {
		return &Error{Op: "set", Detail: namespace + "/" + key, Err: err}
	}
	return nil
}

// Delete removes a value. No-op if the key does not exist.
func (s *SQLiteStore) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM policy_store WHERE namespace = ? AND key = ?",
		namespace, key,
	)
	if err != nil {
		return &Error{Op: "delete", Detail: namespace + "/" + key, Err: err}
	}
	return nil
}

// ListKeys returns all keys within a namespace.
func (s *SQLiteStore) ListKeys(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM policy_store WHERE namespace = ?",
		namespace,
	)
	if err != nil {
		return nil, &Error{Op: "list_keys", Detail: namespace, Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, &Error{Op: "list_keys", Detail: namespace, Err: err}
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "list_keys", Detail: namespace, Err: err}
	}
	return keys, nil
}

// Exists reports whether the key exists in the namespace.
func (s *SQLiteStore) Exists(ctx context.Context, namespace, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM policy_store WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &Error{Op: "exists", Detail: namespace + "/" + key, Err: err}
	}
	return true, nil
}

// ClearNamespace deletes all keys within a namespace.
func (s *SQLiteStore) ClearNamespace(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM policy_store WHERE namespace = ?",
		namespace,
	)
	if err != nil {
		return &Error{Op: "clear_namespace", Detail: namespace, Err: err}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path the store was opened with.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}
