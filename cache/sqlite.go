package cache

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"

	_ "modernc.org/sqlite"
)

// namespacePattern limits table names derived from namespaces to safe
// identifiers.
var namespacePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// SQLiteStore is a durable Store on an embedded SQLite database. Each
// namespace gets its own table, so several caches can share one file.
type SQLiteStore struct {
	db    *sql.DB
	table string

	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// bootstraps the table for namespace.
func NewSQLiteStore(path, namespace string) (*SQLiteStore, error) {
	if !namespacePattern.MatchString(namespace) {
		return nil, fmt.Errorf("cache: invalid namespace %q", namespace)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	// WAL mode for concurrent readers during the background writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	table := "cache_" + namespace
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			stored_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`, table)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}

	return &SQLiteStore{db: db, table: table}, nil
}

// Get returns the value stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.isClosed() {
		return nil, false, ErrClosed
	}

	query := fmt.Sprintf("SELECT value FROM %s WHERE key = ?", s.table)
	var value []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache record: %w", err)
	}
	return value, true, nil
}

// Put stores value under key, replacing any previous value.
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	if s.isClosed() {
		return ErrClosed
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, stored_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, stored_at = excluded.stored_at
	`, s.table)
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to put cache record: %w", err)
	}
	return nil
}

// GetAll returns every stored record.
func (s *SQLiteStore) GetAll(ctx context.Context) (map[string][]byte, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	query := fmt.Sprintf("SELECT key, value FROM %s", s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache table: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan cache row: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cache rows: %w", err)
	}
	return out, nil
}

// Clear removes every stored record.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	query := fmt.Sprintf("DELETE FROM %s", s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to clear cache table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
