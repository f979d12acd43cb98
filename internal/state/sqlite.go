// Package state persists the catalog using SQLite. It is the sole owner and
// writer of entity rows: entities enter via ApplyChangeSet and leave only by
// retirement, never by deletion.
package state

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/leapstack-labs/catsync/pkg/core"
)

// SQLiteStore implements core.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite catalog store instance.
// If logger is nil, a discard logger is used.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// Open opens a connection to the SQLite database.
// Use ":memory:" for an in-memory catalog.
func (s *SQLiteStore) Open(path string) error {
	// Enable foreign keys; WAL keeps readers unblocked during applies.
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	} else {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open catalog database: %w", err)
	}

	// Every pooled connection to :memory: would get its own database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping catalog database: %w", err)
	}

	s.db = db
	s.path = path
	return nil
}

// Close closes the catalog database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// nullableString returns nil for empty strings so they store as NULL.
func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// boolToInt converts a bool for SQLite storage.
func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements the Store interface.
var _ core.Store = (*SQLiteStore)(nil)
