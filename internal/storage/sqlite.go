package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	// Pure Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path string
	sqlStore
}

// NewSQLiteStorage creates a new SQLite storage.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{
		path:     path,
		sqlStore: sqlStore{d: dialect{name: "sqlite"}},
	}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	if s.path == "" {
		return fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database dir: %w", err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	dsn := "file:" + s.path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	s.db = db
	return nil
}
