package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStorage implements Storage using PostgreSQL through pgx.
type PostgresStorage struct {
	dsn string
	sqlStore
}

// NewPostgresStorage creates a new PostgreSQL storage.
func NewPostgresStorage(dsn string) *PostgresStorage {
	return &PostgresStorage{
		dsn:      dsn,
		sqlStore: sqlStore{d: dialect{name: "postgres", dollar: true}},
	}
}

// Open initializes the connection pool.
func (s *PostgresStorage) Open() error {
	if s.dsn == "" {
		return fmt.Errorf("postgres dsn is required")
	}

	db, err := sql.Open("pgx", s.dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	s.db = db
	return nil
}
