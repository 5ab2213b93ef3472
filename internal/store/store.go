// Package store owns the core catalogue database: users, sessions, and
// the schema migrations that shape them. Everything here is
// host-privileged; pack code reaches user data only through the sandbox
// façade, which projects away credentials before anything leaves.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pressly/goose/v3"
)

// DBFileName is the core database file under the data directory.
const DBFileName = "parlor.db"

// Connect opens the core database under dataDir and brings the schema up
// to date. The pragmas favor durability over raw speed; the catalogue is
// small and the write rate is low.
func Connect(ctx context.Context, dataDir string) (*sql.DB, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data dir is not set")
	}
	dbPath := filepath.Join(dataDir, DBFileName)

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-8000", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Pragmas that can't ride in the DSN.
	if _, err := db.ExecContext(ctx, "PRAGMA page_size = 4096; PRAGMA secure_delete = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	goose.SetBaseFS(FS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return db, nil
}

// Store wraps the core handle with host-privileged accessors.
type Store struct {
	db *sql.DB
}

// New wraps an already-connected core database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open is Connect plus New in one step.
func Open(ctx context.Context, dataDir string) (*Store, error) {
	db, err := Connect(ctx, dataDir)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// DB exposes the raw handle. It exists so the sandbox façade can be bound
// to the same connection; never hand it to pack code.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}
