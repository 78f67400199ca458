// Package store persists the local library mirror in a single SQLite
// database: items, the collection forest, and sync metadata such as the
// last-modified-version cursor.
//
// The database runs embedded via ncruces/go-sqlite3 with WAL mode for
// concurrent reads. All writes are idempotent: upserts overwrite by key,
// deletes are no-ops for unknown keys, so an aborted sync run can safely
// be replayed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// metaLastModifiedVersion is the metadata key holding the sync cursor.
const metaLastModifiedVersion = "last_modified_version"

// Store wraps the SQLite connection holding the local mirror.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// Open creates a connection to the database at path, creating the parent
// directory and file as needed. The caller MUST call Close() when done.
// Call Init before any other operation to ensure the schema is current.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Single writer; a couple of idle connections cover readers.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:   conn,
		path:   path,
		logger: log.New(os.Stderr, "[store] ", log.LstdFlags),
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	return s, nil
}

// SetLogger replaces the logger used for migration and recovery warnings.
func (s *Store) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("WARNING: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// Metadata returns the value stored under key, or "" when absent.
func (s *Store) Metadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read metadata %q: %w", key, err)
	}
	return value, nil
}

// SetMetadata stores value under key, replacing any prior value.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO metadata(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write metadata %q: %w", key, err)
	}
	return nil
}

// LastModifiedVersion returns the durable sync cursor: the highest
// library version fully absorbed by a prior run. Zero means no run has
// completed yet (library versions start at 1).
func (s *Store) LastModifiedVersion(ctx context.Context) (int64, error) {
	value, err := s.Metadata(ctx, metaLastModifiedVersion)
	if err != nil || value == "" {
		return 0, err
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt %s value %q: %w", metaLastModifiedVersion, value, err)
	}
	return v, nil
}

// SetLastModifiedVersion persists the sync cursor.
func (s *Store) SetLastModifiedVersion(ctx context.Context, version int64) error {
	return s.SetMetadata(ctx, metaLastModifiedVersion, strconv.FormatInt(version, 10))
}

// ItemCount returns the number of stored items.
func (s *Store) ItemCount(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM items")
}

// CollectionCount returns the number of stored collections.
func (s *Store) CollectionCount(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM collections")
}

// EmbeddingCount returns the number of items with a computed embedding.
func (s *Store) EmbeddingCount(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM items WHERE embedding IS NOT NULL")
}

func (s *Store) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count query failed: %w", err)
	}
	return n, nil
}
