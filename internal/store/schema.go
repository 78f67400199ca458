package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// migration is one forward-only schema step. Steps must be idempotent:
// re-running an already-applied step against its resulting schema is a
// no-op, which lets a database created before the schema_version table
// existed be brought under version tracking safely.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{1, "create items and metadata tables", migrateItemsAndMetadata},
	{2, "create collections table", migrateCollections},
}

func migrateItemsAndMetadata(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS items (
		key TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		title TEXT NOT NULL,
		abstract TEXT,
		creators TEXT,
		tags TEXT,
		collections TEXT,
		year INTEGER,
		doi TEXT,
		url TEXT,
		raw_json TEXT NOT NULL,
		content_hash TEXT,
		embedding BLOB,
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_version ON items(version);
	CREATE INDEX IF NOT EXISTS idx_items_embedding ON items(key) WHERE embedding IS NULL;
	`)
	return err
}

func migrateCollections(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS collections (
		key TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		parent_key TEXT,
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE INDEX IF NOT EXISTS idx_collections_parent ON collections(parent_key);
	`)
	return err
}

// Init brings the schema up to date. Safe to call on every run.
//
// Databases written by pre-versioning releases (an items table without a
// version column) are migrated in place: the old table is renamed, the
// current schema created, every same-named column copied forward, and
// defaults supplied for the rest (version 0, empty membership). If that
// copy fails the old data is dropped and an empty schema recreated; an
// unusable store is worse than a re-syncable one, and the remote remains
// the source of truth.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	if current == 0 {
		legacy, err := s.detectLegacySchema(ctx)
		if err != nil {
			return err
		}
		if legacy {
			if err := s.migrateLegacy(ctx); err != nil {
				return err
			}
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
	}
	defer tx.Rollback()

	if err := m.apply(ctx, tx); err != nil {
		return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version"); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version(version) VALUES(?)", m.version); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
	}
	return nil
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	err := s.conn.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

// detectLegacySchema reports whether an items table from a pre-versioning
// release is present: the table exists but lacks the version column.
func (s *Store) detectLegacySchema(ctx context.Context) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='items'").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	columns, err := s.tableColumns(ctx, "items")
	if err != nil {
		return false, err
	}
	for _, col := range columns {
		if col == "version" {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) tableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &primaryKey); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// itemColumns is the full column list of the current items table, used to
// build the legacy copy-forward statement.
var itemColumns = []string{
	"key", "version", "title", "abstract", "creators", "tags", "collections",
	"year", "doi", "url", "raw_json", "content_hash", "embedding", "updated_at",
}

func (s *Store) migrateLegacy(ctx context.Context) error {
	s.logger.Printf("WARNING: pre-versioning database schema detected, migrating in place")

	oldColumns, err := s.tableColumns(ctx, "items")
	if err != nil {
		return err
	}
	oldSet := make(map[string]struct{}, len(oldColumns))
	for _, col := range oldColumns {
		oldSet[col] = struct{}{}
	}

	if _, err := s.conn.ExecContext(ctx, "ALTER TABLE items RENAME TO items_legacy"); err != nil {
		return fmt.Errorf("failed to rename legacy items table: %w", err)
	}

	copyForward := func() error {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := migrateItemsAndMetadata(ctx, tx); err != nil {
			return err
		}

		selects := make([]string, len(itemColumns))
		for i, col := range itemColumns {
			switch {
			case col == "version":
				selects[i] = "0"
			case col == "collections" || col == "creators" || col == "tags":
				if _, ok := oldSet[col]; ok {
					selects[i] = col
				} else {
					selects[i] = "'[]'"
				}
			case col == "raw_json":
				if _, ok := oldSet[col]; ok {
					selects[i] = col
				} else {
					selects[i] = "'{}'"
				}
			case col == "updated_at":
				if _, ok := oldSet[col]; ok {
					selects[i] = col
				} else {
					selects[i] = "datetime('now')"
				}
			default:
				if _, ok := oldSet[col]; ok {
					selects[i] = col
				} else {
					selects[i] = "NULL"
				}
			}
		}

		copySQL := fmt.Sprintf("INSERT INTO items (%s) SELECT %s FROM items_legacy",
			strings.Join(itemColumns, ", "), strings.Join(selects, ", "))
		if _, err := tx.ExecContext(ctx, copySQL); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DROP TABLE items_legacy"); err != nil {
			return err
		}
		return tx.Commit()
	}

	if err := copyForward(); err != nil {
		// Availability over old data: recreate an empty schema rather
		// than leave the store unusable. The next full sync rebuilds it.
		s.logger.Printf("WARNING: legacy migration failed (%v), dropping old data and starting fresh", err)
		if _, dropErr := s.conn.ExecContext(ctx, "DROP TABLE IF EXISTS items_legacy"); dropErr != nil {
			return fmt.Errorf("failed to drop legacy table after migration failure: %w", dropErr)
		}
		if _, dropErr := s.conn.ExecContext(ctx, "DROP TABLE IF EXISTS items"); dropErr != nil {
			return fmt.Errorf("failed to reset items table after migration failure: %w", dropErr)
		}
		return nil
	}

	s.logger.Printf("Legacy schema migration completed")
	return nil
}
