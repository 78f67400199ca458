package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zotwatcher/zotwatcher/internal/zotero"
)

// SaveCollections replaces the stored collection forest wholesale. The
// remote is authoritative for collections and does not track their
// deletions individually, so delete-all-then-insert is the only way to
// drop vanished nodes.
func (s *Store) SaveCollections(ctx context.Context, tree map[string]*zotero.Collection) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin collections transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM collections"); err != nil {
		return fmt.Errorf("failed to clear collections: %w", err)
	}
	for _, coll := range tree {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO collections(key, name, parent_key) VALUES(?, ?, ?)",
			coll.Key, coll.Name, nullString(coll.ParentKey))
		if err != nil {
			return fmt.Errorf("failed to insert collection %s: %w", coll.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit collections: %w", err)
	}
	return nil
}

// LoadCollections returns the stored collection forest keyed by
// collection key.
func (s *Store) LoadCollections(ctx context.Context) (map[string]*zotero.Collection, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT key, name, parent_key FROM collections")
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}
	defer rows.Close()

	tree := make(map[string]*zotero.Collection)
	for rows.Next() {
		var (
			coll   zotero.Collection
			parent sql.NullString
		)
		if err := rows.Scan(&coll.Key, &coll.Name, &parent); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		coll.ParentKey = parent.String
		tree[coll.Key] = &coll
	}
	return tree, rows.Err()
}
