package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zotwatcher/zotwatcher/internal/zotero"
)

// UpsertItem inserts or updates an item by key. All fields are
// overwritten and the update timestamp refreshed; the conflict path is
// taken automatically, so re-upserting an unchanged item is harmless.
func (s *Store) UpsertItem(ctx context.Context, item *zotero.Item, contentHash string) error {
	if item.Key == "" {
		return fmt.Errorf("item has no key")
	}

	creators, err := json.Marshal(sliceOrEmpty(item.Creators))
	if err != nil {
		return fmt.Errorf("failed to marshal creators: %w", err)
	}
	tags, err := json.Marshal(sliceOrEmpty(item.Tags))
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	collections, err := json.Marshal(sliceOrEmpty(item.Collections))
	if err != nil {
		return fmt.Errorf("failed to marshal collections: %w", err)
	}
	raw := item.Raw
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	query := `
	INSERT INTO items (
		key, version, title, abstract, creators, tags, collections,
		year, doi, url, raw_json, content_hash, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
	ON CONFLICT(key) DO UPDATE SET
		version = excluded.version,
		title = excluded.title,
		abstract = excluded.abstract,
		creators = excluded.creators,
		tags = excluded.tags,
		collections = excluded.collections,
		year = excluded.year,
		doi = excluded.doi,
		url = excluded.url,
		raw_json = excluded.raw_json,
		content_hash = excluded.content_hash,
		updated_at = datetime('now')
	`

	_, err = s.conn.ExecContext(ctx, query,
		item.Key,
		item.Version,
		item.Title,
		nullString(item.Abstract),
		string(creators),
		string(tags),
		string(collections),
		nullInt(item.Year),
		nullString(item.DOI),
		nullString(item.URL),
		string(raw),
		nullString(contentHash),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.Key, err)
	}
	return nil
}

// RemoveItems deletes the given keys. Unknown keys are silently skipped.
func (s *Store) RemoveItems(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	_, err := s.conn.ExecContext(ctx,
		"DELETE FROM items WHERE key IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to remove items: %w", err)
	}
	return nil
}

// ClearItems deletes every stored item. Used when a full resync runs with
// an active collection filter, so items that no longer pass the filter do
// not survive from earlier runs.
func (s *Store) ClearItems(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM items"); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}
	return nil
}

// SetEmbedding attaches a computed vector to an existing item. The item's
// version and content hash are left untouched.
func (s *Store) SetEmbedding(ctx context.Context, key string, vector []byte) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE items SET embedding = ?, updated_at = datetime('now') WHERE key = ?",
		vector, key)
	if err != nil {
		return fmt.Errorf("failed to set embedding for %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no item with key %s", key)
	}
	return nil
}

const itemSelectColumns = `key, version, title, abstract, creators, tags, collections,
	year, doi, url, raw_json`

// Items returns every stored item.
func (s *Store) Items(ctx context.Context) ([]*zotero.Item, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT "+itemSelectColumns+" FROM items ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// PendingItem is an item awaiting vectorization, paired with the content
// hash the embedding should be computed against.
type PendingItem struct {
	Item        *zotero.Item
	ContentHash string
}

// ItemsWithoutEmbedding returns items whose embedding has not been
// computed yet, oldest update first.
func (s *Store) ItemsWithoutEmbedding(ctx context.Context) ([]PendingItem, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT "+itemSelectColumns+", content_hash FROM items WHERE embedding IS NULL ORDER BY updated_at ASC, key ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query items without embedding: %w", err)
	}
	defer rows.Close()

	var pending []PendingItem
	for rows.Next() {
		item, hash, err := scanItemRow(rows, true)
		if err != nil {
			return nil, err
		}
		pending = append(pending, PendingItem{Item: item, ContentHash: hash})
	}
	return pending, rows.Err()
}

// Embedding pairs an item key with its stored vector blob.
type Embedding struct {
	Key    string
	Vector []byte
}

// AllEmbeddings returns every computed embedding.
func (s *Store) AllEmbeddings(ctx context.Context) ([]Embedding, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT key, embedding FROM items WHERE embedding IS NOT NULL ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var embeddings []Embedding
	for rows.Next() {
		var e Embedding
		if err := rows.Scan(&e.Key, &e.Vector); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		embeddings = append(embeddings, e)
	}
	return embeddings, rows.Err()
}

// ItemsInCollections returns items whose membership intersects the given
// collection keys. Membership is stored as a JSON array, so the match
// goes through json_each.
func (s *Store) ItemsInCollections(ctx context.Context, collectionIDs []string) ([]*zotero.Item, error) {
	if len(collectionIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(collectionIDs)), ",")
	args := make([]any, len(collectionIDs))
	for i, id := range collectionIDs {
		args[i] = id
	}

	query := "SELECT " + itemSelectColumns + ` FROM items
	WHERE EXISTS (
		SELECT 1 FROM json_each(items.collections)
		WHERE json_each.value IN (` + placeholders + `)
	)
	ORDER BY key`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items by collection: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]*zotero.Item, error) {
	var items []*zotero.Item
	for rows.Next() {
		item, _, err := scanItemRow(rows, false)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// scanItemRow scans one row of itemSelectColumns, optionally followed by
// content_hash when withHash is set.
func scanItemRow(rows *sql.Rows, withHash bool) (*zotero.Item, string, error) {
	var item zotero.Item
	var abstract, doi, url, raw sql.NullString
	var creators, tags, collections sql.NullString
	var year sql.NullInt64
	var contentHash sql.NullString

	dest := []any{
		&item.Key, &item.Version, &item.Title, &abstract,
		&creators, &tags, &collections,
		&year, &doi, &url, &raw,
	}
	if withHash {
		dest = append(dest, &contentHash)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, "", fmt.Errorf("failed to scan item: %w", err)
	}

	item.Abstract = abstract.String
	item.DOI = doi.String
	item.URL = url.String
	if year.Valid {
		item.Year = int(year.Int64)
	}
	if raw.Valid && raw.String != "" {
		item.Raw = json.RawMessage(raw.String)
	}

	for _, field := range []struct {
		src  sql.NullString
		dest *[]string
	}{
		{creators, &item.Creators},
		{tags, &item.Tags},
		{collections, &item.Collections},
	} {
		if !field.src.Valid || field.src.String == "" {
			*field.dest = []string{}
			continue
		}
		if err := json.Unmarshal([]byte(field.src.String), field.dest); err != nil {
			return nil, "", fmt.Errorf("failed to unmarshal item %s list field: %w", item.Key, err)
		}
	}

	return &item, contentHash.String, nil
}

func sliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
