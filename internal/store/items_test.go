package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/zotwatcher/zotwatcher/internal/zotero"
)

func sampleItem(key string, version int64) *zotero.Item {
	return &zotero.Item{
		Key:         key,
		Version:     version,
		Title:       "Title " + key,
		Abstract:    "Abstract",
		Creators:    []string{"Ada Lovelace"},
		Tags:        []string{"tag1", "tag2"},
		Collections: []string{"C1"},
		Year:        2020,
		DOI:         "10.1/" + key,
		URL:         "https://example.org/" + key,
		Raw:         json.RawMessage(`{"key":"` + key + `"}`),
	}
}

func TestUpsertItem_InsertAndRead(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertItem(ctx, sampleItem("A1", 3), "hash-a1"); err != nil {
		t.Fatalf("UpsertItem() failed: %v", err)
	}

	items, err := s.Items(ctx)
	if err != nil {
		t.Fatalf("Items() failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}

	got := items[0]
	if got.Key != "A1" || got.Version != 3 || got.Title != "Title A1" {
		t.Errorf("item = %+v", got)
	}
	if got.Year != 2020 || got.DOI != "10.1/A1" {
		t.Errorf("scalars = year %d, doi %q", got.Year, got.DOI)
	}
	if len(got.Creators) != 1 || len(got.Tags) != 2 || len(got.Collections) != 1 {
		t.Errorf("lists = %v / %v / %v", got.Creators, got.Tags, got.Collections)
	}
	if string(got.Raw) != `{"key":"A1"}` {
		t.Errorf("Raw = %s", got.Raw)
	}
}

func TestUpsertItem_UpdateByKey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertItem(ctx, sampleItem("A1", 3), "h1"); err != nil {
		t.Fatalf("UpsertItem() failed: %v", err)
	}

	updated := sampleItem("A1", 5)
	updated.Title = "New title"
	updated.Collections = []string{"C2", "C3"}
	if err := s.UpsertItem(ctx, updated, "h2"); err != nil {
		t.Fatalf("UpsertItem() update failed: %v", err)
	}

	items, err := s.Items(ctx)
	if err != nil {
		t.Fatalf("Items() failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("upsert by same key created %d rows", len(items))
	}
	if items[0].Version != 5 || items[0].Title != "New title" {
		t.Errorf("item not overwritten: %+v", items[0])
	}
	if len(items[0].Collections) != 2 {
		t.Errorf("collections = %v", items[0].Collections)
	}
}

func TestRemoveItems(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, key := range []string{"A1", "A2", "A3"} {
		if err := s.UpsertItem(ctx, sampleItem(key, 1), ""); err != nil {
			t.Fatalf("UpsertItem() failed: %v", err)
		}
	}

	// Unknown keys are skipped silently.
	if err := s.RemoveItems(ctx, []string{"A1", "A3", "nope"}); err != nil {
		t.Fatalf("RemoveItems() failed: %v", err)
	}
	if err := s.RemoveItems(ctx, nil); err != nil {
		t.Fatalf("RemoveItems(nil) failed: %v", err)
	}

	items, err := s.Items(ctx)
	if err != nil {
		t.Fatalf("Items() failed: %v", err)
	}
	if len(items) != 1 || items[0].Key != "A2" {
		t.Errorf("remaining items = %v", items)
	}
}

func TestClearItems(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertItem(ctx, sampleItem("A1", 1), ""); err != nil {
		t.Fatalf("UpsertItem() failed: %v", err)
	}
	if err := s.ClearItems(ctx); err != nil {
		t.Fatalf("ClearItems() failed: %v", err)
	}
	if n, _ := s.ItemCount(ctx); n != 0 {
		t.Errorf("count after clear = %d", n)
	}
}

func TestEmbeddings(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertItem(ctx, sampleItem("A1", 1), "h1"); err != nil {
		t.Fatalf("UpsertItem() failed: %v", err)
	}
	if err := s.UpsertItem(ctx, sampleItem("A2", 1), "h2"); err != nil {
		t.Fatalf("UpsertItem() failed: %v", err)
	}

	pending, err := s.ItemsWithoutEmbedding(ctx)
	if err != nil {
		t.Fatalf("ItemsWithoutEmbedding() failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].ContentHash != "h1" {
		t.Errorf("ContentHash = %q", pending[0].ContentHash)
	}

	vec := []byte{1, 2, 3, 4}
	if err := s.SetEmbedding(ctx, "A1", vec); err != nil {
		t.Fatalf("SetEmbedding() failed: %v", err)
	}
	if err := s.SetEmbedding(ctx, "missing", vec); err == nil {
		t.Error("SetEmbedding() on unknown key should fail")
	}

	pending, err = s.ItemsWithoutEmbedding(ctx)
	if err != nil {
		t.Fatalf("ItemsWithoutEmbedding() failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Item.Key != "A2" {
		t.Errorf("pending after SetEmbedding = %+v", pending)
	}

	all, err := s.AllEmbeddings(ctx)
	if err != nil {
		t.Fatalf("AllEmbeddings() failed: %v", err)
	}
	if len(all) != 1 || all[0].Key != "A1" || len(all[0].Vector) != 4 {
		t.Errorf("embeddings = %+v", all)
	}

	// Upsert rewrites item fields only; the embedding column survives.
	if err := s.UpsertItem(ctx, sampleItem("A1", 2), "h1b"); err != nil {
		t.Fatalf("UpsertItem() failed: %v", err)
	}
	if n, _ := s.EmbeddingCount(ctx); n != 1 {
		t.Errorf("embedding lost on upsert, count = %d", n)
	}
}

func TestItemsInCollections(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := sampleItem("A1", 1)
	a.Collections = []string{"C1", "C2"}
	b := sampleItem("B1", 1)
	b.Collections = []string{"C3"}
	c := sampleItem("D1", 1)
	c.Collections = nil
	for _, item := range []*zotero.Item{a, b, c} {
		if err := s.UpsertItem(ctx, item, ""); err != nil {
			t.Fatalf("UpsertItem() failed: %v", err)
		}
	}

	items, err := s.ItemsInCollections(ctx, []string{"C2", "C9"})
	if err != nil {
		t.Fatalf("ItemsInCollections() failed: %v", err)
	}
	if len(items) != 1 || items[0].Key != "A1" {
		t.Errorf("items = %v", items)
	}

	items, err = s.ItemsInCollections(ctx, nil)
	if err != nil {
		t.Fatalf("ItemsInCollections(nil) failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("empty id list should return nothing, got %d", len(items))
	}
}
