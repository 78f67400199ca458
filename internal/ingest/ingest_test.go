package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"

	"github.com/zotwatcher/zotwatcher/internal/filter"
	"github.com/zotwatcher/zotwatcher/internal/store"
	"github.com/zotwatcher/zotwatcher/internal/zotero"
)

// fakeRemote is an httptest-backed stand-in for the library server. It
// serves a fixed set of items and collections at a fixed library version
// and honors version-conditional item requests with 304.
type fakeRemote struct {
	version     int64
	items       []fakeItem
	collections []fakeColl
	deleted     []string
	itemsStatus int // non-zero forces this status on /items

	server *httptest.Server
}

type fakeItem struct {
	key         string
	title       string
	collections []string
}

type fakeColl struct {
	key    string
	name   string
	parent string
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	f := &fakeRemote{}
	mux := http.NewServeMux()
	mux.HandleFunc("/users/u1/items", f.handleItems)
	mux.HandleFunc("/users/u1/collections", f.handleCollections)
	mux.HandleFunc("/users/u1/deleted", f.handleDeleted)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRemote) handleItems(w http.ResponseWriter, r *http.Request) {
	if f.itemsStatus != 0 {
		w.WriteHeader(f.itemsStatus)
		return
	}
	if h := r.Header.Get("If-Modified-Since-Version"); h != "" {
		since, _ := strconv.ParseInt(h, 10, 64)
		if f.version <= since {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	records := make([]json.RawMessage, 0, len(f.items))
	for _, item := range f.items {
		colls, _ := json.Marshal(item.collections)
		rec := fmt.Sprintf(
			`{"key":%q,"version":%d,"data":{"key":%q,"title":%q,"collections":%s,"tags":[],"creators":[]}}`,
			item.key, f.version, item.key, item.title, colls)
		records = append(records, json.RawMessage(rec))
	}
	w.Header().Set("Last-Modified-Version", strconv.FormatInt(f.version, 10))
	_ = json.NewEncoder(w).Encode(records)
}

func (f *fakeRemote) handleCollections(w http.ResponseWriter, r *http.Request) {
	records := make([]json.RawMessage, 0, len(f.collections))
	for _, coll := range f.collections {
		parent := "false"
		if coll.parent != "" {
			parent = strconv.Quote(coll.parent)
		}
		rec := fmt.Sprintf(`{"data":{"key":%q,"name":%q,"parentCollection":%s}}`,
			coll.key, coll.name, parent)
		records = append(records, json.RawMessage(rec))
	}
	_ = json.NewEncoder(w).Encode(records)
}

func (f *fakeRemote) handleDeleted(w http.ResponseWriter, r *http.Request) {
	keys := f.deleted
	if keys == nil {
		keys = []string{}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"items": keys})
}

func testIngestor(t *testing.T, remote *fakeRemote, filterCfg filter.Config) (*Ingestor, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	quiet := log.New(io.Discard, "", 0)
	st.SetLogger(quiet)

	client := zotero.New(zotero.Config{
		APIKey:  "k",
		UserID:  "u1",
		BaseURL: remote.server.URL,
		Logger:  quiet,
	})
	return New(st, client, filterCfg, quiet), st
}

func TestRun_IncrementalScenario(t *testing.T) {
	remote := newFakeRemote(t)
	remote.version = 7
	remote.collections = []fakeColl{
		{key: "1", name: "Bio"},
		{key: "2", name: "SingleCell", parent: "1"},
	}
	remote.items = []fakeItem{
		{key: "I1", title: "in child", collections: []string{"2"}},
		{key: "I2", title: "in root", collections: []string{"1"}},
		{key: "I3", title: "elsewhere", collections: []string{"X"}},
	}

	cfg := filter.Config{IDs: []string{"1"}, IncludeChildren: true}
	ingestor, st := testIngestor(t, remote, cfg)
	ctx := context.Background()

	if err := st.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if err := st.SetLastModifiedVersion(ctx, 5); err != nil {
		t.Fatalf("SetLastModifiedVersion() failed: %v", err)
	}

	stats, err := ingestor.Run(ctx, false)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	want := &Stats{Fetched: 2, Updated: 2, Removed: 0, Filtered: 1, LastModifiedVersion: 7}
	if !reflect.DeepEqual(stats, want) {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	cursor, err := st.LastModifiedVersion(ctx)
	if err != nil {
		t.Fatalf("LastModifiedVersion() failed: %v", err)
	}
	if cursor != 7 {
		t.Errorf("cursor = %d, want 7", cursor)
	}

	items, err := st.Items(ctx)
	if err != nil {
		t.Fatalf("Items() failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("stored %d items, want 2", len(items))
	}
}

func TestRun_FullSyncTwiceIsIdempotent(t *testing.T) {
	remote := newFakeRemote(t)
	remote.version = 12
	remote.items = []fakeItem{
		{key: "A", title: "alpha"},
		{key: "B", title: "beta"},
	}

	ingestor, st := testIngestor(t, remote, filter.Config{})
	ctx := context.Background()

	if _, err := ingestor.Run(ctx, true); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}
	first, err := st.Items(ctx)
	if err != nil {
		t.Fatalf("Items() failed: %v", err)
	}
	firstCursor, _ := st.LastModifiedVersion(ctx)

	if _, err := ingestor.Run(ctx, true); err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}
	second, err := st.Items(ctx)
	if err != nil {
		t.Fatalf("Items() failed: %v", err)
	}
	secondCursor, _ := st.LastModifiedVersion(ctx)

	if len(first) != 2 || !reflect.DeepEqual(first, second) {
		t.Errorf("stored items differ between identical full syncs")
	}
	if firstCursor != 12 || secondCursor != 12 {
		t.Errorf("cursors = %d, %d; want 12, 12", firstCursor, secondCursor)
	}
}

func TestRun_TombstoneRemoval(t *testing.T) {
	remote := newFakeRemote(t)
	remote.version = 9
	remote.items = []fakeItem{{key: "X1", title: "doomed"}, {key: "X2", title: "kept"}}

	ingestor, st := testIngestor(t, remote, filter.Config{})
	ctx := context.Background()

	if _, err := ingestor.Run(ctx, true); err != nil {
		t.Fatalf("seed Run() failed: %v", err)
	}

	// The remote reports no item changes but a tombstone for X1.
	remote.deleted = []string{"X1"}
	stats, err := ingestor.Run(ctx, false)
	if err != nil {
		t.Fatalf("incremental Run() failed: %v", err)
	}
	if stats.Fetched != 0 || stats.Removed != 1 {
		t.Errorf("stats = %+v, want fetched 0 removed 1", stats)
	}

	items, err := st.Items(ctx)
	if err != nil {
		t.Fatalf("Items() failed: %v", err)
	}
	if len(items) != 1 || items[0].Key != "X2" {
		t.Errorf("remaining items = %v", items)
	}

	// Nothing was fetched, so the cursor must not move.
	cursor, _ := st.LastModifiedVersion(ctx)
	if cursor != 9 {
		t.Errorf("cursor = %d, want 9", cursor)
	}
}

func TestRun_FullWithFilterClearsStale(t *testing.T) {
	remote := newFakeRemote(t)
	remote.version = 4
	remote.collections = []fakeColl{{key: "1", name: "Bio"}}
	remote.items = []fakeItem{{key: "NEW", title: "kept", collections: []string{"1"}}}

	cfg := filter.Config{IDs: []string{"1"}}
	ingestor, st := testIngestor(t, remote, cfg)
	ctx := context.Background()

	// A stale item from an earlier, unfiltered run.
	if err := st.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	stale := &zotero.Item{Key: "STALE", Version: 1, Title: "old"}
	if err := st.UpsertItem(ctx, stale, ""); err != nil {
		t.Fatalf("UpsertItem() failed: %v", err)
	}

	if _, err := ingestor.Run(ctx, true); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	items, err := st.Items(ctx)
	if err != nil {
		t.Fatalf("Items() failed: %v", err)
	}
	if len(items) != 1 || items[0].Key != "NEW" {
		t.Errorf("items after filtered full sync = %v", items)
	}
}

func TestRun_RemoteErrorAborts(t *testing.T) {
	remote := newFakeRemote(t)
	remote.version = 3
	remote.itemsStatus = http.StatusInternalServerError

	ingestor, st := testIngestor(t, remote, filter.Config{})
	ctx := context.Background()

	if _, err := ingestor.Run(ctx, true); err == nil {
		t.Fatal("Run() should fail on remote 500")
	}

	// The cursor must not advance on an aborted run.
	cursor, err := st.LastModifiedVersion(ctx)
	if err != nil {
		t.Fatalf("LastModifiedVersion() failed: %v", err)
	}
	if cursor != 0 {
		t.Errorf("cursor = %d, want 0", cursor)
	}
}

func TestRun_UpToDateLeavesCursor(t *testing.T) {
	remote := newFakeRemote(t)
	remote.version = 6
	remote.items = []fakeItem{{key: "A", title: "alpha"}}

	ingestor, st := testIngestor(t, remote, filter.Config{})
	ctx := context.Background()

	if _, err := ingestor.Run(ctx, true); err != nil {
		t.Fatalf("seed Run() failed: %v", err)
	}

	stats, err := ingestor.Run(ctx, false)
	if err != nil {
		t.Fatalf("up-to-date Run() failed: %v", err)
	}
	if stats.Fetched != 0 || stats.Updated != 0 || stats.Removed != 0 {
		t.Errorf("stats = %+v, want all zero", stats)
	}
	if cursor, _ := st.LastModifiedVersion(ctx); cursor != 6 {
		t.Errorf("cursor = %d, want 6", cursor)
	}
}
