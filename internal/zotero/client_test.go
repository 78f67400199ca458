package zotero

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{
		APIKey:   "secret",
		UserID:   "u1",
		BaseURL:  server.URL,
		PageSize: 2,
		Logger:   log.New(io.Discard, "", 0),
	})
}

func TestListItems_Pagination(t *testing.T) {
	var gotAuth, gotAPIVersion string
	handler := http.NewServeMux()
	handler.HandleFunc("/users/u1/items", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAPIVersion = r.Header.Get("Zotero-API-Version")
		w.Header().Set("Last-Modified-Version", "10")
		if r.URL.Query().Get("start") == "" {
			w.Header().Set("Link",
				fmt.Sprintf(`<http://%s/users/u1/items?start=2>; rel="next", <http://%s/users/u1/items?start=2>; rel="last"`,
					r.Host, r.Host))
			fmt.Fprint(w, `[{"key":"A"},{"key":"B"}]`)
			return
		}
		fmt.Fprint(w, `[{"key":"C"}]`)
	})

	client := testClient(t, handler)

	var pages []*ItemPage
	err := client.ListItems(context.Background(), 0, func(p *ItemPage) error {
		pages = append(pages, p)
		return nil
	})
	if err != nil {
		t.Fatalf("ListItems() failed: %v", err)
	}

	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(pages))
	}
	if len(pages[0].Items) != 2 || len(pages[1].Items) != 1 {
		t.Errorf("page sizes = %d, %d; want 2, 1", len(pages[0].Items), len(pages[1].Items))
	}
	if pages[0].Version != 10 {
		t.Errorf("page version = %d, want 10", pages[0].Version)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotAPIVersion != "3" {
		t.Errorf("Zotero-API-Version = %q", gotAPIVersion)
	}
}

func TestListItems_NotModified(t *testing.T) {
	var sawHeader string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawHeader = r.Header.Get("If-Modified-Since-Version")
		w.WriteHeader(http.StatusNotModified)
	})

	client := testClient(t, handler)

	called := false
	err := client.ListItems(context.Background(), 7, func(p *ItemPage) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("ListItems() failed on 304: %v", err)
	}
	if called {
		t.Error("fn called despite 304")
	}
	if sawHeader != "7" {
		t.Errorf("If-Modified-Since-Version = %q, want 7", sawHeader)
	}
}

func TestListItems_RemoteError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	client := testClient(t, handler)

	err := client.ListItems(context.Background(), 0, func(p *ItemPage) error { return nil })
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected *RemoteError, got %v", err)
	}
	if remoteErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", remoteErr.StatusCode)
	}
}

func TestListItems_CallbackError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"key":"A"}]`)
	})

	client := testClient(t, handler)

	sentinel := errors.New("stop")
	err := client.ListItems(context.Background(), 0, func(p *ItemPage) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want sentinel", err)
	}
}

func TestFetchDeleted(t *testing.T) {
	var gotSince string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		fmt.Fprint(w, `{"items":["X1","X2"],"collections":[]}`)
	})

	client := testClient(t, handler)

	keys, err := client.FetchDeleted(context.Background(), 5)
	if err != nil {
		t.Fatalf("FetchDeleted() failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "X1" {
		t.Errorf("keys = %v", keys)
	}
	if gotSince != "5" {
		t.Errorf("since = %q, want 5", gotSince)
	}
}

func TestFetchDeleted_NoCursor(t *testing.T) {
	// Must not touch the network at all.
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request for since=0")
	}))

	keys, err := client.FetchDeleted(context.Background(), 0)
	if err != nil {
		t.Fatalf("FetchDeleted() failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("keys = %v, want empty", keys)
	}
}

func TestFetchCollections(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"data":{"key":"1","name":"Bio","parentCollection":false}},
			{"data":{"key":"2","name":"SingleCell","parentCollection":"1"}}
		]`)
	})

	client := testClient(t, handler)

	tree, err := client.FetchCollections(context.Background())
	if err != nil {
		t.Fatalf("FetchCollections() failed: %v", err)
	}
	if len(tree) != 2 {
		t.Fatalf("got %d collections, want 2", len(tree))
	}
	if tree["1"].ParentKey != "" {
		t.Errorf("root ParentKey = %q, want empty", tree["1"].ParentKey)
	}
	if tree["2"].ParentKey != "1" {
		t.Errorf("child ParentKey = %q, want 1", tree["2"].ParentKey)
	}
}

func TestParseNextLink(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{`<https://api.zotero.org/users/1/items?start=100>; rel="next"`, "https://api.zotero.org/users/1/items?start=100"},
		{`<https://x/last>; rel="last", <https://x/next>; rel="next"`, "https://x/next"},
		{`<https://x/last>; rel="last"`, ""},
	}
	for _, tt := range tests {
		if got := parseNextLink(tt.header); got != tt.want {
			t.Errorf("parseNextLink(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
