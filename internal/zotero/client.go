// Package zotero implements the client side of the Zotero Web API v3 as
// used by the sync engine: paginated item listing with version-conditional
// fetches, deletion tombstones, and the collection forest.
//
// Pagination follows the API's Link response header (rel="next"), and a
// configurable polite delay is inserted between successive page requests
// to respect the server's rate limits.
package zotero

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.zotero.org"

const userAgent = "zotwatcher/0.2"

// RemoteError reports a non-success response from the library server.
// The defined "no changes" status (304) never surfaces as a RemoteError.
type RemoteError struct {
	StatusCode int
	URL        string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("zotero API returned %d for %s", e.StatusCode, e.URL)
}

// Config holds the settings needed to talk to the library server.
type Config struct {
	// APIKey is the bearer token for the user's library.
	APIKey string
	// UserID selects the user library to sync.
	UserID string
	// BaseURL overrides the API endpoint (tests); defaults to the
	// public Zotero API.
	BaseURL string
	// PageSize is the item count requested per page (default 100).
	PageSize int
	// PoliteDelay is the pause between successive page requests.
	PoliteDelay time.Duration
	// HTTPClient overrides the transport (default http.DefaultClient
	// with a 30s timeout).
	HTTPClient *http.Client
	// Logger receives page-level progress; nil defaults to stderr.
	Logger *log.Logger
}

// Client talks to a single user library on the Zotero Web API.
type Client struct {
	http        *http.Client
	logger      *log.Logger
	baseUserURL string
	apiKey      string
	pageSize    int
	politeDelay time.Duration
}

// New creates a Client for the library identified by cfg.UserID.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[zotero] ", log.LstdFlags)
	}
	return &Client{
		http:        httpClient,
		logger:      logger,
		baseUserURL: strings.TrimRight(base, "/") + "/users/" + cfg.UserID,
		apiKey:      cfg.APIKey,
		pageSize:    pageSize,
		politeDelay: cfg.PoliteDelay,
	}
}

// ItemPage is one page of raw item records plus the library version the
// server reported for it (Last-Modified-Version header).
type ItemPage struct {
	Items   []json.RawMessage
	Version int64
}

// ListItems streams item pages to fn, following Link-header pagination
// until no rel="next" continuation remains.
//
// When since > 0 the request is version-conditional; a 304 from the
// server means the library is unchanged and fn is never called. Any other
// non-success status aborts with a *RemoteError. An error returned by fn
// stops the page loop and is returned as-is.
func (c *Client) ListItems(ctx context.Context, since int64, fn func(*ItemPage) error) error {
	first := url.Values{
		"limit":     {strconv.Itoa(c.pageSize)},
		"sort":      {"dateAdded"},
		"direction": {"asc"},
	}
	next := c.baseUserURL + "/items?" + first.Encode()
	conditional := since > 0

	for next != "" {
		c.logger.Printf("Fetching items page: %s", next)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return fmt.Errorf("failed to build items request: %w", err)
		}
		c.setHeaders(req)
		if conditional {
			req.Header.Set("If-Modified-Since-Version", strconv.FormatInt(since, 10))
			conditional = false
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("items request failed: %w", err)
		}
		if resp.StatusCode == http.StatusNotModified {
			_ = resp.Body.Close()
			c.logger.Printf("No changes since version %d", since)
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return &RemoteError{StatusCode: resp.StatusCode, URL: next}
		}

		page := &ItemPage{Version: parseVersion(resp.Header)}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read items page: %w", err)
		}
		if err := json.Unmarshal(body, &page.Items); err != nil {
			return fmt.Errorf("failed to decode items page: %w", err)
		}

		fnErr := fn(page)
		next = parseNextLink(resp.Header.Get("Link"))

		// The polite delay applies after every page request, even when
		// this turns out to be the last one.
		if err := c.politeWait(ctx); err != nil {
			return err
		}
		if fnErr != nil {
			return fnErr
		}
	}
	return nil
}

// FetchDeleted returns the keys of items removed from the library since
// the given version. A since of zero means "no cursor" and yields an
// empty set without touching the network: full syncs reflect deletions by
// omission, so tombstones are only meaningful incrementally.
func (c *Client) FetchDeleted(ctx context.Context, since int64) ([]string, error) {
	if since <= 0 {
		return nil, nil
	}

	u := c.baseUserURL + "/deleted?since=" + strconv.FormatInt(since, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build deleted request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deleted request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &RemoteError{StatusCode: resp.StatusCode, URL: u}
	}

	var payload struct {
		Items []string `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode deleted payload: %w", err)
	}
	c.logger.Printf("Fetched %d deleted item tombstones", len(payload.Items))
	return payload.Items, nil
}

// FetchCollections retrieves the full collection forest, keyed by
// collection key. The listing is paginated like items.
func (c *Client) FetchCollections(ctx context.Context) (map[string]*Collection, error) {
	collections := make(map[string]*Collection)
	next := c.baseUserURL + "/collections?limit=" + strconv.Itoa(c.pageSize)

	for next != "" {
		c.logger.Printf("Fetching collections page: %s", next)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build collections request: %w", err)
		}
		c.setHeaders(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("collections request failed: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, &RemoteError{StatusCode: resp.StatusCode, URL: next}
		}

		var records []apiCollection
		err = json.NewDecoder(resp.Body).Decode(&records)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode collections page: %w", err)
		}
		for _, rec := range records {
			if rec.Data.Key == "" {
				continue
			}
			collections[rec.Data.Key] = &Collection{
				Key:       rec.Data.Key,
				Name:      rec.Data.Name,
				ParentKey: string(rec.Data.ParentCollection),
			}
		}

		next = parseNextLink(resp.Header.Get("Link"))
		if err := c.politeWait(ctx); err != nil {
			return nil, err
		}
	}

	c.logger.Printf("Fetched %d collections", len(collections))
	return collections, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Zotero-API-Version", "3")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", userAgent)
}

func (c *Client) politeWait(ctx context.Context) error {
	if c.politeDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(c.politeDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func parseVersion(h http.Header) int64 {
	v, err := strconv.ParseInt(h.Get("Last-Modified-Version"), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseNextLink extracts the rel="next" target from a Link header, e.g.
//
//	<https://api.zotero.org/users/1/items?start=100>; rel="next", <...>; rel="last"
//
// Returns "" when no continuation is present.
func parseNextLink(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		target, _, _ := strings.Cut(part, ";")
		target = strings.TrimSpace(target)
		if strings.HasPrefix(target, "<") && strings.HasSuffix(target, ">") {
			return target[1 : len(target)-1]
		}
	}
	return ""
}
