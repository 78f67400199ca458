package zotero

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Item is a bibliographic entry from the remote library.
//
// Key and Version come from the library server: Key is the stable identity
// of the entry, Version is a monotonically non-decreasing change counter
// the server bumps on every edit. Raw preserves the original API payload
// verbatim so fields this tool does not model survive round-trips.
type Item struct {
	Key         string
	Version     int64
	Title       string
	Abstract    string
	Creators    []string
	Tags        []string
	Collections []string
	Year        int
	DOI         string
	URL         string
	Raw         json.RawMessage
}

// apiItem mirrors the wire shape of a Zotero item response.
type apiItem struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
	Data    struct {
		Key          string `json:"key"`
		Title        string `json:"title"`
		AbstractNote string `json:"abstractNote"`
		Date         string `json:"date"`
		DOI          string `json:"DOI"`
		URL          string `json:"url"`
		Creators     []struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
			Name      string `json:"name"`
		} `json:"creators"`
		Tags []struct {
			Tag string `json:"tag"`
		} `json:"tags"`
		Collections []string `json:"collections"`
	} `json:"data"`
}

// ItemFromAPI decodes a raw item record as returned by the items endpoint.
// The untouched payload is retained in Item.Raw.
func ItemFromAPI(raw json.RawMessage) (*Item, error) {
	var api apiItem
	if err := json.Unmarshal(raw, &api); err != nil {
		return nil, fmt.Errorf("failed to decode item record: %w", err)
	}

	key := api.Key
	if key == "" {
		key = api.Data.Key
	}
	if key == "" {
		return nil, fmt.Errorf("item record has no key")
	}

	item := &Item{
		Key:         key,
		Version:     api.Version,
		Title:       api.Data.Title,
		Abstract:    api.Data.AbstractNote,
		Year:        parseYear(api.Data.Date),
		DOI:         api.Data.DOI,
		URL:         api.Data.URL,
		Collections: api.Data.Collections,
		Raw:         append(json.RawMessage(nil), raw...),
	}

	for _, c := range api.Data.Creators {
		name := c.Name
		if name == "" {
			name = strings.TrimSpace(c.FirstName + " " + c.LastName)
		}
		if name != "" {
			item.Creators = append(item.Creators, name)
		}
	}
	for _, t := range api.Data.Tags {
		if t.Tag != "" {
			item.Tags = append(item.Tags, t.Tag)
		}
	}

	return item, nil
}

// yearRe matches a standalone four-digit run in a free-form date field.
// Zotero dates are user-entered ("2021-03-01", "March 2021", "2021").
var yearRe = regexp.MustCompile(`(?:^|\D)(\d{4})(?:\D|$)`)

func parseYear(date string) int {
	m := yearRe.FindStringSubmatch(date)
	if m == nil {
		return 0
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return year
}

// ContentHash fingerprints the semantically meaningful fields of an item.
// Metadata-only edits on the server bump Version without changing this
// hash, which lets downstream consumers skip re-vectorizing unchanged text.
func ContentHash(item *Item) string {
	h := sha256.New()
	h.Write([]byte(item.Title))
	h.Write([]byte{0})
	h.Write([]byte(item.Abstract))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(item.Creators, ",")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(item.Tags, ",")))
	return hex.EncodeToString(h.Sum(nil))
}
