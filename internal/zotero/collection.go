package zotero

import "encoding/json"

// Collection is one node of the library's category forest. ParentKey is
// empty for top-level collections; the forest may have several roots.
type Collection struct {
	Key       string
	Name      string
	ParentKey string
}

// parentKey tolerates the wire encoding of parentCollection, which is the
// JSON literal false for top-level collections and a string key otherwise.
type parentKey string

func (p *parentKey) UnmarshalJSON(b []byte) error {
	if string(b) == "false" || string(b) == "null" {
		*p = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*p = parentKey(s)
	return nil
}

// apiCollection mirrors the wire shape of a Zotero collection record.
type apiCollection struct {
	Data struct {
		Key              string    `json:"key"`
		Name             string    `json:"name"`
		ParentCollection parentKey `json:"parentCollection"`
	} `json:"data"`
}
