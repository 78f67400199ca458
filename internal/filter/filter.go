// Package filter resolves a declarative collection filter against the
// library's collection forest and decides which items the sync keeps.
package filter

import (
	"log"
	"os"
	"sort"
	"strings"

	"github.com/zotwatcher/zotwatcher/internal/zotero"
)

// Config is the declarative filter: explicit collection keys, name paths
// like "Parent/Child", and whether matches pull in their descendants.
type Config struct {
	IDs             []string `mapstructure:"ids" yaml:"ids,omitempty"`
	Names           []string `mapstructure:"names" yaml:"names,omitempty"`
	IncludeChildren bool     `mapstructure:"include_children" yaml:"include_children"`
}

// Empty reports whether no constraints are configured at all.
func (c Config) Empty() bool {
	return len(c.IDs) == 0 && len(c.Names) == 0
}

// Allowed is the resolved outcome of a filter. It distinguishes "no
// filter configured" (everything matches) from "filter matches nothing"
// (an explicit empty set); callers must never infer one from the other.
type Allowed struct {
	unrestricted bool
	ids          map[string]struct{}
}

// AllowAll returns the unrestricted outcome used when no filter is
// configured.
func AllowAll() Allowed {
	return Allowed{unrestricted: true}
}

// AllowOnly returns a restricted outcome matching exactly the given keys.
func AllowOnly(ids map[string]struct{}) Allowed {
	if ids == nil {
		ids = make(map[string]struct{})
	}
	return Allowed{ids: ids}
}

// Unrestricted reports whether every item matches.
func (a Allowed) Unrestricted() bool { return a.unrestricted }

// Contains reports whether a single collection key is allowed.
func (a Allowed) Contains(id string) bool {
	if a.unrestricted {
		return true
	}
	_, ok := a.ids[id]
	return ok
}

// Len returns the size of the restricted set, 0 when unrestricted.
func (a Allowed) Len() int { return len(a.ids) }

// MatchesItem reports whether an item with the given collection
// membership passes the filter: always true when unrestricted, otherwise
// true iff the membership intersects the allowed set.
func (a Allowed) MatchesItem(collectionIDs []string) bool {
	if a.unrestricted {
		return true
	}
	for _, id := range collectionIDs {
		if _, ok := a.ids[id]; ok {
			return true
		}
	}
	return false
}

// Resolve turns the configured constraints into a concrete Allowed set
// against the given collection forest.
//
// IDs and name paths not present in the forest warn and contribute
// nothing. A bare name matching several collections warns and picks the
// candidate with the lowest key. If logger is nil, warnings go to stderr.
func Resolve(cfg Config, tree map[string]*zotero.Collection, logger *log.Logger) Allowed {
	if logger == nil {
		logger = log.New(os.Stderr, "[filter] ", log.LstdFlags)
	}
	if cfg.Empty() {
		return AllowAll()
	}

	children := childIndex(tree)
	allowed := make(map[string]struct{})

	include := func(key string) {
		if cfg.IncludeChildren {
			for _, id := range descendants(key, children, logger) {
				allowed[id] = struct{}{}
			}
		} else {
			allowed[key] = struct{}{}
		}
	}

	for _, id := range cfg.IDs {
		if _, ok := tree[id]; !ok {
			logger.Printf("WARNING: collection ID %q not found in library", id)
			continue
		}
		include(id)
	}

	for _, path := range cfg.Names {
		coll := findByPath(path, tree, logger)
		if coll == nil {
			logger.Printf("WARNING: collection path %q not found in library", path)
			continue
		}
		include(coll.Key)
	}

	logger.Printf("Collection filter resolved %d allowed collection IDs", len(allowed))
	return AllowOnly(allowed)
}

// childIndex builds the parent -> children adjacency once, with children
// in ascending key order so traversal output is deterministic.
func childIndex(tree map[string]*zotero.Collection) map[string][]string {
	children := make(map[string][]string)
	for key, coll := range tree {
		if coll.ParentKey == "" {
			continue
		}
		if _, ok := tree[coll.ParentKey]; !ok {
			continue
		}
		children[coll.ParentKey] = append(children[coll.ParentKey], key)
	}
	for _, keys := range children {
		sort.Strings(keys)
	}
	return children
}

// descendants returns root plus every collection reachable through the
// child adjacency. The traversal is iterative with a visited set: a
// malformed forest containing a cycle truncates instead of hanging.
func descendants(root string, children map[string][]string, logger *log.Logger) []string {
	visited := map[string]struct{}{root: {}}
	result := []string{root}
	stack := append([]string(nil), children[root]...)

	for len(stack) > 0 {
		key := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[key]; seen {
			logger.Printf("WARNING: cycle detected in collection hierarchy at %q, truncating", key)
			continue
		}
		visited[key] = struct{}{}
		result = append(result, key)
		stack = append(stack, children[key]...)
	}
	return result
}

// fullPath returns the root-to-node name path joined by "/". The ancestor
// walk carries a visited set so a cyclic parent chain terminates.
func fullPath(coll *zotero.Collection, tree map[string]*zotero.Collection) string {
	parts := []string{coll.Name}
	visited := map[string]struct{}{coll.Key: {}}
	current := coll
	for current.ParentKey != "" {
		parent, ok := tree[current.ParentKey]
		if !ok {
			break
		}
		if _, seen := visited[parent.Key]; seen {
			break
		}
		visited[parent.Key] = struct{}{}
		parts = append([]string{parent.Name}, parts...)
		current = parent
	}
	return strings.Join(parts, "/")
}

// findByPath locates a collection by a slash-separated name path.
//
// All collections whose own name equals the final segment are candidates,
// ordered by key. A single-segment path takes the first candidate (with a
// warning when ambiguous); a longer path requires the candidate's full
// ancestry path to equal the configured path or end with it.
func findByPath(path string, tree map[string]*zotero.Collection, logger *log.Logger) *zotero.Collection {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return nil
	}

	target := parts[len(parts)-1]
	var candidates []*zotero.Collection
	for _, coll := range tree {
		if coll.Name == target {
			candidates = append(candidates, coll)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Key < candidates[j].Key })

	if len(parts) == 1 {
		if len(candidates) == 0 {
			return nil
		}
		if len(candidates) > 1 {
			logger.Printf("WARNING: multiple collections named %q, using %q; configure a full path like Parent/%s to disambiguate",
				target, candidates[0].Key, target)
		}
		return candidates[0]
	}

	normalized := strings.Join(parts, "/")
	for _, coll := range candidates {
		fp := fullPath(coll, tree)
		if fp == normalized || strings.HasSuffix(fp, "/"+normalized) {
			return coll
		}
	}
	return nil
}
