package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zotwatcher/zotwatcher/internal/ui"
	"github.com/zotwatcher/zotwatcher/internal/zotero"
)

var collectionsFormat string

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List the library's collection hierarchy",
	Long: `Fetch and print the collection forest from the remote library.

Useful for picking the IDs or name paths to put into the collections
filter. The tree format shows each collection with its key; the yaml
format emits a flat list suitable for copy-pasting into the config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateRemote(); err != nil {
			return err
		}

		clientCfg := cfg.ClientConfig()
		clientCfg.Logger = newLogger(cfg, "[collections] ")
		client := zotero.New(clientCfg)

		tree, err := client.FetchCollections(cmd.Context())
		if err != nil {
			return err
		}
		if len(tree) == 0 {
			fmt.Printf("%s Library has no collections\n", ui.RenderWarn("⚠"))
			return nil
		}

		switch collectionsFormat {
		case "yaml":
			return printCollectionsYAML(tree)
		case "tree":
			printCollectionsTree(tree)
			return nil
		default:
			return fmt.Errorf("unknown format %q (want tree or yaml)", collectionsFormat)
		}
	},
}

func init() {
	collectionsCmd.Flags().StringVar(&collectionsFormat, "format", "tree", "output format: tree or yaml")
}

func printCollectionsTree(tree map[string]*zotero.Collection) {
	children := make(map[string][]*zotero.Collection)
	var roots []*zotero.Collection
	for _, coll := range tree {
		if coll.ParentKey != "" && tree[coll.ParentKey] != nil {
			children[coll.ParentKey] = append(children[coll.ParentKey], coll)
		} else {
			roots = append(roots, coll)
		}
	}
	byName := func(colls []*zotero.Collection) {
		sort.Slice(colls, func(i, j int) bool {
			if colls[i].Name != colls[j].Name {
				return colls[i].Name < colls[j].Name
			}
			return colls[i].Key < colls[j].Key
		})
	}
	byName(roots)
	for _, c := range children {
		byName(c)
	}

	// Iterative traversal; a visited set guards against a cyclic
	// parent chain in malformed server data.
	type frame struct {
		coll  *zotero.Collection
		depth int
	}
	visited := make(map[string]struct{})
	var stack []frame
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{roots[i], 0})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[f.coll.Key]; seen {
			continue
		}
		visited[f.coll.Key] = struct{}{}
		fmt.Printf("%s%s %s\n", strings.Repeat("  ", f.depth),
			ui.RenderAccent(f.coll.Name), "("+f.coll.Key+")")
		kids := children[f.coll.Key]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{kids[i], f.depth + 1})
		}
	}
}

func printCollectionsYAML(tree map[string]*zotero.Collection) error {
	type entry struct {
		Key       string `yaml:"key"`
		Name      string `yaml:"name"`
		ParentKey string `yaml:"parent_key,omitempty"`
	}
	entries := make([]entry, 0, len(tree))
	for _, coll := range tree {
		entries = append(entries, entry{coll.Key, coll.Name, coll.ParentKey})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	out, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal collections: %w", err)
	}
	fmt.Print(string(out))
	return nil
}
