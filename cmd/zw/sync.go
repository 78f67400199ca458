package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zotwatcher/zotwatcher/internal/ingest"
	"github.com/zotwatcher/zotwatcher/internal/store"
	"github.com/zotwatcher/zotwatcher/internal/ui"
	"github.com/zotwatcher/zotwatcher/internal/zotero"
)

var syncFull bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the local mirror with the remote library",
	Long: `Sync the local SQLite mirror with the Zotero library.

An incremental sync (the default) only fetches changes past the stored
version cursor. --full re-fetches the whole library; combined with a
collection filter it also clears the mirror first so items that no longer
pass the filter do not linger.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateRemote(); err != nil {
			return err
		}

		logger := newLogger(cfg, "[sync] ")

		st, err := store.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		st.SetLogger(logger)

		clientCfg := cfg.ClientConfig()
		clientCfg.Logger = logger
		client := zotero.New(clientCfg)

		ingestor := ingest.New(st, client, cfg.Zotero.Collections, logger)
		stats, err := ingestor.Run(cmd.Context(), syncFull)
		if err != nil {
			return err
		}

		fmt.Printf("%s Sync complete\n", ui.RenderPass("✓"))
		fmt.Printf("   Fetched:  %d\n", stats.Fetched)
		fmt.Printf("   Updated:  %d\n", stats.Updated)
		fmt.Printf("   Removed:  %d\n", stats.Removed)
		fmt.Printf("   Filtered: %d\n", stats.Filtered)
		if stats.LastModifiedVersion > 0 {
			fmt.Printf("   Version:  %d\n", stats.LastModifiedVersion)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "re-fetch the whole library instead of syncing incrementally")
}
