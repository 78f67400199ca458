package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zotwatcher/zotwatcher/internal/store"
	"github.com/zotwatcher/zotwatcher/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local mirror status",
	Long: `Display the state of the local mirror database:

  - Database file location and size
  - Item, collection, and embedding counts
  - The last synced library version`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		info, err := os.Stat(cfg.Database.Path)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Mirror not initialized at %s\n", ui.RenderWarn("⚠"), cfg.Database.Path)
			fmt.Printf("   Run 'zw sync --full' to create it\n\n")
			return nil
		}
		if err != nil {
			return err
		}

		st, err := store.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Init(cmd.Context()); err != nil {
			return err
		}

		ctx := cmd.Context()
		items, err := st.ItemCount(ctx)
		if err != nil {
			return err
		}
		collections, err := st.CollectionCount(ctx)
		if err != nil {
			return err
		}
		embeddings, err := st.EmbeddingCount(ctx)
		if err != nil {
			return err
		}
		cursor, err := st.LastModifiedVersion(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("\n%s Mirror status\n", ui.RenderAccent("●"))
		fmt.Printf("   Database:    %s (%.1f KiB)\n", cfg.Database.Path, float64(info.Size())/1024)
		fmt.Printf("   Items:       %d\n", items)
		fmt.Printf("   Collections: %d\n", collections)
		fmt.Printf("   Embeddings:  %d\n", embeddings)
		if cursor > 0 {
			fmt.Printf("   Synced through version %d\n\n", cursor)
		} else {
			fmt.Printf("   Never synced\n\n")
		}
		return nil
	},
}
