package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/zotwatcher/zotwatcher/internal/config"
	"github.com/zotwatcher/zotwatcher/internal/ui"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Long: `Walk through the settings zotwatcher needs and write them to a
config file (default: ./zotwatcher.yaml).

Your Zotero user ID and an API key with library read access are available
at https://www.zotero.org/settings/keys.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultFileName
		}
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		var (
			apiKey string
			userID string
			dbPath = filepath.Join("data", "library.sqlite")
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Zotero user ID").
					Description("The numeric userID from zotero.org/settings/keys").
					Value(&userID).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("user ID is required")
						}
						return nil
					}),
				huh.NewInput().
					Title("Zotero API key").
					Description("Needs library read access").
					EchoMode(huh.EchoModePassword).
					Value(&apiKey).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("API key is required")
						}
						return nil
					}),
				huh.NewInput().
					Title("Database path").
					Value(&dbPath),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}

		cfg, err := config.Load("")
		if err != nil {
			cfg = &config.Config{}
		}
		cfg.Zotero.APIKey = apiKey
		cfg.Zotero.UserID = userID
		cfg.Database.Path = dbPath
		if cfg.Zotero.PageSize == 0 {
			cfg.Zotero.PageSize = 100
		}
		if cfg.Zotero.PoliteDelayMS == 0 {
			cfg.Zotero.PoliteDelayMS = 500
		}

		if err := config.Write(path, cfg); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		fmt.Printf("   Next: run 'zw sync --full' to build the mirror\n")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}
