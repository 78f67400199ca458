// Command zw maintains a local, queryable mirror of a Zotero library.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zotwatcher/zotwatcher/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "zw",
	Short: "Local mirror and sync engine for a Zotero library",
	Long: `zotwatcher keeps a local SQLite mirror of your Zotero library.

It syncs incrementally using the library's version cursor, can restrict
the mirror to selected collections (including their sub-collections), and
leaves the data queryable for downstream tooling.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./zotwatcher.yaml or ~/.config/zotwatcher/zotwatcher.yaml)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(collectionsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(watchCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger builds the shared logger: stderr, teed into a rotating file
// when log.path is configured.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.Log.Path != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.Path,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		})
	}
	return log.New(w, prefix, log.LstdFlags)
}
