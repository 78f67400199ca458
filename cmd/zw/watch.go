package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zotwatcher/zotwatcher/internal/config"
	"github.com/zotwatcher/zotwatcher/internal/daemon"
	"github.com/zotwatcher/zotwatcher/internal/ingest"
	"github.com/zotwatcher/zotwatcher/internal/store"
	"github.com/zotwatcher/zotwatcher/internal/ui"
	"github.com/zotwatcher/zotwatcher/internal/zotero"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run periodic incremental syncs",
	Long: `Run as a foreground daemon, syncing the mirror incrementally on a
fixed interval (watch.interval_minutes in the config, or --interval).

The config file is watched for changes and hot-reloaded, so filter or
credential edits take effect without a restart. Stop with Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateRemote(); err != nil {
			return err
		}

		logger := newLogger(cfg, "[watch] ")

		syncFn := func(ctx context.Context, cfg *config.Config) (*ingest.Stats, error) {
			st, err := store.Open(cfg.Database.Path)
			if err != nil {
				return nil, err
			}
			defer st.Close()
			st.SetLogger(logger)

			clientCfg := cfg.ClientConfig()
			clientCfg.Logger = logger
			client := zotero.New(clientCfg)

			return ingest.New(st, client, cfg.Zotero.Collections, logger).Run(ctx, false)
		}

		opts := daemon.DefaultOptions()
		opts.Interval = watchInterval
		opts.Logger = logger

		d, err := daemon.New(cfgFile, cfg, syncFn, opts)
		if err != nil {
			return err
		}
		if err := d.Start(); err != nil {
			return err
		}

		interval := cfg.WatchInterval()
		if watchInterval > 0 {
			interval = watchInterval
		}
		fmt.Printf("%s Watching library (interval %v), Ctrl-C to stop\n",
			ui.RenderAccent("●"), interval)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		fmt.Printf("\n%s Shutting down...\n", ui.RenderAccent("●"))
		d.Stop()
		return nil
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0,
		"sync interval (overrides watch.interval_minutes)")
}
