// Package daemon runs periodic incremental syncs and reloads the
// configuration file when it changes on disk.
//
// The daemon:
//  1. Runs a sync on a fixed interval (plus one immediately at startup)
//  2. Watches the config file with fsnotify and hot-reloads it
//  3. Handles graceful shutdown via Stop
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zotwatcher/zotwatcher/internal/config"
	"github.com/zotwatcher/zotwatcher/internal/ingest"
)

// SyncFunc performs one sync pass with the given configuration.
type SyncFunc func(ctx context.Context, cfg *config.Config) (*ingest.Stats, error)

// Options tunes daemon behavior.
type Options struct {
	// Interval between sync runs; 0 uses the config's watch interval.
	Interval time.Duration

	// DebounceInterval batches rapid config-file write events together.
	DebounceInterval time.Duration

	// Logger for daemon activity; nil defaults to stderr.
	Logger *log.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		DebounceInterval: 250 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon schedules sync runs and keeps the config fresh.
type Daemon struct {
	configPath string
	syncFn     SyncFunc
	opts       *Options

	mu  sync.Mutex
	cfg *config.Config

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Daemon. configPath may be empty, in which case hot reload
// is disabled and the initial config is used for every run.
func New(configPath string, cfg *config.Config, syncFn SyncFunc, opts *Options) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if syncFn == nil {
		return nil, fmt.Errorf("syncFn cannot be nil")
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if opts.DebounceInterval <= 0 {
		opts.DebounceInterval = 250 * time.Millisecond
	}

	return &Daemon{
		configPath: configPath,
		syncFn:     syncFn,
		opts:       opts,
		cfg:        cfg,
	}, nil
}

// Start launches the sync loop and config watcher. It returns immediately;
// use Stop to shut down.
func (d *Daemon) Start() error {
	d.ctx, d.cancel = context.WithCancel(context.Background())

	if d.configPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		// Watch the directory: editors replace files on save, which
		// drops a watch registered on the file itself.
		if err := watcher.Add(filepath.Dir(d.configPath)); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch config directory: %w", err)
		}
		d.watcher = watcher

		d.wg.Add(1)
		go d.watchConfig()
	}

	d.wg.Add(1)
	go d.syncLoop()

	return nil
}

// Stop shuts the daemon down and waits for in-flight work to finish.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.watcher != nil {
		_ = d.watcher.Close()
	}
	d.wg.Wait()
}

// Config returns the currently active configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

func (d *Daemon) interval() time.Duration {
	if d.opts.Interval > 0 {
		return d.opts.Interval
	}
	return d.Config().WatchInterval()
}

func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	d.runOnce()
	timer := time.NewTimer(d.interval())
	defer timer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-timer.C:
			d.runOnce()
			timer.Reset(d.interval())
		}
	}
}

func (d *Daemon) runOnce() {
	cfg := d.Config()
	start := time.Now()
	stats, err := d.syncFn(d.ctx, cfg)
	if err != nil {
		if d.ctx.Err() != nil {
			return
		}
		d.opts.Logger.Printf("WARNING: sync failed: %v", err)
		return
	}
	d.opts.Logger.Printf("Sync finished in %v: fetched=%d updated=%d removed=%d filtered=%d",
		time.Since(start).Round(time.Millisecond),
		stats.Fetched, stats.Updated, stats.Removed, stats.Filtered)
}

func (d *Daemon) watchConfig() {
	defer d.wg.Done()

	var pending <-chan time.Time
	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(d.configPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			pending = time.After(d.opts.DebounceInterval)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.opts.Logger.Printf("WARNING: config watcher error: %v", err)
		case <-pending:
			pending = nil
			d.reloadConfig()
		}
	}
}

func (d *Daemon) reloadConfig() {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		d.opts.Logger.Printf("WARNING: config reload failed, keeping previous: %v", err)
		return
	}
	if err := cfg.ValidateRemote(); err != nil {
		d.opts.Logger.Printf("WARNING: reloaded config invalid, keeping previous: %v", err)
		return
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	d.opts.Logger.Printf("Config reloaded from %s", d.configPath)
}
