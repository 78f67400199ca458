package ingest

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/zotwatcher/zotwatcher/internal/filter"
	"github.com/zotwatcher/zotwatcher/internal/store"
	"github.com/zotwatcher/zotwatcher/internal/zotero"
)

// Stats summarizes one sync run. All counters are populated even when a
// phase was skipped, so a caller can tell "nothing changed" apart from
// "the filter rejected everything".
type Stats struct {
	// Fetched is the number of items retrieved and accepted by the filter.
	Fetched int
	// Updated is the number of items upserted into the store.
	Updated int
	// Removed is the number of tombstoned items deleted locally.
	Removed int
	// Filtered is the number of items rejected by the collection filter.
	Filtered int
	// LastModifiedVersion is the cursor persisted by this run, or 0 when
	// the run did not advance it.
	LastModifiedVersion int64
}

// Ingestor runs sync passes against a single store and remote library.
type Ingestor struct {
	store     *store.Store
	client    *zotero.Client
	filterCfg filter.Config
	logger    *log.Logger
}

// New creates an Ingestor. If logger is nil, a default logger writing to
// stderr is used.
func New(st *store.Store, client *zotero.Client, filterCfg filter.Config, logger *log.Logger) *Ingestor {
	if logger == nil {
		logger = log.New(os.Stderr, "[ingest] ", log.LstdFlags)
	}
	return &Ingestor{
		store:     st,
		client:    client,
		filterCfg: filterCfg,
		logger:    logger,
	}
}

// Run performs one sync pass. A full run ignores the stored cursor and
// re-fetches the whole library; an incremental run only asks the remote
// for changes past the cursor.
//
// On error the run aborts with already-committed upserts retained and the
// cursor untouched, so the next run safely replays the lost work.
func (in *Ingestor) Run(ctx context.Context, full bool) (*Stats, error) {
	stats := &Stats{}

	if err := in.store.Init(ctx); err != nil {
		return stats, fmt.Errorf("failed to initialize store: %w", err)
	}

	var since int64
	if !full {
		var err error
		since, err = in.store.LastModifiedVersion(ctx)
		if err != nil {
			return stats, err
		}
	}
	in.logger.Printf("Starting sync (full=%v, since_version=%d)", full, since)

	tree, err := in.client.FetchCollections(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch collections: %w", err)
	}
	if err := in.store.SaveCollections(ctx, tree); err != nil {
		return stats, err
	}
	allowed := filter.Resolve(in.filterCfg, tree, in.logger)

	// A filtered full sync rebuilds from scratch; otherwise items that
	// stopped passing the filter would survive from earlier runs.
	if full && !in.filterCfg.Empty() {
		in.logger.Printf("Full sync with collection filter: clearing existing items")
		if err := in.store.ClearItems(ctx); err != nil {
			return stats, err
		}
	}

	maxVersion := since
	err = in.client.ListItems(ctx, since, func(page *zotero.ItemPage) error {
		if page.Version > maxVersion {
			maxVersion = page.Version
		}
		for _, raw := range page.Items {
			item, err := zotero.ItemFromAPI(raw)
			if err != nil {
				in.logger.Printf("WARNING: skipping undecodable item record: %v", err)
				continue
			}
			if !allowed.MatchesItem(item.Collections) {
				stats.Filtered++
				continue
			}
			hash := zotero.ContentHash(item)
			if err := in.store.UpsertItem(ctx, item, hash); err != nil {
				return err
			}
			stats.Fetched++
			stats.Updated++
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("item sync aborted: %w", err)
	}

	// Tombstones are asked for since the highest version seen this run;
	// full syncs skip them because prior clearing plus omission already
	// reflects deletions.
	var deletedSince int64
	if !full {
		deletedSince = maxVersion
	}
	deleted, err := in.client.FetchDeleted(ctx, deletedSince)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch deletions: %w", err)
	}
	if err := in.store.RemoveItems(ctx, deleted); err != nil {
		return stats, err
	}
	stats.Removed = len(deleted)

	if stats.Fetched > 0 || full {
		stats.LastModifiedVersion = maxVersion
		if maxVersion > 0 {
			if err := in.store.SetLastModifiedVersion(ctx, maxVersion); err != nil {
				return stats, err
			}
			in.logger.Printf("Updated last modified version to %d", maxVersion)
		}
	}

	if stats.Filtered > 0 {
		in.logger.Printf("Filtered out %d items not in target collections", stats.Filtered)
	}
	in.logger.Printf("Sync complete: fetched=%d updated=%d removed=%d filtered=%d",
		stats.Fetched, stats.Updated, stats.Removed, stats.Filtered)
	return stats, nil
}
