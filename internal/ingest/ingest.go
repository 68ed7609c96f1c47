// Package ingest implements the periodic fetch-and-snapshot cycle that
// feeds the breakout detector.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/elonfeng/hnpulse/internal/store"
	"github.com/elonfeng/hnpulse/pkg/hn"
)

// Config controls one ingestion cycle.
type Config struct {
	FetchLimit   int           // max story IDs to resolve per cycle
	ActiveWindow time.Duration // snapshot posts first seen within this window
}

// Stats summarizes one ingestion cycle.
type Stats struct {
	StoryIDsFetched  int `json:"story_ids_fetched"`
	PostsFetched     int `json:"posts_fetched"`
	PostsUpserted    int `json:"posts_upserted"`
	ActivePosts      int `json:"active_posts"`
	SnapshotsCreated int `json:"snapshots_created"`
}

// Ingestor pulls current post state from Hacker News and appends
// snapshots for the active population.
type Ingestor struct {
	client *hn.Client
	store  store.Store
	cfg    Config
	logger *slog.Logger
}

// New creates an ingestor.
func New(client *hn.Client, s store.Store, cfg Config, logger *slog.Logger) *Ingestor {
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 200
	}
	if cfg.ActiveWindow == 0 {
		cfg.ActiveWindow = 48 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{client: client, store: s, cfg: cfg, logger: logger}
}

// Run executes one cycle: fetch new story IDs, resolve details, upsert
// posts, then snapshot every active post seen in this fetch. A post's
// first_seen_at is its HN creation time, so snapshot ages measure minutes
// since creation.
func (ing *Ingestor) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	ids, err := ing.client.NewStories(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch story ids: %w", err)
	}
	stats.StoryIDsFetched = len(ids)
	if len(ids) == 0 {
		return stats, nil
	}
	if len(ids) > ing.cfg.FetchLimit {
		ids = ids[:ing.cfg.FetchLimit]
	}

	items, err := ing.client.GetItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch items: %w", err)
	}
	stats.PostsFetched = len(items)

	now := time.Now().UTC()
	byID := make(map[int64]hn.Item, len(items))

	for i := range items {
		item := items[i]
		byID[item.ID] = item

		post := store.Post{
			ID:            item.ID,
			Title:         item.Title,
			URL:           item.URL,
			Author:        item.By,
			PostType:      item.PostType(),
			FirstSeenAt:   time.Unix(item.Time, 0).UTC(),
			LastUpdatedAt: now,
			IsDead:        item.Dead,
			IsDeleted:     item.Deleted,
		}
		if err := ing.store.UpsertPost(ctx, &post); err != nil {
			ing.logger.Warn("post upsert failed", "post_id", item.ID, "error", err)
			continue
		}
		stats.PostsUpserted++
	}

	active, err := ing.store.ActivePosts(ctx, now.Add(-ing.cfg.ActiveWindow))
	if err != nil {
		return nil, fmt.Errorf("load active posts: %w", err)
	}
	stats.ActivePosts = len(active)

	for _, post := range active {
		item, ok := byID[post.ID]
		if !ok {
			continue // not in this fetch, no fresh observation
		}

		snap := store.Snapshot{
			PostID:     post.ID,
			Score:      item.Score,
			Comments:   item.Descendants,
			CapturedAt: now,
			AgeMinutes: int(now.Sub(post.FirstSeenAt).Minutes()),
		}
		if err := ing.store.AddSnapshot(ctx, &snap); err != nil {
			ing.logger.Warn("snapshot failed", "post_id", post.ID, "error", err)
			continue
		}
		stats.SnapshotsCreated++
	}

	return stats, nil
}
