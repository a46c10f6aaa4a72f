// Package ingest fills the thread table from RSS feeds, the Hacker News item
// API and CSV exports.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/TobiSchelling/threadlens/internal/config"
	"github.com/TobiSchelling/threadlens/internal/database"
)

const apiSource = "hn-api"

// Result holds the results of a collection run.
type Result struct {
	TotalFound int
	Inserted   int
	Updated    int
	Unchanged  int
	Skipped    int
	Sources    map[string]int
}

func newResult() *Result {
	return &Result{Sources: make(map[string]int)}
}

func (r *Result) add(source string, outcome database.UpsertResult) {
	switch outcome {
	case database.Inserted:
		r.Inserted++
		r.Sources[source]++
	case database.Updated:
		r.Updated++
	default:
		r.Unchanged++
	}
}

// Merge folds another result into r.
func (r *Result) Merge(o *Result) {
	r.TotalFound += o.TotalFound
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Unchanged += o.Unchanged
	r.Skipped += o.Skipped
	for k, v := range o.Sources {
		r.Sources[k] += v
	}
}

// Collector orchestrates thread collection from feeds and the item API.
type Collector struct {
	db         *database.DB
	feedParser *FeedParser
	items      *ItemClient
	refresh    int
	logger     *slog.Logger
}

// NewCollector creates a new thread collector.
func NewCollector(cfg *config.Config, db *database.DB, logger *slog.Logger) *Collector {
	c := &Collector{db: db, logger: logger}

	if len(cfg.Sources.Feeds) > 0 {
		feeds := make([]FeedConfig, len(cfg.Sources.Feeds))
		for i, f := range cfg.Sources.Feeds {
			feeds[i] = FeedConfig{URL: f.URL, Name: f.Name, Type: f.Type}
		}
		c.feedParser = NewFeedParser(feeds, logger)
	}

	if api := cfg.Sources.API; api.Enabled && api.BaseURL != "" {
		c.items = NewItemClient(api.BaseURL)
		c.refresh = api.Refresh
	}
	return c
}

// Collect reads all feeds, then refreshes the most recent threads from the
// item API when it is enabled.
func (c *Collector) Collect(ctx context.Context) (*Result, error) {
	r := newResult()

	if c.feedParser != nil {
		c.logger.Info("collecting from RSS feeds")
		for _, batch := range c.feedParser.ParseAll(ctx) {
			if batch.Err != nil {
				continue
			}
			found := newResult()
			found.TotalFound = len(batch.Threads)
			for _, t := range batch.Threads {
				outcome, err := c.db.UpsertThread(t)
				if err != nil {
					return r, err
				}
				found.add(batch.Source, outcome)
			}
			if err := c.db.InsertCollectRun(batch.Source, found.TotalFound, found.Inserted, found.Updated, found.Skipped); err != nil {
				return r, fmt.Errorf("recording collect run: %w", err)
			}
			r.Merge(found)
		}
	}

	if c.items != nil && c.refresh > 0 {
		refreshed, err := c.Refresh(ctx, c.refresh)
		if err != nil {
			return r, err
		}
		r.Merge(refreshed)
	}

	c.logger.Info("collection complete", "found", r.TotalFound, "inserted", r.Inserted,
		"updated", r.Updated, "unchanged", r.Unchanged)
	return r, nil
}

// Refresh re-reads the newest stored threads from the item API so their
// votes and comment counts stay current.
func (c *Collector) Refresh(ctx context.Context, limit int) (*Result, error) {
	r := newResult()
	if c.items == nil {
		return r, nil
	}
	recent, err := c.db.QueryThreads(ctx,
		fmt.Sprintf("SELECT id, created_at FROM threads ORDER BY created_at DESC LIMIT %d", limit))
	if err != nil {
		return r, err
	}

	for _, t := range recent {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		item, err := c.items.Item(ctx, t.ID)
		if err != nil {
			c.logger.Warn("item refresh failed", "id", t.ID, "err", err)
			r.Skipped++
			continue
		}
		if item == nil {
			r.Skipped++
			continue
		}
		r.TotalFound++
		outcome, err := c.db.UpsertThread(item.Thread(apiSource))
		if err != nil {
			return r, err
		}
		r.add(apiSource, outcome)
	}

	if err := c.db.InsertCollectRun(apiSource, r.TotalFound, r.Inserted, r.Updated, r.Skipped); err != nil {
		return r, fmt.Errorf("recording refresh: %w", err)
	}
	return r, nil
}
