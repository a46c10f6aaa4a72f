package ingest

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/threadlens/internal/database"
)

const maxPerFeed = 100

var (
	pointsRe   = regexp.MustCompile(`Points:\s*(\d+)`)
	commentsRe = regexp.MustCompile(`#\s*Comments:\s*(\d+)`)
	itemURLRe  = regexp.MustCompile(`news\.ycombinator\.com/item\?id=(\d+)`)
)

// FeedConfig represents a single feed configuration.
type FeedConfig struct {
	URL  string
	Name string
	Type string
}

// FeedParser reads hnrss-style RSS feeds into threads.
type FeedParser struct {
	feeds  []FeedConfig
	parser *gofeed.Parser
	logger *slog.Logger
}

// NewFeedParser creates a new FeedParser.
func NewFeedParser(feeds []FeedConfig, logger *slog.Logger) *FeedParser {
	return &FeedParser{feeds: feeds, parser: gofeed.NewParser(), logger: logger}
}

// FeedBatch is the outcome of reading one feed.
type FeedBatch struct {
	Source  string
	Threads []database.Thread
	Err     error
}

// ParseAll reads every configured feed. A failing feed is reported in its
// batch and does not stop the others.
func (fp *FeedParser) ParseAll(ctx context.Context) []FeedBatch {
	batches := make([]FeedBatch, 0, len(fp.feeds))
	for _, fc := range fp.feeds {
		name := fc.Name
		if name == "" {
			name = extractSourceName(fc.URL)
		}

		feed, err := fp.parser.ParseURLWithContext(fc.URL, ctx)
		if err != nil {
			fp.logger.Warn("failed to parse feed", "url", fc.URL, "err", err)
			batches = append(batches, FeedBatch{Source: name, Err: err})
			continue
		}
		threads := parseFeed(feed, name, fc.Type)
		fp.logger.Info("parsed feed", "source", name, "threads", len(threads))
		batches = append(batches, FeedBatch{Source: name, Threads: threads})
	}
	return batches
}

func parseFeed(feed *gofeed.Feed, source, threadType string) []database.Thread {
	var threads []database.Thread
	for _, item := range feed.Items {
		if len(threads) >= maxPerFeed {
			break
		}
		if t, ok := parseItem(item, source, threadType); ok {
			threads = append(threads, t)
		}
	}
	return threads
}

// parseItem reads an hnrss item. The thread id comes from the comments link;
// points and comment counts come from the description.
func parseItem(item *gofeed.Item, source, threadType string) (database.Thread, bool) {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		return database.Thread{}, false
	}
	id := threadID(item)
	if id == 0 {
		return database.Thread{}, false
	}

	var created time.Time
	switch {
	case item.PublishedParsed != nil:
		created = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		created = item.UpdatedParsed.UTC()
	default:
		return database.Thread{}, false
	}

	t := database.Thread{
		ID:          id,
		Title:       title,
		Type:        threadType,
		Score:       firstInt(pointsRe, item.Description),
		Descendants: firstInt(commentsRe, item.Description),
		CreatedAt:   created,
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		t.Author = item.Authors[0].Name
	}
	if source != "" {
		src := source
		t.Source = &src
	}
	return t, true
}

func threadID(item *gofeed.Item) int64 {
	for _, s := range []string{item.GUID, item.Link, item.Description} {
		if m := itemURLRe.FindStringSubmatch(s); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				return id
			}
		}
	}
	return 0
}

func firstInt(re *regexp.Regexp, s string) int {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	name := host
	if parts := strings.Split(host, "."); len(parts) >= 2 {
		name = parts[len(parts)-2]
	}
	if path := strings.Trim(u.Path, "/"); path != "" {
		name += " " + path
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
