package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/TobiSchelling/threadlens/internal/database"
)

// Item is a Hacker News item as served by the item API.
type Item struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	By          string `json:"by"`
	Title       string `json:"title"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Time        int64  `json:"time"`
	Dead        bool   `json:"dead"`
	Deleted     bool   `json:"deleted"`
}

// Thread converts the item into a stored thread.
func (it Item) Thread(source string) database.Thread {
	src := source
	return database.Thread{
		ID:          it.ID,
		Title:       strings.TrimSpace(it.Title),
		Author:      it.By,
		Type:        it.Type,
		Score:       it.Score,
		Descendants: it.Descendants,
		CreatedAt:   time.Unix(it.Time, 0).UTC(),
		Source:      &src,
	}
}

// ItemClient fetches items from the Hacker News API.
type ItemClient struct {
	baseURL string
	client  *http.Client
}

// NewItemClient creates a client for the API rooted at baseURL.
func NewItemClient(baseURL string) *ItemClient {
	return &ItemClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Item fetches one item. A missing item returns nil without error.
func (c *ItemClient) Item(ctx context.Context, id int64) (*Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/item/%d.json", c.baseURL, id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching item %d: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching item %d: HTTP %d", id, resp.StatusCode)
	}

	var item *Item
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("decoding item %d: %w", id, err)
	}
	if item == nil || item.Deleted || item.Dead || item.Title == "" {
		return nil, nil
	}
	return item, nil
}
