// Package hn is a minimal client for the Hacker News Firebase API.
package hn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public Firebase endpoint.
const DefaultBaseURL = "https://hacker-news.firebaseio.com/v0"

const (
	maxRetries = 3
	retryDelay = time.Second
)

// Item is the raw HN API item shape.
type Item struct {
	ID          int64  `json:"id"`
	Deleted     bool   `json:"deleted"`
	Type        string `json:"type"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Dead        bool   `json:"dead"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
	Title       string `json:"title"`
	Descendants int    `json:"descendants"`
}

// PostType classifies an item for storage: story, ask, show, job or poll.
func (it *Item) PostType() string {
	switch it.Type {
	case "job":
		return "job"
	case "poll":
		return "poll"
	}
	title := strings.ToLower(it.Title)
	if strings.HasPrefix(title, "ask hn:") {
		return "ask"
	}
	if strings.HasPrefix(title, "show hn:") {
		return "show"
	}
	return "story"
}

// Valid reports whether the item is a live, complete story-like post.
func (it *Item) Valid() bool {
	if it == nil || it.Deleted || it.Dead {
		return false
	}
	if it.By == "" || it.Title == "" {
		return false
	}
	switch it.Type {
	case "story", "job", "poll":
		return true
	}
	return false
}

// Client fetches items from the HN API with bounded concurrency, request
// rate limiting and retry on transient failures.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	limiter     *rate.Limiter
	concurrency int
}

// New creates a client. rps bounds outbound request rate; concurrency
// bounds in-flight item fetches.
func New(baseURL string, rps float64, concurrency int) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if rps <= 0 {
		rps = 20
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     strings.TrimRight(baseURL, "/"),
		limiter:     rate.NewLimiter(rate.Limit(rps), int(rps)),
		concurrency: concurrency,
	}
}

// NewStories returns the current new-story ID list, newest first.
func (c *Client) NewStories(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := c.getJSON(ctx, c.baseURL+"/newstories.json", &ids); err != nil {
		return nil, fmt.Errorf("fetch new stories: %w", err)
	}
	return ids, nil
}

// GetItem fetches one item. A missing or deleted-away item returns
// (nil, nil).
func (c *Client) GetItem(ctx context.Context, id int64) (*Item, error) {
	var item *Item
	url := fmt.Sprintf("%s/item/%d.json", c.baseURL, id)
	if err := c.getJSON(ctx, url, &item); err != nil {
		return nil, fmt.Errorf("fetch item %d: %w", id, err)
	}
	return item, nil
}

// GetItems fetches many items concurrently, skipping IDs that fail or
// resolve to invalid posts. Order of the result is not defined.
func (c *Client) GetItems(ctx context.Context, ids []int64) ([]Item, error) {
	var (
		mu    sync.Mutex
		items []Item
		wg    sync.WaitGroup
		sem   = make(chan struct{}, c.concurrency)
	)

	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			item, err := c.GetItem(ctx, id)
			if err != nil || !item.Valid() {
				return
			}

			mu.Lock()
			items = append(items, *item)
			mu.Unlock()
		}(id)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// getJSON performs a rate-limited GET with retry and exponential backoff.
// A 404 decodes the JSON literal "null" into the target, so deleted items
// surface as nil rather than errors.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", "hnpulse/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("decode response: %w", err)
			continue
		}
		return nil
	}
	return lastErr
}
