package hn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/danielmmetz/hn-reader/cache"
	"github.com/danielmmetz/hn-reader/fetch"
)

const DefaultBaseURL = "https://hacker-news.firebaseio.com/v0"

const (
	ListTTL = 5 * time.Minute
	ItemTTL = 15 * time.Minute
)

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithMaxConcurrency caps in-flight requests to the API.
func WithMaxConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.sem = make(chan struct{}, n)
		}
	}
}

// Client reads items and id lists through the cache, falling back to the API.
type Client struct {
	fetcher *fetch.Fetcher
	cache   *cache.Cache
	baseURL string
	sem     chan struct{}
	sf      singleflight.Group
}

func NewClient(fetcher *fetch.Fetcher, c *cache.Cache, opts ...Option) *Client {
	cl := &Client{
		fetcher: fetcher,
		cache:   c,
		baseURL: DefaultBaseURL,
		sem:     make(chan struct{}, 10), // concurrency limit of 10
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() { <-c.sem }

// TopStories returns up to 500 top story IDs.
func (c *Client) TopStories(ctx context.Context) ([]int, error) { return c.ListIDs(ctx, ListTop) }

// AskStories returns the latest Ask HN story IDs.
func (c *Client) AskStories(ctx context.Context) ([]int, error) { return c.ListIDs(ctx, ListAsk) }

// ShowStories returns the latest Show HN story IDs.
func (c *Client) ShowStories(ctx context.Context) ([]int, error) { return c.ListIDs(ctx, ListShow) }

// JobStories returns the latest job story IDs.
func (c *Client) JobStories(ctx context.Context) ([]int, error) { return c.ListIDs(ctx, ListJob) }

// ListIDs returns the ids for list, served from cache for ListTTL. Unlike
// GetItem, failures are returned so callers can offer a retry.
func (c *Client) ListIDs(ctx context.Context, list List) ([]int, error) {
	var ids []int
	if c.cache.Get(ctx, list.CacheKey(), &ids) {
		return ids, nil
	}

	var (
		v   interface{}
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		v, err, _ = c.sf.Do(list.CacheKey(), func() (interface{}, error) {
			ids, err := c.fetchList(ctx, list)
			if err != nil {
				return nil, err
			}
			c.cache.Set(ctx, list.CacheKey(), ids, ListTTL)
			return ids, nil
		})
		if !PeerCancelled(ctx, err) {
			break
		}
		slog.Debug("hn: shared list fetch cancelled by another caller, retrying", "list", list)
	}
	if err != nil {
		slog.Error("error fetching story ids", "list", list, "error", err)
		return nil, err
	}
	return v.([]int), nil
}

func (c *Client) fetchList(ctx context.Context, list List) ([]int, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	resp, err := c.fetcher.Get(ctx, c.baseURL+list.path())
	if err != nil {
		return nil, fmt.Errorf("fetch %s stories: %w", list, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s stories: status %d", list, resp.StatusCode)
	}

	var ids []int
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("decode %s stories: %w", list, err)
	}
	if ids == nil {
		ids = []int{}
	}
	return ids, nil
}

// GetItem fetches a single HN item by ID, served from cache for ItemTTL.
//
// It returns (nil, nil) when the item is absent for any remote reason:
// a 4xx, a null body, an undecodable body, or retries exhausted. The error is
// non-nil only when ctx is done, so one unreachable item never fails a page.
func (c *Client) GetItem(ctx context.Context, id int) (*Item, error) {
	var cached Item
	if c.cache.Get(ctx, ItemKey(id), &cached) {
		return &cached, nil
	}

	var (
		v   interface{}
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		v, err, _ = c.sf.Do(ItemKey(id), func() (interface{}, error) {
			item, err := c.fetchItem(ctx, id)
			if err != nil {
				return nil, err
			}
			if item != nil {
				c.cache.Set(ctx, ItemKey(id), item, ItemTTL)
			}
			return item, nil
		})
		if !PeerCancelled(ctx, err) {
			break
		}
		slog.Debug("hn: shared item fetch cancelled by another caller, retrying", "item_id", id)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Error("error fetching item", "item_id", id, "error", err)
		return nil, nil
	}

	item, _ := v.(*Item)
	if item == nil {
		return nil, nil
	}
	// Callers sharing a flight get their own copy.
	cp := *item
	return &cp, nil
}

func (c *Client) fetchItem(ctx context.Context, id int) (*Item, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	resp, err := c.fetcher.Get(ctx, c.baseURL+"/item/"+strconv.Itoa(id)+".json")
	if err != nil {
		return nil, fmt.Errorf("fetch item %d: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("item fetch returned client error", "item_id", id, "status", resp.StatusCode)
		return nil, nil
	}

	var item *Item
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		slog.Warn("error decoding item", "item_id", id, "error", err)
		return nil, nil
	}
	if item == nil {
		slog.Warn("item fetched as null", "item_id", id)
		return nil, nil
	}
	return item, nil
}

// PeerCancelled reports whether err is a context error while ctx itself is
// still live. That happens when a call joins an in-flight request whose
// starting caller went away; the work is worth one more attempt under ctx.
func PeerCancelled(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// GetItems fetches multiple items concurrently and returns them in order.
// Absent items leave nil at their index.
func (c *Client) GetItems(ctx context.Context, ids []int) []*Item {
	results := make([]*Item, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(idx, itemID int) {
			defer wg.Done()
			item, err := c.GetItem(ctx, itemID)
			if err != nil {
				return
			}
			results[idx] = item
		}(i, id)
	}
	wg.Wait()
	return results
}
