package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/danielmmetz/hn-reader/hn"
	"github.com/danielmmetz/hn-reader/readability"
	"github.com/danielmmetz/hn-reader/worker"
)

const (
	rateLimitWindow   = 30 * time.Second
	rateLimitCapacity = 10000 // max entries before forced sweep
	rateLimitSweepAge = 60 * time.Second
)

// Invalidator drops a single cache entry.
type Invalidator interface {
	Remove(ctx context.Context, key string) error
}

type RefreshHandler struct {
	items    Items
	trees    Trees
	articles Articles
	cache    Invalidator
	now      func() time.Time

	wg        sync.WaitGroup
	mu        sync.Mutex
	lastFetch map[int]time.Time // rate limit tracking (bounded with TTL eviction)
}

func NewRefreshHandler(items Items, trees Trees, articles Articles, cache Invalidator) *RefreshHandler {
	return &RefreshHandler{
		items:     items,
		trees:     trees,
		articles:  articles,
		cache:     cache,
		now:       time.Now,
		lastFetch: make(map[int]time.Time),
	}
}

// Refresh handles POST /api/items/{id}/refresh. It drops the item and its
// comment tree from the cache and re-warms both in the background.
func (h *RefreshHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	// Rate limit: 1 request per item per 30 seconds (with periodic eviction)
	h.mu.Lock()
	now := h.now()

	if len(h.lastFetch) > rateLimitCapacity {
		h.sweepLocked(now)
	}

	if last, ok := h.lastFetch[id]; ok && now.Sub(last) < rateLimitWindow {
		h.mu.Unlock()
		http.Error(w, "rate limited, retry after 30s", http.StatusTooManyRequests)
		return
	}
	h.lastFetch[id] = now
	h.mu.Unlock()

	reExtract := r.URL.Query().Get("article") == "true"

	// The stale copy still names the tree key to drop.
	stale, err := h.items.GetItem(r.Context(), id)
	if err != nil {
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
		return
	}
	h.invalidate(r.Context(), id, stale, reExtract)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "accepted",
		"story_id": id,
	})

	// Background work uses a detached context (not tied to the request)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.doRefresh(context.Background(), id, reExtract)
	}()
}

// Wait blocks until in-flight background refreshes finish.
func (h *RefreshHandler) Wait() { h.wg.Wait() }

// sweepLocked removes entries older than rateLimitSweepAge. Must be called with h.mu held.
func (h *RefreshHandler) sweepLocked(now time.Time) {
	for id, t := range h.lastFetch {
		if now.Sub(t) > rateLimitSweepAge {
			delete(h.lastFetch, id)
		}
	}
}

func (h *RefreshHandler) invalidate(ctx context.Context, id int, stale *hn.Item, reExtract bool) {
	keys := []string{hn.ItemKey(id)}
	if stale != nil && len(stale.Kids) > 0 {
		keys = append(keys, worker.TreeKey(stale.Kids))
	}
	if reExtract {
		keys = append(keys, readability.ArticleKey(id))
	}
	for _, key := range keys {
		if err := h.cache.Remove(ctx, key); err != nil {
			slog.Warn("refresh: cache remove failed", "key", key, "error", err)
		}
	}
}

func (h *RefreshHandler) doRefresh(ctx context.Context, id int, reExtract bool) {
	item, err := h.items.GetItem(ctx, id)
	if err != nil || item == nil {
		slog.Warn("refresh: item unavailable", "item_id", id, "error", err)
		return
	}

	n := len(h.trees.CommentTree(ctx, item.Kids))

	if reExtract && item.URL != "" {
		if _, err := h.articles.Extract(ctx, id, item.URL); err != nil {
			slog.Error("refresh: article extraction failed", "item_id", id, "error", err)
		}
	}

	slog.Info("refresh complete", "item_id", id, "top_level_comments", n)
}
