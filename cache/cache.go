// Package cache is a TTL cache over a durable key-value store.
//
// Entries are stored as JSON {"value": ..., "expiresAt": <epoch millis>} under
// a namespace prefix so the cache can share a backing store with unrelated
// data. Reads never fail: expired and unparsable entries are purged and
// reported as misses. Writes never fail either; a store error is logged and the
// key simply stays uncached.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielmmetz/hn-reader/metrics"
)

// DefaultPrefix namespaces every key written by a Cache.
const DefaultPrefix = "hn_clone_cache_"

// Store is a durable key-value store. Every operation is single-key atomic.
// Get reports ok=false for a missing key. Deleting a missing key is not an error.
// CompareAndDelete removes key only while it still holds old, so a purge never
// discards an entry that a concurrent Set just wrote.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error)
}

type entry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt int64           `json:"expiresAt"`
}

type Option func(*Cache)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

type Cache struct {
	store  Store
	prefix string
	now    func() time.Time
}

func New(store Store, opts ...Option) *Cache {
	c := &Cache{store: store, prefix: DefaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prefix returns the namespace prefix applied to every key.
func (c *Cache) Prefix() string { return c.prefix }

// Set stores value under key until now+ttl, replacing any existing entry.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		metrics.CacheWriteFailures.Inc()
		slog.Error("cache: encode value", "key", key, "error", err)
		return
	}
	data, err := json.Marshal(entry{Value: raw, ExpiresAt: c.now().Add(ttl).UnixMilli()})
	if err != nil {
		metrics.CacheWriteFailures.Inc()
		slog.Error("cache: encode entry", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, c.prefix+key, data); err != nil {
		metrics.CacheWriteFailures.Inc()
		slog.Error("cache: set failed", "key", key, "error", err)
		return
	}
	slog.Debug("cache: set", "key", key, "ttl", ttl)
}

// Get decodes the live entry for key into dst and reports whether it did.
// Expired or corrupt entries are deleted.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	data, ok, err := c.store.Get(ctx, c.prefix+key)
	if err != nil {
		metrics.CacheLookups.WithLabelValues(metrics.LookupError).Inc()
		slog.Error("cache: get failed", "key", key, "error", err)
		return false
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues(metrics.LookupMiss).Inc()
		slog.Debug("cache: miss", "key", key)
		return false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.purge(ctx, key, data, metrics.LookupCorrupt, err)
		return false
	}
	if c.now().UnixMilli() >= e.ExpiresAt {
		c.purge(ctx, key, data, metrics.LookupExpired, nil)
		return false
	}
	if err := json.Unmarshal(e.Value, dst); err != nil {
		c.purge(ctx, key, data, metrics.LookupCorrupt, err)
		return false
	}

	metrics.CacheLookups.WithLabelValues(metrics.LookupHit).Inc()
	slog.Debug("cache: hit", "key", key)
	return true
}

// purge deletes key if it still holds data.
func (c *Cache) purge(ctx context.Context, key string, data []byte, reason string, cause error) {
	metrics.CacheLookups.WithLabelValues(reason).Inc()
	if cause != nil {
		slog.Warn("cache: dropping corrupt entry", "key", key, "error", cause)
	} else {
		slog.Debug("cache: expired", "key", key)
	}
	if _, err := c.store.CompareAndDelete(ctx, c.prefix+key, data); err != nil {
		slog.Error("cache: purge failed", "key", key, "error", err)
	}
}

// Remove deletes key.
func (c *Cache) Remove(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, c.prefix+key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Clear deletes every entry in this cache's namespace and nothing else.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.store.DeletePrefix(ctx, c.prefix); err != nil {
		return fmt.Errorf("clear %s: %w", c.prefix, err)
	}
	return nil
}

// Sweep deletes every expired or corrupt entry in the namespace, including
// ones no reader will ask for again, and returns how many it removed.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	keys, err := c.store.Keys(ctx, c.prefix)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", c.prefix, err)
	}

	now := c.now().UnixMilli()
	removed := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		data, ok, err := c.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var e entry
		if json.Unmarshal(data, &e) == nil && now < e.ExpiresAt {
			continue
		}
		deleted, err := c.store.CompareAndDelete(ctx, key, data)
		if err != nil {
			slog.Error("cache: sweep delete failed", "key", key, "error", err)
			continue
		}
		if deleted {
			removed++
		}
	}
	metrics.CacheSwept.Add(float64(removed))
	return removed, nil
}
