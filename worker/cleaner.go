package worker

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper removes dead entries from a cache.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Cleaner periodically sweeps entries that expired without being read again,
// such as trees keyed by a kid set that has since changed.
type Cleaner struct {
	cache    Sweeper
	interval time.Duration
}

func NewCleaner(cache Sweeper, interval time.Duration) *Cleaner {
	return &Cleaner{cache: cache, interval: interval}
}

// Start begins the cleanup cycle. It runs until the context is cancelled.
func (c *Cleaner) Start(ctx context.Context) {
	go func() {
		// First sweep waits a full interval; nothing has expired at startup.
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("cleaner: shutting down")
				return
			case <-ticker.C:
				c.cleanup(ctx)
			}
		}
	}()
}

func (c *Cleaner) cleanup(ctx context.Context) {
	start := time.Now()
	removed, err := c.cache.Sweep(ctx)
	if err != nil {
		slog.Error("cleaner: sweep failed", "removed", removed, "error", err)
		return
	}
	slog.Info("cleaner: sweep complete", "removed", removed, "elapsed", time.Since(start))
}
