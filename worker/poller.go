package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/danielmmetz/hn-reader/hn"
)

// StorySource is the part of hn.Client the poller needs.
type StorySource interface {
	ListIDs(ctx context.Context, list hn.List) ([]int, error)
	GetItems(ctx context.Context, ids []int) []*hn.Item
}

// Poller keeps the cache warm: on every tick it refreshes each list, the
// leading stories of each list, and those stories' comment trees.
type Poller struct {
	client    StorySource
	assembler *Assembler
	lists     []hn.List
	interval  time.Duration
	count     int
}

func NewPoller(client StorySource, assembler *Assembler, interval time.Duration, count int) *Poller {
	return &Poller{
		client:    client,
		assembler: assembler,
		lists:     hn.Lists,
		interval:  interval,
		count:     count,
	}
}

// Start begins the polling loop. It runs until the context is cancelled.
func (p *Poller) Start(ctx context.Context) {
	go func() {
		p.Poll(ctx)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("poller: shutting down")
				return
			case <-ticker.C:
				p.Poll(ctx)
			}
		}
	}()
}

// Poll runs one warm pass over every list.
func (p *Poller) Poll(ctx context.Context) {
	slog.Info("poller: warming cache", "lists", len(p.lists), "count", p.count)
	start := time.Now()

	var stories, comments int
	for _, list := range p.lists {
		if ctx.Err() != nil {
			slog.Info("poller: cancelled during warm")
			return
		}

		ids, err := p.client.ListIDs(ctx, list)
		if err != nil {
			slog.Error("poller: error fetching story ids", "list", list, "error", err)
			continue
		}

		eager := min(p.count, len(ids))
		for _, item := range p.client.GetItems(ctx, ids[:eager]) {
			if item == nil {
				continue
			}
			stories++
			if len(item.Kids) == 0 {
				continue
			}
			if ctx.Err() != nil {
				slog.Info("poller: cancelled during comment warm")
				return
			}
			comments += countNodes(p.assembler.CommentTree(ctx, item.Kids))
		}
	}

	slog.Info("poll complete", "stories_warmed", stories, "comments_warmed", comments, "elapsed", time.Since(start))
}

func countNodes(items []*hn.Item) int {
	n := len(items)
	for _, it := range items {
		n += countNodes(it.Children)
	}
	return n
}
