package worker

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/danielmmetz/hn-reader/cache"
	"github.com/danielmmetz/hn-reader/hn"
	"github.com/danielmmetz/hn-reader/metrics"
)

const (
	TreeTTL = 10 * time.Minute

	DefaultMaxDepth = 200
	DefaultMaxNodes = 10000
)

// ItemGetter returns an item or (nil, nil) when it is absent. A non-nil error
// aborts the whole tree.
type ItemGetter interface {
	GetItem(ctx context.Context, id int) (*hn.Item, error)
}

type AssemblerOption func(*Assembler)

// WithMaxDepth bounds how many levels below the roots are resolved.
func WithMaxDepth(n int) AssemblerOption {
	return func(a *Assembler) { a.maxDepth = n }
}

// WithMaxNodes bounds how many nodes one tree may resolve.
func WithMaxNodes(n int) AssemblerOption {
	return func(a *Assembler) { a.maxNodes = n }
}

// Assembler resolves comment ids into nested trees and caches each tree.
type Assembler struct {
	items    ItemGetter
	cache    *cache.Cache
	sf       singleflight.Group
	maxDepth int
	maxNodes int
}

func NewAssembler(items ItemGetter, c *cache.Cache, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		items:    items,
		cache:    c,
		maxDepth: DefaultMaxDepth,
		maxNodes: DefaultMaxNodes,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Outcome is the result of one tree resolution. Err is set when the
// resolution as a whole failed and Items is empty because of it.
type Outcome struct {
	Items     []*hn.Item
	Nodes     int
	Truncated bool
	Err       error
}

// TreeKey is the cache key for a set of root ids; it ignores their order.
func TreeKey(rootIDs []int) string {
	sorted := slices.Clone(rootIDs)
	slices.Sort(sorted)
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.Itoa(id)
	}
	return "comments_" + strings.Join(parts, "_")
}

// CommentTree returns the visible roots among rootIDs, in order, each with its
// replies resolved. It never fails: a resolution that errors as a whole
// yields an empty slice.
func (a *Assembler) CommentTree(ctx context.Context, rootIDs []int) []*hn.Item {
	if len(rootIDs) == 0 {
		return []*hn.Item{}
	}
	key := TreeKey(rootIDs)

	var cached []*hn.Item
	if a.cache.Get(ctx, key, &cached) {
		metrics.CommentTrees.WithLabelValues(metrics.TreeCached).Inc()
		return cached
	}

	for attempt := 0; ; attempt++ {
		v, err, _ := a.sf.Do(key, func() (interface{}, error) {
			out := a.Resolve(ctx, rootIDs)
			if out.Err != nil {
				return nil, out.Err
			}
			if out.Truncated {
				metrics.CommentTrees.WithLabelValues(metrics.TreeTruncated).Inc()
				slog.Warn("comment tree truncated", "key", key, "nodes", out.Nodes, "max_nodes", a.maxNodes, "max_depth", a.maxDepth)
			}
			metrics.CommentTrees.WithLabelValues(metrics.TreeResolved).Inc()
			metrics.CommentTreeNodes.Observe(float64(out.Nodes))
			a.cache.Set(ctx, key, out.Items, TreeTTL)
			return out.Items, nil
		})
		if err == nil {
			return v.([]*hn.Item)
		}
		// A walk shared with a caller that went away is redone once under ctx.
		if attempt == 0 && hn.PeerCancelled(ctx, err) {
			slog.Debug("shared comment tree cancelled by another caller, retrying", "key", key)
			continue
		}
		metrics.CommentTrees.WithLabelValues(metrics.TreeDegraded).Inc()
		slog.Error("comment tree resolution failed, returning empty", "key", key, "roots", len(rootIDs), "error", err)
		return []*hn.Item{}
	}
}

// Resolve assembles the trees under rootIDs without consulting the tree cache.
//
// Resolution walks an explicit frontier one level at a time. Every id wanted
// by the current level is fetched concurrently, then each parent receives its
// visible children in Kids order regardless of completion order.
func (a *Assembler) Resolve(ctx context.Context, rootIDs []int) Outcome {
	roots, err := a.fetchLevel(ctx, rootIDs)
	if err != nil {
		return Outcome{Items: []*hn.Item{}, Err: err}
	}

	out := Outcome{Items: visible(roots)}
	out.Nodes = len(out.Items)
	frontier := out.Items

	for depth := 1; len(frontier) > 0; depth++ {
		var (
			parents []*hn.Item
			ids     []int
		)
		for _, parent := range frontier {
			if len(parent.Kids) == 0 {
				continue
			}
			if depth > a.maxDepth || out.Nodes+len(ids)+len(parent.Kids) > a.maxNodes {
				out.Truncated = true
				continue
			}
			parents = append(parents, parent)
			ids = append(ids, parent.Kids...)
		}
		if len(ids) == 0 {
			break
		}

		children, err := a.fetchLevel(ctx, ids)
		if err != nil {
			return Outcome{Items: []*hn.Item{}, Err: err}
		}

		var next []*hn.Item
		offset := 0
		for _, parent := range parents {
			parent.Children = visible(children[offset : offset+len(parent.Kids)])
			offset += len(parent.Kids)
			next = append(next, parent.Children...)
		}
		out.Nodes += len(next)
		frontier = next
	}
	return out
}

// fetchLevel fetches ids concurrently. The result is index-aligned with ids;
// absent items are nil. Each item is a private copy the caller may mutate.
func (a *Assembler) fetchLevel(ctx context.Context, ids []int) ([]*hn.Item, error) {
	results := make([]*hn.Item, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			item, err := a.items.GetItem(gctx, id)
			if err != nil {
				return err
			}
			if item != nil {
				cp := *item
				cp.Children = nil
				results[i] = &cp
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// visible drops absent and tombstoned items, keeping order. The result is
// never nil.
func visible(items []*hn.Item) []*hn.Item {
	kept := make([]*hn.Item, 0, len(items))
	for _, it := range items {
		if it.Visible() {
			kept = append(kept, it)
		}
	}
	return kept
}
