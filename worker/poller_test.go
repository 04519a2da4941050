package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielmmetz/hn-reader/cache"
	"github.com/danielmmetz/hn-reader/hn"
	"github.com/danielmmetz/hn-reader/store"
)

type fakeStories struct {
	*fakeItems
	lists  map[hn.List][]int
	listed []hn.List
}

func (f *fakeStories) ListIDs(_ context.Context, list hn.List) ([]int, error) {
	f.mu.Lock()
	f.listed = append(f.listed, list)
	f.mu.Unlock()
	ids, ok := f.lists[list]
	if !ok {
		return nil, errors.New("unavailable")
	}
	return ids, nil
}

func (f *fakeStories) GetItems(ctx context.Context, ids []int) []*hn.Item {
	out := make([]*hn.Item, len(ids))
	for i, id := range ids {
		out[i], _ = f.GetItem(ctx, id)
	}
	return out
}

func TestPoller_WarmsListsStoriesAndComments(t *testing.T) {
	items := newFakeItems(
		&hn.Item{ID: 100, Type: hn.KindStory, By: "pg", Kids: []int{1}},
		&hn.Item{ID: 101, Type: hn.KindStory, By: "pg"},
		&hn.Item{ID: 102, Type: hn.KindStory, By: "pg", Kids: []int{2}},
		comment(1, 3),
		comment(2),
		comment(3),
	)
	src := &fakeStories{fakeItems: items, lists: map[hn.List][]int{
		hn.ListTop: {100, 101, 102},
		hn.ListAsk: {101},
	}}
	mem := store.NewMemory()
	c := cache.New(mem)
	p := NewPoller(src, NewAssembler(items, c), time.Minute, 2)

	p.Poll(context.Background())

	assert.Equal(t, hn.Lists, src.listed, "every list polled even when one fails")
	assert.Equal(t, 1, items.calls[1])
	assert.Equal(t, 1, items.calls[3])
	assert.Zero(t, items.calls[102], "only the leading stories are warmed")

	var tree []*hn.Item
	require.True(t, c.Get(context.Background(), TreeKey([]int{1}), &tree))
	assert.Equal(t, []int{1}, ids(tree))
	assert.Equal(t, []int{3}, ids(tree[0].Children))
}

func TestPoller_StopsOnCancel(t *testing.T) {
	items := newFakeItems()
	src := &fakeStories{fakeItems: items, lists: map[hn.List][]int{}}
	p := NewPoller(src, NewAssembler(items, cache.New(store.NewMemory())), time.Hour, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Poll(ctx)

	assert.Empty(t, src.listed)
}

func TestPoller_StartRunsUntilCancelled(t *testing.T) {
	items := newFakeItems()
	src := &fakeStories{fakeItems: items, lists: map[hn.List][]int{hn.ListTop: {}}}
	p := NewPoller(src, NewAssembler(items, cache.New(store.NewMemory())), 5*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.listed) >= 2*len(hn.Lists)
	}, time.Second, 5*time.Millisecond)
	cancel()
	// goleak in TestMain verifies the loop exits.
	time.Sleep(20 * time.Millisecond)
}

func TestCountNodes(t *testing.T) {
	tree := []*hn.Item{
		{ID: 1, Children: []*hn.Item{{ID: 2}, {ID: 3, Children: []*hn.Item{{ID: 4}}}}},
		{ID: 5},
	}
	assert.Equal(t, 5, countNodes(tree))
}
