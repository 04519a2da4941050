package hn_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielmmetz/hn-reader/cache"
	"github.com/danielmmetz/hn-reader/fetch"
	"github.com/danielmmetz/hn-reader/hn"
	"github.com/danielmmetz/hn-reader/store"
)

// fakeHN serves canned bodies by path and counts requests per path.
type fakeHN struct {
	mu     sync.Mutex
	bodies map[string]string
	status map[string]int
	delay  map[string]time.Duration
	hits   map[string]int
}

func newFakeHN(t *testing.T) (*fakeHN, *httptest.Server) {
	t.Helper()
	f := &fakeHN{
		bodies: map[string]string{},
		status: map[string]int{},
		delay:  map[string]time.Duration{},
		hits:   map[string]int{},
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeHN) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	body, ok := f.bodies[r.URL.Path]
	status := f.status[r.URL.Path]
	delay := f.delay[r.URL.Path]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

func (f *fakeHN) set(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[path] = body
}

func (f *fakeHN) setStatus(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[path] = status
}

func (f *fakeHN) setDelay(path string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay[path] = d
}

func (f *fakeHN) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newClient(srv *httptest.Server, c *cache.Cache) *hn.Client {
	f := fetch.New(srv.Client(), fetch.WithSleep(noSleep))
	return hn.NewClient(f, c, hn.WithBaseURL(srv.URL))
}

func TestGetItem_CachedWithinTTL(t *testing.T) {
	fake, srv := newFakeHN(t)
	fake.set("/item/8863.json", `{"id":8863,"type":"story","by":"dhouston","time":1175714200,"title":"My YC app: Dropbox","score":111,"kids":[9224,8917],"descendants":71}`)
	client := newClient(srv, cache.New(store.NewMemory()))
	ctx := context.Background()

	first, err := client.GetItem(ctx, 8863)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, hn.KindStory, first.Type)
	assert.Equal(t, []int{9224, 8917}, first.Kids)
	assert.Nil(t, first.Children)

	second, err := client.GetItem(ctx, 8863)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.count("/item/8863.json"))
}

func TestGetItem_RefetchedAfterTTL(t *testing.T) {
	fake, srv := newFakeHN(t)
	fake.set("/item/1.json", `{"id":1,"by":"pg","score":1}`)
	now := time.Now()
	c := cache.New(store.NewMemory(), cache.WithClock(func() time.Time { return now }))
	client := newClient(srv, c)
	ctx := context.Background()

	_, err := client.GetItem(ctx, 1)
	require.NoError(t, err)

	fake.set("/item/1.json", `{"id":1,"by":"pg","score":5}`)
	now = now.Add(hn.ItemTTL + time.Millisecond)

	item, err := client.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, item.Score)
	assert.Equal(t, 2, fake.count("/item/1.json"))
}

func TestGetItem_AbsentCases(t *testing.T) {
	fake, srv := newFakeHN(t)
	fake.set("/item/2.json", `null`)
	fake.setStatus("/item/3.json", http.StatusInternalServerError)
	fake.set("/item/4.json", `{"id":`)
	client := newClient(srv, cache.New(store.NewMemory()))
	ctx := context.Background()

	tests := []struct {
		name     string
		id       int
		attempts int
	}{
		{name: "not found", id: 1, attempts: 1},
		{name: "null body", id: 2, attempts: 1},
		{name: "server error exhausts retries", id: 3, attempts: 3},
		{name: "corrupt body", id: 4, attempts: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := client.GetItem(ctx, tt.id)
			require.NoError(t, err)
			assert.Nil(t, item)
			assert.Equal(t, tt.attempts, fake.count("/item/"+strconv.Itoa(tt.id)+".json"))
		})
	}
}

func TestGetItem_AbsentNotCached(t *testing.T) {
	fake, srv := newFakeHN(t)
	fake.set("/item/2.json", `null`)
	client := newClient(srv, cache.New(store.NewMemory()))
	ctx := context.Background()

	for range 2 {
		item, err := client.GetItem(ctx, 2)
		require.NoError(t, err)
		assert.Nil(t, item)
	}
	assert.Equal(t, 2, fake.count("/item/2.json"))
}

func TestGetItem_CancelledContext(t *testing.T) {
	_, srv := newFakeHN(t)
	client := newClient(srv, cache.New(store.NewMemory()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	item, err := client.GetItem(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, item)
}

func TestGetItem_ConcurrentCallersShareOneRequest(t *testing.T) {
	fake, srv := newFakeHN(t)
	fake.set("/item/7.json", `{"id":7,"type":"comment","by":"norvig","text":"hi"}`)
	fake.setDelay("/item/7.json", 50*time.Millisecond)
	client := newClient(srv, cache.New(store.NewMemory()))

	const callers = 8
	results := make([]*hn.Item, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			item, err := client.GetItem(context.Background(), 7)
			assert.NoError(t, err)
			results[i] = item
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, fake.count("/item/7.json"))
	for _, item := range results {
		require.NotNil(t, item)
		assert.Equal(t, "norvig", item.By)
	}
	assert.NotSame(t, results[0], results[1], "each caller gets its own copy")
}

func TestGetItem_SharedRequestOutlivesCancelledCaller(t *testing.T) {
	fake, srv := newFakeHN(t)
	fake.set("/item/7.json", `{"id":7,"type":"comment","by":"norvig","text":"hi"}`)
	fake.setDelay("/item/7.json", 100*time.Millisecond)
	client := newClient(srv, cache.New(store.NewMemory()))

	var (
		wg    sync.WaitGroup
		itemA *hn.Item
		errA  error
		itemB *hn.Item
		errB  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		itemA, errA = client.GetItem(ctx, 7)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		itemB, errB = client.GetItem(context.Background(), 7)
	}()
	wg.Wait()

	assert.ErrorIs(t, errA, context.DeadlineExceeded)
	assert.Nil(t, itemA)

	require.NoError(t, errB)
	require.NotNil(t, itemB, "a live caller never sees the item as absent")
	assert.Equal(t, 7, itemB.ID)
	assert.Equal(t, 2, fake.count("/item/7.json"))
}

func TestListIDs_SharedRequestOutlivesCancelledCaller(t *testing.T) {
	fake, srv := newFakeHN(t)
	fake.set("/topstories.json", `[3,1,2]`)
	fake.setDelay("/topstories.json", 100*time.Millisecond)
	client := newClient(srv, cache.New(store.NewMemory()))

	var (
		wg   sync.WaitGroup
		ids  []int
		errB error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		client.TopStories(ctx)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		ids, errB = client.TopStories(context.Background())
	}()
	wg.Wait()

	require.NoError(t, errB)
	assert.Equal(t, []int{3, 1, 2}, ids)
}

func TestPeerCancelled(t *testing.T) {
	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, hn.PeerCancelled(live, fmt.Errorf("fetch: %w", context.Canceled)))
	assert.True(t, hn.PeerCancelled(live, context.DeadlineExceeded))
	assert.False(t, hn.PeerCancelled(done, context.Canceled), "own cancellation is final")
	assert.False(t, hn.PeerCancelled(live, errors.New("connection refused")))
	assert.False(t, hn.PeerCancelled(live, nil))
}

func TestListIDs(t *testing.T) {
	fake, srv := newFakeHN(t)
	fake.set("/topstories.json", `[3,1,2]`)
	fake.set("/askstories.json", `[10]`)
	fake.set("/showstories.json", `[20,21]`)
	fake.set("/jobstories.json", `[]`)
	mem := store.NewMemory()
	client := newClient(srv, cache.New(mem))
	ctx := context.Background()

	top, err := client.TopStories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 2}, top)

	ask, err := client.AskStories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{10}, ask)

	show, err := client.ShowStories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{20, 21}, show)

	jobs, err := client.JobStories(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	_, err = client.TopStories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.count("/topstories.json"))

	for _, key := range []string{"top_story_ids", "ask_story_ids", "show_story_ids", "job_story_ids"} {
		_, ok, err := mem.Get(ctx, cache.DefaultPrefix+key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}
}

func TestListIDs_FailureSurfaces(t *testing.T) {
	fake, srv := newFakeHN(t)
	fake.setStatus("/topstories.json", http.StatusServiceUnavailable)
	client := newClient(srv, cache.New(store.NewMemory()))

	ids, err := client.TopStories(context.Background())
	assert.ErrorIs(t, err, fetch.ErrRetriesExhausted)
	assert.Nil(t, ids)
	assert.Equal(t, 3, fake.count("/topstories.json"))
}

func TestListIDs_ClientErrorSurfaces(t *testing.T) {
	_, srv := newFakeHN(t)
	client := newClient(srv, cache.New(store.NewMemory()))

	_, err := client.JobStories(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestGetItems_PreservesOrder(t *testing.T) {
	fake, srv := newFakeHN(t)
	for _, id := range []int{5, 9} {
		b, _ := json.Marshal(hn.Item{ID: id, By: "u"})
		fake.set("/item/"+strconv.Itoa(id)+".json", string(b))
	}
	client := newClient(srv, cache.New(store.NewMemory()))

	items := client.GetItems(context.Background(), []int{9, 7, 5})
	require.Len(t, items, 3)
	assert.Equal(t, 9, items[0].ID)
	assert.Nil(t, items[1])
	assert.Equal(t, 5, items[2].ID)
}

func TestParseList(t *testing.T) {
	for _, s := range []string{"top", "ask", "show", "job"} {
		l, err := hn.ParseList(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(l))
	}
	_, err := hn.ParseList("best")
	assert.Error(t, err)
}

func TestItemVisible(t *testing.T) {
	assert.True(t, (&hn.Item{ID: 1, By: "a"}).Visible())
	assert.False(t, (&hn.Item{ID: 1, By: "a", Deleted: true}).Visible())
	assert.False(t, (&hn.Item{ID: 1, By: "a", Dead: true}).Visible())
	assert.False(t, (&hn.Item{ID: 1}).Visible())
	assert.False(t, (*hn.Item)(nil).Visible())
}
