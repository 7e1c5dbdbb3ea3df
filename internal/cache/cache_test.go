package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/filter"
	"github.com/mmcdole/verdad/internal/query"
	"github.com/mmcdole/verdad/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T) (*Cache, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC)}
	return New(Options{IdleTimeout: time.Minute, Now: clk.Now}), clk
}

func snippetKey(labels ...string) query.Key {
	return query.NewKey(domain.KindSnippet, filter.State{Labels: labels}, domain.LanguageEnglish)
}

func page(ids []string, current, total int) query.Page[domain.Entity] {
	items := make([]domain.Entity, len(ids))
	for i, id := range ids {
		items[i] = domain.Snippet{ID: id}
	}
	return query.Page[domain.Entity]{Items: items, CurrentPage: current, TotalPages: total}.
		Normalize(query.OffsetPaging, 2)
}

func ids(items []domain.Entity) []string {
	out := make([]string, len(items))
	for i, e := range items {
		out[i] = e.EntityID()
	}
	return out
}

func TestLoadThenNext(t *testing.T) {
	c, _ := newTestCache(t)
	key := snippetKey()

	_, ok := c.Begin(key, OpNext)
	assert.False(t, ok, "next before first page")

	load, ok := c.Begin(key, OpLoad)
	require.True(t, ok)
	assert.True(t, c.Snapshot(key).Loading)
	require.True(t, c.Commit(load, page([]string{"a", "b"}, 1, 2)))

	snap := c.Snapshot(key)
	assert.True(t, snap.Loaded)
	assert.False(t, snap.Loading)
	assert.True(t, snap.HasMore)

	next, ok := c.Begin(key, OpNext)
	require.True(t, ok)
	assert.Equal(t, query.Param{Page: 2}, next.Param())

	_, ok = c.Begin(key, OpNext)
	assert.False(t, ok, "one next page in flight per key")

	require.True(t, c.Commit(next, page([]string{"c", "d"}, 2, 2)))
	snap = c.Snapshot(key)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(snap.Items))
	assert.Equal(t, 2, snap.Pages)
	assert.False(t, snap.HasMore)

	_, ok = c.Begin(key, OpNext)
	assert.False(t, ok, "no fetch once hasMore is false")
}

func TestCommitIsSettledOnce(t *testing.T) {
	c, _ := newTestCache(t)
	key := snippetKey()

	load, _ := c.Begin(key, OpLoad)
	require.True(t, c.Commit(load, page([]string{"a", "b"}, 1, 3)))
	next, _ := c.Begin(key, OpNext)
	require.True(t, c.Commit(next, page([]string{"c"}, 2, 3)))

	assert.False(t, c.Commit(next, page([]string{"c"}, 2, 3)))
	c.Fail(next, assert.AnError)
	assert.Equal(t, []string{"a", "b", "c"}, ids(c.Snapshot(key).Items))
	assert.NoError(t, c.Snapshot(key).Err)
}

func TestReloadSupersedesNext(t *testing.T) {
	c, _ := newTestCache(t)
	key := snippetKey()

	load, _ := c.Begin(key, OpLoad)
	c.Commit(load, page([]string{"a", "b"}, 1, 3))

	next, ok := c.Begin(key, OpNext)
	require.True(t, ok)
	reload, _ := c.Begin(key, OpRefetch)
	require.True(t, c.Commit(reload, page([]string{"x", "y"}, 1, 3)))

	assert.False(t, c.Commit(next, page([]string{"c", "d"}, 2, 3)), "next from the old generation")
	assert.Equal(t, []string{"x", "y"}, ids(c.Snapshot(key).Items))
}

func TestFailKeepsLoadedPages(t *testing.T) {
	c, _ := newTestCache(t)
	key := snippetKey()

	load, _ := c.Begin(key, OpLoad)
	c.Commit(load, page([]string{"a", "b"}, 1, 2))

	next, _ := c.Begin(key, OpNext)
	c.Fail(next, domain.ErrNetwork)

	snap := c.Snapshot(key)
	assert.Equal(t, []string{"a", "b"}, ids(snap.Items))
	assert.ErrorIs(t, snap.Err, domain.ErrNetwork)
	assert.False(t, snap.FetchingNext)

	// The failed page can be retried
	next, ok := c.Begin(key, OpNext)
	require.True(t, ok)
	c.Commit(next, page([]string{"c"}, 2, 2))
	snap = c.Snapshot(key)
	assert.NoError(t, snap.Err)
	assert.Len(t, snap.Items, 3)
}

func TestStructuralKeysShareSlot(t *testing.T) {
	c, _ := newTestCache(t)

	load, _ := c.Begin(snippetKey("b", "a"), OpLoad)
	c.Commit(load, page([]string{"a"}, 1, 1))

	assert.True(t, c.Snapshot(snippetKey("a", "b")).Loaded)
	assert.Equal(t, 1, c.Len())
}

func TestInvalidateMarksStaleAndNotifiesObserved(t *testing.T) {
	c, _ := newTestCache(t)
	observed, idle, other := snippetKey("x"), snippetKey("y"), query.NewKey(domain.KindRecording, filter.State{}, domain.LanguageEnglish)
	for _, k := range []query.Key{observed, idle, other} {
		load, _ := c.Begin(k, OpLoad)
		c.Commit(load, page([]string{"a"}, 1, 1))
	}
	release := c.Observe(observed)
	defer release()

	var mu sync.Mutex
	var stale []string
	cancel := c.OnStale(domain.KindSnippet, func(k query.Key) {
		mu.Lock()
		stale = append(stale, k.Hash())
		mu.Unlock()
	})
	defer cancel()

	c.Invalidate(domain.KindSnippet)

	assert.Equal(t, []string{observed.Hash()}, stale, "only observed collections revalidate eagerly")
	assert.True(t, c.Snapshot(observed).Stale)
	assert.True(t, c.Snapshot(idle).Stale)
	assert.False(t, c.Snapshot(other).Stale)
	assert.Equal(t, []string{"a"}, ids(c.Snapshot(idle).Items), "stale data stays readable")
}

func TestObserveRevalidatesStale(t *testing.T) {
	c, _ := newTestCache(t)
	key := snippetKey()
	load, _ := c.Begin(key, OpLoad)
	c.Commit(load, page([]string{"a"}, 1, 1))
	c.Invalidate(domain.KindSnippet)

	calls := 0
	cancel := c.OnStale(domain.KindSnippet, func(query.Key) { calls++ })
	defer cancel()

	release := c.Observe(key)
	release()
	release()
	assert.Equal(t, 1, calls, "observing a stale collection triggers one refetch")
}

func TestInvalidateWhere(t *testing.T) {
	c, _ := newTestCache(t)
	starred := query.NewKey(domain.KindSnippet, filter.State{StarredBy: []filter.Ownership{filter.ByMe}}, domain.LanguageEnglish)
	plain := snippetKey()
	for _, k := range []query.Key{starred, plain} {
		load, _ := c.Begin(k, OpLoad)
		c.Commit(load, page([]string{"a"}, 1, 1))
	}

	c.InvalidateWhere(domain.KindSnippet, func(k query.Key) bool { return k.Filter.Has(filter.DimStarredBy) })
	assert.True(t, c.Snapshot(starred).Stale)
	assert.False(t, c.Snapshot(plain).Stale)
}

func TestInvalidateDropsInFlightResultOfLoadedSlot(t *testing.T) {
	c, _ := newTestCache(t)
	key := snippetKey()
	load, _ := c.Begin(key, OpLoad)
	c.Commit(load, page([]string{"a"}, 1, 1))

	refetch, _ := c.Begin(key, OpRefetch)
	c.Invalidate(domain.KindSnippet)
	assert.False(t, c.Commit(refetch, page([]string{"old"}, 1, 1)))
	assert.True(t, c.Snapshot(key).Stale)
}

func TestInvalidateDuringFirstLoadKeepsResultStale(t *testing.T) {
	c, _ := newTestCache(t)
	key := snippetKey()
	load, _ := c.Begin(key, OpLoad)
	c.Invalidate(domain.KindSnippet)

	require.True(t, c.Commit(load, page([]string{"a"}, 1, 1)))
	snap := c.Snapshot(key)
	assert.True(t, snap.Loaded)
	assert.True(t, snap.Stale)
}

func TestCollect(t *testing.T) {
	c, clk := newTestCache(t)
	idle, watched, busy := snippetKey("idle"), snippetKey("watched"), snippetKey("busy")
	for _, k := range []query.Key{idle, watched} {
		load, _ := c.Begin(k, OpLoad)
		c.Commit(load, page([]string{"a"}, 1, 1))
	}
	release := c.Observe(watched)
	inflight, _ := c.Begin(busy, OpLoad)

	clk.Advance(30 * time.Second)
	assert.Equal(t, 0, c.Collect())

	clk.Advance(31 * time.Second)
	assert.Equal(t, 1, c.Collect())
	assert.False(t, c.Snapshot(idle).Loaded)
	assert.True(t, c.Snapshot(watched).Loaded)

	c.Abort(inflight)
	release()
	clk.Advance(2 * time.Minute)
	assert.Equal(t, 2, c.Collect())
	assert.Equal(t, 0, c.Len())
}

func TestRunStopsWithContext(t *testing.T) {
	c, _ := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestWatchCoalesces(t *testing.T) {
	c, _ := newTestCache(t)
	ch, stop := c.Watch()
	defer stop()

	key := snippetKey()
	load, _ := c.Begin(key, OpLoad)
	c.Commit(load, page([]string{"a"}, 1, 1))
	c.Invalidate(domain.KindSnippet)

	select {
	case <-ch:
	default:
		t.Fatal("expected a change notification")
	}
	select {
	case <-ch:
		t.Fatal("notifications should coalesce")
	default:
	}
}

func TestUpdateTx(t *testing.T) {
	c, _ := newTestCache(t)
	a, b := snippetKey("a"), snippetKey("b")
	for _, k := range []query.Key{a, b} {
		load, _ := c.Begin(k, OpLoad)
		c.Commit(load, page([]string{"s1", "s2"}, 1, 1))
	}
	c.PutEntity(domain.LanguageEnglish, domain.Snippet{ID: "s1", Title: "detail"})
	before := c.Snapshot(a)

	ref := domain.Ref{Kind: domain.KindSnippet, ID: "s1"}
	c.Update(func(tx *Tx) {
		locs := tx.Locate(ref)
		require.Len(t, locs, 3)
		assert.True(t, locs[0].IsEntity())
		for _, loc := range locs {
			e, ok := tx.Get(loc)
			require.True(t, ok)
			s := e.(domain.Snippet)
			s.Starred = true
			assert.True(t, tx.Set(loc, s))
		}
		assert.False(t, tx.Set(Location{Slot: a.Hash(), ID: "missing"}, domain.Snippet{ID: "missing"}))
	})

	for _, k := range []query.Key{a, b} {
		assert.True(t, c.Snapshot(k).Items[0].(domain.Snippet).Starred)
		assert.False(t, c.Snapshot(k).Items[1].(domain.Snippet).Starred)
	}
	e, ok := c.Entity(ref, domain.LanguageEnglish)
	require.True(t, ok)
	assert.True(t, e.(domain.Snippet).Starred)
	assert.Equal(t, "detail", e.(domain.Snippet).Title)

	assert.False(t, before.Items[0].(domain.Snippet).Starred, "earlier snapshots are not mutated")
}

type starOverlay struct{ id string }

func (o starOverlay) Overlay(_ Location, e domain.Entity) domain.Entity {
	if s, ok := e.(domain.Snippet); ok && s.ID == o.id {
		s.Starred = true
		return s
	}
	return e
}

func (o starOverlay) Base(_ Location, e domain.Entity) domain.Entity {
	if s, ok := e.(domain.Snippet); ok && s.ID == o.id {
		s.Starred = false
		return s
	}
	return e
}

func TestOverlayAppliesOnCommit(t *testing.T) {
	c, _ := newTestCache(t)
	c.SetOverlay(starOverlay{id: "b"})

	key := snippetKey()
	load, _ := c.Begin(key, OpLoad)
	c.Commit(load, page([]string{"a", "b"}, 1, 1))

	items := c.Snapshot(key).Items
	assert.False(t, items[0].(domain.Snippet).Starred)
	assert.True(t, items[1].(domain.Snippet).Starred)
}

func TestHydrateFromStore(t *testing.T) {
	s, err := store.NewSnapshotStore(t.TempDir(), "")
	require.NoError(t, err)
	defer s.Close()

	key := snippetKey()
	first := New(Options{Store: s})
	load, _ := first.Begin(key, OpLoad)
	first.Commit(load, page([]string{"a", "b"}, 1, 2))

	second := New(Options{Store: s})
	snap := second.Snapshot(key)
	assert.True(t, snap.Loaded)
	assert.True(t, snap.Stale, "hydrated data is revalidated")
	assert.Equal(t, []string{"a", "b"}, ids(snap.Items))
	assert.True(t, snap.HasMore)

	second.Invalidate(domain.KindSnippet)
	third := New(Options{Store: s})
	assert.False(t, third.Snapshot(key).Loaded, "invalidation removes the persisted copy")
}

func TestClearKeepsObservers(t *testing.T) {
	c, clk := newTestCache(t)
	key := snippetKey()
	load, _ := c.Begin(key, OpLoad)
	c.Commit(load, page([]string{"a"}, 1, 1))
	release := c.Observe(key)

	c.Clear()
	assert.False(t, c.Snapshot(key).Loaded)

	clk.Advance(time.Hour)
	assert.Equal(t, 0, c.Collect(), "observed slot survives")
	release()
	clk.Advance(time.Hour)
	assert.Equal(t, 1, c.Collect())
}

func newStore(t *testing.T) *store.SnapshotStore {
	t.Helper()
	s, err := store.NewSnapshotStore(t.TempDir(), "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorePersistsServerValues(t *testing.T) {
	s := newStore(t)
	c := New(Options{Store: s})
	c.SetOverlay(starOverlay{id: "a"})
	ref := domain.Ref{Kind: domain.KindSnippet, ID: "a"}

	key := snippetKey()
	load, _ := c.Begin(key, OpLoad)
	c.Commit(load, page([]string{"a", "b"}, 1, 1))
	c.PutEntity(domain.LanguageEnglish, domain.Snippet{ID: "a", Title: "detail"})

	e, ok := c.Entity(ref, domain.LanguageEnglish)
	require.True(t, ok)
	assert.True(t, e.(domain.Snippet).Starred, "memory shows the pending patch")

	stored, ok := s.GetEntity(ref, domain.LanguageEnglish)
	require.True(t, ok)
	assert.False(t, stored.(domain.Snippet).Starred, "the store holds the server value")

	snap, ok := s.GetCollection(domain.KindSnippet, key.Hash())
	require.True(t, ok)
	assert.False(t, snap.Items[0].(domain.Snippet).Starred)
}

func TestUpdateWritesThroughToStore(t *testing.T) {
	s := newStore(t)
	c := New(Options{Store: s})
	ref := domain.Ref{Kind: domain.KindSnippet, ID: "a"}

	key := snippetKey()
	load, _ := c.Begin(key, OpLoad)
	c.Commit(load, page([]string{"a"}, 1, 1))
	c.PutEntity(domain.LanguageEnglish, domain.Snippet{ID: "a", Title: "detail"})

	c.Update(func(tx *Tx) {
		for _, loc := range tx.Locate(ref) {
			cur, _ := tx.Get(loc)
			sn := cur.(domain.Snippet)
			sn.Starred = true
			tx.Set(loc, sn)
		}
	})

	next := New(Options{Store: s})
	e, ok := next.Entity(ref, domain.LanguageEnglish)
	require.True(t, ok)
	assert.True(t, e.(domain.Snippet).Starred)
	assert.Equal(t, "detail", e.(domain.Snippet).Title)
	assert.True(t, next.Snapshot(key).Items[0].(domain.Snippet).Starred)
}

func TestRestoredEntityIsStale(t *testing.T) {
	s := newStore(t)
	ref := domain.Ref{Kind: domain.KindSnippet, ID: "a"}
	New(Options{Store: s}).PutEntity(domain.LanguageEnglish, domain.Snippet{ID: "a"})

	c := New(Options{Store: s})
	assert.False(t, c.EntityStale(ref, domain.LanguageEnglish), "nothing restored yet")
	_, ok := c.Entity(ref, domain.LanguageEnglish)
	require.True(t, ok)
	assert.True(t, c.EntityStale(ref, domain.LanguageEnglish))

	c.PutEntity(domain.LanguageEnglish, domain.Snippet{ID: "a"})
	assert.False(t, c.EntityStale(ref, domain.LanguageEnglish), "a fetch makes it fresh")
}
