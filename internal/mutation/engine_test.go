package mutation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/verdad/internal/cache"
	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/filter"
	"github.com/mmcdole/verdad/internal/query"
)

const (
	timeout = time.Second
	tick    = 5 * time.Millisecond
)

type session struct{ user *domain.User }

func (s session) CurrentUser() (domain.User, bool) {
	if s.user == nil {
		return domain.User{}, false
	}
	return *s.user, true
}

var signedIn = session{user: &domain.User{ID: "u1", Email: "reviewer@example.org"}}

type notices struct {
	mu  sync.Mutex
	all []Notice
}

func (n *notices) Notify(notice Notice) {
	n.mu.Lock()
	n.all = append(n.all, notice)
	n.mu.Unlock()
}

func (n *notices) list() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.all...)
}

var (
	plainKey   = query.NewKey(domain.KindSnippet, filter.State{}, domain.LanguageEnglish)
	labeledKey = query.NewKey(domain.KindSnippet, filter.State{Labels: []string{"Elections"}}, domain.LanguageEnglish)
	starredKey = query.NewKey(domain.KindSnippet, filter.State{StarredBy: []filter.Ownership{filter.ByMe}}, domain.LanguageEnglish)
)

func fill(t *testing.T, c *cache.Cache, key query.Key, items ...domain.Entity) {
	t.Helper()
	tk, ok := c.Begin(key, cache.OpLoad)
	require.True(t, ok)
	require.True(t, c.Commit(tk, query.Page[domain.Entity]{Items: items, CurrentPage: 1, TotalPages: 1}))
}

func setup(t *testing.T, s domain.Session) (*Engine, *cache.Cache, *notices) {
	t.Helper()
	c := cache.New(cache.Options{})
	n := &notices{}
	e := NewEngine(c, s, n, nil)

	a := domain.Snippet{ID: "A", LikeCount: 5, DislikeCount: 1}
	b := domain.Snippet{ID: "B"}
	fill(t, c, plainKey, a, b)
	fill(t, c, labeledKey, b, a)
	c.PutEntity(domain.LanguageEnglish, domain.Snippet{ID: "A", Title: "Detail", LikeCount: 5, DislikeCount: 1})
	return e, c, n
}

func snippetAt(t *testing.T, c *cache.Cache, key query.Key, id string) domain.Snippet {
	t.Helper()
	for _, e := range c.Snapshot(key).Items {
		if e.EntityID() == id {
			return e.(domain.Snippet)
		}
	}
	t.Fatalf("%s not in %s", id, key.Hash())
	return domain.Snippet{}
}

func detail(t *testing.T, c *cache.Cache, id string) domain.Snippet {
	t.Helper()
	e, ok := c.Entity(domain.Ref{Kind: domain.KindSnippet, ID: id}, domain.LanguageEnglish)
	require.True(t, ok)
	return e.(domain.Snippet)
}

var refA = domain.Ref{Kind: domain.KindSnippet, ID: "A"}

func star(remote func(ctx context.Context) (Patch, error)) Mutation {
	return Mutation{
		Name:       "star",
		Target:     refA,
		Optimistic: func(cur domain.Entity) (Patch, error) { return StarPatch(cur), nil },
		Remote:     remote,
		Affects:    []filter.Dimension{filter.DimStarredBy},
	}
}

func like(requested domain.LikeStatus, remote func(ctx context.Context) (Patch, error)) Mutation {
	return Mutation{
		Name:   "like",
		Target: refA,
		Optimistic: func(cur domain.Entity) (Patch, error) {
			s, ok := cur.(domain.Snippet)
			if !ok {
				return nil, nil
			}
			return LikePatch(s, requested), nil
		},
		Remote: remote,
	}
}

func TestRollbackRestoresExactPriorState(t *testing.T) {
	e, c, n := setup(t, signedIn)
	before := map[string][]domain.Entity{
		"plain":   c.Snapshot(plainKey).Items,
		"labeled": c.Snapshot(labeledKey).Items,
	}
	beforeDetail := detail(t, c, "A")

	rec, err := e.Perform(context.Background(), star(func(context.Context) (Patch, error) {
		// Optimistic patch is visible everywhere before the call returns
		assert.True(t, snippetAt(t, c, plainKey, "A").Starred)
		assert.True(t, snippetAt(t, c, labeledKey, "A").Starred)
		assert.True(t, detail(t, c, "A").Starred)
		assert.False(t, snippetAt(t, c, plainKey, "B").Starred)
		return nil, domain.ErrNetwork
	}))

	require.ErrorIs(t, err, domain.ErrNetwork)
	assert.Equal(t, RolledBack, rec.State)
	assert.Len(t, rec.Touched, 3)
	assert.Equal(t, SnippetPatch{Starred: Set(false)}, rec.Inverse)

	if diff := cmp.Diff(before["plain"], c.Snapshot(plainKey).Items); diff != "" {
		t.Errorf("plain collection not restored (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before["labeled"], c.Snapshot(labeledKey).Items); diff != "" {
		t.Errorf("labeled collection not restored (-want +got):\n%s", diff)
	}
	assert.Equal(t, beforeDetail, detail(t, c, "A"))
	assert.Equal(t, 0, e.Pending(refA))

	require.Len(t, n.list(), 1)
	assert.Equal(t, "star", n.list()[0].Mutation)
	assert.Equal(t, "Server unreachable, change reverted", n.list()[0].Message)
}

func TestReconcileWritesServerValues(t *testing.T) {
	e, c, n := setup(t, signedIn)

	rec, err := e.Perform(context.Background(), like(domain.Like, func(context.Context) (Patch, error) {
		got := snippetAt(t, c, plainKey, "A")
		assert.Equal(t, domain.Like, got.Vote())
		assert.Equal(t, 6, got.LikeCount, "optimistic count")
		// Another reviewer liked it meanwhile
		return SnippetPatch{UserLikeStatus: Set(vote(domain.Like)), LikeCount: Set(9), DislikeCount: Set(1)}, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, Reconciled, rec.State)

	for _, s := range []domain.Snippet{snippetAt(t, c, plainKey, "A"), snippetAt(t, c, labeledKey, "A"), detail(t, c, "A")} {
		assert.Equal(t, domain.Like, s.Vote())
		assert.Equal(t, 9, s.LikeCount)
	}
	assert.Equal(t, "Detail", detail(t, c, "A").Title, "unpatched fields kept")
	assert.Empty(t, n.list())
	assert.Equal(t, 0, e.Pending(refA))
}

func TestRollbackKeepsInterleavedPendingPatch(t *testing.T) {
	e, c, _ := setup(t, signedIn)
	ctx := context.Background()

	firstCalled, releaseFirst := make(chan struct{}), make(chan struct{})
	secondCalled, releaseSecond := make(chan struct{}), make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := e.Perform(ctx, like(domain.Like, func(context.Context) (Patch, error) {
			close(firstCalled)
			<-releaseFirst
			return nil, &domain.RemoteError{Message: "rate limited"}
		}))
		assert.Error(t, err)
	}()
	<-firstCalled

	// Computed from the optimistically liked state: dislike, likes back to 5
	go func() {
		defer wg.Done()
		_, err := e.Perform(ctx, like(domain.Dislike, func(context.Context) (Patch, error) {
			close(secondCalled)
			<-releaseSecond
			return SnippetPatch{UserLikeStatus: Set(vote(domain.Dislike)), LikeCount: Set(5), DislikeCount: Set(2)}, nil
		}))
		assert.NoError(t, err)
	}()
	<-secondCalled
	assert.Equal(t, 2, e.Pending(refA))

	got := snippetAt(t, c, plainKey, "A")
	assert.Equal(t, domain.Dislike, got.Vote())
	assert.Equal(t, 5, got.LikeCount)
	assert.Equal(t, 2, got.DislikeCount)

	close(releaseFirst)
	waitPending(t, e, 1)

	// The first rollback must not clobber the second, still pending, patch
	got = snippetAt(t, c, plainKey, "A")
	assert.Equal(t, domain.Dislike, got.Vote())
	assert.Equal(t, 5, got.LikeCount)
	assert.Equal(t, 2, got.DislikeCount)

	close(releaseSecond)
	wg.Wait()

	for _, s := range []domain.Snippet{snippetAt(t, c, plainKey, "A"), snippetAt(t, c, labeledKey, "A"), detail(t, c, "A")} {
		assert.Equal(t, domain.Dislike, s.Vote())
		assert.Equal(t, 5, s.LikeCount)
		assert.Equal(t, 2, s.DislikeCount)
	}
	assert.Equal(t, 0, e.Pending(refA))
}

func TestToggleTwiceSecondFails(t *testing.T) {
	e, c, _ := setup(t, signedIn)
	ctx := context.Background()

	called, release := make(chan struct{}), make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := e.Perform(ctx, star(func(context.Context) (Patch, error) {
			close(called)
			<-release
			return SnippetPatch{Starred: Set(true)}, nil
		}))
		assert.NoError(t, err)
	}()
	<-called

	// Second toggle unstars the optimistically starred snippet, then fails
	_, err := e.Perform(ctx, star(func(context.Context) (Patch, error) {
		assert.False(t, snippetAt(t, c, plainKey, "A").Starred)
		return nil, domain.ErrNetwork
	}))
	require.Error(t, err)
	assert.True(t, snippetAt(t, c, plainKey, "A").Starred, "first toggle still pending")

	close(release)
	<-done
	assert.True(t, snippetAt(t, c, plainKey, "A").Starred)
	assert.True(t, detail(t, c, "A").Starred)
}

func waitPending(t *testing.T, e *Engine, want int) {
	t.Helper()
	assert.Eventually(t, func() bool { return e.Pending(refA) == want }, timeout, tick)
}

func TestAuthRequiredFailsFast(t *testing.T) {
	e, c, n := setup(t, session{})
	before := c.Snapshot(plainKey).Items

	called := false
	rec, err := e.Perform(context.Background(), star(func(context.Context) (Patch, error) {
		called = true
		return nil, nil
	}))

	require.ErrorIs(t, err, domain.ErrAuthRequired)
	assert.False(t, called, "no network call without a user")
	assert.Equal(t, RolledBack, rec.State)
	assert.Equal(t, before, c.Snapshot(plainKey).Items)
	require.Len(t, n.list(), 1)
	assert.Equal(t, "Sign in to do that", n.list()[0].Message)

	m := star(func(context.Context) (Patch, error) { return nil, nil })
	m.Anonymous = true
	_, err = e.Perform(context.Background(), m)
	assert.NoError(t, err)
}

func TestOverlayKeepsPendingPatchOnFreshPages(t *testing.T) {
	e, c, _ := setup(t, signedIn)

	called, release := make(chan struct{}), make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := e.Perform(context.Background(), star(func(context.Context) (Patch, error) {
			close(called)
			<-release
			return SnippetPatch{Starred: Set(true)}, nil
		}))
		assert.NoError(t, err)
	}()
	<-called

	// A refetch lands with the server's pre-mutation value
	tk, ok := c.Begin(plainKey, cache.OpRefetch)
	require.True(t, ok)
	c.Commit(tk, query.Page[domain.Entity]{Items: []domain.Entity{domain.Snippet{ID: "A", Title: "fresh"}}, CurrentPage: 1, TotalPages: 1})
	got := snippetAt(t, c, plainKey, "A")
	assert.True(t, got.Starred, "pending patch applied over fresh data")
	assert.Equal(t, "fresh", got.Title)

	close(release)
	<-done
	got = snippetAt(t, c, plainKey, "A")
	assert.True(t, got.Starred)
	assert.Equal(t, "fresh", got.Title)
}

func TestConflictRollsBack(t *testing.T) {
	e, c, n := setup(t, signedIn)

	m := Mutation{
		Name:       "hide",
		Target:     refA,
		Optimistic: func(domain.Entity) (Patch, error) { return SnippetPatch{Hidden: Set(true)}, nil },
		Remote: func(context.Context) (Patch, error) {
			return SnippetPatch{Hidden: Set(false)}, nil
		},
		Verify: func(optimistic, server Patch) error {
			if optimistic.(SnippetPatch).Hidden != server.(SnippetPatch).Hidden {
				return domain.Conflict("hide_snippet", "snippet was not hidden")
			}
			return nil
		},
	}

	rec, err := e.Perform(context.Background(), m)
	require.ErrorIs(t, err, domain.ErrConflict)
	var remote *domain.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "snippet was not hidden", remote.Message)
	assert.Equal(t, RolledBack, rec.State)
	assert.False(t, snippetAt(t, c, plainKey, "A").Hidden)
	assert.Equal(t, "Changed on the server, reverted", n.list()[0].Message)
}

func TestAffectedDimensionsInvalidateOnSuccess(t *testing.T) {
	e, c, _ := setup(t, signedIn)
	fill(t, c, starredKey, domain.Snippet{ID: "Z", Starred: true})

	_, err := e.Perform(context.Background(), star(func(context.Context) (Patch, error) { return nil, errors.New("nope") }))
	require.Error(t, err)
	assert.False(t, c.Snapshot(starredKey).Stale, "failed mutations invalidate nothing")

	_, err = e.Perform(context.Background(), star(func(context.Context) (Patch, error) {
		return SnippetPatch{Starred: Set(true)}, nil
	}))
	require.NoError(t, err)
	assert.True(t, c.Snapshot(starredKey).Stale)
	assert.False(t, c.Snapshot(plainKey).Stale, "scalar toggles patch in place")
	assert.False(t, c.Snapshot(labeledKey).Stale)
}

func TestCreateInvalidatesKinds(t *testing.T) {
	e, c, _ := setup(t, signedIn)

	_, err := e.Perform(context.Background(), Mutation{
		Name:       "add label",
		Target:     refA,
		Remote:     func(context.Context) (Patch, error) { return nil, nil },
		Invalidate: []domain.Kind{domain.KindSnippet},
	})
	require.NoError(t, err)
	assert.True(t, c.Snapshot(plainKey).Stale)
	assert.True(t, c.Snapshot(labeledKey).Stale)
}

func TestUncachedTargetReconcilesLater(t *testing.T) {
	c := cache.New(cache.Options{})
	e := NewEngine(c, signedIn, nil, nil)
	ref := domain.Ref{Kind: domain.KindRecording, ID: "r1"}

	var seen domain.Entity = domain.Recording{}
	rec, err := e.Perform(context.Background(), Mutation{
		Name:   "star recording",
		Target: ref,
		Optimistic: func(cur domain.Entity) (Patch, error) {
			seen = cur
			return nil, nil
		},
		Remote: func(context.Context) (Patch, error) { return RecordingPatch{Starred: Set(true)}, nil },
	})
	require.NoError(t, err)
	assert.Nil(t, seen, "uncached target is passed as nil")
	assert.Nil(t, rec.Patch)
	assert.Equal(t, RecordingPatch{Starred: Set(true)}, rec.Result)
}

func TestOptimisticErrorSkipsRemote(t *testing.T) {
	e, _, _ := setup(t, signedIn)
	called := false
	_, err := e.Perform(context.Background(), Mutation{
		Name:       "upvote label",
		Target:     refA,
		Optimistic: func(domain.Entity) (Patch, error) { return nil, domain.ErrNotFound },
		Remote: func(context.Context) (Patch, error) {
			called = true
			return nil, nil
		},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, called)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "permission denied", Describe(&domain.RemoteError{Message: "permission denied"}))
	assert.Equal(t, "Something went wrong, change reverted", Describe(errors.New("x")))
}
