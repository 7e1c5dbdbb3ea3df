// Package fetch loads paginated collections into the cache. Identical
// requests in flight are shared, reads retry once on network failure, and at
// most one next-page request runs per collection.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mmcdole/verdad/internal/cache"
	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/query"
)

const (
	defaultPageSize   = 20
	defaultRetryDelay = 500 * time.Millisecond
	maxRefetchRounds  = 3
)

// ErrClosed is returned by fetches against a closed Fetcher
var ErrClosed = errors.New("fetcher closed")

// Source fetches one page of a collection type from the backend
type Source[T domain.Entity] interface {
	Kind() domain.Kind
	Paging() query.Paging
	FetchPage(ctx context.Context, key query.Key, param query.Param, pageSize int) (query.Page[T], error)
}

// Options configures a Fetcher
type Options struct {
	PageSize   int
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Collection is a typed view of a cached collection
type Collection[T domain.Entity] struct {
	Key          query.Key
	Items        []T
	HasMore      bool
	TotalCount   int
	Pages        int
	Loaded       bool
	Stale        bool
	Loading      bool
	FetchingNext bool
	Err          error
	UpdatedAt    time.Time
}

func collect[T domain.Entity](snap cache.Snapshot) Collection[T] {
	items := make([]T, 0, len(snap.Items))
	for _, e := range snap.Items {
		if v, ok := e.(T); ok {
			items = append(items, v)
		}
	}
	return Collection[T]{
		Key:          snap.Key,
		Items:        items,
		HasMore:      snap.HasMore,
		TotalCount:   snap.TotalCount,
		Pages:        snap.Pages,
		Loaded:       snap.Loaded,
		Stale:        snap.Stale,
		Loading:      snap.Loading,
		FetchingNext: snap.FetchingNext,
		Err:          snap.Err,
		UpdatedAt:    snap.UpdatedAt,
	}
}

// Fetcher loads collections of one kind from a Source into a Cache
type Fetcher[T domain.Entity] struct {
	cache      *cache.Cache
	source     Source[T]
	pageSize   int
	retryDelay time.Duration
	logger     *slog.Logger

	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	wg        sync.WaitGroup
	stopStale func()
}

// New creates a Fetcher and registers it to revalidate observed
// collections of its kind when they go stale.
func New[T domain.Entity](c *cache.Cache, src Source[T], opts Options) *Fetcher[T] {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &Fetcher[T]{
		cache:      c,
		source:     src,
		pageSize:   opts.PageSize,
		retryDelay: opts.RetryDelay,
		logger:     opts.Logger.With("kind", src.Kind()),
		ctx:        ctx,
		cancel:     cancel,
	}
	f.stopStale = c.OnStale(src.Kind(), f.revalidate)
	return f
}

// PageSize returns the number of items requested per page
func (f *Fetcher[T]) PageSize() int {
	return f.pageSize
}

// Snapshot returns the cached collection for key without fetching
func (f *Fetcher[T]) Snapshot(key query.Key) Collection[T] {
	return collect[T](f.cache.Snapshot(key))
}

// Load returns the collection for key, fetching the first page if it is not
// cached. Stale collections are returned immediately and refetched in the
// background.
func (f *Fetcher[T]) Load(ctx context.Context, key query.Key) (Collection[T], error) {
	snap := f.cache.Snapshot(key)
	if snap.Loaded {
		if snap.Stale && !snap.Loading {
			f.revalidate(key)
		}
		return collect[T](snap), nil
	}

	err := wait(ctx, f.run("load|"+key.Hash(), func(ctx context.Context) error {
		return f.load(ctx, key)
	}))
	return f.Snapshot(key), err
}

// Fresh is Load for callers that cannot wait for a background refetch: a
// stale collection is refetched before returning. The stale copy is returned
// when the backend is unreachable.
func (f *Fetcher[T]) Fresh(ctx context.Context, key query.Key) (Collection[T], error) {
	if snap := f.cache.Snapshot(key); !snap.Loaded || !snap.Stale {
		return f.Load(ctx, key)
	}
	fresh, err := f.Refetch(ctx, key)
	if err != nil && domain.IsRetryable(err) {
		f.logger.Warn("serving stale collection, backend unreachable", "key", key.Hash(), "error", err)
		return f.Snapshot(key), nil
	}
	return fresh, err
}

// Prefetch starts loading key in the background if it is not cached
func (f *Fetcher[T]) Prefetch(key query.Key) {
	if f.cache.Snapshot(key).Loaded {
		return
	}
	f.run("load|"+key.Hash(), func(ctx context.Context) error {
		return f.load(ctx, key)
	})
}

// FetchNext appends the next page. It is a no-op returning the cached state
// when there are no more pages or a next page is already in flight.
func (f *Fetcher[T]) FetchNext(ctx context.Context, key query.Key) (Collection[T], error) {
	snap := f.cache.Snapshot(key)
	if !snap.Loaded {
		return f.Load(ctx, key)
	}
	if !snap.HasMore || snap.FetchingNext {
		return collect[T](snap), nil
	}

	name := fmt.Sprintf("next|%s|%d|%s", key.Hash(), snap.CurrentPage, snap.NextCursor)
	err := wait(ctx, f.run(name, func(ctx context.Context) error {
		return f.next(ctx, key)
	}))
	return f.Snapshot(key), err
}

// Refetch reloads every loaded page of key and replaces the collection in
// one commit.
func (f *Fetcher[T]) Refetch(ctx context.Context, key query.Key) (Collection[T], error) {
	err := wait(ctx, f.run("refetch|"+key.Hash(), func(ctx context.Context) error {
		return f.refetch(ctx, key)
	}))
	return f.Snapshot(key), err
}

// revalidate refetches key in the background
func (f *Fetcher[T]) revalidate(key query.Key) {
	f.logger.Debug("revalidating stale collection", "key", key.Hash())
	f.run("refetch|"+key.Hash(), func(ctx context.Context) error {
		return f.refetch(ctx, key)
	})
}

// Close cancels in-flight fetches and waits for them to finish
func (f *Fetcher[T]) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()

	f.stopStale()
	f.cancel()
	f.wg.Wait()
}

// Wait blocks until every fetch started so far has finished
func (f *Fetcher[T]) Wait() {
	f.wg.Wait()
}

// run executes fn once per name among concurrent callers, on the fetcher's
// context so that one caller giving up does not cancel the others.
func (f *Fetcher[T]) run(name string, fn func(ctx context.Context) error) <-chan error {
	out := make(chan error, 1)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		out <- ErrClosed
		return out
	}
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		_, err, _ := f.group.Do(name, func() (any, error) {
			return nil, fn(f.ctx)
		})
		out <- err
	}()
	return out
}

func wait(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher[T]) load(ctx context.Context, key query.Key) error {
	// A caller that missed the shared request may arrive after it landed
	if f.cache.Snapshot(key).Loaded {
		return nil
	}
	t, ok := f.cache.Begin(key, cache.OpLoad)
	if !ok {
		return nil
	}
	p, err := f.fetch(ctx, key, query.First(f.source.Paging()))
	if err != nil {
		f.cache.Fail(t, err)
		return err
	}
	f.cache.Commit(t, query.Erase(p))
	return nil
}

func (f *Fetcher[T]) next(ctx context.Context, key query.Key) error {
	t, ok := f.cache.Begin(key, cache.OpNext)
	if !ok {
		return nil
	}
	p, err := f.fetch(ctx, key, t.Param())
	if err != nil {
		f.cache.Fail(t, err)
		return err
	}
	f.cache.Commit(t, query.Erase(p))
	return nil
}

// refetch loads as many pages as are cached. A round superseded by an
// invalidation is retried.
func (f *Fetcher[T]) refetch(ctx context.Context, key query.Key) error {
	for round := 0; round < maxRefetchRounds; round++ {
		want := f.cache.Snapshot(key).Pages
		if want < 1 {
			want = 1
		}

		t, _ := f.cache.Begin(key, cache.OpRefetch)
		var pages []query.Page[domain.Entity]
		param := query.First(f.source.Paging())
		for len(pages) < want {
			p, err := f.fetch(ctx, key, param)
			if err != nil {
				f.cache.Fail(t, err)
				return err
			}
			pages = append(pages, query.Erase(p))
			next, ok := p.Next(f.source.Paging())
			if !ok {
				break
			}
			param = next
		}

		if f.cache.Commit(t, pages...) {
			f.logger.Debug("refetched collection", "key", key.Hash(), "pages", len(pages))
			return nil
		}
	}
	return nil
}

// fetch issues one page request, retrying once on network failure
func (f *Fetcher[T]) fetch(ctx context.Context, key query.Key, param query.Param) (query.Page[T], error) {
	p, err := f.source.FetchPage(ctx, key, param, f.pageSize)
	if err != nil && domain.IsRetryable(err) && ctx.Err() == nil {
		f.logger.Debug("retrying page fetch", "key", key.Hash(), "page", param.Page, "cursor", param.Cursor, "error", err)
		select {
		case <-time.After(f.retryDelay):
		case <-ctx.Done():
			return query.Page[T]{}, ctx.Err()
		}
		p, err = f.source.FetchPage(ctx, key, param, f.pageSize)
	}
	if err != nil {
		f.logger.Warn("page fetch failed", "key", key.Hash(), "error", err)
		return query.Page[T]{}, err
	}

	paging := f.source.Paging()
	if paging == query.OffsetPaging && param.Page > 0 {
		p.CurrentPage = param.Page
	}
	return p.Normalize(paging, f.pageSize), nil
}
