package fetch

import (
	"context"
	"errors"
	"sync"

	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/query"
)

// ErrSuperseded is returned when the view's key changed while a fetch was
// in flight. The result went to its own cache slot; the view shows the new key.
var ErrSuperseded = errors.New("view key changed during fetch")

// View is one observer's window onto a collection: the key it currently
// shows and the cache observation that keeps that collection fresh.
type View[T domain.Entity] struct {
	f *Fetcher[T]

	mu      sync.Mutex
	key     query.Key
	hash    string
	release func()
}

// View creates a view with no key. Call SetKey before loading.
func (f *Fetcher[T]) View() *View[T] {
	return &View[T]{f: f}
}

// SetKey switches the view to key. It reports whether the key changed.
func (v *View[T]) SetKey(key query.Key) bool {
	hash := key.Hash()

	v.mu.Lock()
	if v.release != nil && v.hash == hash {
		v.mu.Unlock()
		return false
	}
	old := v.release
	v.key, v.hash = key, hash
	v.release = nil
	v.mu.Unlock()

	if old != nil {
		old()
	}
	release := v.f.cache.Observe(key)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.hash != hash {
		// Switched again while observing
		release()
		return true
	}
	v.release = release
	return true
}

// Key returns the key the view shows
func (v *View[T]) Key() query.Key {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.key
}

func (v *View[T]) active(hash string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hash == hash
}

// Current returns the cached state of the view's key
func (v *View[T]) Current() Collection[T] {
	return v.f.Snapshot(v.Key())
}

// Load loads the view's key. ErrSuperseded reports that the key changed
// before the fetch settled; the returned collection is then the new key's.
func (v *View[T]) Load(ctx context.Context) (Collection[T], error) {
	return v.settle(v.Key(), func(key query.Key) (Collection[T], error) {
		return v.f.Load(ctx, key)
	})
}

// FetchNext appends the next page of the view's key
func (v *View[T]) FetchNext(ctx context.Context) (Collection[T], error) {
	return v.settle(v.Key(), func(key query.Key) (Collection[T], error) {
		return v.f.FetchNext(ctx, key)
	})
}

// Refetch reloads the view's key
func (v *View[T]) Refetch(ctx context.Context) (Collection[T], error) {
	return v.settle(v.Key(), func(key query.Key) (Collection[T], error) {
		return v.f.Refetch(ctx, key)
	})
}

func (v *View[T]) settle(key query.Key, fn func(query.Key) (Collection[T], error)) (Collection[T], error) {
	hash := key.Hash()
	c, err := fn(key)
	if !v.active(hash) {
		return v.Current(), ErrSuperseded
	}
	return c, err
}

// Close releases the view's observation
func (v *View[T]) Close() {
	v.mu.Lock()
	release := v.release
	v.release = nil
	v.hash = ""
	v.mu.Unlock()

	if release != nil {
		release()
	}
}
