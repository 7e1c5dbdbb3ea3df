package snippet

import (
	"github.com/mmcdole/verdad/internal/cache"
	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/fetch"
	"github.com/mmcdole/verdad/internal/mutation"
	"github.com/mmcdole/verdad/internal/query"
)

// Queries provides synchronous, cache-only reads
type Queries struct {
	cache   *cache.Cache
	engine  *mutation.Engine
	fetcher *fetch.Fetcher[domain.Snippet]
}

// Queries returns cache-only reads over the service's cache
func (s *Service) Queries() *Queries {
	return &Queries{cache: s.cache, engine: s.engine, fetcher: s.fetcher}
}

// Collection returns the cached collection for key
func (q *Queries) Collection(key query.Key) fetch.Collection[domain.Snippet] {
	return q.fetcher.Snapshot(key)
}

// Snippet returns the cached detail for id in lang
func (q *Queries) Snippet(id string, lang domain.Language) (domain.Snippet, bool) {
	e, ok := q.cache.Entity(ref(id), lang)
	if !ok {
		return domain.Snippet{}, false
	}
	sn, ok := e.(domain.Snippet)
	return sn, ok
}

// Find returns the snippet from the key's collection, preferring the cached
// detail when there is one
func (q *Queries) Find(key query.Key, id string) (domain.Snippet, bool) {
	if sn, ok := q.Snippet(id, key.Language); ok {
		return sn, true
	}
	for _, sn := range q.Collection(key).Items {
		if sn.ID == id {
			return sn, true
		}
	}
	return domain.Snippet{}, false
}

// Pending reports whether a mutation on id is still awaiting the server
func (q *Queries) Pending(id string) bool {
	return q.engine.Pending(ref(id)) > 0
}

// Watch returns a channel signaled after any cache change, and its release
func (q *Queries) Watch() (<-chan struct{}, func()) {
	return q.cache.Watch()
}
