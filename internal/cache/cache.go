// Package cache is the process-wide store of fetched collections and
// entities. The fetcher and the mutation engine are its only writers; views
// read snapshots and subscribe to change notifications.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/query"
)

// DefaultIdleTimeout is how long an unobserved collection survives
const DefaultIdleTimeout = 5 * time.Minute

// Op is the kind of fetch a ticket commits
type Op int

const (
	OpLoad    Op = iota // First page, replaces the collection
	OpNext              // Next page, appended
	OpRefetch           // Every loaded page again, replaces the collection
)

func (o Op) String() string {
	switch o {
	case OpNext:
		return "next"
	case OpRefetch:
		return "refetch"
	default:
		return "load"
	}
}

// Overlay rewrites entities as they enter the cache. The mutation engine uses
// it to keep pending optimistic patches on top of fresh server data. It is
// called with the cache lock held and must not call back into the cache.
type Overlay interface {
	Overlay(loc Location, e domain.Entity) domain.Entity

	// Base returns the server value behind the cached e at loc. Only base
	// values are persisted.
	Base(loc Location, e domain.Entity) domain.Entity
}

// Options configures a Cache
type Options struct {
	IdleTimeout time.Duration
	Store       domain.SnapshotStore // nil disables persistence
	Logger      *slog.Logger
	Now         func() time.Time
}

// Snapshot is a read-only copy of one cached collection
type Snapshot struct {
	Key          query.Key
	Items        []domain.Entity
	Pages        int
	HasMore      bool
	NextCursor   string
	CurrentPage  int
	TotalPages   int
	TotalCount   int
	Loaded       bool
	Stale        bool
	Loading      bool
	FetchingNext bool
	Err          error // Last failed page load; loaded pages are kept
	UpdatedAt    time.Time
}

type slot struct {
	key   query.Key
	items []domain.Entity

	pages       int
	hasMore     bool
	nextCursor  string
	currentPage int
	totalPages  int
	totalCount  int

	loaded bool
	stale  bool
	err    error

	// Bumped by replacing commits and invalidation; older tickets are dropped
	epoch uint64
	loads int
	nexts int

	observers  int
	lastAccess time.Time
	updatedAt  time.Time
}

func (s *slot) nextParam() query.Param {
	if s.nextCursor != "" {
		return query.Param{Cursor: s.nextCursor}
	}
	return query.Param{Page: s.currentPage + 1}
}

func (s *slot) snapshot() Snapshot {
	return Snapshot{
		Key:          s.key,
		Items:        append([]domain.Entity(nil), s.items...),
		Pages:        s.pages,
		HasMore:      s.hasMore,
		NextCursor:   s.nextCursor,
		CurrentPage:  s.currentPage,
		TotalPages:   s.totalPages,
		TotalCount:   s.totalCount,
		Loaded:       s.loaded,
		Stale:        s.stale,
		Loading:      s.loads > 0,
		FetchingNext: s.nexts > 0,
		Err:          s.err,
		UpdatedAt:    s.updatedAt,
	}
}

type listener struct {
	kind domain.Kind
	fn   func(query.Key)
}

// Cache holds collection slots keyed by query-key hash and entities keyed by
// reference and language.
type Cache struct {
	mu       sync.Mutex
	slots    map[string]*slot
	entities map[string]map[string]domain.Entity // "entity:<lang>" -> id -> entity
	restored map[Location]bool                   // Entities read back from the store, not refetched since
	overlay  Overlay

	listeners map[int]listener
	nextID    int
	watchers  map[chan struct{}]struct{}

	store  domain.SnapshotStore
	idle   time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// New creates an empty cache
func New(opts Options) *Cache {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{
		slots:     make(map[string]*slot),
		entities:  make(map[string]map[string]domain.Entity),
		restored:  make(map[Location]bool),
		listeners: make(map[int]listener),
		watchers:  make(map[chan struct{}]struct{}),
		store:     opts.Store,
		idle:      opts.IdleTimeout,
		now:       opts.Now,
		logger:    opts.Logger,
	}
}

// SetOverlay installs the entity overlay
func (c *Cache) SetOverlay(o Overlay) {
	c.mu.Lock()
	c.overlay = o
	c.mu.Unlock()
}

// lookup returns the slot for key, hydrating it from the store when absent.
// Hydrated slots are stale so that the first read revalidates them.
func (c *Cache) lookup(key query.Key, create bool) *slot {
	hash := key.Hash()
	if s, ok := c.slots[hash]; ok {
		return s
	}
	if c.store != nil {
		if snap, ok := c.store.GetCollection(key.Kind, hash); ok {
			s := &slot{
				key:         key,
				pages:       snap.Pages,
				hasMore:     snap.HasMore,
				nextCursor:  snap.NextCursor,
				currentPage: snap.CurrentPage,
				totalPages:  snap.TotalPages,
				totalCount:  snap.TotalCount,
				loaded:      true,
				stale:       true,
				lastAccess:  c.now(),
				updatedAt:   snap.SavedAt,
			}
			s.items = c.overlayItems(hash, snap.Items)
			c.slots[hash] = s
			c.logger.Debug("hydrated collection from store", "key", hash, "items", len(s.items))
			return s
		}
	}
	if !create {
		return nil
	}
	s := &slot{key: key, lastAccess: c.now()}
	c.slots[hash] = s
	return s
}

func (c *Cache) overlayItems(slotName string, items []domain.Entity) []domain.Entity {
	out := make([]domain.Entity, 0, len(items))
	for _, e := range items {
		if c.overlay != nil {
			e = c.overlay.Overlay(Location{Slot: slotName, ID: e.EntityID()}, e)
		}
		out = append(out, e)
	}
	return out
}

// Snapshot returns the current state of the collection for key. A key that
// was never fetched yields a zero snapshot with Loaded false.
func (c *Cache) Snapshot(key query.Key) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.lookup(key, false)
	if s == nil {
		return Snapshot{Key: key}
	}
	s.lastAccess = c.now()
	return s.snapshot()
}

// Observe registers an active observer of key until the returned release
// func is called. Observed collections are never collected, and go stale
// listeners refetch them in the background.
func (c *Cache) Observe(key query.Key) (release func()) {
	c.mu.Lock()
	s := c.lookup(key, true)
	s.observers++
	s.lastAccess = c.now()
	revalidate := s.loaded && s.stale && s.loads == 0
	fns := c.listenersFor(key.Kind)
	c.mu.Unlock()

	if revalidate {
		for _, fn := range fns {
			fn(key)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if s, ok := c.slots[key.Hash()]; ok && s.observers > 0 {
				s.observers--
				s.lastAccess = c.now()
			}
		})
	}
}

// Begin starts a fetch against key. It reports false when the fetch should
// not be issued: a next page with nothing more to load, before the first
// page, or while another next page or reload is in flight.
func (c *Cache) Begin(key query.Key, op Op) (*Ticket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.lookup(key, true)
	t := &Ticket{key: key, hash: key.Hash(), op: op, epoch: s.epoch}
	switch op {
	case OpNext:
		if !s.loaded || !s.hasMore || s.nexts > 0 || s.loads > 0 {
			return nil, false
		}
		t.param = s.nextParam()
		s.nexts++
	default:
		s.loads++
	}
	s.lastAccess = c.now()
	c.notifyLocked()
	return t, true
}

func (c *Cache) finish(t *Ticket) (*slot, bool) {
	if t == nil || t.done {
		return nil, false
	}
	t.done = true
	s, ok := c.slots[t.hash]
	if !ok {
		return nil, false
	}
	if t.op == OpNext {
		s.nexts--
	} else {
		s.loads--
	}
	return s, true
}

// Commit writes fetched pages into the slot. Load and Next take one page;
// Refetch takes every page in order. It reports false when the ticket was
// superseded and the pages were discarded.
func (c *Cache) Commit(t *Ticket, pages ...query.Page[domain.Entity]) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.finish(t)
	if !ok || len(pages) == 0 {
		c.notifyLocked()
		return false
	}

	superseded := t.epoch != s.epoch
	if superseded && (s.loaded || t.op == OpNext) {
		c.logger.Debug("discarding superseded page", "key", t.hash, "op", t.op.String())
		c.notifyLocked()
		return false
	}

	last := pages[len(pages)-1]
	switch t.op {
	case OpNext:
		if s.nextParam() != t.param {
			c.notifyLocked()
			return false
		}
		seen := make(map[string]bool, len(s.items))
		for _, e := range s.items {
			seen[e.EntityID()] = true
		}
		var fresh []domain.Entity
		for _, e := range last.Items {
			if !seen[e.EntityID()] {
				seen[e.EntityID()] = true
				fresh = append(fresh, e)
			}
		}
		s.items = append(s.items, c.overlayItems(t.hash, fresh)...)
		s.pages++
	default:
		var items []domain.Entity
		seen := make(map[string]bool)
		for _, p := range pages {
			for _, e := range p.Items {
				if !seen[e.EntityID()] {
					seen[e.EntityID()] = true
					items = append(items, e)
				}
			}
		}
		s.items = c.overlayItems(t.hash, items)
		s.pages = len(pages)
		s.epoch++
		// An invalidation that raced the first load leaves the result stale
		s.stale = superseded
	}

	s.hasMore = last.HasMore
	s.nextCursor = last.NextCursor
	s.currentPage = last.CurrentPage
	s.totalPages = last.TotalPages
	s.totalCount = last.TotalCount
	s.loaded = true
	s.err = nil
	s.updatedAt = c.now()
	s.lastAccess = s.updatedAt

	c.persistLocked(t.hash, s)
	c.notifyLocked()
	return true
}

// Fail records a failed fetch. Already-loaded pages are kept.
func (c *Cache) Fail(t *Ticket, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.finish(t)
	if ok && t.epoch == s.epoch {
		s.err = err
	}
	c.notifyLocked()
}

// Abort releases a ticket without touching the slot
func (c *Cache) Abort(t *Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finish(t)
	c.notifyLocked()
}

// Invalidate marks every collection of kind stale. Observed collections are
// handed to stale listeners for a background refetch; the rest refetch on
// their next read. Stale data stays readable until the refetch lands.
func (c *Cache) Invalidate(kind domain.Kind) {
	c.InvalidateWhere(kind, nil)
}

// InvalidateWhere is Invalidate restricted to keys matching pred
func (c *Cache) InvalidateWhere(kind domain.Kind, pred func(query.Key) bool) {
	c.mu.Lock()
	var observed []query.Key
	count := 0
	for hash, s := range c.slots {
		if s.key.Kind != kind || (pred != nil && !pred(s.key)) {
			continue
		}
		s.stale = true
		s.epoch++
		count++
		if c.store != nil {
			c.store.DeleteCollection(kind, hash)
		}
		if s.observers > 0 && s.loaded {
			observed = append(observed, s.key)
		}
	}
	fns := c.listenersFor(kind)
	c.notifyLocked()
	c.mu.Unlock()

	c.logger.Debug("invalidated collections", "kind", kind, "count", count, "observed", len(observed))
	for _, key := range observed {
		for _, fn := range fns {
			fn(key)
		}
	}
}

// OnStale registers fn to be called, outside the cache lock, for each
// observed collection of kind that goes stale.
func (c *Cache) OnStale(kind domain.Kind, fn func(query.Key)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener{kind: kind, fn: fn}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Cache) listenersFor(kind domain.Kind) []func(query.Key) {
	var fns []func(query.Key)
	for _, l := range c.listeners {
		if l.kind == kind {
			fns = append(fns, l.fn)
		}
	}
	return fns
}

// Watch returns a channel that receives a value after any cache change.
// Notifications coalesce; a slow reader sees one pending value.
func (c *Cache) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.watchers[ch] = struct{}{}
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		delete(c.watchers, ch)
		c.mu.Unlock()
	}
}

func (c *Cache) notifyLocked() {
	for ch := range c.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Entity returns the cached entity for ref in lang. Entities restored from
// the store are returned too; EntityStale tells them apart.
func (c *Cache) Entity(ref domain.Ref, lang domain.Language) (domain.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := entitySlot(lang)
	if e, ok := c.entities[name][ref.ID]; ok && e.EntityKind() == ref.Kind {
		return e, true
	}
	if c.store == nil {
		return nil, false
	}
	e, ok := c.store.GetEntity(ref, lang)
	if !ok {
		return nil, false
	}
	loc := Location{Slot: name, ID: ref.ID}
	if c.overlay != nil {
		e = c.overlay.Overlay(loc, e)
	}
	c.putLocked(name, e)
	c.restored[loc] = true
	c.logger.Debug("hydrated entity from store", "ref", ref.String(), "language", lang)
	return e, true
}

// EntityStale reports whether the cached entity for ref was restored from the
// store and has not been fetched since
func (c *Cache) EntityStale(ref domain.Ref, lang domain.Language) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restored[Location{Slot: entitySlot(lang), ID: ref.ID}]
}

// PutEntity stores a freshly fetched entity. The store receives the server
// value; pending patches stay in memory.
func (c *Cache) PutEntity(lang domain.Language, e domain.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := entitySlot(lang)
	loc := Location{Slot: name, ID: e.EntityID()}
	server := e
	if c.overlay != nil {
		e = c.overlay.Overlay(loc, e)
	}
	c.putLocked(name, e)
	delete(c.restored, loc)
	c.saveEntityLocked(lang, server)
	c.notifyLocked()
}

func (c *Cache) saveEntityLocked(lang domain.Language, e domain.Entity) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveEntity(lang, e); err != nil {
		c.logger.Warn("failed to persist entity", "ref", domain.RefOf(e), "error", err)
	}
}

// baseLocked strips pending patches from the entity cached at loc
func (c *Cache) baseLocked(loc Location, e domain.Entity) domain.Entity {
	if c.overlay == nil {
		return e
	}
	return c.overlay.Base(loc, e)
}

func (c *Cache) putLocked(name string, e domain.Entity) {
	m, ok := c.entities[name]
	if !ok {
		m = make(map[string]domain.Entity)
		c.entities[name] = m
	}
	m[e.EntityID()] = e
}

func (c *Cache) persistLocked(hash string, s *slot) {
	if c.store == nil {
		return
	}
	items := make([]domain.Entity, len(s.items))
	for i, e := range s.items {
		items[i] = c.baseLocked(Location{Slot: hash, ID: e.EntityID()}, e)
	}
	snap := domain.CollectionSnapshot{
		Kind:        s.key.Kind,
		Items:       items,
		Pages:       s.pages,
		HasMore:     s.hasMore,
		NextCursor:  s.nextCursor,
		CurrentPage: s.currentPage,
		TotalPages:  s.totalPages,
		TotalCount:  s.totalCount,
		SavedAt:     s.updatedAt,
	}
	if err := c.store.SaveCollection(hash, snap); err != nil {
		c.logger.Warn("failed to persist collection", "key", hash, "error", err)
	}
}

// Collect drops collections idle longer than the idle timeout with no
// observers and no fetch in flight. It returns how many were dropped.
func (c *Cache) Collect() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dropped := 0
	for hash, s := range c.slots {
		if s.observers > 0 || s.loads > 0 || s.nexts > 0 {
			continue
		}
		if now.Sub(s.lastAccess) >= c.idle {
			delete(c.slots, hash)
			dropped++
		}
	}
	if dropped > 0 {
		c.logger.Debug("collected idle collections", "count", dropped)
		c.notifyLocked()
	}
	return dropped
}

// Run collects idle collections until ctx is done
func (c *Cache) Run(ctx context.Context) {
	interval := c.idle / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Clear drops every collection and entity, in memory and in the store.
// Observed or busy slots are emptied in place so observer and in-flight
// accounting survives.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for hash, s := range c.slots {
		if s.observers == 0 && s.loads == 0 && s.nexts == 0 {
			delete(c.slots, hash)
			continue
		}
		c.slots[hash] = &slot{
			key:        s.key,
			epoch:      s.epoch + 1,
			loads:      s.loads,
			nexts:      s.nexts,
			observers:  s.observers,
			lastAccess: s.lastAccess,
		}
	}
	c.entities = make(map[string]map[string]domain.Entity)
	c.restored = make(map[Location]bool)
	if c.store != nil {
		c.store.InvalidateAll()
	}
	c.notifyLocked()
}

// Len returns the number of collection slots held
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}
