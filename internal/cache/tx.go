package cache

import (
	"slices"
	"strings"

	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/query"
)

const entityPrefix = "entity:"

func entitySlot(lang domain.Language) string {
	return entityPrefix + string(lang)
}

func slotLanguage(slot string) domain.Language {
	return domain.Language(strings.TrimPrefix(slot, entityPrefix))
}

// Ticket is one fetch in flight against a collection slot. It is settled
// exactly once by Commit, Fail or Abort; later calls are no-ops.
type Ticket struct {
	key   query.Key
	hash  string
	op    Op
	epoch uint64
	param query.Param
	done  bool
}

// Key returns the collection the ticket fetches
func (t *Ticket) Key() query.Key { return t.key }

// Op returns the fetch kind
func (t *Ticket) Op() Op { return t.op }

// Param returns the page to request for an OpNext ticket
func (t *Ticket) Param() query.Param { return t.param }

// Location is one place an entity is cached: a collection slot (by key hash)
// or the entity slot of a language.
type Location struct {
	Slot string
	ID   string
}

// IsEntity reports whether loc is in the standalone entity cache
func (l Location) IsEntity() bool {
	return strings.HasPrefix(l.Slot, entityPrefix)
}

// Tx is exclusive access to the cache for the duration of an Update
type Tx struct {
	c       *Cache
	touched map[Location]bool
}

// Update runs fn with the cache locked. Writes made through tx become
// visible to readers together when fn returns, and the server values behind
// them are written through to the store.
func (c *Cache) Update(fn func(tx *Tx)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx := &Tx{c: c}
	fn(tx)
	if len(tx.touched) > 0 {
		tx.persist()
		c.notifyLocked()
	}
}

// persist saves the base value of every touched location. Stale collections
// are skipped: their stored copy was dropped by invalidation.
func (tx *Tx) persist() {
	c := tx.c
	if c.store == nil {
		return
	}
	saved := make(map[string]bool)
	for loc := range tx.touched {
		if loc.IsEntity() {
			if e, ok := c.entities[loc.Slot][loc.ID]; ok {
				c.saveEntityLocked(slotLanguage(loc.Slot), c.baseLocked(loc, e))
			}
			continue
		}
		if saved[loc.Slot] {
			continue
		}
		saved[loc.Slot] = true
		if s, ok := c.slots[loc.Slot]; ok && s.loaded && !s.stale {
			c.persistLocked(loc.Slot, s)
		}
	}
}

func (tx *Tx) touch(loc Location) {
	if tx.touched == nil {
		tx.touched = make(map[Location]bool)
	}
	tx.touched[loc] = true
}

// Locate returns every location holding ref: entity slots first, then
// collections, each in name order.
func (tx *Tx) Locate(ref domain.Ref) []Location {
	var entityLocs, collectionLocs []Location
	for name, m := range tx.c.entities {
		if e, ok := m[ref.ID]; ok && e.EntityKind() == ref.Kind {
			entityLocs = append(entityLocs, Location{Slot: name, ID: ref.ID})
		}
	}
	for hash, s := range tx.c.slots {
		if s.key.Kind != ref.Kind {
			continue
		}
		if slices.IndexFunc(s.items, func(e domain.Entity) bool { return e.EntityID() == ref.ID }) >= 0 {
			collectionLocs = append(collectionLocs, Location{Slot: hash, ID: ref.ID})
		}
	}
	byName := func(a, b Location) int { return strings.Compare(a.Slot, b.Slot) }
	slices.SortFunc(entityLocs, byName)
	slices.SortFunc(collectionLocs, byName)
	return append(entityLocs, collectionLocs...)
}

// Get returns the entity at loc
func (tx *Tx) Get(loc Location) (domain.Entity, bool) {
	if loc.IsEntity() {
		e, ok := tx.c.entities[loc.Slot][loc.ID]
		return e, ok
	}
	s, ok := tx.c.slots[loc.Slot]
	if !ok {
		return nil, false
	}
	i := slices.IndexFunc(s.items, func(e domain.Entity) bool { return e.EntityID() == loc.ID })
	if i < 0 {
		return nil, false
	}
	return s.items[i], true
}

// Set replaces the entity at loc in place. It reports false when loc no
// longer holds the entity.
func (tx *Tx) Set(loc Location, e domain.Entity) bool {
	if loc.IsEntity() {
		m, ok := tx.c.entities[loc.Slot]
		if !ok {
			return false
		}
		if _, ok := m[loc.ID]; !ok {
			return false
		}
		m[loc.ID] = e
		tx.touch(loc)
		return true
	}
	s, ok := tx.c.slots[loc.Slot]
	if !ok {
		return false
	}
	i := slices.IndexFunc(s.items, func(e domain.Entity) bool { return e.EntityID() == loc.ID })
	if i < 0 {
		return false
	}
	// Copy on write: snapshots handed out earlier share the old backing array
	items := slices.Clone(s.items)
	items[i] = e
	s.items = items
	tx.touch(loc)
	return true
}
