// Package mutation applies user actions to the cache optimistically, calls the
// backend, and then reconciles with the server's answer or rolls back.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/mmcdole/verdad/internal/cache"
	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/filter"
	"github.com/mmcdole/verdad/internal/query"
)

// State is a mutation's position in its lifecycle
type State int

const (
	Pending    State = iota // Created, optimistic patch not applied
	Applied                 // Optimistic patch visible, remote call outstanding
	Reconciled              // Server values written
	RolledBack              // Optimistic patch withdrawn
)

func (s State) String() string {
	switch s {
	case Applied:
		return "applied"
	case Reconciled:
		return "reconciled"
	case RolledBack:
		return "rolled back"
	default:
		return "pending"
	}
}

// Mutation describes one user action against one entity
type Mutation struct {
	Name   string
	Target domain.Ref

	// Optimistic computes the latency-hiding patch from the current cached
	// value, which already includes other pending mutations. current is nil
	// when the target is not cached. A nil patch skips the optimistic step.
	Optimistic func(current domain.Entity) (Patch, error)

	// Remote performs the call and returns the authoritative field values
	Remote func(ctx context.Context) (Patch, error)

	// Verify compares the optimistic guess with the server's answer; an
	// error (usually domain.Conflict) rolls the mutation back.
	Verify func(optimistic, server Patch) error

	// Invalidate lists kinds whose collections go stale on success, for
	// mutations that create entities.
	Invalidate []domain.Kind

	// Affects lists filter dimensions defined on the fields this mutation
	// changes. Collections of the target's kind filtered on any of them go
	// stale on success, since membership may have changed.
	Affects []filter.Dimension

	// Anonymous mutations do not require a signed-in user
	Anonymous bool
}

// Record tracks one performed mutation
type Record struct {
	ID      string
	Name    string
	Target  domain.Ref
	Patch   Patch // Optimistic
	Inverse Patch // Restores the pre-mutation values of Patch's fields
	Result  Patch // Server values
	State   State
	Err     error
	Touched []cache.Location

	StartedAt time.Time
	SettledAt time.Time
}

// Notice is a transient user-visible message about a failed mutation
type Notice struct {
	Mutation string
	Target   domain.Ref
	Message  string
	Err      error
}

// Notifier surfaces mutation failures to the user
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// ledger is the optimistic state of one entity: the server value at every
// location it was seen, and the mutations still outstanding against it.
// Cached values are always base with pending patches applied in order.
type ledger struct {
	base    map[cache.Location]domain.Entity
	pending []*Record
}

// Engine performs mutations. It is the cache's overlay, so pages fetched
// while a mutation is outstanding still show its optimistic patch.
type Engine struct {
	cache    *cache.Cache
	session  domain.Session
	notifier Notifier
	logger   *slog.Logger

	// Guarded by the cache lock: touched only inside Update and Overlay
	ledgers map[domain.Ref]*ledger
}

// NewEngine creates an engine and installs it as c's overlay
func NewEngine(c *cache.Cache, session domain.Session, notifier Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cache:    c,
		session:  session,
		notifier: notifier,
		logger:   logger,
		ledgers:  make(map[domain.Ref]*ledger),
	}
	c.SetOverlay(e)
	return e
}

// Overlay records incoming server data as the new base and returns it with
// pending patches applied.
func (e *Engine) Overlay(loc cache.Location, ent domain.Entity) domain.Entity {
	l, ok := e.ledgers[domain.RefOf(ent)]
	if !ok {
		return ent
	}
	l.base[loc] = ent
	return e.compose(ent, l.pending)
}

// Base returns the server value at loc, without pending patches
func (e *Engine) Base(loc cache.Location, ent domain.Entity) domain.Entity {
	if l, ok := e.ledgers[domain.RefOf(ent)]; ok {
		if base, ok := l.base[loc]; ok {
			return base
		}
	}
	return ent
}

func (e *Engine) compose(base domain.Entity, pending []*Record) domain.Entity {
	out := base
	for _, rec := range pending {
		next, err := Apply(out, rec.Patch)
		if err != nil {
			e.logger.Warn("skipping pending patch", "mutation", rec.Name, "error", err)
			continue
		}
		out = next
	}
	return out
}

// recompute rewrites every location of l as base plus pending
func (e *Engine) recompute(tx *cache.Tx, l *ledger) {
	for loc, base := range l.base {
		tx.Set(loc, e.compose(base, l.pending))
	}
}

// Pending returns how many mutations are outstanding against ref
func (e *Engine) Pending(ref domain.Ref) int {
	n := 0
	e.cache.Update(func(*cache.Tx) {
		if l, ok := e.ledgers[ref]; ok {
			n = len(l.pending)
		}
	})
	return n
}

// Perform runs m: apply the optimistic patch to every cached copy of the
// target, call the backend, then reconcile or roll back. Mutations are never
// retried.
func (e *Engine) Perform(ctx context.Context, m Mutation) (*Record, error) {
	rec := &Record{
		ID:        uuid.NewString(),
		Name:      m.Name,
		Target:    m.Target,
		State:     Pending,
		StartedAt: time.Now(),
	}
	log := e.logger.With("mutation", m.Name, "target", m.Target.String(), "id", rec.ID)

	if !m.Anonymous && !e.signedIn() {
		return e.fail(rec, log, domain.ErrAuthRequired, false)
	}
	if m.Remote == nil {
		return e.fail(rec, log, fmt.Errorf("%w: mutation %q has no remote call", domain.ErrValidation, m.Name), false)
	}

	if err := e.apply(rec, m); err != nil {
		return e.fail(rec, log, err, false)
	}
	log.Debug("mutation applied", "optimistic", rec.Patch != nil, "locations", len(rec.Touched))

	result, err := m.Remote(ctx)
	if err == nil && m.Verify != nil {
		err = m.Verify(rec.Patch, result)
	}
	if err != nil {
		return e.fail(rec, log, err, true)
	}

	e.reconcile(rec, result)
	log.Debug("mutation reconciled", "locations", len(rec.Touched))

	for _, kind := range m.Invalidate {
		e.cache.Invalidate(kind)
	}
	if len(m.Affects) > 0 {
		e.cache.InvalidateWhere(m.Target.Kind, func(k query.Key) bool {
			return slices.ContainsFunc(m.Affects, k.Filter.Has)
		})
	}
	return rec, nil
}

func (e *Engine) signedIn() bool {
	if e.session == nil {
		return false
	}
	_, ok := e.session.CurrentUser()
	return ok
}

// apply computes the optimistic patch from the current cached value and
// patches every location of the target atomically.
func (e *Engine) apply(rec *Record, m Mutation) error {
	var err error
	e.cache.Update(func(tx *cache.Tx) {
		locs := tx.Locate(m.Target)
		var current domain.Entity
		if len(locs) > 0 {
			current, _ = tx.Get(locs[0])
		}
		if m.Optimistic == nil {
			return
		}

		var patch Patch
		patch, err = m.Optimistic(current)
		if err != nil || patch == nil || current == nil {
			return
		}
		if patch.Kind() != m.Target.Kind {
			err = fmt.Errorf("%w: %s patch for %s", domain.ErrValidation, patch.Kind(), m.Target)
			return
		}
		inverse, ierr := Invert(current, patch)
		if ierr != nil {
			err = ierr
			return
		}

		l, ok := e.ledgers[m.Target]
		if !ok {
			l = &ledger{base: make(map[cache.Location]domain.Entity)}
			e.ledgers[m.Target] = l
		}
		for _, loc := range locs {
			if _, seen := l.base[loc]; seen {
				continue
			}
			// Locations added while a ledger exists come in through Overlay,
			// so an unseen location still holds the server value
			if cur, ok := tx.Get(loc); ok {
				l.base[loc] = cur
			}
		}

		rec.Patch, rec.Inverse = patch, inverse
		rec.Touched = locs
		rec.State = Applied
		l.pending = append(l.pending, rec)
		e.recompute(tx, l)
	})
	return err
}

// reconcile folds the optimistic patch and the server values into the base
// and drops the record from pending.
func (e *Engine) reconcile(rec *Record, result Patch) {
	e.cache.Update(func(tx *cache.Tx) {
		rec.Result = result

		l, ok := e.ledgers[rec.Target]
		if !ok {
			// Nothing pending: write server values wherever the target is cached
			if result == nil {
				return
			}
			rec.Touched = tx.Locate(rec.Target)
			for _, loc := range rec.Touched {
				cur, _ := tx.Get(loc)
				if next, err := Apply(cur, result); err == nil {
					tx.Set(loc, next)
				}
			}
			return
		}

		for loc, base := range l.base {
			next, err := Apply(base, rec.Patch)
			if err == nil {
				next, err = Apply(next, result)
			}
			if err != nil {
				e.logger.Warn("failed to reconcile location", "mutation", rec.Name, "slot", loc.Slot, "error", err)
				continue
			}
			l.base[loc] = next
		}
		e.settle(tx, rec, l)
	})
	rec.State = Reconciled
	rec.SettledAt = time.Now()
}

// rollback withdraws rec's patch. Locations are recomputed from base and the
// remaining pending patches, so a later mutation's patch survives.
func (e *Engine) rollback(rec *Record) {
	e.cache.Update(func(tx *cache.Tx) {
		if l, ok := e.ledgers[rec.Target]; ok {
			e.settle(tx, rec, l)
		}
	})
	rec.State = RolledBack
	rec.SettledAt = time.Now()
}

func (e *Engine) settle(tx *cache.Tx, rec *Record, l *ledger) {
	l.pending = slices.DeleteFunc(l.pending, func(r *Record) bool { return r == rec })
	e.recompute(tx, l)
	if len(l.pending) == 0 {
		delete(e.ledgers, rec.Target)
	}
}

func (e *Engine) fail(rec *Record, log *slog.Logger, err error, applied bool) (*Record, error) {
	if applied {
		e.rollback(rec)
	} else {
		rec.State = RolledBack
		rec.SettledAt = time.Now()
	}
	rec.Err = fmt.Errorf("%s: %w", rec.Name, err)

	log.Warn("mutation rolled back", "error", err)
	if e.notifier != nil {
		e.notifier.Notify(Notice{
			Mutation: rec.Name,
			Target:   rec.Target,
			Message:  Describe(err),
			Err:      rec.Err,
		})
	}
	return rec, rec.Err
}

// Describe turns a mutation error into a short user-facing message
func Describe(err error) string {
	var remote *domain.RemoteError
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return "Sign in to do that"
	case errors.Is(err, domain.ErrConflict):
		return "Changed on the server, reverted"
	case errors.Is(err, domain.ErrNetwork):
		return "Server unreachable, change reverted"
	case errors.As(err, &remote) && remote.Message != "":
		return remote.Message
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	default:
		return "Something went wrong, change reverted"
	}
}
