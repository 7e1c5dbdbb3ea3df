package domain

import "time"

// CollectionSnapshot is the persisted form of one cached collection
type CollectionSnapshot struct {
	Kind        Kind
	Items       []Entity
	Pages       int // Pages loaded
	HasMore     bool
	NextCursor  string
	CurrentPage int
	TotalPages  int
	TotalCount  int
	SavedAt     time.Time
}

// SnapshotStore persists cached collections and entities across runs.
// Collection keys are query-key hashes prefixed with the kind, so
// invalidation by kind is a prefix deletion.
type SnapshotStore interface {
	GetCollection(kind Kind, hash string) (CollectionSnapshot, bool)
	SaveCollection(hash string, snap CollectionSnapshot) error
	DeleteCollection(kind Kind, hash string)

	GetEntity(ref Ref, lang Language) (Entity, bool)
	SaveEntity(lang Language, e Entity) error

	// InvalidateKind wipes every collection of the kind
	InvalidateKind(kind Kind)
	InvalidateAll()

	Close() error
}
