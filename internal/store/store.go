package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/verdad/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketCollections = []byte("collections")
	bucketEntities    = []byte("entities")
)

var allBuckets = [][]byte{bucketCollections, bucketEntities}

// entityWrapper wraps domain.Entity for JSON serialization
type entityWrapper struct {
	Type      domain.Kind       `json:"type"`
	Snippet   *domain.Snippet   `json:"snippet,omitempty"`
	Recording *domain.Recording `json:"recording,omitempty"`
}

// collectionRecord is the stored form of a domain.CollectionSnapshot
type collectionRecord struct {
	Kind        domain.Kind     `json:"kind"`
	Items       []entityWrapper `json:"items"`
	Pages       int             `json:"pages"`
	HasMore     bool            `json:"has_more"`
	NextCursor  string          `json:"next_cursor,omitempty"`
	CurrentPage int             `json:"current_page"`
	TotalPages  int             `json:"total_pages"`
	TotalCount  int             `json:"total_count"`
	SavedAt     time.Time       `json:"saved_at"`
}

// SnapshotStore implements domain.SnapshotStore using BoltDB.
type SnapshotStore struct {
	db *bolt.DB
	mu sync.RWMutex // Protects memory cache

	// In-memory cache for hot-path reads (promoted on access)
	cache map[string][]byte
}

// NewMemoryStore returns a store that keeps snapshots for the life of the
// process only
func NewMemoryStore() *SnapshotStore {
	return &SnapshotStore{cache: make(map[string][]byte)}
}

// NewSnapshotStore opens verdad.db under baseCacheDir, in a subdirectory
// per backend URL. An empty baseCacheDir gives a memory-only store.
func NewSnapshotStore(baseCacheDir, backendURL string) (*SnapshotStore, error) {
	if baseCacheDir == "" {
		return NewMemoryStore(), nil
	}

	dir := baseCacheDir
	if backendURL != "" {
		dir = filepath.Join(baseCacheDir, hashBackendURL(backendURL))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "verdad.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SnapshotStore{db: db, cache: make(map[string][]byte)}, nil
}

func hashBackendURL(backendURL string) string {
	normalized := strings.TrimRight(strings.ToLower(backendURL), "/")
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:6])
}

func (s *SnapshotStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// === Generic helpers ===

func (s *SnapshotStore) get(bucket []byte, key string, dest any) bool {
	cacheKey := string(bucket) + ":" + key

	s.mu.RLock()
	if data, ok := s.cache[cacheKey]; ok {
		s.mu.RUnlock()
		return json.Unmarshal(data, dest) == nil
	}
	s.mu.RUnlock()

	if s.db == nil {
		return false
	}

	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})

	if data == nil {
		return false
	}

	// Promote to memory cache
	s.mu.Lock()
	s.cache[cacheKey] = data
	s.mu.Unlock()

	return json.Unmarshal(data, dest) == nil
}

func (s *SnapshotStore) set(bucket []byte, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	cacheKey := string(bucket) + ":" + key

	s.mu.Lock()
	s.cache[cacheKey] = data
	s.mu.Unlock()

	if s.db == nil {
		return nil // Memory-only mode
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *SnapshotStore) delete(bucket []byte, key string) {
	cacheKey := string(bucket) + ":" + key

	s.mu.Lock()
	delete(s.cache, cacheKey)
	s.mu.Unlock()

	if s.db == nil {
		return
	}

	s.db.Update(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucket); b != nil {
			b.Delete([]byte(key))
		}
		return nil
	})
}

func (s *SnapshotStore) deletePrefix(bucket []byte, prefix string) {
	s.mu.Lock()
	cachePrefix := string(bucket) + ":" + prefix
	for k := range s.cache {
		if strings.HasPrefix(k, cachePrefix) {
			delete(s.cache, k)
		}
	}
	s.mu.Unlock()

	if s.db == nil {
		return
	}

	s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		// Collect first; deleting while iterating skips keys
		var keys [][]byte
		c := b.Cursor()
		prefixBytes := []byte(prefix)
		for k, _ := c.Seek(prefixBytes); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// === Collections (key: <kind>:<digest>) ===

func (s *SnapshotStore) GetCollection(kind domain.Kind, hash string) (domain.CollectionSnapshot, bool) {
	var rec collectionRecord
	if !s.get(bucketCollections, hash, &rec) || rec.Kind != kind {
		return domain.CollectionSnapshot{}, false
	}
	return domain.CollectionSnapshot{
		Kind:        rec.Kind,
		Items:       unwrapEntities(rec.Items),
		Pages:       rec.Pages,
		HasMore:     rec.HasMore,
		NextCursor:  rec.NextCursor,
		CurrentPage: rec.CurrentPage,
		TotalPages:  rec.TotalPages,
		TotalCount:  rec.TotalCount,
		SavedAt:     rec.SavedAt,
	}, true
}

func (s *SnapshotStore) SaveCollection(hash string, snap domain.CollectionSnapshot) error {
	return s.set(bucketCollections, hash, collectionRecord{
		Kind:        snap.Kind,
		Items:       wrapEntities(snap.Items),
		Pages:       snap.Pages,
		HasMore:     snap.HasMore,
		NextCursor:  snap.NextCursor,
		CurrentPage: snap.CurrentPage,
		TotalPages:  snap.TotalPages,
		TotalCount:  snap.TotalCount,
		SavedAt:     snap.SavedAt,
	})
}

func (s *SnapshotStore) DeleteCollection(kind domain.Kind, hash string) {
	if !strings.HasPrefix(hash, string(kind)+":") {
		return
	}
	s.delete(bucketCollections, hash)
}

// === Entities (key: <kind>:<language>:<id>) ===

func entityKey(ref domain.Ref, lang domain.Language) string {
	return fmt.Sprintf("%s:%s:%s", ref.Kind, lang, ref.ID)
}

func (s *SnapshotStore) GetEntity(ref domain.Ref, lang domain.Language) (domain.Entity, bool) {
	var w entityWrapper
	if !s.get(bucketEntities, entityKey(ref, lang), &w) {
		return nil, false
	}
	e, ok := unwrapEntity(w)
	if !ok || e.EntityKind() != ref.Kind {
		return nil, false
	}
	return e, true
}

func (s *SnapshotStore) SaveEntity(lang domain.Language, e domain.Entity) error {
	w, ok := wrapEntity(e)
	if !ok {
		return fmt.Errorf("unsupported entity kind %q", e.EntityKind())
	}
	return s.set(bucketEntities, entityKey(domain.RefOf(e), lang), w)
}

// === Invalidation (prefix deletion) ===

// InvalidateKind wipes every collection of kind
func (s *SnapshotStore) InvalidateKind(kind domain.Kind) {
	s.deletePrefix(bucketCollections, string(kind)+":")
}

func (s *SnapshotStore) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string][]byte)
	s.mu.Unlock()

	if s.db == nil {
		return
	}

	s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if err := tx.DeleteBucket(bucket); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}

func wrapEntity(e domain.Entity) (entityWrapper, bool) {
	switch v := e.(type) {
	case domain.Snippet:
		return entityWrapper{Type: domain.KindSnippet, Snippet: &v}, true
	case domain.Recording:
		return entityWrapper{Type: domain.KindRecording, Recording: &v}, true
	default:
		return entityWrapper{}, false
	}
}

func unwrapEntity(w entityWrapper) (domain.Entity, bool) {
	switch w.Type {
	case domain.KindSnippet:
		if w.Snippet != nil {
			return *w.Snippet, true
		}
	case domain.KindRecording:
		if w.Recording != nil {
			return *w.Recording, true
		}
	}
	return nil, false
}

// wrapEntities converts entities to serializable wrappers, skipping unknown kinds
func wrapEntities(items []domain.Entity) []entityWrapper {
	wrappers := make([]entityWrapper, 0, len(items))
	for _, item := range items {
		if w, ok := wrapEntity(item); ok {
			wrappers = append(wrappers, w)
		}
	}
	return wrappers
}

// unwrapEntities converts wrappers back to entities
func unwrapEntities(wrappers []entityWrapper) []domain.Entity {
	items := make([]domain.Entity, 0, len(wrappers))
	for _, w := range wrappers {
		if e, ok := unwrapEntity(w); ok {
			items = append(items, e)
		}
	}
	return items
}
