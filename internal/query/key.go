// Package query defines cache slot identity and the uniform page envelope
// shared by offset- and cursor-paginated collections.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/filter"
)

// Key identifies one cached collection: the entity kind plus everything that
// changes which items are returned or in what order.
type Key struct {
	Kind       domain.Kind
	Filter     filter.State // Filtering dimensions only, canonical form
	SearchTerm string
	Sort       filter.SortOrder
	Language   domain.Language
}

// NewKey builds the key for viewing state in language. Keys built from
// structurally equal states are equal regardless of set member order.
func NewKey(kind domain.Kind, state filter.State, lang domain.Language) Key {
	n := state.Canonical()
	return Key{
		Kind:       kind,
		Filter:     n.Filters(),
		SearchTerm: n.SearchTerm,
		Sort:       n.Sort,
		Language:   lang,
	}
}

// keyWire is the hashed form; field order is fixed by the struct
type keyWire struct {
	Kind       domain.Kind        `json:"k"`
	Languages  []string           `json:"l,omitempty"`
	States     []string           `json:"st,omitempty"`
	Sources    []string           `json:"so,omitempty"`
	Labels     []string           `json:"lb,omitempty"`
	LabeledBy  []filter.Ownership `json:"lby,omitempty"`
	StarredBy  []filter.Ownership `json:"sby,omitempty"`
	Spectrum   string             `json:"ps,omitempty"`
	SearchTerm string             `json:"q,omitempty"`
	Sort       string             `json:"o"`
	Language   string             `json:"lang"`
}

// Hash returns the cache slot name for k: "<kind>:<digest>". Equal keys hash
// equally; the kind prefix supports invalidation by kind.
func (k Key) Hash() string {
	f := k.Filter.Canonical()
	wire := keyWire{
		Kind:       k.Kind,
		Languages:  f.Languages,
		States:     f.States,
		Sources:    f.Sources,
		Labels:     f.Labels,
		LabeledBy:  f.LabeledBy,
		StarredBy:  f.StarredBy,
		Spectrum:   string(f.PoliticalSpectrum),
		SearchTerm: k.SearchTerm,
		Sort:       string(filter.ParseSortOrder(string(k.Sort))),
		Language:   string(k.Language),
	}
	data, _ := json.Marshal(wire) // Only strings and string slices; cannot fail
	sum := sha256.Sum256(data)
	return string(k.Kind) + ":" + hex.EncodeToString(sum[:10])
}

// Equal reports structural equality
func (k Key) Equal(other Key) bool {
	return k.Hash() == other.Hash()
}

// State returns the viewing state the key was built from, minus the focused snippet
func (k Key) State() filter.State {
	s := k.Filter
	s.SearchTerm = k.SearchTerm
	s.Sort = k.Sort
	return s.Normalize()
}
