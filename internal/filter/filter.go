// Package filter holds the structured filter state that drives every snippet
// query, and its lossless query-string encoding.
package filter

import (
	"slices"
	"strings"
)

// PoliticalSpectrum is a single-choice filter on the snippet's political leaning
type PoliticalSpectrum string

const (
	SpectrumUnset       PoliticalSpectrum = ""
	SpectrumLeft        PoliticalSpectrum = "left"
	SpectrumCenterLeft  PoliticalSpectrum = "center_left"
	SpectrumCenter      PoliticalSpectrum = "center"
	SpectrumCenterRight PoliticalSpectrum = "center_right"
	SpectrumRight       PoliticalSpectrum = "right"
)

// ParsePoliticalSpectrum returns SpectrumUnset for anything unrecognised
func ParsePoliticalSpectrum(s string) PoliticalSpectrum {
	switch p := PoliticalSpectrum(s); p {
	case SpectrumLeft, SpectrumCenterLeft, SpectrumCenter, SpectrumCenterRight, SpectrumRight:
		return p
	default:
		return SpectrumUnset
	}
}

// SortOrder is the ordering of snippet lists
type SortOrder string

const (
	SortLatest     SortOrder = "latest"
	SortActivities SortOrder = "activities"
	SortUpvotes    SortOrder = "upvotes"
	SortComments   SortOrder = "comments"
)

// DefaultSort is omitted from encoded URLs
const DefaultSort = SortLatest

// SortOrders lists the orders in UI cycling order
var SortOrders = []SortOrder{SortLatest, SortActivities, SortUpvotes, SortComments}

// ParseSortOrder returns DefaultSort for anything unrecognised
func ParseSortOrder(s string) SortOrder {
	switch o := SortOrder(s); o {
	case SortLatest, SortActivities, SortUpvotes, SortComments:
		return o
	default:
		return DefaultSort
	}
}

// Next returns the following sort order, wrapping around
func (o SortOrder) Next() SortOrder {
	i := slices.Index(SortOrders, ParseSortOrder(string(o)))
	return SortOrders[(i+1)%len(SortOrders)]
}

// Ownership qualifies the labeledBy and starredBy filters
type Ownership string

const (
	ByMe     Ownership = "by_me"
	ByOthers Ownership = "by_others"
)

func parseOwnership(s string) (Ownership, bool) {
	switch o := Ownership(s); o {
	case ByMe, ByOthers:
		return o, true
	default:
		return "", false
	}
}

// Dimension names one filter field. The names double as URL parameter names.
type Dimension string

const (
	DimLanguages         Dimension = "languages"
	DimStates            Dimension = "states"
	DimSources           Dimension = "sources"
	DimLabels            Dimension = "labels"
	DimLabeledBy         Dimension = "labeledBy"
	DimStarredBy         Dimension = "starredBy"
	DimPoliticalSpectrum Dimension = "politicalSpectrum"
)

// Dimensions lists every filtering dimension in encoding order
var Dimensions = []Dimension{
	DimLanguages, DimStates, DimSources, DimLabels,
	DimLabeledBy, DimStarredBy, DimPoliticalSpectrum,
}

// State is what is currently being viewed.
//
// The zero value is valid and means "no filters, default sort". Multi-value
// fields are sets: order is kept for display but ignored by query keys.
type State struct {
	Languages         []string
	States            []string
	Sources           []string
	Labels            []string
	LabeledBy         []Ownership
	StarredBy         []Ownership
	PoliticalSpectrum PoliticalSpectrum

	// Viewing intent, not filtering intent
	Sort       SortOrder
	SearchTerm string

	// Snippet is the focused snippet id (detail pane / share link)
	Snippet string
}

// Normalize returns the canonical form of s: search term trimmed, empty and
// duplicate set members dropped, empty sets as nil, unknown enum values at
// their defaults.
func (s State) Normalize() State {
	return State{
		Languages:         normalizeSet(s.Languages),
		States:            normalizeSet(s.States),
		Sources:           normalizeSet(s.Sources),
		Labels:            normalizeSet(s.Labels),
		LabeledBy:         normalizeOwnership(s.LabeledBy),
		StarredBy:         normalizeOwnership(s.StarredBy),
		PoliticalSpectrum: ParsePoliticalSpectrum(string(s.PoliticalSpectrum)),
		Sort:              ParseSortOrder(string(s.Sort)),
		SearchTerm:        strings.TrimSpace(s.SearchTerm),
		Snippet:           strings.TrimSpace(s.Snippet),
	}
}

// IsEmpty reports whether every filtering dimension is at its default.
// Search term, sort order and the focused snippet are not filters.
func (s State) IsEmpty() bool {
	for _, d := range Dimensions {
		if s.Has(d) {
			return false
		}
	}
	return true
}

// ClearAll resets every filtering dimension and keeps sort, search term and
// the focused snippet.
func (s State) ClearAll() State {
	return State{
		Sort:       s.Sort,
		SearchTerm: s.SearchTerm,
		Snippet:    s.Snippet,
	}
}

// Has reports whether dimension d is set to a non-default value
func (s State) Has(d Dimension) bool {
	switch d {
	case DimLanguages:
		return len(normalizeSet(s.Languages)) > 0
	case DimStates:
		return len(normalizeSet(s.States)) > 0
	case DimSources:
		return len(normalizeSet(s.Sources)) > 0
	case DimLabels:
		return len(normalizeSet(s.Labels)) > 0
	case DimLabeledBy:
		return len(normalizeOwnership(s.LabeledBy)) > 0
	case DimStarredBy:
		return len(normalizeOwnership(s.StarredBy)) > 0
	case DimPoliticalSpectrum:
		return ParsePoliticalSpectrum(string(s.PoliticalSpectrum)) != SpectrumUnset
	default:
		return false
	}
}

// Filters returns only the filtering dimensions of s, normalized
func (s State) Filters() State {
	n := s.Normalize()
	n.Sort = ""
	n.SearchTerm = ""
	n.Snippet = ""
	return n
}

// Equal reports whether a and b normalize to the same state. Set order is significant.
func Equal(a, b State) bool {
	a, b = a.Normalize(), b.Normalize()
	return slices.Equal(a.Languages, b.Languages) &&
		slices.Equal(a.States, b.States) &&
		slices.Equal(a.Sources, b.Sources) &&
		slices.Equal(a.Labels, b.Labels) &&
		slices.Equal(a.LabeledBy, b.LabeledBy) &&
		slices.Equal(a.StarredBy, b.StarredBy) &&
		a.PoliticalSpectrum == b.PoliticalSpectrum &&
		a.Sort == b.Sort &&
		a.SearchTerm == b.SearchTerm &&
		a.Snippet == b.Snippet
}

// Canonical returns the normalized state with every set sorted, so that states
// differing only in member order compare equal.
func (s State) Canonical() State {
	n := s.Normalize()
	slices.Sort(n.Languages)
	slices.Sort(n.States)
	slices.Sort(n.Sources)
	slices.Sort(n.Labels)
	slices.Sort(n.LabeledBy)
	slices.Sort(n.StarredBy)
	return n
}

// Toggle adds value to a set dimension or removes it if present. For the
// political spectrum it selects value, or clears it when already selected.
func (s State) Toggle(d Dimension, value string) State {
	n := s.Normalize()
	switch d {
	case DimLanguages:
		n.Languages = toggle(n.Languages, value)
	case DimStates:
		n.States = toggle(n.States, value)
	case DimSources:
		n.Sources = toggle(n.Sources, value)
	case DimLabels:
		n.Labels = toggle(n.Labels, value)
	case DimLabeledBy:
		if o, ok := parseOwnership(value); ok {
			n.LabeledBy = toggle(n.LabeledBy, o)
		}
	case DimStarredBy:
		if o, ok := parseOwnership(value); ok {
			n.StarredBy = toggle(n.StarredBy, o)
		}
	case DimPoliticalSpectrum:
		if p := ParsePoliticalSpectrum(value); p == n.PoliticalSpectrum {
			n.PoliticalSpectrum = SpectrumUnset
		} else {
			n.PoliticalSpectrum = p
		}
	}
	return n
}

func toggle[T comparable](set []T, v T) []T {
	if i := slices.Index(set, v); i >= 0 {
		out := slices.Delete(slices.Clone(set), i, i+1)
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return append(slices.Clone(set), v)
}

func normalizeSet(values []string) []string {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func normalizeOwnership(values []Ownership) []Ownership {
	var out []Ownership
	for _, v := range values {
		o, ok := parseOwnership(string(v))
		if !ok || slices.Contains(out, o) {
			continue
		}
		out = append(out, o)
	}
	return out
}
