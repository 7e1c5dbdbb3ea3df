// Package search ranks data that is already loaded: the local filter over a
// snippet list, and label suggestions for the add-label prompt.
package search

import (
	"slices"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	sahilm "github.com/sahilm/fuzzy"

	"github.com/mmcdole/verdad/internal/domain"
)

const maxSuggestions = 8

// Result is one snippet matched by the local filter
type Result struct {
	Snippet        domain.Snippet
	Index          int   // Position in the filtered list
	MatchedIndexes []int // Title rune positions that matched, for highlighting
	Score          int   // Higher is better
}

// Index implements sahilm/fuzzy.Source over snippet titles
type Index struct {
	snippets    []domain.Snippet
	lowerTitles []string // Pre-computed lowercase titles
}

// NewIndex builds a search index over snippets
func NewIndex(snippets []domain.Snippet) *Index {
	idx := &Index{snippets: snippets, lowerTitles: make([]string, len(snippets))}
	for i, s := range snippets {
		idx.lowerTitles[i] = strings.ToLower(s.Title)
	}
	return idx
}

// String returns the lowercase title at index i (implements fuzzy.Source)
func (idx *Index) String(i int) string { return idx.lowerTitles[i] }

// Len returns the number of snippets (implements fuzzy.Source)
func (idx *Index) Len() int { return len(idx.snippets) }

// Find ranks the indexed snippets against query. An empty query keeps every
// snippet in list order.
func (idx *Index) Find(query string) []Result {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		out := make([]Result, len(idx.snippets))
		for i, s := range idx.snippets {
			out[i] = Result{Snippet: s, Index: i}
		}
		return out
	}

	matches := sahilm.FindFrom(query, idx)
	out := make([]Result, len(matches))
	for i, m := range matches {
		out[i] = Result{
			Snippet:        idx.snippets[m.Index],
			Index:          m.Index,
			MatchedIndexes: m.MatchedIndexes,
			Score:          m.Score,
		}
	}
	return out
}

// FilterLoaded ranks already-loaded snippets by title
func FilterLoaded(query string, snippets []domain.Snippet) []Result {
	return NewIndex(snippets).Find(query)
}

// KnownLabels returns the distinct label texts on snippets, sorted
func KnownLabels(snippets []domain.Snippet) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range snippets {
		for _, l := range s.Labels {
			key := strings.ToLower(l.Text)
			if l.Text == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, l.Text)
		}
	}
	slices.SortFunc(out, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return out
}

// SuggestLabels ranks known label texts against what the user has typed,
// closest first
func SuggestLabels(input string, known []string) []string {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}

	ranks := fuzzy.RankFindNormalizedFold(input, known)
	sort.Sort(ranks)

	out := make([]string, 0, min(len(ranks), maxSuggestions))
	for _, r := range ranks {
		if len(out) == maxSuggestions {
			break
		}
		if !slices.Contains(out, r.Target) {
			out = append(out, r.Target)
		}
	}
	return out
}
