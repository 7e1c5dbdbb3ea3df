package filter

import (
	"net/url"
	"strings"
)

// URL parameter names for the non-filter fields
const (
	paramSort       = "sortBy"
	paramSearchTerm = "searchTerm"
	paramSnippet    = "snippet"
)

// Encode serializes s as a URL query string (without the leading '?').
//
// Set members are escaped individually and comma-joined, so a member may
// itself contain a comma. Empty sets, unset enums and the default sort are
// omitted. Parameters appear in a fixed order.
func Encode(s State) string {
	s = s.Normalize()

	var parts []string
	addSet := func(name Dimension, values []string) {
		if len(values) == 0 {
			return
		}
		escaped := make([]string, len(values))
		for i, v := range values {
			escaped[i] = url.QueryEscape(v)
		}
		parts = append(parts, string(name)+"="+strings.Join(escaped, ","))
	}
	addOne := func(name, value string) {
		if value == "" {
			return
		}
		parts = append(parts, name+"="+url.QueryEscape(value))
	}

	addSet(DimLanguages, s.Languages)
	addSet(DimStates, s.States)
	addSet(DimSources, s.Sources)
	addSet(DimLabels, s.Labels)
	addSet(DimLabeledBy, ownershipStrings(s.LabeledBy))
	addSet(DimStarredBy, ownershipStrings(s.StarredBy))
	addOne(string(DimPoliticalSpectrum), string(s.PoliticalSpectrum))
	if s.Sort != DefaultSort {
		addOne(paramSort, string(s.Sort))
	}
	addOne(paramSearchTerm, s.SearchTerm)
	addOne(paramSnippet, s.Snippet)

	return strings.Join(parts, "&")
}

// Decode parses a query string produced by Encode. It never fails: unknown
// parameters are ignored, undecodable members are dropped, and malformed enum
// values fall back to their defaults. A repeated set parameter extends the set;
// a repeated single-value parameter keeps the last occurrence.
func Decode(query string) State {
	query = strings.TrimPrefix(strings.TrimSpace(query), "?")

	var s State
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			continue
		}

		switch key {
		case string(DimLanguages):
			s.Languages = append(s.Languages, splitSet(rawValue)...)
		case string(DimStates):
			s.States = append(s.States, splitSet(rawValue)...)
		case string(DimSources):
			s.Sources = append(s.Sources, splitSet(rawValue)...)
		case string(DimLabels):
			s.Labels = append(s.Labels, splitSet(rawValue)...)
		case string(DimLabeledBy):
			s.LabeledBy = append(s.LabeledBy, toOwnership(splitSet(rawValue))...)
		case string(DimStarredBy):
			s.StarredBy = append(s.StarredBy, toOwnership(splitSet(rawValue))...)
		case string(DimPoliticalSpectrum):
			s.PoliticalSpectrum = PoliticalSpectrum(unescapeOne(rawValue))
		case paramSort:
			s.Sort = SortOrder(unescapeOne(rawValue))
		case paramSearchTerm:
			s.SearchTerm = unescapeOne(rawValue)
		case paramSnippet:
			s.Snippet = unescapeOne(rawValue)
		}
	}

	return s.Normalize()
}

// DecodeValues builds a State from already-parsed URL values, as handed over
// by a router. Set members are comma separated within each value.
func DecodeValues(values url.Values) State {
	var parts []string
	for key, vals := range values {
		for _, v := range vals {
			members := strings.Split(v, ",")
			for i, m := range members {
				members[i] = url.QueryEscape(m)
			}
			parts = append(parts, url.QueryEscape(key)+"="+strings.Join(members, ","))
		}
	}
	return Decode(strings.Join(parts, "&"))
}

func splitSet(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, member := range strings.Split(raw, ",") {
		v, err := url.QueryUnescape(member)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func unescapeOne(raw string) string {
	v, err := url.QueryUnescape(raw)
	if err != nil {
		return ""
	}
	return v
}

func ownershipStrings(values []Ownership) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func toOwnership(values []string) []Ownership {
	out := make([]Ownership, len(values))
	for i, v := range values {
		out[i] = Ownership(v)
	}
	return out
}
