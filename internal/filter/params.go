package filter

// BackendParams returns the filter object sent to the backend. Dimensions at
// their unset value are left out entirely rather than sent as nulls or empty
// arrays.
func (s State) BackendParams() map[string]any {
	n := s.Normalize()
	params := make(map[string]any)
	if len(n.Languages) > 0 {
		params[string(DimLanguages)] = n.Languages
	}
	if len(n.States) > 0 {
		params[string(DimStates)] = n.States
	}
	if len(n.Sources) > 0 {
		params[string(DimSources)] = n.Sources
	}
	if len(n.Labels) > 0 {
		params[string(DimLabels)] = n.Labels
	}
	if len(n.LabeledBy) > 0 {
		params[string(DimLabeledBy)] = ownershipStrings(n.LabeledBy)
	}
	if len(n.StarredBy) > 0 {
		params[string(DimStarredBy)] = ownershipStrings(n.StarredBy)
	}
	if n.PoliticalSpectrum != SpectrumUnset {
		params[string(DimPoliticalSpectrum)] = string(n.PoliticalSpectrum)
	}
	return params
}
