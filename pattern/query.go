package pattern

// Match pairs a pattern with its similarity to a query. Matches carry
// clones; mutating one never reaches engine state.
type Match struct {
	Pattern    Pattern `json:"pattern"`
	Similarity float64 `json:"similarity"`
}

// Criteria describes a fuzzy search. Every field is optional; a zero
// Criteria matches all patterns. Supplied fields must agree with a
// pattern at seventy percent weighted similarity overall for it to
// match, with partial credit per field.
type Criteria struct {
	Source   string           `json:"source,omitempty"`
	Category string           `json:"category,omitempty"`
	Features map[string]Value `json:"features,omitempty"`
}

// Empty reports whether no criterion was supplied.
func (c Criteria) Empty() bool {
	return c.Source == "" && c.Category == "" && len(c.Features) == 0
}

// MatchThreshold is the weighted-agreement level a pattern must reach
// against the supplied criteria.
const MatchThreshold = 0.70

// MatchScore returns the average per-field similarity of p against the
// supplied criteria in [0,1]. String fields compare case-insensitively.
// No supplied fields means vacuous full agreement.
func (c Criteria) MatchScore(p *Pattern) float64 {
	var sum float64
	var fields int

	if c.Source != "" {
		sum += FoldedSimilarity(String(c.Source), String(p.Metadata.Source))
		fields++
	}
	if c.Category != "" {
		sum += FoldedSimilarity(String(c.Category), String(p.Metadata.Category))
		fields++
	}
	for key, want := range c.Features {
		if got, ok := p.Features[key]; ok {
			sum += FoldedSimilarity(want, got)
		}
		fields++
	}

	if fields == 0 {
		return 1
	}
	return sum / float64(fields)
}

// Matches reports whether p clears the match threshold.
func (c Criteria) Matches(p *Pattern) bool {
	return c.MatchScore(p) >= MatchThreshold
}
