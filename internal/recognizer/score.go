package recognizer

import (
	"github.com/alexgrimes/featmem/pattern"
)

// keyWeights biases similarity toward the feature keys that carry the
// most identity. Unknown keys get defaultKeyWeight.
var keyWeights = map[string]float64{
	"id":          0.15,
	"type":        0.25,
	"category":    0.20,
	"name":        0.15,
	"description": 0.10,
	"tags":        0.15,
}

const defaultKeyWeight = 0.05

func keyWeight(key string) float64 {
	if w, ok := keyWeights[key]; ok {
		return w
	}
	return defaultKeyWeight
}

// score computes the weighted similarity of a query feature map against
// a stored one. Keys present on both sides contribute their per-kind
// similarity scaled by the key weight; keys missing from either side are
// excluded from the contribution but shrink the score through the
// missing-key factor (shared keys over the union of keys). A score below
// threshold is squared relative to the shortfall, so near-threshold
// fuzzy matches fall off a cliff instead of lingering just under it.
func score(query, stored map[string]pattern.Value, threshold float64) float64 {
	var weighted, weightSum float64
	shared := 0

	for key, qv := range query {
		sv, ok := stored[key]
		if !ok {
			continue
		}
		w := keyWeight(key)
		weighted += w * pattern.Similarity(qv, sv)
		weightSum += w
		shared++
	}

	if shared == 0 || weightSum == 0 {
		return 0
	}

	union := len(query) + len(stored) - shared
	s := (weighted / weightSum) * (float64(shared) / float64(union))

	if s < threshold && threshold > 0 {
		s *= s / threshold
	}
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
