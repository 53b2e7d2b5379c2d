package pattern

import (
	"math"
	"strings"
)

// Per-kind scoring constants. These reproduce the engine's established
// matching behavior and are deliberately not configurable.
const (
	seqOrderedWeight   = 0.7
	seqUnorderedWeight = 0.3

	strLengthWeight = 0.3
	strEditWeight   = 0.7
	strPrefixBonus  = 0.2
	strPrefixLen    = 3

	numAbsoluteTolerance = 0.001
	numRelativeTolerance = 0.05
	// Similarity decays linearly past the tolerance band and reaches
	// zero at ten times the band width.
	numFalloffWindow = 9.0
)

// CompareFunc scores the similarity of two feature values in [0, 1].
type CompareFunc func(a, b Value) float64

// Similarity scores two feature values in [0, 1] using the per-kind
// rules: sequences blend an order-preserving ratio with an unordered
// content ratio, mappings count matching names and values, strings
// combine length ratio with normalized edit distance plus a short
// common-prefix bonus, and numbers use a magnitude-relative tolerance
// band with linear falloff. Values of different kinds score 0.
func Similarity(a, b Value) float64 {
	return similarity(a, b, false)
}

// FoldedSimilarity is Similarity with case-insensitive string
// comparison, the form storage search matches criteria with.
func FoldedSimilarity(a, b Value) float64 {
	return similarity(a, b, true)
}

func similarity(a, b Value, foldCase bool) float64 {
	if a.kind != b.kind {
		return 0
	}
	switch a.kind {
	case KindString:
		as, bs := a.str, b.str
		if foldCase {
			as, bs = strings.ToLower(as), strings.ToLower(bs)
		}
		return stringSimilarity(as, bs)
	case KindNumber:
		return numberSimilarity(a.num, b.num)
	case KindSequence:
		return sequenceSimilarity(a.seq, b.seq, foldCase)
	case KindMapping:
		return mappingSimilarity(a.obj, b.obj, foldCase)
	default:
		return 0
	}
}

// stringSimilarity blends a length ratio with a normalized edit
// distance, then adds a flat bonus when the first three characters
// match, clamped to [0, 1].
func stringSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}

	lengthRatio := float64(minLen) / float64(maxLen)
	editScore := 1 - float64(editDistance(a, b))/float64(maxLen)

	score := strLengthWeight*lengthRatio + strEditWeight*editScore
	if minLen >= strPrefixLen && a[:strPrefixLen] == b[:strPrefixLen] {
		score += strPrefixBonus
	}
	return clamp01(score)
}

// numberSimilarity scores 1 inside the tolerance band (0.001 absolute
// below magnitude 1, else 5% of the larger magnitude) and falls off
// linearly outside it.
func numberSimilarity(a, b float64) float64 {
	diff := math.Abs(a - b)
	if diff == 0 {
		return 1
	}
	magnitude := math.Max(math.Abs(a), math.Abs(b))
	tolerance := numAbsoluteTolerance
	if magnitude >= 1 {
		tolerance = numRelativeTolerance * magnitude
	}
	if diff <= tolerance {
		return 1
	}
	return clamp01(1 - (diff-tolerance)/(numFalloffWindow*tolerance))
}

// sequenceSimilarity blends an order-preserving match ratio with an
// unordered content match ratio, both against the longer length.
func sequenceSimilarity(a, b []Value, foldCase bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}

	ordered := 0
	for i := 0; i < minLen; i++ {
		if a[i].equal(b[i], foldCase) {
			ordered++
		}
	}

	// Multiset intersection: each element of b matches at most once.
	used := make([]bool, len(b))
	unordered := 0
	for _, av := range a {
		for j, bv := range b {
			if !used[j] && av.equal(bv, foldCase) {
				used[j] = true
				unordered++
				break
			}
		}
	}

	return seqOrderedWeight*float64(ordered)/float64(maxLen) +
		seqUnorderedWeight*float64(unordered)/float64(maxLen)
}

// mappingSimilarity is the ratio of properties whose name and value
// both match, over the union of property names.
func mappingSimilarity(a, b map[string]Value, foldCase bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	union := len(b)
	matches := 0
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			union++
			continue
		}
		if av.equal(bv, foldCase) {
			matches++
		}
	}
	return float64(matches) / float64(union)
}

// editDistance is the Levenshtein distance between a and b, computed
// with a rolling two-row table.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
