package pattern

import (
	"math"
	"testing"
)

func TestNumberSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		want float64
		// exact=false means "strictly between 0 and 1"
		exact bool
	}{
		{name: "identical", a: 42, b: 42, want: 1, exact: true},
		{name: "within 5% band", a: 100, b: 104, want: 1, exact: true},
		{name: "band edge", a: 100, b: 105, want: 1, exact: true},
		{name: "outside band decays", a: 100, b: 120},
		{name: "small magnitudes use absolute band", a: 0.5, b: 0.5005, want: 1, exact: true},
		{name: "small magnitudes outside band", a: 0.5, b: 0.51},
		{name: "far apart", a: 1, b: 1e6, want: 0, exact: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(Number(tt.a), Number(tt.b))
			if tt.exact {
				if math.Abs(got-tt.want) > 1e-9 {
					t.Fatalf("Similarity(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
				}
				return
			}
			if got <= 0 || got >= 1 {
				t.Fatalf("Similarity(%v, %v) = %v, want value strictly between 0 and 1", tt.a, tt.b, got)
			}
		})
	}
}

func TestStringSimilarity(t *testing.T) {
	if got := Similarity(String("alpha"), String("alpha")); got != 1 {
		t.Fatalf("identical strings scored %v, want 1", got)
	}
	if got := Similarity(String(""), String("")); got != 1 {
		t.Fatalf("empty strings scored %v, want 1", got)
	}
	if got := Similarity(String("abc"), String("xyz")); got >= 0.5 {
		t.Fatalf("disjoint strings scored %v, want < 0.5", got)
	}

	// A shared three-character prefix earns the flat bonus.
	withPrefix := Similarity(String("pattern-a"), String("pattern-b"))
	withoutPrefix := Similarity(String("pattern-a"), String("zattern-b"))
	if withPrefix <= withoutPrefix {
		t.Fatalf("prefix bonus missing: with=%v without=%v", withPrefix, withoutPrefix)
	}
	if withPrefix > 1 {
		t.Fatalf("score %v escaped [0,1] clamp", withPrefix)
	}

	// Case matters for recognition, not for search matching.
	if got := Similarity(String("Audio"), String("audio")); got == 1 {
		t.Fatal("case-sensitive comparison treated different cases as identical")
	}
	if got := FoldedSimilarity(String("Audio"), String("audio")); got != 1 {
		t.Fatalf("folded comparison scored %v, want 1", got)
	}
}

func TestSequenceSimilarity(t *testing.T) {
	a := Sequence(String("x"), String("y"), String("z"))

	if got := Similarity(a, Sequence(String("x"), String("y"), String("z"))); got != 1 {
		t.Fatalf("identical sequences scored %v, want 1", got)
	}

	// Same content reordered keeps the unordered share of the score.
	reordered := Similarity(a, Sequence(String("z"), String("x"), String("y")))
	if reordered != seqUnorderedWeight {
		t.Fatalf("fully reordered content scored %v, want %v", reordered, seqUnorderedWeight)
	}

	if got := Similarity(a, Sequence()); got != 0 {
		t.Fatalf("empty vs non-empty scored %v, want 0", got)
	}
	if got := Similarity(Sequence(), Sequence()); got != 1 {
		t.Fatalf("two empty sequences scored %v, want 1", got)
	}
}

func TestMappingSimilarity(t *testing.T) {
	a := Mapping(map[string]Value{"genre": String("ambient"), "bpm": Number(120)})

	if got := Similarity(a, a); got != 1 {
		t.Fatalf("identical mappings scored %v, want 1", got)
	}

	half := Mapping(map[string]Value{"genre": String("ambient"), "bpm": Number(90)})
	if got := Similarity(a, half); got != 0.5 {
		t.Fatalf("one of two matching properties scored %v, want 0.5", got)
	}

	extra := Mapping(map[string]Value{"genre": String("ambient")})
	if got := Similarity(a, extra); got != 0.5 {
		t.Fatalf("missing property scored %v, want 0.5 over the union", got)
	}
}

func TestSimilarityKindMismatch(t *testing.T) {
	if got := Similarity(String("5"), Number(5)); got != 0 {
		t.Fatalf("string vs number scored %v, want 0", got)
	}
	if got := Similarity(Sequence(Number(1)), Mapping(map[string]Value{"a": Number(1)})); got != 0 {
		t.Fatalf("sequence vs mapping scored %v, want 0", got)
	}
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"same", "same", 0},
	}
	for _, tt := range tests {
		if got := editDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
