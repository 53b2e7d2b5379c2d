package pattern

import (
	"testing"
	"time"
)

func criteriaTarget() *Pattern {
	return &Pattern{
		ID: "p1",
		Features: map[string]Value{
			"type": String("drum"),
			"bpm":  Number(120),
		},
		Confidence: 0.9,
		Timestamp:  time.Now(),
		Metadata: Metadata{
			Source:   "analyzer",
			Category: "Percussion",
		},
	}
}

func TestEmptyCriteriaMatchesVacuously(t *testing.T) {
	c := Criteria{}
	if !c.Empty() {
		t.Fatal("zero criteria not reported empty")
	}
	if got := c.MatchScore(criteriaTarget()); got != 1 {
		t.Fatalf("MatchScore = %v, want vacuous 1", got)
	}
	if !c.Matches(criteriaTarget()) {
		t.Fatal("empty criteria must match every pattern")
	}
}

func TestCriteriaCaseInsensitiveMetadata(t *testing.T) {
	c := Criteria{Category: "percussion"}
	if got := c.MatchScore(criteriaTarget()); got != 1 {
		t.Fatalf("MatchScore = %v, want 1 for case-folded category", got)
	}
}

func TestCriteriaToleranceBandedNumbers(t *testing.T) {
	within := Criteria{Features: map[string]Value{"bpm": Number(124)}}
	if got := within.MatchScore(criteriaTarget()); got != 1 {
		t.Fatalf("MatchScore = %v, want 1 inside the 5%% band", got)
	}

	outside := Criteria{Features: map[string]Value{"bpm": Number(240)}}
	if got := outside.MatchScore(criteriaTarget()); got >= MatchThreshold {
		t.Fatalf("MatchScore = %v, want below threshold far outside the band", got)
	}
}

func TestCriteriaMissingFeatureCountsAgainst(t *testing.T) {
	c := Criteria{Features: map[string]Value{
		"type":   String("drum"),
		"absent": String("x"),
	}}
	got := c.MatchScore(criteriaTarget())
	if got != 0.5 {
		t.Fatalf("MatchScore = %v, want 0.5 with one of two features present", got)
	}
	if c.Matches(criteriaTarget()) {
		t.Fatal("half agreement cleared the seventy percent threshold")
	}
}

func TestCriteriaMixedFieldsWeighting(t *testing.T) {
	c := Criteria{
		Category: "Percussion",
		Features: map[string]Value{"type": String("drum")},
	}
	if got := c.MatchScore(criteriaTarget()); got != 1 {
		t.Fatalf("MatchScore = %v, want 1 with all supplied fields agreeing", got)
	}
}
