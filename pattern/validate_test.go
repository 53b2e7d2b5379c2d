package pattern

import (
	"strings"
	"testing"
	"time"
)

func validPattern() *Pattern {
	return &Pattern{
		ID: "pat-1",
		Features: map[string]Value{
			"type": String("audio"),
			"bpm":  Number(120),
		},
		Confidence: 0.9,
		Timestamp:  time.Now(),
		Metadata: Metadata{
			Source:      "ingest",
			Category:    "music",
			Frequency:   1,
			LastUpdated: time.Now(),
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	v := NewValidator()
	res := v.Validate(validPattern())
	if !res.Valid {
		t.Fatalf("valid pattern rejected: %v", res.Errors)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("valid result carries errors: %v", res.Errors)
	}
}

func TestValidateRejects(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		mutate  func(*Pattern)
		wantErr string
	}{
		{
			name:    "confidence above range",
			mutate:  func(p *Pattern) { p.Confidence = 1.5 },
			wantErr: "confidence must be between 0 and 1",
		},
		{
			name:    "confidence below range",
			mutate:  func(p *Pattern) { p.Confidence = -0.1 },
			wantErr: "confidence must be between 0 and 1",
		},
		{
			name:    "missing id",
			mutate:  func(p *Pattern) { p.ID = "" },
			wantErr: "id is required",
		},
		{
			name:    "missing source",
			mutate:  func(p *Pattern) { p.Metadata.Source = "" },
			wantErr: "metadata.source is required",
		},
		{
			name:    "missing category",
			mutate:  func(p *Pattern) { p.Metadata.Category = "" },
			wantErr: "metadata.category is required",
		},
		{
			name:    "no features",
			mutate:  func(p *Pattern) { p.Features = nil },
			wantErr: "at least one feature is required",
		},
		{
			name:    "empty feature key",
			mutate:  func(p *Pattern) { p.Features[""] = String("x") },
			wantErr: "feature keys must be non-empty",
		},
		{
			name:    "invalid feature value",
			mutate:  func(p *Pattern) { p.Features["bad"] = Value{} },
			wantErr: `feature "bad"`,
		},
		{
			name:    "zero timestamp",
			mutate:  func(p *Pattern) { p.Timestamp = time.Time{} },
			wantErr: "timestamp is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPattern()
			tt.mutate(p)
			res := v.Validate(p)
			if res.Valid {
				t.Fatal("invalid pattern accepted")
			}
			found := false
			for _, e := range res.Errors {
				if strings.Contains(e, tt.wantErr) {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("errors %v do not mention %q", res.Errors, tt.wantErr)
			}
		})
	}
}

func TestValidateNil(t *testing.T) {
	v := NewValidator()
	res := v.Validate(nil)
	if res.Valid {
		t.Fatal("nil pattern accepted")
	}
}

func TestValidateDeeplyNested(t *testing.T) {
	v := NewValidator()
	p := validPattern()

	nested := String("leaf")
	for i := 0; i < maxValueDepth+1; i++ {
		nested = Sequence(nested)
	}
	p.Features["deep"] = nested

	res := v.Validate(p)
	if res.Valid {
		t.Fatal("over-deep feature value accepted")
	}
}
