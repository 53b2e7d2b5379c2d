// Package pattern defines the feature-vector data model shared by every
// engine component: the Pattern record, the closed tagged Value variant
// for heterogeneous feature values, the per-kind similarity comparators,
// and structural validation.
package pattern

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alexgrimes/featmem/utils"
)

// Metadata carries the bookkeeping attached to every stored pattern.
// Source and Category are required; Frequency and LastUpdated are
// mutated by storage and eviction bookkeeping.
type Metadata struct {
	Source      string    `json:"source" validate:"required"`
	Category    string    `json:"category" validate:"required"`
	Frequency   int       `json:"frequency"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Pattern is a stored feature vector plus metadata and a confidence
// score. Patterns are created on store and destroyed on eviction or
// explicit removal; the engine references them by ID everywhere else.
type Pattern struct {
	ID         string           `json:"id" validate:"required"`
	Features   map[string]Value `json:"features"`
	Confidence float64          `json:"confidence" validate:"gte=0,lte=1"`
	Timestamp  time.Time        `json:"timestamp"`
	Metadata   Metadata         `json:"metadata"`
}

// Clone returns a deep copy, so callers can hand patterns across
// subsystem boundaries without sharing mutable state.
func (p *Pattern) Clone() *Pattern {
	cp := *p
	cp.Features = make(map[string]Value, len(p.Features))
	for k, v := range p.Features {
		cp.Features[k] = v.Clone()
	}
	return &cp
}

// FeatureSignatures returns the sorted "key:signature" entries for every
// feature, the form both the inverted index and the recognition cache
// key are built from.
func (p *Pattern) FeatureSignatures() []string {
	return FeatureSignatures(p.Features)
}

// FeatureSignatures returns the sorted "key:signature" entries for a
// feature map.
func FeatureSignatures(features map[string]Value) []string {
	sigs := make([]string, 0, len(features))
	for k, v := range features {
		sigs = append(sigs, k+":"+v.Signature())
	}
	sort.Strings(sigs)
	return sigs
}

// LessValuable orders patterns for eviction and compaction: ascending
// frequency, then ascending recency, then ID for determinism.
func LessValuable(a, b *Pattern) bool {
	if a.Metadata.Frequency != b.Metadata.Frequency {
		return a.Metadata.Frequency < b.Metadata.Frequency
	}
	if !a.Metadata.LastUpdated.Equal(b.Metadata.LastUpdated) {
		return a.Metadata.LastUpdated.Before(b.Metadata.LastUpdated)
	}
	return a.ID < b.ID
}

// Fingerprint returns a structural fingerprint of the pattern excluding
// ID and timestamps, so functionally identical payloads hash alike and
// can share one cached validation outcome.
func (p *Pattern) Fingerprint() string {
	var b strings.Builder
	b.WriteString(p.Metadata.Source)
	b.WriteByte('|')
	b.WriteString(p.Metadata.Category)
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(p.Confidence, 'g', -1, 64))
	for _, sig := range p.FeatureSignatures() {
		b.WriteByte('|')
		b.WriteString(sig)
	}
	return strconv.FormatUint(utils.HashString(b.String()), 16)
}
