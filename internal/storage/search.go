package storage

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/alexgrimes/featmem/pattern"
)

// Search returns every stored pattern matching the criteria at the
// fuzzy agreement threshold, ordered by descending match score then ID.
// When every supplied feature is indexable the candidate set is shrunk
// by index intersection; otherwise the store is scanned in full. Empty
// criteria match everything.
func (s *Storage) Search(ctx context.Context, c pattern.Criteria) ([]pattern.Pattern, error) {
	_, span := s.tracer.Start(ctx, "Storage.Search")
	defer span.End()

	done := s.collector.StartOperation("search")
	defer done()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	type hit struct {
		p     *pattern.Pattern
		score float64
	}
	var hits []hit

	scan := func(p *pattern.Pattern) {
		if sc := c.MatchScore(p); sc >= pattern.MatchThreshold {
			hits = append(hits, hit{p: p, score: sc})
		}
	}

	if ids, narrowed := s.candidatesLocked(c); narrowed {
		span.SetAttributes(attribute.Int("candidates", len(ids)))
		for id := range ids {
			if p, ok := s.patterns[id]; ok {
				scan(p)
			}
		}
	} else {
		span.SetAttributes(attribute.Int("candidates", len(s.patterns)))
		for _, p := range s.patterns {
			scan(p)
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].p.ID < hits[j].p.ID
	})

	out := make([]pattern.Pattern, len(hits))
	for i, h := range hits {
		out[i] = *h.p.Clone()
	}
	return out, nil
}

// candidatesLocked tries to shrink the candidate set via exact index
// intersection over the supplied features. The bloom filter proves
// never-indexed signatures cheaply; a proven-empty or empty intersection
// means fuzzy matching must fall back to a full scan, since non-exact
// values can still clear the agreement threshold. Caller holds the
// lock.
func (s *Storage) candidatesLocked(c pattern.Criteria) (map[string]struct{}, bool) {
	if len(c.Features) == 0 {
		return nil, false
	}

	sigs := pattern.FeatureSignatures(c.Features)
	for _, sig := range sigs {
		if !s.filter.TestString(sig) {
			return nil, false
		}
	}

	ids := s.idx.Candidates(sigs)
	if len(ids) == 0 {
		return nil, false
	}
	return ids, true
}
