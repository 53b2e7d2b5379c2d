// Package index maintains an inverted index from feature signatures to
// pattern IDs. Posting sets hold identifiers only; the index never owns or
// retains pattern data.
package index

import (
	"github.com/alexgrimes/featmem/pattern"
)

// Index maps "key:signature" strings to the set of pattern IDs whose
// features produce that signature. Not safe for concurrent use; owners
// serialize access.
type Index struct {
	postings map[string]map[string]struct{}
}

// New creates an empty index.
func New() *Index {
	return &Index{postings: make(map[string]map[string]struct{})}
}

// Add indexes p under every feature signature it carries.
func (ix *Index) Add(p *pattern.Pattern) {
	for _, sig := range p.FeatureSignatures() {
		set, ok := ix.postings[sig]
		if !ok {
			set = make(map[string]struct{})
			ix.postings[sig] = set
		}
		set[p.ID] = struct{}{}
	}
}

// Remove deletes id from every posting set it appears in. Signatures are
// recomputed from the pattern, so the caller must pass the same features the
// pattern was indexed with.
func (ix *Index) Remove(p *pattern.Pattern) {
	for _, sig := range p.FeatureSignatures() {
		set, ok := ix.postings[sig]
		if !ok {
			continue
		}
		delete(set, p.ID)
		if len(set) == 0 {
			delete(ix.postings, sig)
		}
	}
}

// Has reports whether any pattern is indexed under sig.
func (ix *Index) Has(sig string) bool {
	return len(ix.postings[sig]) > 0
}

// Candidates intersects the posting sets of the given signatures. An empty
// signature list or a signature with no postings yields nil — the caller
// decides whether that means "no candidates" or "fall back to a scan".
func (ix *Index) Candidates(sigs []string) map[string]struct{} {
	if len(sigs) == 0 {
		return nil
	}

	// Start from the smallest posting set so the intersection does the
	// least work.
	smallest := -1
	for i, sig := range sigs {
		set, ok := ix.postings[sig]
		if !ok {
			return nil
		}
		if smallest < 0 || len(set) < len(ix.postings[sigs[smallest]]) {
			smallest = i
		}
	}

	out := make(map[string]struct{}, len(ix.postings[sigs[smallest]]))
	for id := range ix.postings[sigs[smallest]] {
		out[id] = struct{}{}
	}
	for i, sig := range sigs {
		if i == smallest {
			continue
		}
		set := ix.postings[sig]
		for id := range out {
			if _, ok := set[id]; !ok {
				delete(out, id)
			}
		}
		if len(out) == 0 {
			return nil
		}
	}
	return out
}

// Union collects every id indexed under any of the signatures.
func (ix *Index) Union(sigs []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, sig := range sigs {
		for id := range ix.postings[sig] {
			out[id] = struct{}{}
		}
	}
	return out
}

// Len returns the number of distinct signatures indexed.
func (ix *Index) Len() int {
	return len(ix.postings)
}

// Clear drops every posting set.
func (ix *Index) Clear() {
	ix.postings = make(map[string]map[string]struct{})
}
