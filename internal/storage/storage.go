// Package storage implements the transactional pattern store: a primary
// map, feature indices and the recognizer's structures mutated together
// with paired rollbacks, a fingerprint-keyed validation cache, a bloom
// filter backing fuzzy search, periodic compaction, and an asynchronous
// persistence queue flushed by batch size or idle timeout.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/alexgrimes/featmem/config"
	"github.com/alexgrimes/featmem/internal/index"
	"github.com/alexgrimes/featmem/metrics"
	"github.com/alexgrimes/featmem/pattern"
	"github.com/alexgrimes/featmem/pkg/persistence"
)

var (
	// ErrCapacityExceeded means the store stayed full even after a
	// compaction pass.
	ErrCapacityExceeded = errors.New("storage: pattern capacity exceeded")

	// ErrValidationFailed means the candidate pattern broke a structural
	// rule; the returned ValidationResult lists which.
	ErrValidationFailed = errors.New("storage: pattern failed validation")

	// ErrClosed rejects operations after Close.
	ErrClosed = errors.New("storage: closed")
)

const (
	// compactFraction is the share of entries a compaction pass reclaims.
	compactFraction = 0.20

	// compactOccupancy is the occupancy compaction reclaims down to when
	// that demands more than the fraction.
	compactOccupancy = 0.80
)

// Recognition is the narrow view of the recognizer the store mutates
// inside its transaction. The recognizer stays the sole owner of its
// collections; the store only reaches them through this interface.
type Recognition interface {
	AddPattern(p *pattern.Pattern) error
	RemovePattern(id string) error
}

// Storage is the transactional pattern store. Safe for concurrent use;
// one mutex guards the primary map and indices.
type Storage struct {
	mu sync.RWMutex

	cfg      config.StorageConfig
	patterns map[string]*pattern.Pattern
	idx      *index.Index

	validator *pattern.Validator
	valCache  *ristretto.Cache
	filter    *bloom.BloomFilter

	recog     Recognition
	collector *metrics.Collector
	flusher   *flusher

	tracer trace.Tracer
	logger *zap.Logger

	closed bool
	nowFn  func() time.Time
}

// New creates a storage instance flushing to sink and mirroring writes
// into recog. The collector is shared with the owning system. The
// flusher goroutine runs until ctx is canceled or Close is called.
func New(ctx context.Context, cfg *config.Config, recog Recognition, sink persistence.Sink, collector *metrics.Collector) (*Storage, error) {
	valCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.Storage.ValidationCacheSize * 10,
		MaxCost:     cfg.Storage.ValidationCacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create validation cache: %w", err)
	}

	fl, err := newFlusher(cfg, sink, collector)
	if err != nil {
		valCache.Close()
		return nil, fmt.Errorf("create flusher: %w", err)
	}

	s := &Storage{
		cfg:       cfg.Storage,
		patterns:  make(map[string]*pattern.Pattern),
		idx:       index.New(),
		validator: pattern.NewValidator(),
		valCache:  valCache,
		filter: bloom.NewWithEstimates(
			cfg.Storage.BloomExpectedPatterns,
			cfg.Storage.BloomFalsePositiveRate,
		),
		recog:     recog,
		collector: collector,
		flusher:   fl,
		tracer:    otel.Tracer("featmem/storage"),
		logger:    cfg.Logger,
		nowFn:     time.Now,
	}

	go fl.run(ctx)
	return s, nil
}

// Store validates p and writes it transactionally across the primary
// map, the feature index and the recognizer. A failure partway unwinds
// the completed steps in reverse order before surfacing. Successful
// writes are queued for asynchronous persistence. A missing ID is
// filled; the stored pattern's ID is returned through the input clone
// semantics of the caller.
func (s *Storage) Store(ctx context.Context, p *pattern.Pattern) (pattern.ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "Storage.Store")
	defer span.End()

	done := s.collector.StartOperation("store")
	defer done()

	now := s.nowFn()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}
	span.SetAttributes(attribute.String("pattern.id", p.ID))

	vr := s.validate(p)
	if !vr.Valid {
		s.collector.RecordError("store")
		return vr, fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(vr.Errors, "; "))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vr, ErrClosed
	}

	prev, exists := s.patterns[p.ID]
	if !exists && len(s.patterns) >= s.cfg.MaxPatterns {
		s.compactLocked()
		if len(s.patterns) >= s.cfg.MaxPatterns {
			s.collector.RecordError("store")
			return vr, ErrCapacityExceeded
		}
	}

	cp := p.Clone()
	cp.Metadata.LastUpdated = now
	if exists {
		cp.Metadata.Frequency = prev.Metadata.Frequency + 1
	}

	if err := s.applyLocked(prev, cp); err != nil {
		s.collector.RecordError("store")
		return vr, err
	}

	s.flusher.enqueue(cp.Clone())
	return vr, nil
}

// applyLocked runs the three transaction steps, unwinding completed
// steps in reverse order when a later one fails. Rollback failures are
// second-order: they are logged and counted but never mask the primary
// error.
func (s *Storage) applyLocked(prev, next *pattern.Pattern) error {
	// Step 1: primary map.
	s.patterns[next.ID] = next

	// Step 2: feature index. The bloom filter only ever accumulates;
	// eviction never removes from it, so it yields false positives at
	// worst, never false negatives.
	if prev != nil {
		s.idx.Remove(prev)
	}
	s.idx.Add(next)
	for _, sig := range next.FeatureSignatures() {
		s.filter.AddString(sig)
	}

	// Step 3: recognizer structures, through the narrow interface.
	if err := s.recog.AddPattern(next); err != nil {
		s.idx.Remove(next)
		if prev != nil {
			s.idx.Add(prev)
			s.patterns[prev.ID] = prev
		} else {
			delete(s.patterns, next.ID)
		}
		return fmt.Errorf("storage: transaction step 3 (recognizer) failed, rolled back: %w", err)
	}
	return nil
}

// validate returns the cached validation outcome for structurally
// identical payloads, keyed by a fingerprint that excludes ID and
// timestamps.
func (s *Storage) validate(p *pattern.Pattern) pattern.ValidationResult {
	fp := p.Fingerprint()
	if v, ok := s.valCache.Get(fp); ok {
		if vr, ok := v.(pattern.ValidationResult); ok {
			return vr
		}
	}
	vr := s.validator.Validate(p)
	s.valCache.Set(fp, vr, 1)
	return vr
}

// Get returns a clone of the stored pattern with the given id.
func (s *Storage) Get(id string) (*pattern.Pattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Len returns how many patterns the store holds.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}

// Optimize reclaims the lowest-value fifth of the store, or enough to
// reach eighty percent occupancy if that is more, ranked by ascending
// frequency then ascending recency. Removal is atomic across the
// primary map, the indices and the recognizer; a failure partway
// re-inserts everything removed so far. It returns the removed IDs.
func (s *Storage) Optimize(ctx context.Context) ([]string, error) {
	_, span := s.tracer.Start(ctx, "Storage.Optimize")
	defer span.End()

	done := s.collector.StartOperation("optimize")
	defer done()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	removed := s.compactLocked()
	span.SetAttributes(attribute.Int("removed", len(removed)))
	return removed, nil
}

// compactLocked performs one compaction pass and returns the removed
// IDs. Caller holds the lock.
func (s *Storage) compactLocked() []string {
	n := len(s.patterns)
	if n == 0 {
		return nil
	}

	target := int(float64(n) * compactFraction)
	if over := n - int(float64(s.cfg.MaxPatterns)*compactOccupancy); over > target {
		target = over
	}
	if target <= 0 {
		return nil
	}

	if target > n {
		target = n
	}

	ranked := make([]*pattern.Pattern, 0, n)
	for _, p := range s.patterns {
		ranked = append(ranked, p)
	}
	sort.Slice(ranked, func(i, j int) bool { return pattern.LessValuable(ranked[i], ranked[j]) })

	removed := make([]*pattern.Pattern, 0, target)
	for _, victim := range ranked[:target] {
		if err := s.removeLocked(victim); err != nil {
			// Roll back: re-insert everything this pass already removed.
			for _, p := range removed {
				s.patterns[p.ID] = p
				s.idx.Add(p)
				if rerr := s.recog.AddPattern(p); rerr != nil {
					s.collector.RecordError("optimize")
					s.logger.Warn("compaction rollback re-insert failed",
						zap.String("id", p.ID), zap.Error(rerr))
				}
			}
			s.collector.RecordError("optimize")
			s.logger.Warn("compaction aborted and rolled back",
				zap.String("id", victim.ID), zap.Error(err))
			return nil
		}
		removed = append(removed, victim)
	}

	ids := make([]string, len(removed))
	for i, p := range removed {
		ids[i] = p.ID
	}
	return ids
}

// removeLocked removes one pattern from every structure that references
// it: the recognizer first (the step most likely to fail), then the
// index, the primary map and the validation cache. Caller holds the
// lock.
func (s *Storage) removeLocked(p *pattern.Pattern) error {
	if err := s.recog.RemovePattern(p.ID); err != nil {
		return err
	}
	s.idx.Remove(p)
	delete(s.patterns, p.ID)
	s.valCache.Del(p.Fingerprint())
	return nil
}

// Close stops the flusher (draining the queue in a final flush) and
// releases the validation cache. The sink itself belongs to the caller.
func (s *Storage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.flusher.close()
	s.valCache.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = make(map[string]*pattern.Pattern)
	s.idx.Clear()
	return err
}
