// Package recognizer answers approximate-match queries against the
// pattern set. It owns the inverted feature index, a bounded cache of
// recent recognition results, its own metrics collector and an embedded
// health monitor. Candidate retrieval intersects index buckets; scoring
// runs under a soft wall-clock deadline checked between candidates.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/alexgrimes/featmem/config"
	"github.com/alexgrimes/featmem/health"
	"github.com/alexgrimes/featmem/internal/index"
	"github.com/alexgrimes/featmem/internal/lru"
	"github.com/alexgrimes/featmem/metrics"
	"github.com/alexgrimes/featmem/pattern"
)

var (
	// ErrInvalidFeatures rejects empty feature maps or maps carrying
	// null-valued features.
	ErrInvalidFeatures = errors.New("recognizer: feature map is empty or contains invalid values")

	// ErrInvalidPattern rejects structurally invalid patterns.
	ErrInvalidPattern = errors.New("recognizer: pattern failed validation")

	// ErrClosed rejects operations after Close.
	ErrClosed = errors.New("recognizer: closed")
)

// maxMatches bounds how many matches one recognition returns.
const maxMatches = 5

// Result is the outcome of one recognition. Partial marks a scan cut
// short by the deadline; it is still a success.
type Result struct {
	Matches    []pattern.Match `json:"matches"`
	Confidence float64         `json:"confidence"`
	Partial    bool            `json:"partial"`
	Scanned    int             `json:"scanned"`
	CacheHit   bool            `json:"cacheHit"`
}

type cachedResult struct {
	result Result
	at     time.Time
}

// Recognizer holds the pattern set and serves recognition queries. Safe
// for concurrent use; one mutex guards all owned collections.
type Recognizer struct {
	mu sync.RWMutex

	cfg       config.RecognizerConfig
	patterns  map[string]*pattern.Pattern
	idx       *index.Index
	results   *lru.Cache[string, cachedResult]
	validator *pattern.Validator

	collector *metrics.Collector
	monitor   *health.Monitor

	sf     singleflight.Group
	tracer trace.Tracer
	logger *zap.Logger

	closed bool
	nowFn  func() time.Time
}

// New creates a recognizer and starts its embedded health monitor. The
// monitor runs until ctx is canceled or Close is called.
func New(ctx context.Context, cfg *config.Config) (*Recognizer, error) {
	results, err := lru.New[string, cachedResult](cfg.Recognizer.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}

	collector := metrics.NewCollector(cfg.Metrics.TargetLatency)
	monitor := health.NewMonitor(cfg.Health, collector.Snapshot, cfg.Logger)

	r := &Recognizer{
		cfg:       cfg.Recognizer,
		patterns:  make(map[string]*pattern.Pattern),
		idx:       index.New(),
		results:   results,
		validator: pattern.NewValidator(),
		collector: collector,
		monitor:   monitor,
		tracer:    otel.Tracer("featmem/recognizer"),
		logger:    cfg.Logger,
		nowFn:     time.Now,
	}

	go monitor.Run(ctx)
	return r, nil
}

// Recognize scores the stored patterns against the supplied features and
// returns up to five matches ranked by similarity. An empty or
// null-valued feature map is a validation failure. Exhausting the
// deadline mid-scan returns the matches found so far as a partial
// success. Identical concurrent queries share one computation.
func (r *Recognizer) Recognize(ctx context.Context, features map[string]pattern.Value) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "Recognizer.Recognize",
		trace.WithAttributes(attribute.Int("features", len(features))))
	defer span.End()

	if err := validFeatures(features); err != nil {
		r.collector.RecordError("recognize")
		return Result{}, err
	}

	done := r.collector.StartOperation("recognize")
	defer done()

	key := strings.Join(pattern.FeatureSignatures(features), "|")

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Result{}, ErrClosed
	}
	if cached, ok := r.results.Get(key); ok && r.nowFn().Sub(cached.at) < r.cfg.CacheExpiration {
		r.mu.Unlock()
		span.SetAttributes(attribute.Bool("cacheHit", true))
		res := cached.result
		res.CacheHit = true
		return res, nil
	}
	r.mu.Unlock()

	v, err, _ := r.sf.Do(key, func() (any, error) {
		return r.scan(key, features)
	})
	if err != nil {
		r.collector.RecordError("recognize")
		return Result{}, err
	}
	return v.(Result), nil
}

// scan intersects the index buckets for the supplied features and scores
// each candidate until the set is exhausted or the deadline passes.
func (r *Recognizer) scan(key string, features map[string]pattern.Value) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Result{}, ErrClosed
	}

	now := r.nowFn()
	deadline := now.Add(r.cfg.Timeout)
	candidates := r.idx.Candidates(pattern.FeatureSignatures(features))

	var res Result
	var scored []pattern.Match
	for id := range candidates {
		// Soft cancellation: the deadline is checked between candidates,
		// so one expensive comparison can slightly overrun the budget.
		if r.nowFn().After(deadline) {
			res.Partial = true
			break
		}
		p, ok := r.patterns[id]
		if !ok {
			continue
		}
		if s := score(features, p.Features, r.cfg.Threshold); s > 0 {
			scored = append(scored, pattern.Match{Pattern: *p.Clone(), Similarity: s})
		}
		res.Scanned++
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Pattern.ID < scored[j].Pattern.ID
	})
	if len(scored) > maxMatches {
		scored = scored[:maxMatches]
	}
	res.Matches = scored

	if len(scored) > 0 {
		res.Confidence = scored[0].Similarity
		for i := range scored {
			if p, ok := r.patterns[scored[i].Pattern.ID]; ok {
				p.Metadata.Frequency++
				p.Metadata.LastUpdated = now
			}
		}
		best := Result{
			Matches:    scored[:1],
			Confidence: res.Confidence,
			Scanned:    res.Scanned,
		}
		r.results.Set(key, cachedResult{result: best, at: now})
	}
	return res, nil
}

// AddPattern validates p, makes room by evicting the lowest-frequency
// (then least recently updated) pattern when at capacity, inserts a
// clone and re-indexes it. Any mutation invalidates cached results.
func (r *Recognizer) AddPattern(p *pattern.Pattern) error {
	if vr := r.validator.Validate(p); !vr.Valid {
		r.collector.RecordError("add")
		return fmt.Errorf("%w: %s", ErrInvalidPattern, strings.Join(vr.Errors, "; "))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	if prev, ok := r.patterns[p.ID]; ok {
		r.idx.Remove(prev)
	} else if len(r.patterns) >= r.cfg.MaxPatterns {
		r.evictLowestValue()
	}

	cp := p.Clone()
	r.patterns[cp.ID] = cp
	r.idx.Add(cp)
	r.results.Clear()
	return nil
}

// RemovePattern removes id from the pattern set and the index and
// invalidates cached results. Removing an absent id is a no-op.
func (r *Recognizer) RemovePattern(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	p, ok := r.patterns[id]
	if !ok {
		return nil
	}
	r.idx.Remove(p)
	delete(r.patterns, id)
	r.results.Clear()
	return nil
}

// Get returns a clone of the pattern with the given id.
func (r *Recognizer) Get(id string) (*pattern.Pattern, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patterns[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Len returns how many patterns the recognizer holds.
func (r *Recognizer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patterns)
}

// Metrics returns the recognizer's own metrics snapshot.
func (r *Recognizer) Metrics() metrics.Snapshot {
	return r.collector.Snapshot()
}

// Health runs one evaluation pass of the embedded monitor.
func (r *Recognizer) Health() health.Status {
	return r.monitor.Check()
}

// Close tears the recognizer down deterministically: the embedded
// monitor's timers stop first, then cached and indexed state is
// released. Close is idempotent.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	// Timers first. Whatever happens during state cleanup, no background
	// work survives this point.
	r.monitor.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.results.Clear()
	r.idx.Clear()
	r.patterns = make(map[string]*pattern.Pattern)
	return nil
}

// evictLowestValue drops the pattern with the lowest frequency, breaking
// ties by least recent update. Caller holds the lock.
func (r *Recognizer) evictLowestValue() {
	var victim *pattern.Pattern
	for _, p := range r.patterns {
		if victim == nil || pattern.LessValuable(p, victim) {
			victim = p
		}
	}
	if victim == nil {
		return
	}
	r.idx.Remove(victim)
	delete(r.patterns, victim.ID)
	r.logger.Debug("evicted pattern at capacity",
		zap.String("id", victim.ID),
		zap.Int("frequency", victim.Metadata.Frequency))
}

func validFeatures(features map[string]pattern.Value) error {
	if len(features) == 0 {
		return ErrInvalidFeatures
	}
	for key, v := range features {
		if key == "" || !v.IsValid() {
			return ErrInvalidFeatures
		}
	}
	return nil
}
