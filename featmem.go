// Package featmem is a self-contained pattern memory engine: it stores
// feature vectors, answers approximate-match queries against them, and
// continuously evaluates whether the hosting system is healthy enough
// to keep accepting work. The System facade composes the recognizer,
// the transactional storage layer, a shared metrics collector and a
// debounced health monitor behind four operations plus on-demand
// compaction.
package featmem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/alexgrimes/featmem/config"
	"github.com/alexgrimes/featmem/health"
	"github.com/alexgrimes/featmem/internal/recognizer"
	"github.com/alexgrimes/featmem/internal/storage"
	"github.com/alexgrimes/featmem/metrics"
	"github.com/alexgrimes/featmem/pattern"
	"github.com/alexgrimes/featmem/pkg/persistence"
)

// Option adjusts the configuration during New.
type Option func(*config.Config) error

// WithLogger sets the structured logger every component shares.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config.Config) error {
		cfg.Logger = logger
		return nil
	}
}

// WithConfig replaces the whole configuration tree before the remaining
// options apply. Zero fields still fall back to defaults.
func WithConfig(c *config.Config) Option {
	return func(cfg *config.Config) error {
		if c == nil {
			return fmt.Errorf("nil config")
		}
		logger, sink := cfg.Logger, cfg.Sink
		*cfg = *c
		if cfg.Logger == nil {
			cfg.Logger = logger
		}
		if cfg.Sink == nil {
			cfg.Sink = sink
		}
		return nil
	}
}

// WithSink sets the asynchronous persistence sink.
func WithSink(sink persistence.Sink) Option {
	return func(cfg *config.Config) error {
		cfg.Sink = sink
		return nil
	}
}

// WithMaxPatterns bounds both the storage layer and the recognizer.
func WithMaxPatterns(n int) Option {
	return func(cfg *config.Config) error {
		if n <= 0 {
			return fmt.Errorf("max patterns must be positive, got %d", n)
		}
		cfg.Storage.MaxPatterns = n
		cfg.Recognizer.MaxPatterns = n
		return nil
	}
}

// WithRecognitionThreshold sets the minimum similarity for a match.
func WithRecognitionThreshold(t float64) Option {
	return func(cfg *config.Config) error {
		if t <= 0 || t > 1 {
			return fmt.Errorf("recognition threshold must be in (0,1], got %v", t)
		}
		cfg.Recognizer.Threshold = t
		return nil
	}
}

// WithRecognitionTimeout sets the wall-clock budget per candidate scan.
func WithRecognitionTimeout(d time.Duration) Option {
	return func(cfg *config.Config) error {
		if d <= 0 {
			return fmt.Errorf("recognition timeout must be positive, got %v", d)
		}
		cfg.Recognizer.Timeout = d
		return nil
	}
}

// WithHealthConfig overrides health monitor tuning. Zero fields keep
// their defaults through the monitor's structural merge.
func WithHealthConfig(hc health.Config) Option {
	return func(cfg *config.Config) error {
		cfg.Health = hc
		return nil
	}
}

// WithTargetLatency anchors the optimization score and the metric
// collectors' own health classification.
func WithTargetLatency(d time.Duration) Option {
	return func(cfg *config.Config) error {
		if d <= 0 {
			return fmt.Errorf("target latency must be positive, got %v", d)
		}
		cfg.Metrics.TargetLatency = d
		return nil
	}
}

// System is the engine facade. All methods are safe for concurrent use.
type System struct {
	cfg    *config.Config
	logger *zap.Logger

	collector *metrics.Collector
	monitor   *health.Monitor
	recog     *recognizer.Recognizer
	store     *storage.Storage
	sink      persistence.Sink

	tracer trace.Tracer
	cancel context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New builds a System from the defaults plus the given options and
// starts its background loops (health checks, persistence flushing).
// The loops stop when ctx is canceled or Close is called.
func New(ctx context.Context, opts ...Option) (*System, error) {
	cfg := config.Default()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	sink := cfg.Sink
	if sink == nil {
		sink = persistence.NewMemorySink()
	}

	runCtx, cancel := context.WithCancel(ctx)

	collector := metrics.NewCollector(cfg.Metrics.TargetLatency)
	monitor := health.NewMonitor(cfg.Health, collector.Snapshot, cfg.Logger)

	recog, err := recognizer.New(runCtx, cfg)
	if err != nil {
		cancel()
		monitor.Close()
		return nil, fmt.Errorf("failed to initialize recognizer: %w", err)
	}

	store, err := storage.New(runCtx, cfg, recog, sink, collector)
	if err != nil {
		cancel()
		monitor.Close()
		_ = recog.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	s := &System{
		cfg:       cfg,
		logger:    cfg.Logger,
		collector: collector,
		monitor:   monitor,
		recog:     recog,
		store:     store,
		sink:      sink,
		tracer:    otel.Tracer("featmem"),
		cancel:    cancel,
	}

	go monitor.Run(runCtx)
	return s, nil
}

// RecognizePattern scores the stored patterns against the supplied
// features and returns up to five ranked matches. Zero qualifying
// candidates is a success with empty matches; an exhausted deadline
// yields a partial success.
func (s *System) RecognizePattern(ctx context.Context, features map[string]pattern.Value) RecognitionResult {
	ctx, span := s.tracer.Start(ctx, "System.RecognizePattern",
		trace.WithAttributes(attribute.Int("features", len(features))))
	defer span.End()

	if s.closed.Load() {
		return RecognitionResult{
			Success: false,
			Error:   ErrClosed.Error(),
			Kind:    KindProcessing,
			Metrics: s.collector.Snapshot(),
			Health:  s.monitor.Status(),
		}
	}

	done := s.collector.StartOperation("recognize")
	defer done()

	if err := ctx.Err(); err != nil {
		return s.recognitionFailure(err)
	}

	res, err := s.recog.Recognize(ctx, features)
	if err != nil {
		return s.recognitionFailure(err)
	}

	return RecognitionResult{
		Success:    true,
		Matches:    res.Matches,
		Confidence: res.Confidence,
		Partial:    res.Partial,
		Metrics:    s.collector.Snapshot(),
		Health:     s.monitor.Status(),
	}
}

// StorePattern validates and transactionally stores p, then queues it
// for asynchronous persistence. Writes are refused while the system
// reports unhealthy; reads keep working in any state.
func (s *System) StorePattern(ctx context.Context, p pattern.Pattern) StorageResult[pattern.ValidationResult] {
	ctx, span := s.tracer.Start(ctx, "System.StorePattern")
	defer span.End()

	if s.closed.Load() {
		return storageFailure[pattern.ValidationResult](s, ErrClosed, nil)
	}
	if s.monitor.Status().IsUnhealthy() {
		s.collector.RecordError("store")
		return storageFailure[pattern.ValidationResult](s, ErrUnhealthy, nil)
	}

	// The storage layer times the operation into the shared collector.
	vr, err := s.store.Store(ctx, &p)
	if err != nil {
		res := storageFailure[pattern.ValidationResult](s, err, []string{p.ID})
		res.Data = vr
		return res
	}

	return StorageResult[pattern.ValidationResult]{
		Success:          true,
		Data:             vr,
		AffectedPatterns: []string{p.ID},
		Metrics:          s.collector.Snapshot(),
		Health:           s.monitor.Status(),
	}
}

// SearchPatterns returns every stored pattern matching the criteria at
// the fuzzy agreement threshold. Empty criteria match everything.
func (s *System) SearchPatterns(ctx context.Context, c pattern.Criteria) StorageResult[[]pattern.Pattern] {
	ctx, span := s.tracer.Start(ctx, "System.SearchPatterns")
	defer span.End()

	if s.closed.Load() {
		return storageFailure[[]pattern.Pattern](s, ErrClosed, nil)
	}

	found, err := s.store.Search(ctx, c)
	if err != nil {
		return storageFailure[[]pattern.Pattern](s, err, nil)
	}

	ids := make([]string, len(found))
	for i := range found {
		ids[i] = found[i].ID
	}
	return StorageResult[[]pattern.Pattern]{
		Success:          true,
		Data:             found,
		AffectedPatterns: ids,
		Metrics:          s.collector.Snapshot(),
		Health:           s.monitor.Status(),
	}
}

// GetPattern returns a copy of the stored pattern with the given id.
func (s *System) GetPattern(id string) (pattern.Pattern, bool) {
	p, ok := s.store.Get(id)
	if !ok {
		return pattern.Pattern{}, false
	}
	return *p, true
}

// Optimize runs one compaction pass, reclaiming the lowest-value
// patterns, and returns the removed IDs.
func (s *System) Optimize(ctx context.Context) StorageResult[[]string] {
	ctx, span := s.tracer.Start(ctx, "System.Optimize")
	defer span.End()

	if s.closed.Load() {
		return storageFailure[[]string](s, ErrClosed, nil)
	}

	removed, err := s.store.Optimize(ctx)
	if err != nil {
		return storageFailure[[]string](s, err, nil)
	}
	return StorageResult[[]string]{
		Success:          true,
		Data:             removed,
		AffectedPatterns: removed,
		Metrics:          s.collector.Snapshot(),
		Health:           s.monitor.Status(),
	}
}

// GetHealth runs one health evaluation pass and returns the debounced
// status.
func (s *System) GetHealth() health.Status {
	return s.monitor.Check()
}

// Metrics returns the system-level metrics snapshot.
func (s *System) Metrics() metrics.Snapshot {
	return s.collector.Snapshot()
}

// Close tears the system down deterministically: background timers stop
// first (health monitors, the persistence flusher drains its queue in a
// final flush), then in-memory state is released and the sink closed.
// Close is idempotent; later calls return the first outcome.
func (s *System) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()

		s.monitor.Close()
		recogErr := s.recog.Close()
		storeErr := s.store.Close()
		sinkErr := s.sink.Close()

		s.closeErr = errors.Join(recogErr, storeErr, sinkErr)
		if s.closeErr != nil {
			s.logger.Warn("system closed with errors", zap.Error(s.closeErr))
		}
	})
	return s.closeErr
}

func (s *System) recognitionFailure(err error) RecognitionResult {
	s.collector.RecordError("recognize")
	kind := classify(err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = KindTimeout
	}
	return RecognitionResult{
		Success: false,
		Error:   err.Error(),
		Kind:    kind,
		Metrics: s.collector.Snapshot(),
		Health:  s.monitor.Status(),
	}
}

func storageFailure[T any](s *System, err error, affected []string) StorageResult[T] {
	return StorageResult[T]{
		Success:          false,
		Error:            err.Error(),
		Kind:             classify(err),
		AffectedPatterns: affected,
		Metrics:          s.collector.Snapshot(),
		Health:           s.monitor.Status(),
	}
}
