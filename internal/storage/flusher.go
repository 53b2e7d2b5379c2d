package storage

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/alexgrimes/featmem/config"
	"github.com/alexgrimes/featmem/internal/retrier"
	"github.com/alexgrimes/featmem/metrics"
	"github.com/alexgrimes/featmem/pattern"
	"github.com/alexgrimes/featmem/pkg/persistence"
)

// flusher queues successful writes and flushes them to the persistence
// sink, either when the queue reaches the batch size or after an idle
// interval. Sink calls run behind a circuit breaker and a retrier;
// persistence stays best-effort and a failing batch is dropped after
// the retry budget, surfacing only through metrics and logs.
type flusher struct {
	mu    sync.Mutex
	queue []*pattern.Pattern

	batchSize int
	interval  time.Duration

	sink      persistence.Sink
	breaker   *gobreaker.CircuitBreaker
	retr      *retrier.Retrier
	collector *metrics.Collector
	logger    *zap.Logger

	depth   atomic.Int64
	dropped atomic.Int64

	kick   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func newFlusher(cfg *config.Config, sink persistence.Sink, collector *metrics.Collector) (*flusher, error) {
	retr, err := retrier.New(
		cfg.Resilience.MaxRetries,
		cfg.Resilience.InitialInterval,
		cfg.Resilience.MaxInterval,
		cfg.Resilience.Multiplier,
		cfg.Resilience.RandomizationFactor,
	)
	if err != nil {
		return nil, err
	}
	// Sink errors are retried regardless of the Temporary convention;
	// best-effort persistence treats every failure as worth one budget.
	retr.TempErrorFunc = func(error) bool { return true }

	maxFailures := cfg.Resilience.BreakerMaxFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "persistence-sink",
		Timeout: cfg.Resilience.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})

	return &flusher{
		batchSize: cfg.Storage.BatchSize,
		interval:  cfg.Storage.FlushInterval,
		sink:      sink,
		breaker:   breaker,
		retr:      retr,
		collector: collector,
		logger:    cfg.Logger,
		kick:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}, nil
}

// enqueue appends p to the pending batch and kicks an immediate flush
// once the batch-size threshold is reached.
func (f *flusher) enqueue(p *pattern.Pattern) {
	f.mu.Lock()
	f.queue = append(f.queue, p)
	full := len(f.queue) >= f.batchSize
	f.depth.Store(int64(len(f.queue)))
	f.mu.Unlock()

	if full {
		select {
		case f.kick <- struct{}{}:
		default:
		}
	}
}

// run flushes on kicks and on the idle interval until stopped.
func (f *flusher) run(ctx context.Context) {
	f.wg.Add(1)
	defer f.wg.Done()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.kick:
			f.flush(ctx)
		case <-ticker.C:
			f.flush(ctx)
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		}
	}
}

// flush drains the queue and writes it through the breaker and retrier.
// The batch is taken before the write, so a concurrent enqueue starts a
// fresh queue; on failure the batch is dropped and counted.
func (f *flusher) flush(ctx context.Context) {
	f.mu.Lock()
	batch := f.queue
	f.queue = nil
	f.depth.Store(0)
	f.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	done := f.collector.StartOperation("persist")
	defer done()

	_, err := f.breaker.Execute(func() (any, error) {
		return nil, f.retr.Run(ctx, func() error {
			return f.sink.WriteBatch(ctx, batch)
		})
	})
	if err != nil {
		f.dropped.Add(int64(len(batch)))
		f.collector.RecordError("persist")
		f.logger.Warn("persistence batch dropped",
			zap.Int("patterns", len(batch)),
			zap.Error(err))
	}
}

// close stops the loop and performs one final drain so shutdown loses
// nothing the sink would have accepted.
func (f *flusher) close() error {
	f.once.Do(func() { close(f.stopCh) })
	f.wg.Wait()
	f.flush(context.Background())
	return nil
}
