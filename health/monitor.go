package health

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alexgrimes/featmem/metrics"
)

// Config controls the monitor's thresholds and debouncing behavior.
type Config struct {
	// CheckInterval is the cadence of the background evaluation loop.
	CheckInterval time.Duration `json:"checkInterval" yaml:"checkInterval"`

	// ConfirmationSamples is how many identical consecutive proposals it
	// takes before the state machine attempts a transition.
	ConfirmationSamples int `json:"confirmationSamples" yaml:"confirmationSamples"`

	// MinStateDuration is the minimum dwell time between transitions.
	MinStateDuration time.Duration `json:"minStateDuration" yaml:"minStateDuration"`

	// MaxTransitionsPerMinute caps transition churn in the trailing minute.
	MaxTransitionsPerMinute int `json:"maxTransitionsPerMinute" yaml:"maxTransitionsPerMinute"`

	// Memory thresholds are heap usage fractions of MemoryLimitBytes.
	Memory Thresholds `json:"memory" yaml:"memory"`

	// Performance thresholds are p95 latencies in milliseconds.
	Performance Thresholds `json:"performance" yaml:"performance"`

	// Errors thresholds are error rates in [0,1].
	Errors Thresholds `json:"errors" yaml:"errors"`

	// MemoryLimitBytes anchors the memory usage fraction.
	MemoryLimitBytes uint64 `json:"memoryLimitBytes" yaml:"memoryLimitBytes"`
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval:           30 * time.Second,
		ConfirmationSamples:     5,
		MinStateDuration:        7 * time.Second,
		MaxTransitionsPerMinute: 8,
		Memory:                  Thresholds{Warning: 0.75, Critical: 0.90, Recovery: 0.70},
		Performance:             Thresholds{Warning: 200, Critical: 500, Recovery: 150},
		Errors:                  Thresholds{Warning: 0.05, Critical: 0.15, Recovery: 0.03},
		MemoryLimitBytes:        512 << 20,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = def.CheckInterval
	}
	if c.ConfirmationSamples <= 0 {
		c.ConfirmationSamples = def.ConfirmationSamples
	}
	if c.MinStateDuration <= 0 {
		c.MinStateDuration = def.MinStateDuration
	}
	if c.MaxTransitionsPerMinute <= 0 {
		c.MaxTransitionsPerMinute = def.MaxTransitionsPerMinute
	}
	if c.Memory == (Thresholds{}) {
		c.Memory = def.Memory
	}
	if c.Performance == (Thresholds{}) {
		c.Performance = def.Performance
	}
	if c.Errors == (Thresholds{}) {
		c.Errors = def.Errors
	}
	if c.MemoryLimitBytes == 0 {
		c.MemoryLimitBytes = def.MemoryLimitBytes
	}
	return c
}

// Monitor evaluates metrics snapshots into a debounced Status. All methods
// are safe for concurrent use.
type Monitor struct {
	mu  sync.Mutex
	cfg Config

	source      func() metrics.Snapshot
	memoryUsage func() float64

	machine    *StateMachine
	memory     State
	perf       State
	errorState State

	evaluators []Evaluator
	last       Status

	logger *zap.Logger
	stopCh chan struct{}
	stopWg sync.WaitGroup
	once   sync.Once

	nowFn func() time.Time
}

// NewMonitor creates a monitor reading snapshots from source. A nil source
// evaluates against an empty snapshot; a nil logger discards logs.
func NewMonitor(cfg Config, source func() metrics.Snapshot, logger *zap.Logger) *Monitor {
	cfg = cfg.withDefaults()
	if source == nil {
		source = func() metrics.Snapshot { return metrics.Snapshot{} }
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Monitor{
		cfg:        cfg,
		source:     source,
		machine:    NewStateMachine(cfg.ConfirmationSamples, cfg.MinStateDuration, cfg.MaxTransitionsPerMinute, time.Now()),
		memory:     StateHealthy,
		perf:       StateHealthy,
		errorState: StateHealthy,
		logger:     logger,
		stopCh:     make(chan struct{}),
		nowFn:      time.Now,
	}
	m.memoryUsage = m.heapUsage
	m.last = Status{State: StateHealthy, LastCheck: time.Now()}
	return m
}

// SetMemoryUsage replaces the heap-based memory usage reading. The function
// must return a usage fraction; values are compared directly against the
// memory thresholds.
func (m *Monitor) SetMemoryUsage(fn func() float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn != nil {
		m.memoryUsage = fn
	}
}

// Use registers an evaluator that augments every computed status, in
// registration order.
func (m *Monitor) Use(e Evaluator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e != nil {
		m.evaluators = append(m.evaluators, e)
	}
}

// Check runs one evaluation pass and returns the resulting status.
func (m *Monitor) Check() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	snap := m.source()
	memUsage := m.memoryUsage()
	p95Millis := float64(snap.P95Latency) / float64(time.Millisecond)

	m.memory = nextIndicatorState(m.memory, memUsage, m.cfg.Memory)
	m.perf = nextIndicatorState(m.perf, p95Millis, m.cfg.Performance)
	m.errorState = nextIndicatorState(m.errorState, snap.ErrorRate, m.cfg.Errors)

	score := compositeScore(m.memory, m.perf, m.errorState)
	proposed := proposeState(m.machine.Current(), score, m.memory, m.perf, m.errorState)
	state, changed := m.machine.Observe(proposed, now)

	status := Status{
		State:       state,
		Memory:      m.indicator("memory", m.memory, memUsage, m.cfg.Memory),
		Performance: m.indicator("performance", m.perf, p95Millis, m.cfg.Performance),
		Errors:      m.indicator("errors", m.errorState, snap.ErrorRate, m.cfg.Errors),
		Score:       score,
		Metrics:     snap,
		LastCheck:   now,
	}
	status.Recommendations = recommendations(status)

	for _, e := range m.evaluators {
		status = e.Evaluate(status)
	}

	if changed {
		m.logger.Info("health state changed",
			zap.String("from", string(m.last.State)),
			zap.String("to", string(state)),
			zap.Float64("score", score))
	}
	m.last = status
	return status
}

// Status returns the most recently computed status without re-evaluating.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// History returns the accepted transition history.
func (m *Monitor) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.History()
}

// Run evaluates on the configured interval until the context is canceled or
// Close is called. Callers run it as a goroutine.
func (m *Monitor) Run(ctx context.Context) {
	m.stopWg.Add(1)
	defer m.stopWg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check()
		case <-ctx.Done():
			m.logger.Debug("health monitor stopping: context canceled")
			return
		case <-m.stopCh:
			return
		}
	}
}

// Close stops the background loop and waits for it to exit. Safe to call
// more than once.
func (m *Monitor) Close() {
	m.once.Do(func() { close(m.stopCh) })
	m.stopWg.Wait()
}

func (m *Monitor) indicator(name string, state State, value float64, th Thresholds) Indicator {
	ind := Indicator{Name: name, State: state, Value: value}
	switch state {
	case StateHealthy:
		ind.Threshold = th.Warning
	case StateDegraded:
		ind.Threshold = th.Critical
		ind.Message = fmt.Sprintf("%s at %.3f, degraded past warning threshold %.3f", name, value, th.Warning)
	default:
		ind.Threshold = th.Recovery
		ind.Message = fmt.Sprintf("%s at %.3f, unhealthy past critical threshold %.3f", name, value, th.Critical)
	}
	return ind
}

// recommendations builds one actionable hint per non-healthy indicator.
func recommendations(s Status) []string {
	var recs []string
	if s.Memory.State != StateHealthy {
		if s.Memory.State == StateUnhealthy {
			recs = append(recs, "memory usage critical: lower cache capacities or raise the memory limit")
		} else {
			recs = append(recs, "memory usage elevated: consider reducing max pattern counts")
		}
	}
	if s.Performance.State != StateHealthy {
		if s.Performance.State == StateUnhealthy {
			recs = append(recs, "p95 latency critical: shed load or relax the recognition timeout")
		} else {
			recs = append(recs, "p95 latency elevated: check persistence sink latency and candidate set sizes")
		}
	}
	if s.Errors.State != StateHealthy {
		if s.Errors.State == StateUnhealthy {
			recs = append(recs, "error rate critical: the persistence sink may be failing")
		} else {
			recs = append(recs, "error rate elevated: inspect recent validation and storage failures")
		}
	}
	return recs
}

// heapUsage is the default memory usage reading: live heap as a fraction of
// the configured limit.
func (m *Monitor) heapUsage() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / float64(m.cfg.MemoryLimitBytes)
}
