// Package metrics collects per-operation latency and error samples over a
// rolling window and derives the aggregate figures the health monitor and
// operation results report.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/alexgrimes/featmem/utils"
)

const (
	// sampleWindow bounds how long latency samples participate in
	// aggregate figures.
	sampleWindow = 60 * time.Second

	// errorWindow bounds the error-rate denominator. Errors age out slower
	// than latency samples so short bursts stay visible.
	errorWindow = 5 * time.Minute

	// recentWindow is the span the recent-throughput figure covers.
	recentWindow = 10 * time.Second

	// warmupOperations is the sample count below which classification uses
	// the looser warmup thresholds.
	warmupOperations = 100

	defaultTargetLatency = 50 * time.Millisecond
)

// Classification labels, shared with the health monitor's vocabulary.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

type sample struct {
	at      time.Time
	latency time.Duration
}

// series accumulates samples for one operation name.
type series struct {
	samples []sample
	ops     []time.Time
	errs    []time.Time

	totalOps    int64
	totalErrors int64
	lastUpdated time.Time
}

// Collector gathers latency and error observations. All methods are safe for
// concurrent use.
type Collector struct {
	mu     sync.Mutex
	series map[string]*series

	targetLatency time.Duration
	lastPrune     time.Time

	total atomic.Int64

	nowFn func() time.Time
}

// NewCollector creates a collector. target is the latency budget the
// optimization score and classification measure against; non-positive means
// the default of 50ms.
func NewCollector(target time.Duration) *Collector {

	if target <= 0 {
		target = defaultTargetLatency
	}
	return &Collector{
		series:        make(map[string]*series),
		targetLatency: target,
		nowFn:         time.Now,
	}
}

// StartOperation begins timing an operation and returns the function that
// ends it. The duration is taken from the monotonic clock.
func (c *Collector) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		c.RecordLatency(name, time.Since(start))
	}
}

// RecordLatency adds one latency sample for the named operation.
func (c *Collector) RecordLatency(name string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	now := c.nowFn()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.seriesFor(name)
	s.samples = append(s.samples, sample{at: now, latency: d})
	s.ops = append(s.ops, now)
	s.totalOps++
	s.lastUpdated = now
	c.total.Inc()

	c.maybePrune(now)
}

// RecordError adds one error observation for the named operation.
func (c *Collector) RecordError(name string) {
	now := c.nowFn()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.seriesFor(name)
	s.errs = append(s.errs, now)
	s.totalErrors++
	s.lastUpdated = now

	c.maybePrune(now)
}

// Snapshot is a point-in-time aggregate over every operation.
type Snapshot struct {
	TotalOperations int64         `json:"totalOperations"`
	WindowedOps     int           `json:"windowedOps"`
	ErrorCount      int           `json:"errorCount"`
	AverageLatency  time.Duration `json:"averageLatency"`
	P95Latency      time.Duration `json:"p95Latency"`
	MaxLatency      time.Duration `json:"maxLatency"`

	// Throughput is operations per second over the sample window;
	// RecentThroughput covers only the trailing ten seconds.
	Throughput       float64 `json:"throughput"`
	RecentThroughput float64 `json:"recentThroughput"`

	ErrorRate float64 `json:"errorRate"`

	// LatencyVariance is in milliseconds squared; SpikeFactor is
	// (max - mean) / variance, zero when variance is zero.
	LatencyVariance float64 `json:"latencyVariance"`
	SpikeFactor     float64 `json:"spikeFactor"`

	// OptimizationScore is 1 - avg/target clamped to [0,1]; 1 means the
	// latency budget is untouched.
	OptimizationScore float64 `json:"optimizationScore"`

	Classification string    `json:"classification"`
	CollectedAt    time.Time `json:"collectedAt"`
}

// Snapshot computes the aggregate view across all operations.
func (c *Collector) Snapshot() Snapshot {
	now := c.nowFn()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.prune(now)

	var latencies []time.Duration
	var errs, denomOps int
	for _, s := range c.series {
		for _, sm := range s.samples {
			latencies = append(latencies, sm.latency)
		}
		denomOps += len(s.ops)
		errs += len(s.errs)
	}

	snap := Snapshot{
		TotalOperations: c.total.Load(),
		WindowedOps:     len(latencies),
		ErrorCount:      errs,
		CollectedAt:     now,
	}

	if n := len(latencies); n > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

		var sum time.Duration
		for _, d := range latencies {
			sum += d
		}
		snap.AverageLatency = sum / time.Duration(n)
		snap.P95Latency = latencies[n*95/100]
		snap.MaxLatency = latencies[n-1]
		snap.Throughput = float64(n) / sampleWindow.Seconds()
		snap.LatencyVariance = varianceMillis(latencies, snap.AverageLatency)

		if snap.LatencyVariance > 0 {
			maxMs := float64(snap.MaxLatency) / float64(time.Millisecond)
			meanMs := float64(snap.AverageLatency) / float64(time.Millisecond)
			snap.SpikeFactor = (maxMs - meanMs) / snap.LatencyVariance
		}

		recent := 0
		cutoff := now.Add(-recentWindow)
		for _, s := range c.series {
			for _, sm := range s.samples {
				if sm.at.After(cutoff) {
					recent++
				}
			}
		}
		snap.RecentThroughput = float64(recent) / recentWindow.Seconds()

		snap.OptimizationScore = clamp01(1 - float64(snap.AverageLatency)/float64(c.targetLatency))
	} else {
		snap.OptimizationScore = 1
	}

	if denomOps > 0 || errs > 0 {
		snap.ErrorRate = clamp01(float64(errs) / float64(maxInt(denomOps, 1)))
	}

	snap.Classification = c.classify(snap)
	return snap
}

// classify applies looser thresholds until enough operations have been seen
// to trust the percentiles.
func (c *Collector) classify(s Snapshot) string {
	target := float64(c.targetLatency)

	if s.TotalOperations < warmupOperations {
		if s.ErrorRate > 0.30 || float64(s.AverageLatency) > 3*target {
			return StateDegraded
		}
		return StateHealthy
	}

	switch {
	case float64(s.P95Latency) > 4*target || s.ErrorRate > 0.25:
		return StateUnhealthy
	case float64(s.P95Latency) > 2*target || s.ErrorRate > 0.10:
		return StateDegraded
	default:
		return StateHealthy
	}
}

// Reset drops all accumulated state. Lifetime totals restart as well.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series = make(map[string]*series)
	c.total.Store(0)
	c.lastPrune = time.Time{}
}

func (c *Collector) seriesFor(name string) *series {
	s, ok := c.series[name]
	if !ok {
		s = &series{}
		c.series[name] = s
	}
	return s
}

// maybePrune runs a prune pass at most once per quarter window.
func (c *Collector) maybePrune(now time.Time) {
	if !utils.Due(c.lastPrune, sampleWindow/4, now) {
		return
	}
	c.prune(now)
}

func (c *Collector) prune(now time.Time) {
	c.lastPrune = now
	sampleCutoff := now.Add(-sampleWindow)
	errorCutoff := now.Add(-errorWindow)

	for name, s := range c.series {
		s.samples = trimSamples(s.samples, sampleCutoff)
		s.ops = trimTimes(s.ops, errorCutoff)
		s.errs = trimTimes(s.errs, errorCutoff)
		if len(s.samples) == 0 && len(s.ops) == 0 && len(s.errs) == 0 {
			delete(c.series, name)
		}
	}
}

func trimSamples(in []sample, cutoff time.Time) []sample {
	i := 0
	for i < len(in) && !in[i].at.After(cutoff) {
		i++
	}
	return in[i:]
}

func trimTimes(in []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(in) && !in[i].After(cutoff) {
		i++
	}
	return in[i:]
}

func varianceMillis(latencies []time.Duration, mean time.Duration) float64 {
	if len(latencies) < 2 {
		return 0
	}
	meanMs := float64(mean) / float64(time.Millisecond)
	var sum float64
	for _, d := range latencies {
		diff := float64(d)/float64(time.Millisecond) - meanMs
		sum += diff * diff
	}
	return sum / float64(len(latencies))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
