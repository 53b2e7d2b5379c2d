package metrics

import (
	"testing"
	"time"
)

func newTestCollector(target time.Duration) (*Collector, *time.Time) {
	c := NewCollector(target)
	now := time.Now()
	c.nowFn = func() time.Time { return now }
	return c, &now
}

func TestSnapshotAggregates(t *testing.T) {
	c, _ := newTestCollector(50 * time.Millisecond)

	// 20 samples from 1ms to 20ms; p95 index is floor(20*0.95) = 19.
	for i := 1; i <= 20; i++ {
		c.RecordLatency("store", time.Duration(i)*time.Millisecond)
	}
	c.RecordError("store")

	s := c.Snapshot()
	if s.TotalOperations != 20 {
		t.Fatalf("TotalOperations = %d, want 20", s.TotalOperations)
	}
	if want := 10500 * time.Microsecond; s.AverageLatency != want {
		t.Fatalf("AverageLatency = %v, want %v", s.AverageLatency, want)
	}
	if want := 20 * time.Millisecond; s.P95Latency != want {
		t.Fatalf("P95Latency = %v, want %v", s.P95Latency, want)
	}
	if want := 20 * time.Millisecond; s.MaxLatency != want {
		t.Fatalf("MaxLatency = %v, want %v", s.MaxLatency, want)
	}
	if want := 20.0 / 60.0; s.Throughput != want {
		t.Fatalf("Throughput = %v, want %v", s.Throughput, want)
	}
	if want := 1.0 / 20.0; s.ErrorRate != want {
		t.Fatalf("ErrorRate = %v, want %v", s.ErrorRate, want)
	}
	if s.LatencyVariance <= 0 {
		t.Fatalf("LatencyVariance = %v, want > 0", s.LatencyVariance)
	}
	if s.SpikeFactor <= 0 {
		t.Fatalf("SpikeFactor = %v, want > 0", s.SpikeFactor)
	}
}

func TestEmptySnapshot(t *testing.T) {
	c, _ := newTestCollector(0)

	s := c.Snapshot()
	if s.TotalOperations != 0 || s.WindowedOps != 0 {
		t.Fatalf("empty collector reported operations: %+v", s)
	}
	if s.OptimizationScore != 1 {
		t.Fatalf("OptimizationScore = %v on empty collector, want 1", s.OptimizationScore)
	}
	if s.ErrorRate != 0 {
		t.Fatalf("ErrorRate = %v on empty collector, want 0", s.ErrorRate)
	}
	if s.Classification != StateHealthy {
		t.Fatalf("Classification = %q on empty collector, want healthy", s.Classification)
	}
}

func TestSampleWindowPruning(t *testing.T) {
	c, now := newTestCollector(0)

	c.RecordLatency("store", 5*time.Millisecond)
	*now = now.Add(sampleWindow + time.Second)
	c.RecordLatency("store", 7*time.Millisecond)

	s := c.Snapshot()
	if s.WindowedOps != 1 {
		t.Fatalf("WindowedOps = %d after window rollover, want 1", s.WindowedOps)
	}
	if s.TotalOperations != 2 {
		t.Fatalf("TotalOperations = %d, want lifetime count 2", s.TotalOperations)
	}
	if s.AverageLatency != 7*time.Millisecond {
		t.Fatalf("AverageLatency = %v, want only the fresh sample", s.AverageLatency)
	}
}

func TestErrorsOutliveLatencySamples(t *testing.T) {
	c, now := newTestCollector(0)

	c.RecordLatency("store", 5*time.Millisecond)
	c.RecordError("store")

	// Past the sample window but inside the error window.
	*now = now.Add(2 * time.Minute)
	s := c.Snapshot()
	if s.ErrorCount != 1 {
		t.Fatalf("ErrorCount = %d two minutes on, want 1", s.ErrorCount)
	}
	if s.ErrorRate != 1 {
		t.Fatalf("ErrorRate = %v with one error and one windowed op, want 1", s.ErrorRate)
	}

	// Past the error window everything ages out.
	*now = now.Add(errorWindow)
	s = c.Snapshot()
	if s.ErrorCount != 0 || s.ErrorRate != 0 {
		t.Fatalf("errors survived the error window: %+v", s)
	}
}

func TestRecentThroughput(t *testing.T) {
	c, now := newTestCollector(0)

	c.RecordLatency("store", time.Millisecond)
	c.RecordLatency("store", time.Millisecond)
	*now = now.Add(30 * time.Second)
	c.RecordLatency("store", time.Millisecond)

	s := c.Snapshot()
	if want := 1.0 / recentWindow.Seconds(); s.RecentThroughput != want {
		t.Fatalf("RecentThroughput = %v, want %v", s.RecentThroughput, want)
	}
	if s.WindowedOps != 3 {
		t.Fatalf("WindowedOps = %d, want all 3 inside the sample window", s.WindowedOps)
	}
}

func TestOptimizationScore(t *testing.T) {
	c, _ := newTestCollector(50 * time.Millisecond)

	c.RecordLatency("store", 25*time.Millisecond)
	if s := c.Snapshot(); s.OptimizationScore != 0.5 {
		t.Fatalf("OptimizationScore = %v at half budget, want 0.5", s.OptimizationScore)
	}

	c.Reset()
	c.RecordLatency("store", 200*time.Millisecond)
	if s := c.Snapshot(); s.OptimizationScore != 0 {
		t.Fatalf("OptimizationScore = %v over budget, want clamp to 0", s.OptimizationScore)
	}
}

func TestClassificationWarmup(t *testing.T) {
	c, _ := newTestCollector(10 * time.Millisecond)

	// Slow for steady state but tolerated while warming up.
	for i := 0; i < 50; i++ {
		c.RecordLatency("store", 25*time.Millisecond)
	}
	if s := c.Snapshot(); s.Classification != StateHealthy {
		t.Fatalf("warmup classification = %q, want healthy", s.Classification)
	}

	// Past triple the budget even warmup flags it.
	c.Reset()
	for i := 0; i < 50; i++ {
		c.RecordLatency("store", 40*time.Millisecond)
	}
	if s := c.Snapshot(); s.Classification != StateDegraded {
		t.Fatalf("warmup classification = %q with 4x budget, want degraded", s.Classification)
	}
}

func TestClassificationSteadyState(t *testing.T) {
	c, _ := newTestCollector(10 * time.Millisecond)

	for i := 0; i < warmupOperations; i++ {
		c.RecordLatency("store", 5*time.Millisecond)
	}
	if s := c.Snapshot(); s.Classification != StateHealthy {
		t.Fatalf("classification = %q under budget, want healthy", s.Classification)
	}

	// Push p95 past twice the budget.
	for i := 0; i < 30; i++ {
		c.RecordLatency("store", 25*time.Millisecond)
	}
	if s := c.Snapshot(); s.Classification != StateDegraded {
		t.Fatalf("classification = %q with slow p95, want degraded", s.Classification)
	}

	// Push p95 past four times the budget.
	for i := 0; i < 150; i++ {
		c.RecordLatency("store", 45*time.Millisecond)
	}
	if s := c.Snapshot(); s.Classification != StateUnhealthy {
		t.Fatalf("classification = %q with very slow p95, want unhealthy", s.Classification)
	}
}

func TestClassificationErrorRate(t *testing.T) {
	c, _ := newTestCollector(10 * time.Millisecond)

	for i := 0; i < warmupOperations; i++ {
		c.RecordLatency("store", time.Millisecond)
	}
	for i := 0; i < 30; i++ {
		c.RecordError("store")
	}
	if s := c.Snapshot(); s.Classification != StateUnhealthy {
		t.Fatalf("classification = %q at 30%% errors, want unhealthy", s.Classification)
	}
}

func TestStartOperation(t *testing.T) {
	c := NewCollector(0)

	done := c.StartOperation("recognize")
	done()

	s := c.Snapshot()
	if s.WindowedOps != 1 {
		t.Fatalf("WindowedOps = %d after StartOperation/done, want 1", s.WindowedOps)
	}
	if s.AverageLatency < 0 {
		t.Fatalf("AverageLatency = %v, want non-negative", s.AverageLatency)
	}
}
