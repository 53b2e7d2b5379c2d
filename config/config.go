// Package config holds the engine's nested tuning configuration.
// Callers override any subset of fields; zero-valued fields fall back to
// the documented defaults through a per-field structural merge rather
// than wholesale replacement.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/alexgrimes/featmem/health"
	"github.com/alexgrimes/featmem/pkg/persistence"
)

// RecognizerConfig tunes pattern recognition.
type RecognizerConfig struct {
	// MaxPatterns bounds how many patterns the recognizer holds before
	// evicting by ascending frequency then ascending recency.
	MaxPatterns int `json:"maxPatterns" yaml:"maxPatterns"`

	// Threshold is the minimum similarity for a match. Scores below it
	// are squared relative to the shortfall before ranking.
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// Timeout is the wall-clock budget for one candidate scan. Exceeding
	// it yields a partial result, not an error.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// CacheSize bounds the recognition-result cache.
	CacheSize int `json:"cacheSize" yaml:"cacheSize"`

	// CacheExpiration is how long a cached recognition result stays
	// servable.
	CacheExpiration time.Duration `json:"cacheExpiration" yaml:"cacheExpiration"`
}

// StorageConfig tunes the transactional pattern store.
type StorageConfig struct {
	// MaxPatterns bounds the primary map. Hitting it triggers a
	// compaction pass; a still-full store rejects with a capacity error.
	MaxPatterns int `json:"maxPatterns" yaml:"maxPatterns"`

	// BatchSize is the persistence queue depth that forces a flush.
	BatchSize int `json:"batchSize" yaml:"batchSize"`

	// FlushInterval is the idle timeout after which a partial batch is
	// flushed anyway.
	FlushInterval time.Duration `json:"flushInterval" yaml:"flushInterval"`

	// ValidationCacheSize bounds the fingerprint-keyed validation cache,
	// in entries.
	ValidationCacheSize int64 `json:"validationCacheSize" yaml:"validationCacheSize"`

	// BloomExpectedPatterns and BloomFalsePositiveRate size the search
	// filter that proves empty index intersections cheaply.
	BloomExpectedPatterns  uint    `json:"bloomExpectedPatterns" yaml:"bloomExpectedPatterns"`
	BloomFalsePositiveRate float64 `json:"bloomFalsePositiveRate" yaml:"bloomFalsePositiveRate"`
}

// ResilienceConfig tunes the retry and circuit-breaker wrapping around
// persistence sink writes.
type ResilienceConfig struct {
	MaxRetries          int           `json:"maxRetries" yaml:"maxRetries"`
	InitialInterval     time.Duration `json:"initialInterval" yaml:"initialInterval"`
	MaxInterval         time.Duration `json:"maxInterval" yaml:"maxInterval"`
	Multiplier          float64       `json:"multiplier" yaml:"multiplier"`
	RandomizationFactor float64       `json:"randomizationFactor" yaml:"randomizationFactor"`

	// BreakerMaxFailures consecutive sink failures open the breaker;
	// BreakerOpenTimeout is how long it stays open before probing.
	BreakerMaxFailures uint32        `json:"breakerMaxFailures" yaml:"breakerMaxFailures"`
	BreakerOpenTimeout time.Duration `json:"breakerOpenTimeout" yaml:"breakerOpenTimeout"`
}

// MetricsConfig tunes the metrics collectors.
type MetricsConfig struct {
	// TargetLatency anchors the optimization score and the collector's
	// own health classification.
	TargetLatency time.Duration `json:"targetLatency" yaml:"targetLatency"`
}

// Config is the engine's full configuration tree.
type Config struct {
	Recognizer RecognizerConfig `json:"recognizer" yaml:"recognizer"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Resilience ResilienceConfig `json:"resilience" yaml:"resilience"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Health     health.Config    `json:"health" yaml:"health"`

	Logger *zap.Logger `json:"-" yaml:"-"`

	// Sink receives asynchronous persistence batches. Nil means the
	// in-memory sink.
	Sink persistence.Sink `json:"-" yaml:"-"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Recognizer: RecognizerConfig{
			MaxPatterns:     10000,
			Threshold:       0.8,
			Timeout:         100 * time.Millisecond,
			CacheSize:       1000,
			CacheExpiration: 5 * time.Minute,
		},
		Storage: StorageConfig{
			MaxPatterns:            10000,
			BatchSize:              50,
			FlushInterval:          5 * time.Second,
			ValidationCacheSize:    4096,
			BloomExpectedPatterns:  100000,
			BloomFalsePositiveRate: 0.01,
		},
		Resilience: ResilienceConfig{
			MaxRetries:          3,
			InitialInterval:     100 * time.Millisecond,
			MaxInterval:         2 * time.Second,
			Multiplier:          2.0,
			RandomizationFactor: 0.2,
			BreakerMaxFailures:  5,
			BreakerOpenTimeout:  30 * time.Second,
		},
		Metrics: MetricsConfig{
			TargetLatency: 50 * time.Millisecond,
		},
		Health: health.DefaultConfig(),
		Logger: zap.NewNop(),
	}
}

// Normalize fills every zero-valued field from the defaults. Explicit
// non-zero overrides are kept, so callers merge rather than replace.
func (c *Config) Normalize() {
	def := Default()

	if c.Recognizer.MaxPatterns <= 0 {
		c.Recognizer.MaxPatterns = def.Recognizer.MaxPatterns
	}
	if c.Recognizer.Threshold <= 0 || c.Recognizer.Threshold > 1 {
		c.Recognizer.Threshold = def.Recognizer.Threshold
	}
	if c.Recognizer.Timeout <= 0 {
		c.Recognizer.Timeout = def.Recognizer.Timeout
	}
	if c.Recognizer.CacheSize <= 0 {
		c.Recognizer.CacheSize = def.Recognizer.CacheSize
	}
	if c.Recognizer.CacheExpiration <= 0 {
		c.Recognizer.CacheExpiration = def.Recognizer.CacheExpiration
	}

	if c.Storage.MaxPatterns <= 0 {
		c.Storage.MaxPatterns = def.Storage.MaxPatterns
	}
	if c.Storage.BatchSize <= 0 {
		c.Storage.BatchSize = def.Storage.BatchSize
	}
	if c.Storage.FlushInterval <= 0 {
		c.Storage.FlushInterval = def.Storage.FlushInterval
	}
	if c.Storage.ValidationCacheSize <= 0 {
		c.Storage.ValidationCacheSize = def.Storage.ValidationCacheSize
	}
	if c.Storage.BloomExpectedPatterns == 0 {
		c.Storage.BloomExpectedPatterns = def.Storage.BloomExpectedPatterns
	}
	if c.Storage.BloomFalsePositiveRate <= 0 || c.Storage.BloomFalsePositiveRate >= 1 {
		c.Storage.BloomFalsePositiveRate = def.Storage.BloomFalsePositiveRate
	}

	if c.Resilience.MaxRetries <= 0 {
		c.Resilience.MaxRetries = def.Resilience.MaxRetries
	}
	if c.Resilience.InitialInterval <= 0 {
		c.Resilience.InitialInterval = def.Resilience.InitialInterval
	}
	if c.Resilience.MaxInterval <= 0 {
		c.Resilience.MaxInterval = def.Resilience.MaxInterval
	}
	if c.Resilience.Multiplier < 1 {
		c.Resilience.Multiplier = def.Resilience.Multiplier
	}
	if c.Resilience.RandomizationFactor < 0 || c.Resilience.RandomizationFactor > 1 {
		c.Resilience.RandomizationFactor = def.Resilience.RandomizationFactor
	}
	if c.Resilience.BreakerMaxFailures == 0 {
		c.Resilience.BreakerMaxFailures = def.Resilience.BreakerMaxFailures
	}
	if c.Resilience.BreakerOpenTimeout <= 0 {
		c.Resilience.BreakerOpenTimeout = def.Resilience.BreakerOpenTimeout
	}

	if c.Metrics.TargetLatency <= 0 {
		c.Metrics.TargetLatency = def.Metrics.TargetLatency
	}

	// The health monitor applies its own per-field defaults; an all-zero
	// sub-config simply means "all defaults".

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Validate reports configurations no amount of defaulting can save.
func (c *Config) Validate() error {
	if c.Recognizer.MaxPatterns > c.Storage.MaxPatterns {
		return fmt.Errorf("recognizer maxPatterns (%d) cannot exceed storage maxPatterns (%d)",
			c.Recognizer.MaxPatterns, c.Storage.MaxPatterns)
	}
	return nil
}

// LoadFile reads a YAML config file over the defaults, so the file only
// needs to name the fields it changes.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
