// Package health derives a debounced tri-state health status from metrics
// snapshots. A state machine enforces that the reported status never skips a
// state and never flaps faster than the configured dwell and rate limits.
package health

import (
	"time"

	"github.com/alexgrimes/featmem/metrics"
)

// State is one of the three health states.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// rank orders states from best to worst for one-hop stepping.
func (s State) rank() int {
	switch s {
	case StateHealthy:
		return 0
	case StateDegraded:
		return 1
	case StateUnhealthy:
		return 2
	}
	return -1
}

// Valid reports whether s is one of the three known states.
func (s State) Valid() bool {
	return s.rank() >= 0
}

// Indicator is the evaluated state of one health dimension.
type Indicator struct {
	Name      string  `json:"name"`
	State     State   `json:"state"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message,omitempty"`
}

// Status is the monitor's externally visible output.
type Status struct {
	State           State            `json:"state"`
	Memory          Indicator        `json:"memory"`
	Performance     Indicator        `json:"performance"`
	Errors          Indicator        `json:"errors"`
	Score           float64          `json:"score"`
	Metrics         metrics.Snapshot `json:"metrics"`
	Recommendations []string         `json:"recommendations,omitempty"`
	LastCheck       time.Time        `json:"lastCheck"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.State == StateHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.State == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.State == StateUnhealthy
}

// Indicators returns the three indicators in evaluation order.
func (s Status) Indicators() []Indicator {
	return []Indicator{s.Memory, s.Performance, s.Errors}
}
