package featmem

import (
	"errors"

	"github.com/alexgrimes/featmem/health"
	"github.com/alexgrimes/featmem/internal/recognizer"
	"github.com/alexgrimes/featmem/internal/storage"
	"github.com/alexgrimes/featmem/metrics"
	"github.com/alexgrimes/featmem/pattern"
)

// ErrorKind classifies a failed operation.
type ErrorKind string

const (
	KindNone        ErrorKind = ""
	KindValidation  ErrorKind = "validation"
	KindTimeout     ErrorKind = "timeout"
	KindProcessing  ErrorKind = "processing"
	KindPersistence ErrorKind = "persistence"
	KindCapacity    ErrorKind = "capacity"
)

// RecognitionResult is the tagged outcome of a recognition query. A
// query with zero qualifying candidates is a success with empty
// matches; only invalid input or an internal failure flips Success off.
type RecognitionResult struct {
	Success    bool            `json:"success"`
	Matches    []pattern.Match `json:"matches,omitempty"`
	Confidence float64         `json:"confidence"`

	// Partial marks a scan cut short by the recognition deadline; the
	// result is still a success.
	Partial bool `json:"partial,omitempty"`

	Error string    `json:"error,omitempty"`
	Kind  ErrorKind `json:"errorType,omitempty"`

	Metrics metrics.Snapshot `json:"metrics"`
	Health  health.Status    `json:"health"`
}

// StorageResult is the tagged outcome of a storage operation. Data is
// meaningful only on success; failures carry the error text and kind.
// Every result carries the health snapshot so callers can correlate
// failures with system condition.
type StorageResult[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data,omitempty"`

	Error string    `json:"error,omitempty"`
	Kind  ErrorKind `json:"errorType,omitempty"`

	AffectedPatterns []string `json:"affectedPatterns,omitempty"`

	Metrics metrics.Snapshot `json:"metrics"`
	Health  health.Status    `json:"health"`
}

// classify maps an error to its result kind.
func classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, recognizer.ErrInvalidFeatures),
		errors.Is(err, recognizer.ErrInvalidPattern),
		errors.Is(err, storage.ErrValidationFailed):
		return KindValidation
	case errors.Is(err, storage.ErrCapacityExceeded):
		return KindCapacity
	default:
		return KindProcessing
	}
}
