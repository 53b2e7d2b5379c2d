package featmem

import (
	"errors"

	"github.com/alexgrimes/featmem/internal/recognizer"
	"github.com/alexgrimes/featmem/internal/storage"
)

// Sentinel errors surfaced by the facade. The internal packages own the
// values; they are re-exported here so callers can errors.Is against
// them without reaching into internal paths.
var (
	ErrInvalidFeatures  = recognizer.ErrInvalidFeatures
	ErrInvalidPattern   = storage.ErrValidationFailed
	ErrCapacityExceeded = storage.ErrCapacityExceeded

	// ErrClosed rejects operations after Close.
	ErrClosed = errors.New("featmem: system closed")

	// ErrUnhealthy rejects writes while the system reports unhealthy.
	// Reads keep working in any state.
	ErrUnhealthy = errors.New("featmem: system unhealthy, rejecting writes")
)
