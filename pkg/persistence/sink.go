// Package persistence defines the asynchronous batch writer the storage
// layer flushes patterns to, plus reference sinks: an in-memory sink for
// tests and defaults, a Redis sink, and a SQLite sink. The engine treats
// every sink as opaque and best-effort; a failing sink degrades health
// but never blocks or fails a store operation.
package persistence

import (
	"context"

	"github.com/alexgrimes/featmem/pattern"
)

// Sink receives batches of stored patterns. WriteBatch may be retried
// with the same batch after a failure, so implementations must be
// idempotent per pattern ID.
type Sink interface {
	WriteBatch(ctx context.Context, patterns []*pattern.Pattern) error
	Close() error
}

// SinkFunc adapts a function to the Sink interface. Close is a no-op.
type SinkFunc func(ctx context.Context, patterns []*pattern.Pattern) error

func (f SinkFunc) WriteBatch(ctx context.Context, patterns []*pattern.Pattern) error {
	return f(ctx, patterns)
}

func (f SinkFunc) Close() error { return nil }
