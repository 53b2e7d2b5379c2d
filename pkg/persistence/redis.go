package persistence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alexgrimes/featmem/pattern"
	"github.com/alexgrimes/featmem/pkg/serialization"
)

const defaultKeyPrefix = "featmem:pattern:"

// RedisSink writes pattern batches to Redis, one key per pattern,
// through a single pipeline round trip per batch.
type RedisSink struct {
	client    redis.Cmdable
	codec     serialization.Codec
	keyPrefix string
}

// NewRedisSink creates a sink over an existing Redis client. The sink
// does not own the client; Close leaves it open.
func NewRedisSink(client redis.Cmdable, codec serialization.Codec) *RedisSink {
	return &RedisSink{
		client:    client,
		codec:     codec,
		keyPrefix: defaultKeyPrefix,
	}
}

// WriteBatch pipelines one SET per pattern. Failures surface as a single
// wrapped error; the flusher decides whether to retry.
func (s *RedisSink) WriteBatch(ctx context.Context, patterns []*pattern.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, p := range patterns {
		data, err := s.codec.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal pattern %s: %w", p.ID, err)
		}
		pipe.Set(ctx, s.keyPrefix+p.ID, data, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis batch write failed: %w", err)
	}
	return nil
}

// Read fetches one persisted pattern back, mainly for verification
// tooling; the engine itself never reads from a sink.
func (s *RedisSink) Read(ctx context.Context, id string) (*pattern.Pattern, error) {
	data, err := s.client.Get(ctx, s.keyPrefix+id).Bytes()
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	var p pattern.Pattern
	if err := s.codec.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal pattern %s: %w", id, err)
	}
	return &p, nil
}

// Close releases nothing: the Redis client belongs to the caller.
func (s *RedisSink) Close() error { return nil }
