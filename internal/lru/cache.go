// Package lru implements a bounded cache with strict least-recently-used
// eviction. Recency is bumped only by Get; Has and Delete leave the access
// order untouched, so membership probes never distort eviction decisions.
package lru

import (
	"errors"
	"time"

	"go.uber.org/atomic"

	"github.com/alexgrimes/featmem/utils"
)

var ErrInvalidCapacity = errors.New("lru: capacity must be positive")

const (
	// defaultCleanupInterval bounds how often Set runs a proactive
	// compaction pass.
	defaultCleanupInterval = 60 * time.Second

	// cleanupTargetRatio is the occupancy the proactive pass compacts toward.
	cleanupTargetRatio = 0.75
)

// node is a doubly linked list element. Nodes are owned exclusively by the
// cache and never escape it.
type node[K comparable, V any] struct {
	key         K
	value       V
	prev        *node[K, V]
	next        *node[K, V]
	lastAccess  time.Time
	accessCount int64
}

// Cache is a fixed-capacity LRU cache. It is not safe for concurrent use;
// callers that share an instance must serialize access.
type Cache[K comparable, V any] struct {
	entries map[K]*node[K, V]

	// head/tail are sentinels: head.next is the most recently used entry,
	// tail.prev the least recently used.
	head *node[K, V]
	tail *node[K, V]

	maxSize         int
	cleanupInterval time.Duration
	lastCleanup     time.Time

	onEvict func(K, V)

	accesses  atomic.Int64
	evictions atomic.Int64

	nowFn func() time.Time
}

// New creates a cache holding at most maxSize entries.
func New[K comparable, V any](maxSize int) (*Cache[K, V], error) {

	if maxSize <= 0 {
		return nil, ErrInvalidCapacity
	}

	c := &Cache[K, V]{
		entries:         make(map[K]*node[K, V], maxSize),
		head:            &node[K, V]{},
		tail:            &node[K, V]{},
		maxSize:         maxSize,
		cleanupInterval: defaultCleanupInterval,
		nowFn:           time.Now,
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	c.lastCleanup = c.nowFn()
	return c, nil
}

// OnEvict registers a callback invoked after an entry leaves the cache
// through eviction (not Delete or Clear). The callback runs synchronously.
func (c *Cache[K, V]) OnEvict(fn func(K, V)) {
	c.onEvict = fn
}

// Set inserts or updates key, making it the most recently used entry. When
// the insert pushes the cache past capacity the least recently used entry is
// evicted. At most once per cleanup interval Set also compacts the cache
// toward its cleanup target before inserting.
func (c *Cache[K, V]) Set(key K, value V) {
	now := c.nowFn()

	if utils.Due(c.lastCleanup, c.cleanupInterval, now) {
		c.lastCleanup = now
		c.evictDownTo(int(float64(c.maxSize) * cleanupTargetRatio))
	}

	if n, ok := c.entries[key]; ok {
		n.value = value
		n.lastAccess = now
		c.moveToFront(n)
		return
	}

	n := &node[K, V]{key: key, value: value, lastAccess: now}
	c.entries[key] = n
	c.addToFront(n)

	if len(c.entries) > c.maxSize {
		c.evictLRU()
	}
}

// Get returns the value for key and bumps its recency. The second return is
// false when the key is absent.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	n, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}

	n.lastAccess = c.nowFn()
	n.accessCount++
	c.accesses.Inc()
	c.moveToFront(n)
	return n.value, true
}

// Has reports whether key is present without touching recency.
func (c *Cache[K, V]) Has(key K) bool {
	_, ok := c.entries[key]
	return ok
}

// Delete removes key, reporting whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	n, ok := c.entries[key]
	if !ok {
		return false
	}
	c.unlink(n)
	delete(c.entries, key)
	return true
}

// Clear drops every entry without running eviction callbacks.
func (c *Cache[K, V]) Clear() {
	c.entries = make(map[K]*node[K, V], c.maxSize)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Len returns the current number of entries.
func (c *Cache[K, V]) Len() int {
	return len(c.entries)
}

// Cleanup batch-evicts least recently used entries until the cache holds at
// most targetSize entries. A negative targetSize compacts to the configured
// capacity; zero empties the cache through the eviction path.
func (c *Cache[K, V]) Cleanup(targetSize int) {
	if targetSize < 0 {
		targetSize = c.maxSize
	}
	c.evictDownTo(targetSize)
}

// Metrics describes the cache's occupancy and access recency.
type Metrics struct {
	Size            int
	MaxSize         int
	Utilization     float64
	TotalAccesses   int64
	AverageAccesses float64
	Evictions       int64
	OldestAccess    time.Time
	NewestAccess    time.Time
}

// Metrics returns a point-in-time snapshot. Oldest/newest access cover the
// entries currently resident, not evicted history.
func (c *Cache[K, V]) Metrics() Metrics {
	m := Metrics{
		Size:          len(c.entries),
		MaxSize:       c.maxSize,
		Utilization:   float64(len(c.entries)) / float64(c.maxSize),
		TotalAccesses: c.accesses.Load(),
		Evictions:     c.evictions.Load(),
	}
	if m.Size > 0 {
		m.AverageAccesses = float64(m.TotalAccesses) / float64(m.Size)
	}
	for n := c.head.next; n != c.tail; n = n.next {
		if m.NewestAccess.IsZero() || n.lastAccess.After(m.NewestAccess) {
			m.NewestAccess = n.lastAccess
		}
		if m.OldestAccess.IsZero() || n.lastAccess.Before(m.OldestAccess) {
			m.OldestAccess = n.lastAccess
		}
	}
	return m
}

func (c *Cache[K, V]) addToFront(n *node[K, V]) {
	n.prev = c.head
	n.next = c.head.next
	c.head.next.prev = n
	c.head.next = n
}

func (c *Cache[K, V]) unlink(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

func (c *Cache[K, V]) moveToFront(n *node[K, V]) {
	if c.head.next == n {
		return
	}
	c.unlink(n)
	c.addToFront(n)
}

func (c *Cache[K, V]) evictLRU() {
	n := c.tail.prev
	if n == c.head {
		return
	}
	c.unlink(n)
	delete(c.entries, n.key)
	c.evictions.Inc()
	if c.onEvict != nil {
		c.onEvict(n.key, n.value)
	}
}

func (c *Cache[K, V]) evictDownTo(targetSize int) {
	if targetSize < 0 {
		targetSize = 0
	}
	for len(c.entries) > targetSize {
		c.evictLRU()
	}
}
