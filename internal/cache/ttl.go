// Package cache holds short-lived snapshots of expensive listings.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Will-Luck/Site-Sentinel/internal/clock"
)

// Loader fetches the current value for key.
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

type entry[V any] struct {
	val     V
	expires time.Time
}

// TTL caches loader results per key. A read before expiry returns the last
// snapshot; a read after expiry, or after MarkStale, reloads. Concurrent
// reloads of one key share a single loader call.
type TTL[K comparable, V any] struct {
	ttl   time.Duration
	load  Loader[K, V]
	clock clock.Clock
	group singleflight.Group

	mu      sync.Mutex
	entries map[K]entry[V]
	gen     map[K]uint64
}

// New creates a TTL cache.
func New[K comparable, V any](ttl time.Duration, load Loader[K, V], clk clock.Clock) *TTL[K, V] {
	return &TTL[K, V]{
		ttl:     ttl,
		load:    load,
		clock:   clk,
		entries: make(map[K]entry[V]),
		gen:     make(map[K]uint64),
	}
}

// Get returns the cached value for key, loading it when missing or expired.
func (c *TTL[K, V]) Get(ctx context.Context, key K) (V, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	gen := c.gen[key]
	c.mu.Unlock()
	if ok && c.clock.Now().Before(e.expires) {
		return e.val, nil
	}

	res, err, _ := c.group.Do(c.flightKey(key, gen), func() (any, error) {
		v, err := c.load(ctx, key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// A MarkStale during the load means v may predate the change.
		if c.gen[key] == gen {
			c.entries[key] = entry[V]{val: v, expires: c.clock.Now().Add(c.ttl)}
		}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// MarkStale drops the snapshot for key so the next Get reloads it.
func (c *TTL[K, V]) MarkStale(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gen[key]++
	c.mu.Unlock()
}

func (c *TTL[K, V]) flightKey(key K, gen uint64) string {
	return fmt.Sprintf("%v#%d", key, gen)
}
