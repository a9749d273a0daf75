// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache provides an in-memory TTL cache for assembled search
// responses. A broken or cold cache degrades to recomputation, never to a
// request error.
package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultTTL bounds cache entries when no TTL is configured.
const DefaultTTL = 5 * time.Minute

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a mutex-guarded TTL cache. It is thread-safe and suitable for
// single-instance deployments.
type Cache[V any] struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]entry[V]

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts its purge sweeper. Call Close to stop the
// sweeper.
func New[V any](ttl time.Duration) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache[V]{
		ttl:     ttl,
		entries: make(map[string]entry[V]),
		stop:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the cached value for key. An expired entry is deleted on
// read and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: a Set may have refreshed the key
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}

	return e.value, true
}

// Set stores a value under key with a fresh TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Len returns the number of entries, expired ones included (for testing).
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the purge sweeper. The cache remains usable afterwards;
// expired entries are then only removed on read.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// sweep purges expired entries on a ticker so idle keys do not accumulate.
func (c *Cache[V]) sweep() {
	ticker := time.NewTicker(c.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.purgeExpired(time.Now())
		}
	}
}

// purgeExpired deletes all entries that expired before now.
func (c *Cache[V]) purgeExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if e.expiresAt.Before(now) {
			delete(c.entries, key)
		}
	}
}

// Key builds the cache key for a search request. The feature segment is
// the literal "None" when no filter was supplied, and the ranking variant
// is uppercased so "a" and "A" share an entry.
func Key(query, feature, variant string) string {
	if feature == "" {
		feature = "None"
	}
	return fmt.Sprintf("%s::feature=%s::rank=%s", query, feature, strings.ToUpper(variant))
}
