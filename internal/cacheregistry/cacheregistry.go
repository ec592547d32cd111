// Package cacheregistry is the engine's single place to create and clear
// named caches: a map-backed TTL cache for small working sets (adapted
// from the teacher's internal/cache), an LRU cache via
// github.com/hashicorp/golang-lru/v2 for bounded-size sets (a direct
// dependency of transparency-dev-trillian-tessera, moolen-spectre, and
// open-policy-agent-opa in the retrieval pack), and single-flight
// memoization via golang.org/x/sync/singleflight so concurrent callers for
// the same key share one in-flight computation.
package cacheregistry

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

type namedCache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	Clear()
}

type lruCache[T any] struct {
	c *lru.Cache[string, T]
}

func (l *lruCache[T]) Get(key string) (T, bool) { return l.c.Get(key) }
func (l *lruCache[T]) Set(key string, value T)  { l.c.Add(key, value) }
func (l *lruCache[T]) Delete(key string)        { l.c.Remove(key) }
func (l *lruCache[T]) Clear()                   { l.c.Purge() }

// Registry owns a set of named caches plus one singleflight group per
// name for MemoizeAsync. Caches of different value types cannot share a
// Registry instance (Go generics have no heterogeneous container), so
// callers typically keep one Registry[T] per value shape they cache (book
// metadata snapshots, rendered note bodies, and so on).
type Registry[T any] struct {
	mu      sync.RWMutex
	caches  map[string]namedCache[T]
	flights map[string]*singleflight.Group
}

// New returns an empty Registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		caches:  make(map[string]namedCache[T]),
		flights: make(map[string]*singleflight.Group),
	}
}

// CreateMap registers name as a TTL map cache. ttl of zero means entries
// never expire on their own (only eviction-on-full or explicit Clear
// removes them). maxEntries of zero means unbounded.
func (r *Registry[T]) CreateMap(name string, ttl time.Duration, maxEntries int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caches[name] = newMapCache[T](ttl, maxEntries)
}

// CreateLRU registers name as a fixed-size LRU cache of size entries.
func (r *Registry[T]) CreateLRU(name string, size int) error {
	c, err := lru.New[string, T](size)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caches[name] = &lruCache[T]{c: c}
	return nil
}

func (r *Registry[T]) flightFor(name string) *singleflight.Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.flights[name]
	if !ok {
		g = &singleflight.Group{}
		r.flights[name] = g
	}
	return g
}

// Get reads key from the named cache. The zero value and false are
// returned if name was never created or key is absent/expired.
func (r *Registry[T]) Get(name, key string) (T, bool) {
	r.mu.RLock()
	c, ok := r.caches[name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, false
	}
	return c.Get(key)
}

// Set writes key into the named cache.
func (r *Registry[T]) Set(name, key string, value T) {
	r.mu.RLock()
	c, ok := r.caches[name]
	r.mu.RUnlock()
	if ok {
		c.Set(key, value)
	}
}

// Clear removes entries from every registered cache whose name matches
// pattern. A trailing "*" makes pattern a prefix match across cache names
// (e.g. "book:*" clears "book:metadata" and "book:cover"); without a
// trailing "*", pattern must equal the cache name exactly.
func (r *Registry[T]) Clear(pattern string) {
	r.mu.RLock()
	var names []string
	for name := range r.caches {
		if matches(pattern, name) {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()

	for _, name := range names {
		r.mu.RLock()
		c := r.caches[name]
		r.mu.RUnlock()
		c.Clear()
	}
}

func matches(pattern, name string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == name
}

// MemoizeAsync runs fn for key under the named cache, sharing one
// in-flight call across concurrent callers for the same (name, key) and
// caching the result only on success; a failed call is never cached, so
// the next caller retries fn.
func (r *Registry[T]) MemoizeAsync(ctx context.Context, name, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := r.Get(name, key); ok {
		return v, nil
	}

	g := r.flightFor(name)
	v, err, _ := g.Do(key, func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}

	result := v.(T)
	r.Set(name, key, result)
	return result, nil
}
