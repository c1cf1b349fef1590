package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/rollnav/accesscore/internal/metrics"
)

// Cache is a two-tier key/value cache: a volatile in-process map in front of
// a durable Store. Get consults the volatile tier only; the durable tier is
// flushed into memory in bulk at most once per instance (LoadDurable) and
// not touched per-call afterward. Put writes the volatile tier synchronously
// and the durable tier fire-and-forget.
//
// Records are replaced wholesale, never merged: one key always represents
// the same physical entity, so last-write-wins is safe without locking
// discipline on the callers' side.
type Cache[V any] struct {
	namespace string
	store     Store

	mu      sync.RWMutex
	entries map[string]V

	loadOnce sync.Once
	loadErr  error

	// pending tracks in-flight durable writes so Close can drain them.
	pending sync.WaitGroup
}

// New creates a cache over the given durable store. namespace labels log
// lines and metrics; it does not partition the store (stores are expected to
// be namespace-scoped themselves).
func New[V any](namespace string, store Store) *Cache[V] {
	return &Cache[V]{
		namespace: namespace,
		store:     store,
		entries:   make(map[string]V),
	}
}

// Get returns the cached value for key from the volatile tier.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		metrics.CacheHits.WithLabelValues(c.namespace).Inc()
	} else {
		metrics.CacheMisses.WithLabelValues(c.namespace).Inc()
	}
	return v, ok
}

// Put stores value under key. The volatile tier is updated immediately; the
// durable write happens in the background and a failure there only logs,
// since the record stays valid in memory for the session.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	c.entries[key] = value
	c.mu.Unlock()

	if c.store == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		slog.Warn("cache: encode for durable tier failed",
			"namespace", c.namespace, "key", key, "error", err)
		metrics.DurableWriteFailures.WithLabelValues(c.namespace).Inc()
		return
	}

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		if err := c.store.Put(context.Background(), key, data); err != nil {
			slog.Warn("cache: durable write failed",
				"namespace", c.namespace, "key", key, "error", err)
			metrics.DurableWriteFailures.WithLabelValues(c.namespace).Inc()
		}
	}()
}

// LoadDurable flushes the durable tier into the volatile tier. It runs at
// most once per instance; later calls return the first call's error without
// touching the store again. Keys already present in memory are kept: they
// are at least as fresh as the durable copy.
func (c *Cache[V]) LoadDurable(ctx context.Context) error {
	c.loadOnce.Do(func() {
		if c.store == nil {
			return
		}
		all, err := c.store.GetAll(ctx)
		if err != nil {
			c.loadErr = err
			slog.Warn("cache: durable load failed",
				"namespace", c.namespace, "error", err)
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		loaded := 0
		for k, data := range all {
			if _, exists := c.entries[k]; exists {
				continue
			}
			var v V
			if err := json.Unmarshal(data, &v); err != nil {
				slog.Warn("cache: skipping undecodable durable record",
					"namespace", c.namespace, "key", k, "error", err)
				continue
			}
			c.entries[k] = v
			loaded++
		}
		slog.Info("cache: durable tier loaded",
			"namespace", c.namespace, "records", loaded)
	})
	return c.loadErr
}

// Clear empties both tiers.
func (c *Cache[V]) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]V)
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	return c.store.Clear(ctx)
}

// Len returns the number of records in the volatile tier.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the keys currently in the volatile tier, in no particular
// order.
func (c *Cache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Close drains in-flight durable writes and closes the store.
func (c *Cache[V]) Close() error {
	c.pending.Wait()
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}
