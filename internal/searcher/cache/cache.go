// Package cache stores search result pages keyed by collection, index
// generation, query and page window. A commit moves the generation, so
// results of an older snapshot are never served for a newer one.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ippousyuga/search-lucene/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "search:"

// Store is the backing key-value store, normally pkg/redis.Client.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies one result page. Query should be the canonical form of the
// parsed query so equivalent spellings share an entry.
type Key struct {
	Collection string
	Generation int64
	Query      string
	Page       int
	Limit      int
}

func (k Key) String() string {
	raw := fmt.Sprintf("%s|page=%d|limit=%d", k.Query, k.Page, k.Limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%d:%x", keyPrefix, strings.ToLower(k.Collection), k.Generation, hash[:16])
}

type Stats struct {
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Errors  int64  `json:"errors"`
	Breaker string `json:"breaker"`
}

// QueryCache caches values of type T. Store failures never fail a search:
// they count as misses, and repeated failures open a circuit breaker that
// bypasses the store until it recovers.
type QueryCache[T any] struct {
	store   Store
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	errors  atomic.Int64
	// OnLookup, when set, observes every lookup.
	OnLookup func(hit bool)
}

func New[T any](store Store, ttl time.Duration) *QueryCache[T] {
	return &QueryCache[T]{
		store:   store,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker("query-cache", resilience.CircuitBreakerConfig{}),
		flights: make(map[string]*flight),
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache[T]) Get(ctx context.Context, key Key) (T, bool) {
	var zero T
	k := key.String()
	var data []byte
	var found bool
	err := c.breaker.Execute(func() error {
		var err error
		data, found, err = c.store.Get(ctx, k)
		return err
	})
	if err != nil {
		c.fail("cache get failed", k, err)
		c.miss()
		return zero, false
	}
	if !found {
		c.miss()
		return zero, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.fail("cache unmarshal failed", k, err)
		c.miss()
		return zero, false
	}
	c.hits.Add(1)
	if c.OnLookup != nil {
		c.OnLookup(true)
	}
	c.logger.Debug("cache hit", "collection", key.Collection, "query", key.Query, "key", k)
	return v, true
}

func (c *QueryCache[T]) Set(ctx context.Context, key Key, v T) {
	k := key.String()
	data, err := json.Marshal(v)
	if err != nil {
		c.fail("cache marshal failed", k, err)
		return
	}
	if err := c.breaker.Execute(func() error { return c.store.Set(ctx, k, data, c.ttl) }); err != nil {
		c.fail("cache set failed", k, err)
	}
}

// GetOrCompute returns the cached value for key, or computes, stores and
// returns it. Concurrent misses on one key share a single computation. The
// computation runs on a context detached from any one caller and is
// cancelled only once every caller waiting on it has given up. The bool
// reports a cache hit.
func (c *QueryCache[T]) GetOrCompute(ctx context.Context, key Key, compute func(ctx context.Context) (T, error)) (T, bool, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, true, nil
	}
	for attempt := 1; ; attempt++ {
		v, err := c.share(ctx, key, compute)
		// a computation every earlier caller abandoned ends with Canceled
		if attempt < 3 && errors.Is(err, context.Canceled) && ctx.Err() == nil {
			continue
		}
		return v, false, err
	}
}

func (c *QueryCache[T]) share(ctx context.Context, key Key, compute func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	k := key.String()
	f := c.join(ctx, k)
	defer c.leave(k, f)

	ch := c.group.DoChan(k, func() (any, error) {
		v, err := compute(f.ctx)
		if err != nil {
			return nil, err
		}
		c.Set(f.ctx, key, v)
		return v, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// flight is the shared context of one computation and the number of
// callers waiting on it.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (c *QueryCache[T]) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flights[key]; ok {
		f.waiters++
		return f
	}
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{ctx: fctx, cancel: cancel, waiters: 1}
	c.flights[key] = f
	return f
}

func (c *QueryCache[T]) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
}

// Invalidate drops the entries of collection, or of every collection when
// collection is empty.
func (c *QueryCache[T]) Invalidate(ctx context.Context, collection string) (int64, error) {
	pattern := keyPrefix + "*"
	if collection != "" {
		pattern = keyPrefix + strings.ToLower(collection) + ":*"
	}
	deleted, err := c.store.FlushByPattern(ctx, pattern)
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "collection", collection, "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache[T]) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Errors:  c.errors.Load(),
		Breaker: c.breaker.GetState().String(),
	}
}

func (c *QueryCache[T]) miss() {
	c.misses.Add(1)
	if c.OnLookup != nil {
		c.OnLookup(false)
	}
}

func (c *QueryCache[T]) fail(msg, key string, err error) {
	c.errors.Add(1)
	c.logger.Error(msg, "key", key, "error", err)
}
