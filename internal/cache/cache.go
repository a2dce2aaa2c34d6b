// Package cache provides the per-kind TTL store with single-flight
// de-duplication in front of every metric computation.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/logger"
	"solana-token-analytics/internal/observability"
)

// ErrInternalCompute wraps a panic raised by a compute function.
var ErrInternalCompute = errors.New("internal compute error")

// DefaultTTL applies to kinds without a configured TTL.
const DefaultTTL = time.Minute

// Key identifies one cached value.
type Key struct {
	Token string
	Kind  domain.MetricKind
}

func (k Key) String() string {
	return k.Token + ":" + string(k.Kind)
}

// Lookup results reported to metrics.
const (
	ResultHit    = "hit"
	ResultMiss   = "miss"
	ResultShared = "shared"
)

// entry is immutable once stored; only hits is mutated.
type entry struct {
	value     any
	storedAt  time.Time
	expiresAt time.Time
	hits      atomic.Int64
}

// ComputeFunc produces a fresh value for a key.
type ComputeFunc func(ctx context.Context) (any, error)

// flight identifies one computation: a key within a token generation.
type flight struct {
	key Key
	gen uint64
}

// Cache is a TTL cache keyed by (token, kind). Entries are replaced
// atomically per key; there is no cache-wide lock.
//
// Each token has a generation bumped by Invalidate. Computations are
// de-duplicated per (key, generation), and a result computed in an older
// generation is returned to its waiters but never stored.
type Cache struct {
	entries sync.Map // Key -> *entry
	last    sync.Map // Key -> *entry, last good value kept past expiry
	flights sync.Map // flight -> struct{}
	gens    sync.Map // token -> *atomic.Uint64
	size    atomic.Int64

	group      singleflight.Group
	ttls       map[domain.MetricKind]time.Duration
	defaultTTL time.Duration
	now        func() time.Time
	log        *logger.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the TTL for one kind.
func WithTTL(kind domain.MetricKind, ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttls[kind] = ttl
	}
}

// WithTTLs sets TTLs for several kinds.
func WithTTLs(ttls map[domain.MetricKind]time.Duration) Option {
	return func(c *Cache) {
		for k, v := range ttls {
			c.ttls[k] = v
		}
	}
}

// WithDefaultTTL sets the TTL used for unconfigured kinds.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.defaultTTL = ttl
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		ttls:       make(map[domain.MetricKind]time.Duration),
		defaultTTL: DefaultTTL,
		now:        time.Now,
		log:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the TTL for kind.
func (c *Cache) TTL(kind domain.MetricKind) time.Duration {
	if ttl, ok := c.ttls[kind]; ok && ttl > 0 {
		return ttl
	}
	return c.defaultTTL
}

// Get returns the value for key if present and not expired.
func (c *Cache) Get(key Key) (any, bool) {
	e, ok := c.load(key)
	if !ok {
		return nil, false
	}
	e.hits.Add(1)
	return e.value, true
}

func (c *Cache) load(key Key) (*entry, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	if !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e, true
}

// Put stores value under key with the kind's TTL.
func (c *Cache) Put(key Key, value any) {
	c.PutWithTTL(key, value, c.TTL(key.Kind))
}

// PutWithTTL stores value under key with an explicit TTL.
func (c *Cache) PutWithTTL(key Key, value any, ttl time.Duration) {
	now := c.now()
	c.store(key, &entry{value: value, storedAt: now, expiresAt: now.Add(ttl)})
}

func (c *Cache) store(key Key, e *entry) {
	if _, loaded := c.entries.Swap(key, e); !loaded {
		c.size.Add(1)
	}
	c.last.Store(key, e)
	observability.UpdateCacheEntries(int(c.size.Load()))
}

// Restore loads a persisted value computed at computedAt. Values already
// past their TTL are ignored. Reports whether the value was stored.
func (c *Cache) Restore(key Key, value any, computedAt time.Time) bool {
	expiresAt := computedAt.Add(c.TTL(key.Kind))
	if !c.now().Before(expiresAt) {
		return false
	}
	c.store(key, &entry{value: value, storedAt: computedAt, expiresAt: expiresAt})
	return true
}

// Invalidate drops every fresh entry of token and returns how many were
// removed. Computations already in flight for token are detached: later
// callers start a new computation and the old result is not stored.
// Last good values are kept for stale fallback.
func (c *Cache) Invalidate(token string) int {
	g, _ := c.gens.LoadOrStore(token, new(atomic.Uint64))
	g.(*atomic.Uint64).Add(1)

	removed := 0
	c.entries.Range(func(k, _ any) bool {
		if k.(Key).Token == token {
			if _, loaded := c.entries.LoadAndDelete(k); loaded {
				c.size.Add(-1)
				removed++
			}
		}
		return true
	})
	if removed > 0 {
		observability.RecordCacheInvalidation()
		observability.UpdateCacheEntries(int(c.size.Load()))
		c.log.Debugw("cache invalidated", "token", token, "entries", removed)
	}
	return removed
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	removed := 0
	c.entries.Range(func(k, v any) bool {
		if !now.Before(v.(*entry).expiresAt) {
			if c.entries.CompareAndDelete(k, v) {
				c.size.Add(-1)
				removed++
			}
		}
		return true
	})
	if removed > 0 {
		observability.UpdateCacheEntries(int(c.size.Load()))
	}
	return removed
}

// Stale returns the last successfully computed value for key regardless of
// expiry or invalidation, with the time it was computed.
func (c *Cache) Stale(key Key) (any, time.Time, bool) {
	v, ok := c.last.Load(key)
	if !ok {
		return nil, time.Time{}, false
	}
	e := v.(*entry)
	return e.value, e.storedAt, true
}

// ExpiresWithin reports whether key is missing or expires within d.
func (c *Cache) ExpiresWithin(key Key, d time.Duration) bool {
	e, ok := c.load(key)
	if !ok {
		return true
	}
	return !c.now().Add(d).Before(e.expiresAt)
}

// ExpiresAt returns the expiry of a fresh entry.
func (c *Cache) ExpiresAt(key Key) (time.Time, bool) {
	e, ok := c.load(key)
	if !ok {
		return time.Time{}, false
	}
	return e.expiresAt, true
}

// AccessCount returns the number of hits served for a fresh entry.
func (c *Cache) AccessCount(key Key) int64 {
	e, ok := c.load(key)
	if !ok {
		return 0
	}
	return e.hits.Load()
}

// InFlight reports whether a computation for key is running in the token's
// current generation.
func (c *Cache) InFlight(key Key) bool {
	_, ok := c.flights.Load(flight{key: key, gen: c.generation(key.Token)})
	return ok
}

func (c *Cache) generation(token string) uint64 {
	if g, ok := c.gens.Load(token); ok {
		return g.(*atomic.Uint64).Load()
	}
	return 0
}

// Len returns the number of stored entries, expired ones included until swept.
func (c *Cache) Len() int {
	return int(c.size.Load())
}

// GetOrCompute returns the cached value for key or computes it once for all
// concurrent callers. The computation runs detached from ctx: a caller
// giving up returns ctx.Err() while the computation completes for the others.
// Failed computations are not cached.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, fn ComputeFunc) (any, error) {
	if v, ok := c.Get(key); ok {
		observability.RecordCacheRequest(string(key.Kind), ResultHit)
		return v, nil
	}
	return c.compute(ctx, key, fn, false)
}

// Recompute computes key unconditionally and replaces the cached value.
// It shares in-flight computations with GetOrCompute.
func (c *Cache) Recompute(ctx context.Context, key Key, fn ComputeFunc) (any, error) {
	return c.compute(ctx, key, fn, true)
}

func (c *Cache) compute(ctx context.Context, key Key, fn ComputeFunc, force bool) (any, error) {
	detached := context.WithoutCancel(ctx)
	f := flight{key: key, gen: c.generation(key.Token)}
	ch := c.group.DoChan(fmt.Sprintf("%s@%d", key, f.gen), func() (any, error) {
		c.flights.Store(f, struct{}{})
		defer c.flights.Delete(f)

		if !force {
			if v, ok := c.Get(key); ok {
				return v, nil
			}
		}

		start := c.now()
		v, err := safeCall(detached, fn)
		observability.RecordCompute(string(key.Kind), c.now().Sub(start), err)
		if err != nil {
			return nil, err
		}
		if !c.putIfCurrent(key, v, f.gen) {
			c.log.Debugw("discarding value computed before invalidation", "key", key.String())
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		result := ResultMiss
		if res.Shared {
			result = ResultShared
		}
		observability.RecordCacheRequest(string(key.Kind), result)
		return res.Val, res.Err
	}
}

// putIfCurrent stores v unless token's generation moved past gen, checking
// again after the store so an Invalidate racing with it still wins.
func (c *Cache) putIfCurrent(key Key, v any, gen uint64) bool {
	if c.generation(key.Token) != gen {
		return false
	}
	now := c.now()
	e := &entry{value: v, storedAt: now, expiresAt: now.Add(c.TTL(key.Kind))}
	c.store(key, e)
	if c.generation(key.Token) != gen {
		if c.entries.CompareAndDelete(key, e) {
			c.size.Add(-1)
		}
		return false
	}
	return true
}

func safeCall(ctx context.Context, fn ComputeFunc) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("%w: %v", ErrInternalCompute, r)
		}
	}()
	return fn(ctx)
}
