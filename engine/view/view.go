// Package view memoizes derived views per bank and window. Writers signal
// invalidations; readers get the cached value, a fresh computation shared by
// all concurrent callers, or a stale value when a recompute is slow.
package view

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/metrics"
)

// Key identifies one cached view. An empty BankID marks a cross-bank view.
type Key struct {
	BankID string
	Window domain.Window
	View   string
	Filter string
}

func (k Key) String() string {
	bank := k.BankID
	if bank == "" {
		bank = "*"
	}
	s := fmt.Sprintf("%s|%s|%s", bank, k.View, k.Window)
	if k.Filter != "" {
		s += "|" + k.Filter
	}
	return s
}

// Invalidation says the posts of BankID created within [From, To] changed.
// An empty BankID affects every bank; zero bounds are open.
type Invalidation struct {
	BankID string    `json:"bank_id"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Invalidator receives change signals. The Cache implements it, as does the
// NATS broadcaster that fans signals out to other replicas.
type Invalidator interface {
	Invalidate(inv Invalidation)
}

func (inv Invalidation) touches(k Key) bool {
	if inv.BankID != "" && k.BankID != "" && inv.BankID != k.BankID {
		return false
	}
	if inv.From.IsZero() && inv.To.IsZero() {
		return true
	}
	to := inv.To
	if to.IsZero() {
		to = time.Unix(1<<40, 0)
	}
	w := k.Window
	if w.Rolling() {
		// The upper bound has moved on since the entry was computed.
		w.To = time.Time{}
	}
	return w.Overlaps(inv.From, to)
}

// Info describes where a returned value came from.
type Info struct {
	Cached     bool      `json:"cached"`
	Stale      bool      `json:"stale"`
	ComputedAt time.Time `json:"computed_at"`
}

// Options configures a Cache. Zero fields take defaults.
type Options struct {
	// MaxAge expires entries regardless of invalidation. Zero disables it.
	MaxAge time.Duration
	// StaleWait bounds how long a reader waits on a recompute when a stale
	// value is available.
	StaleWait time.Duration
	// LogSize bounds the invalidation log.
	LogSize int
	// Rolling is how long a rolling-window entry is served before its bounds
	// are moved forward by a recompute.
	Rolling time.Duration
	// MaxEntries caps the number of stored entries. Expired and stale entries
	// go first, then the least recently used.
	MaxEntries int
	Metrics *metrics.Registry
	Logger  *slog.Logger
	Now     func() time.Time
}

const (
	defaultStaleWait = 250 * time.Millisecond
	defaultLogSize   = 256
	defaultRolling   = time.Minute
	defaultEntries   = 4096
)

type entry struct {
	key        Key
	value      any
	computedAt time.Time
	stale      bool
	used       uint64
}

type result struct {
	value      any
	computedAt time.Time
	stale      bool
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	// epochs counts invalidations per bank; allEpoch counts every signal.
	epochs   map[string]uint64
	allEpoch uint64
	log      []Invalidation
	group    singleflight.Group
	tick     uint64

	maxAge     time.Duration
	rolling    time.Duration
	maxEntries int
	staleWait  time.Duration
	logSize    int
	now       func() time.Time
	logger    *slog.Logger

	hits, misses, staleReads, computes, invalidations, evictions *metrics.Counter
}

func New(opts Options) *Cache {
	if opts.StaleWait <= 0 {
		opts.StaleWait = defaultStaleWait
	}
	if opts.LogSize <= 0 {
		opts.LogSize = defaultLogSize
	}
	if opts.Rolling <= 0 {
		opts.Rolling = defaultRolling
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	lookups := opts.Metrics.CounterVec("view_cache_lookups_total", "Cache lookups by result", "result")
	return &Cache{
		entries:       make(map[string]*entry),
		epochs:        make(map[string]uint64),
		maxAge:        opts.MaxAge,
		rolling:       opts.Rolling,
		maxEntries:    opts.MaxEntries,
		staleWait:     opts.StaleWait,
		logSize:       opts.LogSize,
		now:           opts.Now,
		logger:        opts.Logger,
		hits:          lookups.With("hit"),
		misses:        lookups.With("miss"),
		staleReads:    lookups.With("stale"),
		computes:      opts.Metrics.Counter("view_cache_computes_total", "View computations"),
		invalidations: opts.Metrics.Counter("view_cache_invalidations_total", "Invalidation signals applied"),
		evictions:     opts.Metrics.Counter("view_cache_evictions_total", "Entries dropped from the cache"),
	}
}

// Option adjusts a single GetOrCompute call.
type Option func(*callOpts)

type callOpts struct {
	maxAge time.Duration
}

// WithMaxAge overrides the cache-wide max age for this call.
func WithMaxAge(d time.Duration) Option {
	return func(o *callOpts) { o.maxAge = d }
}

// epoch must be called with mu held.
func (c *Cache) epoch(bankID string) uint64 {
	if bankID == "" {
		return c.allEpoch
	}
	return c.epochs[bankID] + c.epochs[""]
}

// GetOrCompute returns the cached value for key or computes it. Concurrent
// callers for the same key share one computation.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute func(context.Context) (any, error), opts ...Option) (any, Info, error) {
	co := callOpts{maxAge: c.maxAge}
	for _, o := range opts {
		o(&co)
	}
	if key.Window.Rolling() && (co.maxAge <= 0 || c.rolling < co.maxAge) {
		co.maxAge = c.rolling
	}
	k := key.String()

	c.mu.Lock()
	e := c.entries[k]
	if e != nil && !e.stale && !c.expired(e, co.maxAge) {
		c.tick++
		e.used = c.tick
		c.mu.Unlock()
		c.hits.Inc()
		return e.value, Info{Cached: true, ComputedAt: e.computedAt}, nil
	}
	var fallback *entry
	if e != nil {
		cp := *e
		fallback = &cp
	}
	startEpoch := c.epoch(key.BankID)
	c.mu.Unlock()
	c.misses.Inc()

	ch := c.group.DoChan(fmt.Sprintf("%s#%d", k, startEpoch), func() (any, error) {
		return c.compute(context.WithoutCancel(ctx), key, k, startEpoch, compute)
	})

	var timeout <-chan time.Time
	if fallback != nil {
		t := time.NewTimer(c.staleWait)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, Info{}, res.Err
		}
		r := res.Val.(result)
		return r.value, Info{Cached: res.Shared, Stale: r.stale, ComputedAt: r.computedAt}, nil
	case <-timeout:
		c.staleReads.Inc()
		return fallback.value, Info{Cached: true, Stale: true, ComputedAt: fallback.computedAt}, nil
	case <-ctx.Done():
		return nil, Info{}, ctx.Err()
	}
}

func (c *Cache) compute(ctx context.Context, key Key, k string, startEpoch uint64, compute func(context.Context) (any, error)) (any, error) {
	c.computes.Inc()
	v, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	// A signal that arrived mid-computation may not be reflected in v.
	stale := c.epoch(key.BankID) != startEpoch
	// Never replace a fresh entry from a later flight with a stale one.
	if cur, ok := c.entries[k]; !ok || cur.stale || !stale {
		c.tick++
		c.entries[k] = &entry{key: key, value: v, computedAt: now, stale: stale, used: c.tick}
		c.evict()
	}
	return result{value: v, computedAt: now, stale: stale}, nil
}

func (c *Cache) expired(e *entry, maxAge time.Duration) bool {
	return maxAge > 0 && c.now().Sub(e.computedAt) > maxAge
}

// dead reports whether e can no longer be served, not even as a stale
// fallback. Must hold mu.
func (c *Cache) dead(e *entry) bool {
	if e.key.Window.Rolling() {
		return c.expired(e, c.rolling)
	}
	return c.expired(e, c.maxAge)
}

// sweep drops dead entries. Must hold mu.
func (c *Cache) sweep() int {
	n := 0
	for k, e := range c.entries {
		if c.dead(e) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// evict enforces MaxEntries. Must hold mu.
func (c *Cache) evict() {
	if len(c.entries) <= c.maxEntries {
		return
	}
	n := c.sweep()
	if over := len(c.entries) - c.maxEntries; over > 0 {
		victims := make([]string, 0, len(c.entries))
		for k := range c.entries {
			victims = append(victims, k)
		}
		// Stale entries before fresh ones, least recently used first.
		slices.SortFunc(victims, func(a, b string) int {
			ea, eb := c.entries[a], c.entries[b]
			if ea.stale != eb.stale {
				if ea.stale {
					return -1
				}
				return 1
			}
			return cmp.Compare(ea.used, eb.used)
		})
		for _, k := range victims[:over] {
			delete(c.entries, k)
		}
		n += over
	}
	c.evictions.Add(float64(n))
}

// Invalidate marks affected entries stale and records the signal.
func (c *Cache) Invalidate(inv Invalidation) {
	if inv.At.IsZero() {
		inv.At = c.now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochs[inv.BankID]++
	c.allEpoch++
	n := 0
	for _, e := range c.entries {
		if !e.stale && inv.touches(e.key) {
			e.stale = true
			n++
		}
	}
	if swept := c.sweep(); swept > 0 {
		c.evictions.Add(float64(swept))
	}
	c.log = append(c.log, inv)
	if over := len(c.log) - c.logSize; over > 0 {
		c.log = append(c.log[:0:0], c.log[over:]...)
	}
	c.invalidations.Inc()
	c.logger.Debug("view invalidated", "bank", inv.BankID, "from", inv.From, "to", inv.To, "entries", n, "reason", inv.Reason)
}

// Log returns the most recent invalidations, oldest first.
func (c *Cache) Log() []Invalidation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Invalidation, len(c.log))
	copy(out, c.log)
	return out
}

// Len returns the number of stored entries, stale or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Get is the typed form of GetOrCompute.
func Get[T any](ctx context.Context, c *Cache, key Key, compute func(context.Context) (T, error), opts ...Option) (T, Info, error) {
	v, info, err := c.GetOrCompute(ctx, key, func(ctx context.Context) (any, error) {
		return compute(ctx)
	}, opts...)
	if err != nil {
		var zero T
		return zero, info, err
	}
	return v.(T), info, nil
}
