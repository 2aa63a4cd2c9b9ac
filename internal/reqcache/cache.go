package reqcache

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/catalogsync/internal/catalog"
	"github.com/sells-group/catalogsync/internal/metrics"
	"github.com/sells-group/catalogsync/internal/sched"
)

// ErrNoFetcher is returned when the cache was built without a Fetcher.
var ErrNoFetcher = eris.New("reqcache: no fetcher configured")

// Status is the state of a cache entry.
type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusError     Status = "error"
)

// Fetcher performs a catalog request.
type Fetcher interface {
	Do(ctx context.Context, req catalog.Request) (catalog.Result, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req catalog.Request) (catalog.Result, error)

func (f FetcherFunc) Do(ctx context.Context, req catalog.Request) (catalog.Result, error) {
	return f(ctx, req)
}

// Entry is a snapshot of one fingerprint's cache state.
type Entry struct {
	Fingerprint string           `json:"fingerprint"`
	Endpoint    catalog.Endpoint `json:"endpoint"`
	Status      Status           `json:"status"`
	Result      catalog.Result   `json:"-"`
	Err         error            `json:"-"`
	FulfilledAt time.Time        `json:"fulfilled_at"`
	// Seq increases with every fulfillment, across all entries.
	Seq uint64 `json:"seq"`

	failedAt time.Time
}

// Ready returns the complete payload of a fulfilled entry.
func (e Entry) Ready() (catalog.Ready, bool) {
	if e.Status != StatusFulfilled {
		return catalog.Ready{}, false
	}
	r, ok := e.Result.(catalog.Ready)
	return r, ok
}

// Options configures a Cache.
type Options struct {
	PaginatedTTL time.Duration
	ReferenceTTL time.Duration
	// RequestTimeout bounds each shared network request.
	RequestTimeout time.Duration
	// Clock supplies the current time. Default: wall clock.
	Clock sched.Scheduler
}

// Cache coalesces requests by fingerprint and keeps their outcomes.
type Cache struct {
	fetcher Fetcher
	flight  singleflight.Group
	opts    Options

	mu        sync.Mutex
	entries   map[string]*Entry
	seq       uint64
	lastSweep time.Time
}

// New creates a cache over fetcher.
func New(fetcher Fetcher, opts Options) *Cache {
	if opts.PaginatedTTL <= 0 {
		opts.PaginatedTTL = 300 * time.Second
	}
	if opts.ReferenceTTL <= 0 {
		opts.ReferenceTTL = time.Hour
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = sched.NewReal()
	}
	return &Cache{
		fetcher: fetcher,
		opts:    opts,
		entries: make(map[string]*Entry),
	}
}

// TTL returns how long fulfilled entries of endpoint stay fresh.
func (c *Cache) TTL(endpoint catalog.Endpoint) time.Duration {
	if endpoint.Class() == catalog.Reference {
		return c.opts.ReferenceTTL
	}
	return c.opts.PaginatedTTL
}

// Lookup returns the entry of fp. Expired entries are removed.
func (c *Cache) Lookup(fp string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.liveLocked(fp)
	if e == nil {
		return Entry{}, false
	}
	return *e, true
}

// Status returns the status of fp, StatusNone when there is no entry.
func (c *Cache) Status(fp string) Status {
	if e, ok := c.Lookup(fp); ok {
		return e.Status
	}
	return StatusNone
}

func (c *Cache) liveLocked(fp string) *Entry {
	e, ok := c.entries[fp]
	if !ok {
		return nil
	}
	if c.expired(e, c.opts.Clock.Now()) {
		delete(c.entries, fp)
		return nil
	}
	return e
}

// expired reports whether e is past its TTL at now. Failed entries age
// out after their endpoint's TTL too. Pending entries never expire.
func (c *Cache) expired(e *Entry, now time.Time) bool {
	switch e.Status {
	case StatusFulfilled:
		return now.Sub(e.FulfilledAt) > c.TTL(e.Endpoint)
	case StatusError:
		return now.Sub(e.failedAt) > c.TTL(e.Endpoint)
	}
	return false
}

// sweepLocked drops every expired entry, at most once per the shorter TTL.
func (c *Cache) sweepLocked() {
	now := c.opts.Clock.Now()
	if now.Sub(c.lastSweep) < min(c.opts.PaginatedTTL, c.opts.ReferenceTTL) {
		return
	}
	c.lastSweep = now
	for fp, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, fp)
		}
	}
}

// Issue returns the cached complete result of fp if it is fresh, otherwise
// performs req. Concurrent callers for the same fingerprint share one
// network request. A Compiling result is never served from cache.
func (c *Cache) Issue(ctx context.Context, fp string, req catalog.Request) (catalog.Result, error) {
	c.mu.Lock()
	c.sweepLocked()
	if e := c.liveLocked(fp); e != nil && e.Status == StatusFulfilled {
		if _, ready := e.Result.(catalog.Ready); ready {
			res := e.Result
			c.mu.Unlock()
			metrics.CacheLookups.WithLabelValues(string(req.Endpoint), "hit").Inc()
			return res, nil
		}
	}
	c.mu.Unlock()
	return c.fetch(ctx, fp, req)
}

// Refetch performs req even when fp is fulfilled, joining a request that
// is already in flight for fp.
func (c *Cache) Refetch(ctx context.Context, fp string, req catalog.Request) (catalog.Result, error) {
	return c.fetch(ctx, fp, req)
}

func (c *Cache) fetch(ctx context.Context, fp string, req catalog.Request) (catalog.Result, error) {
	if c.fetcher == nil {
		return nil, ErrNoFetcher
	}

	c.mu.Lock()
	c.sweepLocked()
	e, ok := c.entries[fp]
	if !ok {
		e = &Entry{Fingerprint: fp, Endpoint: req.Endpoint}
		c.entries[fp] = e
	}
	label := "miss"
	if e.Status == StatusPending {
		label = "coalesced"
	}
	e.Status = StatusPending
	c.mu.Unlock()
	metrics.CacheLookups.WithLabelValues(string(req.Endpoint), label).Inc()

	ch := c.flight.DoChan(fp, func() (any, error) {
		return c.run(ctx, fp, req)
	})
	select {
	case <-ctx.Done():
		return nil, eris.Wrapf(ctx.Err(), "reqcache: wait %s", fp)
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res, _ := r.Val.(catalog.Result)
		if res == nil {
			return nil, eris.Errorf("reqcache: empty result for %s", fp)
		}
		return res, nil
	}
}

// run performs the shared request. It is detached from the first caller's
// cancellation: other callers may still be waiting on it.
func (c *Cache) run(ctx context.Context, fp string, req catalog.Request) (catalog.Result, error) {
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RequestTimeout)
	defer cancel()

	start := time.Now()
	res, err := c.fetcher.Do(reqCtx, req)
	metrics.RequestDuration.WithLabelValues(string(req.Endpoint)).Observe(time.Since(start).Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fp]
	if !ok {
		// Invalidated while in flight.
		e = &Entry{Fingerprint: fp, Endpoint: req.Endpoint}
		c.entries[fp] = e
	}
	if err != nil {
		e.Status = StatusError
		e.Err = err
		e.failedAt = c.opts.Clock.Now()
		metrics.CacheRequests.WithLabelValues(string(req.Endpoint), "error").Inc()
		zap.L().Debug("reqcache: request failed",
			zap.String("fingerprint", fp),
			zap.Error(err),
		)
		return nil, err
	}

	c.seq++
	e.Status = StatusFulfilled
	e.Result = res
	e.Err = nil
	e.FulfilledAt = c.opts.Clock.Now()
	e.Seq = c.seq
	outcome := "ready"
	if _, compiling := res.(catalog.Compiling); compiling {
		outcome = "compiling"
	}
	metrics.CacheRequests.WithLabelValues(string(req.Endpoint), outcome).Inc()
	return res, nil
}

// Invalidate drops the entry of fp. A request in flight still completes
// and records its outcome.
func (c *Cache) Invalidate(fp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fp)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// Len returns the number of entries, including pending ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
