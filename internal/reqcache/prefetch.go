package reqcache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/catalogsync/internal/catalog"
	"github.com/sells-group/catalogsync/internal/metrics"
	"github.com/sells-group/catalogsync/internal/model"
	"github.com/sells-group/catalogsync/internal/sched"
	"github.com/sells-group/catalogsync/internal/search"
)

// DefaultPrefetchDelay is the wait between a page settling and its
// successor being requested.
const DefaultPrefetchDelay = time.Second

// Prefetcher warms the cache with the page after the one on screen. At
// most one prefetch is pending; failures are logged and dropped.
type Prefetcher struct {
	cache *Cache
	slot  *sched.Slot
	delay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPrefetcher creates a prefetcher scheduling on s.
func NewPrefetcher(cache *Cache, s sched.Scheduler, delay time.Duration) *Prefetcher {
	if delay <= 0 {
		delay = DefaultPrefetchDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Prefetcher{
		cache:  cache,
		slot:   sched.NewSlot(s),
		delay:  delay,
		ctx:    ctx,
		cancel: cancel,
	}
}

// NextPage returns the state, request and fingerprint of the page after s.
// ok is false when s is already at model.MaxPage.
func NextPage(s model.SearchState, scope model.ScopeContext) (next model.SearchState, req catalog.Request, fp string, ok bool) {
	if s.Page >= model.MaxPage {
		return s, catalog.Request{}, "", false
	}
	next = search.FilterForContext(s, scope, s.View)
	next.Page = max(next.Page, 0) + 1
	req = catalog.NewSearchRequest(next, scope)
	return next, req, RequestFingerprint(req), true
}

// Settled is called once the request for the current page s has settled
// with current. Only a fulfilled, complete page schedules a prefetch, and
// never past the last page when the page reports a total count.
//
// live reports whether s is still the page on screen. It is checked again
// when the delay elapses, so a prefetch armed after the page was replaced
// never runs. A nil live is always true.
func (p *Prefetcher) Settled(s model.SearchState, scope model.ScopeContext, current Entry, live func() bool) {
	if live == nil {
		live = func() bool { return true }
	}
	ready, ok := current.Ready()
	if !ok || !live() {
		return
	}
	if ready.TotalCount >= 0 && lastPage(s, ready.TotalCount) {
		metrics.Prefetches.WithLabelValues("skipped").Inc()
		return
	}

	_, req, fp, ok := NextPage(s, scope)
	if !ok || p.cache.Status(fp) == StatusFulfilled {
		metrics.Prefetches.WithLabelValues("skipped").Inc()
		return
	}

	metrics.Prefetches.WithLabelValues("scheduled").Inc()
	p.slot.Set(p.delay, func() {
		if !live() {
			metrics.Prefetches.WithLabelValues("cancelled").Inc()
			return
		}
		switch p.cache.Status(fp) {
		case StatusFulfilled, StatusPending:
			metrics.Prefetches.WithLabelValues("skipped").Inc()
			return
		}
		if p.ctx.Err() != nil {
			return
		}
		metrics.Prefetches.WithLabelValues("issued").Inc()
		if _, err := p.cache.Issue(p.ctx, fp, req); err != nil {
			metrics.Prefetches.WithLabelValues("failed").Inc()
			zap.L().Debug("prefetch failed",
				zap.String("fingerprint", fp),
				zap.Error(err),
			)
		}
	})
	// The page may have been replaced while the slot was armed.
	if !live() {
		p.Cancel()
	}
}

// lastPage reports whether s shows the final rows of total. Page and size
// are bounded before multiplying.
func lastPage(s model.SearchState, total int) bool {
	page := min(max(s.Page, 1), model.MaxPage)
	return page*model.ClampPageSize(s.PageSize) >= total
}

// Cancel drops the pending prefetch, if any.
func (p *Prefetcher) Cancel() {
	if p.slot.Cancel() {
		metrics.Prefetches.WithLabelValues("cancelled").Inc()
	}
}

// Pending reports whether a prefetch is waiting for its delay.
func (p *Prefetcher) Pending() bool {
	return p.slot.Pending()
}

// Close cancels the pending prefetch and abandons one in flight.
func (p *Prefetcher) Close() {
	p.Cancel()
	p.cancel()
}
