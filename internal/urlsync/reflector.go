package urlsync

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/catalogsync/internal/metrics"
	"github.com/sells-group/catalogsync/internal/model"
	"github.com/sells-group/catalogsync/internal/sched"
	"github.com/sells-group/catalogsync/internal/search"
)

// DefaultDebounce is the quiet period before a state change is reflected.
const DefaultDebounce = 300 * time.Millisecond

// ReflectorOptions configures a Reflector.
type ReflectorOptions struct {
	Debounce time.Duration
	Scope    model.ScopeContext
	// PageSize gives the page size that is left out of the URL.
	PageSize PageSizeFunc
}

// Reflector writes the scope-filtered state to the address bar. Changes
// are debounced; a write happens only when the canonical query differs
// from the current one, and always replaces the current history entry.
type Reflector struct {
	bar  AddressBar
	slot *sched.Slot
	opts ReflectorOptions

	mu     sync.Mutex
	latest model.SearchState
	dirty  bool
	closed bool
}

// NewReflector creates a reflector for bar scheduling on s.
func NewReflector(bar AddressBar, s sched.Scheduler, opts ReflectorOptions) *Reflector {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Reflector{bar: bar, slot: sched.NewSlot(s), opts: opts}
}

// Changed records the latest state and restarts the quiet period.
func (r *Reflector) Changed(s model.SearchState) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.latest = s.Clone()
	r.dirty = true
	r.mu.Unlock()

	r.slot.Set(r.opts.Debounce, func() { r.Flush() })
}

// Render returns the query the reflector would write for s.
func (r *Reflector) Render(s model.SearchState) string {
	filtered := search.FilterForContext(s, r.opts.Scope, s.View)
	size := 0
	if r.opts.PageSize != nil {
		size = r.opts.PageSize(s.View)
	}
	return Encode(filtered, size, ParseQuery(r.bar.Query()).Unknown)
}

// Flush writes the latest state now if it differs from the address bar,
// dropping the pending write.
// It reports whether the address bar was replaced.
func (r *Reflector) Flush() bool {
	r.slot.Cancel()
	r.mu.Lock()
	if !r.dirty || r.closed {
		r.mu.Unlock()
		return false
	}
	s := r.latest
	r.dirty = false
	r.mu.Unlock()

	next := r.Render(s)
	if next == r.bar.Query() {
		metrics.URLWrites.WithLabelValues("unchanged").Inc()
		return false
	}
	r.bar.Replace(next)
	metrics.URLWrites.WithLabelValues("replaced").Inc()
	zap.L().Debug("urlsync: address bar replaced", zap.String("query", next))
	return true
}

// Pending reports whether a write is waiting for the quiet period.
func (r *Reflector) Pending() bool {
	return r.slot.Pending()
}

// Close cancels a pending write. Later changes are ignored.
func (r *Reflector) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.slot.Cancel()
}
