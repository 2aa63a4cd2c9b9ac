// Package session wires one browsing context. The address bar is hydrated
// into a SearchState, actions are reduced against it, and every change is
// reflected back to the address bar, fetched through the shared request
// cache, prefetched one page ahead and polled while a goal is compiling.
package session

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalogsync/internal/catalog"
	"github.com/sells-group/catalogsync/internal/metrics"
	"github.com/sells-group/catalogsync/internal/model"
	"github.com/sells-group/catalogsync/internal/notify"
	"github.com/sells-group/catalogsync/internal/poller"
	"github.com/sells-group/catalogsync/internal/prefs"
	"github.com/sells-group/catalogsync/internal/reqcache"
	"github.com/sells-group/catalogsync/internal/resilience"
	"github.com/sells-group/catalogsync/internal/sched"
	"github.com/sells-group/catalogsync/internal/search"
	"github.com/sells-group/catalogsync/internal/urlsync"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = eris.New("session: closed")
	// ErrNoCollection is returned by collection-only operations outside a collection.
	ErrNoCollection = eris.New("session: no collection in scope")
	// ErrCompiling is returned when reference data is still being computed.
	ErrCompiling = eris.New("session: result still compiling")
)

// defaultPriceType is used for cost-to-complete when no preference is stored.
const defaultPriceType = "market"

// Options configures a Session.
type Options struct {
	// ID identifies the session. Default: a random UUID.
	ID string
	// View is used when the location does not name one. Default: cards.
	View  model.View
	Scope model.ScopeContext
	Bar   urlsync.AddressBar
	// Prefs is this context's preference store. The session closes it.
	Prefs *prefs.Store
	// Cache is shared by every session of the process.
	Cache     *reqcache.Cache
	Scheduler sched.Scheduler
	Notifier  notify.Notifier

	Debounce      time.Duration
	Prefetch      bool
	PrefetchDelay time.Duration
	PollSchedule  resilience.Schedule
	SlowAfter     int

	// DefaultPageSizes apply when no page-size preference is stored.
	DefaultPageSizes map[model.View]int

	GoalsCacheVersion int
	GoalsCacheMaxAge  time.Duration
}

// Session is the engine of one browsing context. Dispatch calls are
// applied in order; subscribers run synchronously and must not call
// Dispatch themselves.
type Session struct {
	id       string
	opts     Options
	view     model.View
	scope    model.ScopeContext
	store    *prefs.Store
	cache    *reqcache.Cache
	notifier notify.Notifier

	reflector  *urlsync.Reflector
	prefetcher *reqcache.Prefetcher
	poller     *poller.Poller

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dispatchMu sync.Mutex

	mu      sync.Mutex
	state   model.SearchState
	fp      string
	closed  bool
	unwatch []func()

	subMu      sync.Mutex
	nextSub    uint64
	stateSubs  map[uint64]func(model.SearchState)
	resultSubs map[uint64]func(reqcache.Entry)
	pollSubs   map[uint64]func(model.PollState)
}

// Open hydrates a session from its address bar and issues the request of
// the hydrated state.
func Open(opts Options) (*Session, error) {
	if opts.Bar == nil {
		return nil, eris.New("session: address bar is required")
	}
	if opts.Prefs == nil {
		return nil, eris.New("session: preference store is required")
	}
	if opts.Cache == nil {
		return nil, eris.New("session: request cache is required")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if !opts.View.Valid() {
		opts.View = model.ViewCards
	}
	if opts.Scheduler == nil {
		opts.Scheduler = sched.NewReal()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.LogNotifier{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         opts.ID,
		opts:       opts,
		scope:      opts.Scope,
		store:      opts.Prefs,
		cache:      opts.Cache,
		ctx:        ctx,
		cancel:     cancel,
		stateSubs:  make(map[uint64]func(model.SearchState)),
		resultSubs: make(map[uint64]func(reqcache.Entry)),
		pollSubs:   make(map[uint64]func(model.PollState)),
	}
	s.notifier = &dismissFilter{next: opts.Notifier, store: opts.Prefs}

	state, _ := urlsync.Hydrate(opts.Bar.Query(), opts.View, s.pageSize)
	mode := prefs.Get(s.store, prefs.KeyViewMode(state.View), model.ViewModeGrid)
	if mode.Valid() {
		state.ViewMode = mode
	}
	s.view = state.View
	s.state = state
	s.fp = reqcache.Fingerprint(state, catalog.SearchEndpoint(s.view), s.scope)

	s.reflector = urlsync.NewReflector(opts.Bar, opts.Scheduler, urlsync.ReflectorOptions{
		Debounce: opts.Debounce,
		Scope:    s.scope,
		PageSize: s.pageSize,
	})
	s.prefetcher = reqcache.NewPrefetcher(s.cache, opts.Scheduler, opts.PrefetchDelay)
	s.poller = poller.New(poller.Options{
		Scheduler: opts.Scheduler,
		Notifier:  s.notifier,
		Schedule:  opts.PollSchedule,
		SlowAfter: opts.SlowAfter,
		Refetch:   s.refetchGoal,
		OnChange:  s.emitPoll,
	})
	s.unwatch = append(s.unwatch,
		prefs.Watch(s.store, prefs.KeyViewMode(s.view), model.ViewModeGrid, s.viewModeChanged),
	)

	metrics.ActiveSessions.Inc()
	zap.L().Debug("session opened",
		zap.String("session_id", s.id),
		zap.String("view", string(s.view)),
		zap.Bool("collection", s.scope.IsCollection),
	)
	s.logStripped(nil, state)
	s.reflector.Changed(state)
	s.load(state, s.fp, false)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// View returns the view the session searches.
func (s *Session) View() model.View { return s.view }

// Scope returns the scope derived from the session's location.
func (s *Session) Scope() model.ScopeContext { return s.scope }

// Prefs returns the session's preference store.
func (s *Session) Prefs() *prefs.Store { return s.store }

// State returns the current SearchState.
func (s *Session) State() model.SearchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Fingerprint returns the cache key of the current page.
func (s *Session) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fp
}

// Dispatch applies a to the current state. A rejected action leaves the
// state unchanged and returns it with the error.
func (s *Session) Dispatch(a search.Action) (model.SearchState, error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.SearchState{}, ErrClosed
	}
	prev := s.state
	next, err := search.Reduce(prev, a)
	if err != nil {
		s.mu.Unlock()
		return prev.Clone(), err
	}
	if search.Equal(prev, next) {
		s.mu.Unlock()
		return prev.Clone(), nil
	}
	fp := reqcache.Fingerprint(next, catalog.SearchEndpoint(s.view), s.scope)
	refetch := fp != s.fp
	s.state = next
	s.fp = fp
	s.mu.Unlock()

	s.persist(prev, next)

	prevGoal := search.FilterForContext(prev, s.scope, s.view).GoalID
	nextGoal := search.FilterForContext(next, s.scope, s.view).GoalID
	if prevGoal != 0 && prevGoal != nextGoal {
		s.poller.Stop(prevGoal)
	}
	if refetch {
		s.prefetcher.Cancel()
		s.load(next, fp, false)
	}

	s.logStripped(&prev, next)
	s.reflector.Changed(next)
	s.emitState(next)
	return next.Clone(), nil
}

// persist writes the remembered page size and view mode when they change.
func (s *Session) persist(prev, next model.SearchState) {
	if next.PageSize != prev.PageSize {
		if err := prefs.Set(s.store, prefs.KeyPageSize(s.view), next.PageSize); err != nil {
			zap.L().Warn("session: persist page size", zap.String("session_id", s.id), zap.Error(err))
		}
	}
	if next.ViewMode != prev.ViewMode {
		if err := prefs.Set(s.store, prefs.KeyViewMode(s.view), next.ViewMode); err != nil {
			zap.L().Warn("session: persist view mode", zap.String("session_id", s.id), zap.Error(err))
		}
	}
}

// viewModeChanged applies a view mode chosen in another context.
func (s *Session) viewModeChanged(mode model.ViewMode) {
	if !mode.Valid() {
		return
	}
	s.mu.Lock()
	same := s.closed || s.state.ViewMode == mode
	s.mu.Unlock()
	if same {
		return
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	s.mu.Lock()
	if s.closed || s.state.ViewMode == mode {
		s.mu.Unlock()
		return
	}
	next := s.state.Clone()
	next.ViewMode = mode
	s.state = next
	s.mu.Unlock()
	s.emitState(next)
}

// pageSize is the page size of view when the URL does not name one.
func (s *Session) pageSize(view model.View) int {
	def := s.opts.DefaultPageSizes[view]
	if def <= 0 {
		def = model.RulesFor(view).DefaultPageSize
	}
	n := prefs.Get(s.store, prefs.KeyPageSize(view), def)
	if n <= 0 {
		n = def
	}
	return model.ClampPageSize(n)
}

func (s *Session) logStripped(prev *model.SearchState, next model.SearchState) {
	fields := search.StrippedFields(next, s.scope, s.view)
	if len(fields) == 0 {
		return
	}
	if prev != nil && slices.Equal(fields, search.StrippedFields(*prev, s.scope, s.view)) {
		return
	}
	zap.L().Warn("session: collection-only fields ignored outside a collection",
		zap.String("session_id", s.id),
		zap.Strings("fields", fields),
	)
}

// load issues the request of state in the background.
func (s *Session) load(state model.SearchState, fp string, refetch bool) {
	filtered := search.FilterForContext(state, s.scope, s.view)
	req := catalog.NewSearchRequest(filtered, s.scope)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		var (
			res catalog.Result
			err error
		)
		if refetch {
			res, err = s.cache.Refetch(s.ctx, fp, req)
		} else {
			res, err = s.cache.Issue(s.ctx, fp, req)
		}
		s.settled(filtered, fp, res, err)
	}()
}

// settled routes the outcome of a request of this session.
func (s *Session) settled(filtered model.SearchState, fp string, res catalog.Result, err error) {
	if s.ctx.Err() != nil {
		return
	}
	entry, ok := s.cache.Lookup(fp)
	if !ok {
		entry = reqcache.Entry{Fingerprint: fp, Endpoint: catalog.SearchEndpoint(s.view), Result: res, Err: err}
		entry.Status = reqcache.StatusFulfilled
		if err != nil {
			entry.Status = reqcache.StatusError
		}
	}
	s.emitResult(entry)

	if !s.showing(fp) {
		return
	}

	goal := filtered.GoalID
	if err != nil {
		zap.L().Debug("session: request failed",
			zap.String("session_id", s.id),
			zap.String("fingerprint", fp),
			zap.Error(err),
		)
		// A failed retry keeps the goal on its schedule.
		if goal != 0 && s.poller.Status(goal).IsCompiling {
			s.poller.Observe(goal, catalog.Compiling{})
		}
		return
	}
	if goal != 0 {
		s.poller.Observe(goal, res)
	}
	if s.opts.Prefetch {
		s.prefetcher.Settled(filtered, s.scope, entry, func() bool { return s.showing(fp) })
	}
}

// showing reports whether fp is the request of the page on screen.
func (s *Session) showing(fp string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fp == fp && !s.closed
}

// refetchGoal re-issues the current page while it is scoped to goalID.
func (s *Session) refetchGoal(goalID int) {
	s.mu.Lock()
	state := s.state
	fp := s.fp
	s.mu.Unlock()
	if search.FilterForContext(state, s.scope, s.view).GoalID != goalID {
		return
	}
	s.load(state, fp, true)
}

// Reload re-issues the current page, bypassing fresh cached results.
func (s *Session) Reload() {
	s.mu.Lock()
	state := s.state
	fp := s.fp
	s.mu.Unlock()
	s.load(state, fp, true)
}

// Wait blocks until every request issued so far has settled.
func (s *Session) Wait() {
	s.wg.Wait()
}

// CacheStatus returns the cache status of fp.
func (s *Session) CacheStatus(fp string) reqcache.Status {
	return s.cache.Status(fp)
}

// Entry returns the cache entry of fp.
func (s *Session) Entry(fp string) (reqcache.Entry, bool) {
	return s.cache.Lookup(fp)
}

// CompilationStatus returns the poll state of goalID.
func (s *Session) CompilationStatus(goalID int) model.PollState {
	return s.poller.Status(goalID)
}

// RetryNow re-fetches a compiling goal immediately.
func (s *Session) RetryNow(goalID int) bool {
	return s.poller.RetryNow(goalID)
}

// FlushURL writes a pending address-bar update now.
func (s *Session) FlushURL() bool {
	return s.reflector.Flush()
}

// PendingURL reports whether an address-bar update is waiting.
func (s *Session) PendingURL() bool {
	return s.reflector.Pending()
}

// PendingPrefetch reports whether a prefetch is waiting for its delay.
func (s *Session) PendingPrefetch() bool {
	return s.prefetcher.Pending()
}

// RefreshPrefs re-reads durable preferences changed by another process.
func (s *Session) RefreshPrefs(ctx context.Context) error {
	return s.store.Refresh(ctx)
}

// Goals returns the goals of the collection's owner, ordered by id. They
// come from the goals cache preference while it is current, otherwise from
// the catalog, and the cache preference is rewritten.
func (s *Session) Goals(ctx context.Context) ([]catalog.Goal, error) {
	if !s.scope.IsCollection {
		return nil, ErrNoCollection
	}
	if c, ok := prefs.GetVersioned[goalsCache](s.store, prefs.KeyGoalsCache, s.opts.GoalsCacheVersion, s.opts.GoalsCacheMaxAge); ok && c.UserID == s.scope.UserID {
		return c.sorted(), nil
	}

	req := catalog.NewGoalsRequest(s.scope.UserID)
	res, err := s.cache.Issue(ctx, reqcache.RequestFingerprint(req), req)
	if err != nil {
		return nil, eris.Wrap(err, "session: fetch goals")
	}
	ready, ok := res.(catalog.Ready)
	if !ok {
		return nil, ErrCompiling
	}
	goals, err := catalog.DecodeGoals(ready)
	if err != nil {
		return nil, err
	}

	c := goalsCache{UserID: s.scope.UserID, Goals: make(map[int]catalog.Goal, len(goals))}
	for _, g := range goals {
		c.Goals[g.ID] = g
	}
	if err := prefs.SetVersioned(s.store, prefs.KeyGoalsCache, s.opts.GoalsCacheVersion, c); err != nil {
		zap.L().Warn("session: write goals cache", zap.Error(err))
	}
	return c.sorted(), nil
}

// CostToComplete returns what completing setID costs at the preferred
// display price type.
func (s *Session) CostToComplete(ctx context.Context, setID int) (json.RawMessage, error) {
	priceType := prefs.Get(s.store, prefs.KeyDisplayPriceType, defaultPriceType)
	req := catalog.NewCostToCompleteRequest(setID, priceType, s.scope)
	res, err := s.cache.Issue(ctx, reqcache.RequestFingerprint(req), req)
	if err != nil {
		return nil, eris.Wrapf(err, "session: cost to complete set %d", setID)
	}
	ready, ok := res.(catalog.Ready)
	if !ok {
		return nil, ErrCompiling
	}
	return ready.Body, nil
}

// Duplicate opens a copy of the session at bar, as a browser does when a
// tab is duplicated: the session tier is copied, the durable tier shared.
func (s *Session) Duplicate(bar urlsync.AddressBar, notifier notify.Notifier) (*Session, error) {
	store, err := s.store.Fork(uuid.NewString())
	if err != nil {
		return nil, eris.Wrap(err, "session: fork preferences")
	}
	opts := s.opts
	opts.ID = ""
	opts.View = s.view
	opts.Bar = bar
	opts.Prefs = store
	opts.Notifier = notifier
	dup, err := Open(opts)
	if err != nil {
		store.Close()
		return nil, err
	}
	return dup, nil
}

// Close cancels every timer of the session and abandons its requests.
// It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unwatch := s.unwatch
	s.unwatch = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	for _, fn := range unwatch {
		fn()
	}
	s.reflector.Close()
	s.prefetcher.Close()
	s.poller.Close()
	s.store.Close()

	s.subMu.Lock()
	clear(s.stateSubs)
	clear(s.resultSubs)
	clear(s.pollSubs)
	s.subMu.Unlock()

	metrics.ActiveSessions.Dec()
	zap.L().Debug("session closed", zap.String("session_id", s.id))
}

// goalsCache is the stored shape of the goals cache preference.
type goalsCache struct {
	UserID int                  `json:"userId"`
	Goals  map[int]catalog.Goal `json:"goals"`
}

func (c goalsCache) sorted() []catalog.Goal {
	out := make([]catalog.Goal, 0, len(c.Goals))
	for _, g := range c.Goals {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b catalog.Goal) int { return a.ID - b.ID })
	return out
}
