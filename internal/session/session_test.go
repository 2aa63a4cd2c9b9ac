package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalogsync/internal/catalog"
	"github.com/sells-group/catalogsync/internal/model"
	"github.com/sells-group/catalogsync/internal/notify"
	"github.com/sells-group/catalogsync/internal/poller"
	"github.com/sells-group/catalogsync/internal/prefs"
	"github.com/sells-group/catalogsync/internal/reqcache"
	"github.com/sells-group/catalogsync/internal/sched"
	"github.com/sells-group/catalogsync/internal/search"
	"github.com/sells-group/catalogsync/internal/urlsync"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type call struct {
	req  catalog.Request
	name string
	page int
	goal int
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   []call
	respond func(req catalog.Request, n int) (catalog.Result, error)
}

func (f *fakeFetcher) Do(_ context.Context, req catalog.Request) (catalog.Result, error) {
	f.mu.Lock()
	c := call{req: req}
	if p, ok := req.Payload.(catalog.SearchPayload); ok {
		c.name = p.Name
		c.page = p.Offset/p.Limit + 1
		c.goal = p.GoalID
	}
	f.calls = append(f.calls, c)
	n := len(f.calls)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		return respond(req, n)
	}
	return catalog.Ready{Body: []byte(`{"data":[]}`), TotalCount: 100}, nil
}

func (f *fakeFetcher) searches() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.req.Endpoint == catalog.EndpointCardsSearch || c.req.Endpoint == catalog.EndpointSetsSearch {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeFetcher) count(ep catalog.Endpoint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.req.Endpoint == ep {
			n++
		}
	}
	return n
}

func pages(calls []call) []int {
	out := make([]int, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.page)
	}
	return out
}

type harness struct {
	clock   *sched.Manual
	fetcher *fakeFetcher
	cache   *reqcache.Cache
	durable *prefs.MemoryBackend
	bus     *prefs.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:   sched.NewManual(epoch),
		fetcher: &fakeFetcher{},
		durable: prefs.NewMemory(),
		bus:     prefs.NewBus(),
	}
	h.cache = reqcache.New(h.fetcher, reqcache.Options{Clock: h.clock})
	t.Cleanup(h.bus.Close)
	return h
}

type opened struct {
	*Session
	bar *urlsync.MemoryAddressBar
	rec *notify.Recorder
}

func (h *harness) open(t *testing.T, path, query string, mutate ...func(*Options)) opened {
	t.Helper()
	bar := urlsync.NewMemoryAddressBar(path, query)
	rec := notify.NewRecorder(nil)
	opts := Options{
		View:              model.ViewCards,
		Scope:             urlsync.ScopeFromPath(path),
		Bar:               bar,
		Prefs:             prefs.New(prefs.Options{Durable: h.durable, Bus: h.bus}),
		Cache:             h.cache,
		Scheduler:         h.clock,
		Notifier:          rec,
		Debounce:          300 * time.Millisecond,
		Prefetch:          true,
		PrefetchDelay:     time.Second,
		GoalsCacheVersion: 1,
		GoalsCacheMaxAge:  30 * 24 * time.Hour,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	s, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	s.Wait()
	return opened{Session: s, bar: bar, rec: rec}
}

func noPrefetch(o *Options) { o.Prefetch = false }

func mustDispatch(t *testing.T, s *Session, a search.Action) model.SearchState {
	t.Helper()
	st, err := s.Dispatch(a)
	require.NoError(t, err)
	s.Wait()
	return st
}

func TestOpen_RequiresCollaborators(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)

	_, err = Open(Options{Bar: urlsync.NewMemoryAddressBar("/", "")})
	assert.Error(t, err)

	_, err = Open(Options{Bar: urlsync.NewMemoryAddressBar("/", ""), Prefs: prefs.New(prefs.Options{})})
	assert.Error(t, err)
}

func TestSession_EndToEndBrowsing(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "/browse", "")

	mustDispatch(t, s.Session, search.SetFilter{Facet: search.FacetName, Value: "Bolt"})
	h.clock.Advance(150 * time.Millisecond)
	mustDispatch(t, s.Session, search.SetPagination{Page: 2})
	h.clock.Advance(300 * time.Millisecond)

	assert.Equal(t, 1, s.bar.Replaces(), "edits collapse to one address-bar write")
	assert.Equal(t, "/browse?name=Bolt&page=2&contentType=cards", s.bar.URL())
	assert.Len(t, s.bar.History(), 1, "replace never pushes")

	reloaded := h.open(t, "/browse", s.bar.Query())
	st := reloaded.State()
	assert.Equal(t, "Bolt", st.Name)
	assert.Equal(t, 2, st.Page)
	assert.Equal(t, 24, st.PageSize)
	assert.Equal(t, model.ViewCards, st.View)
}

func TestSession_IssuesCurrentPageThenPrefetchesNext(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "/browse", "name=Bolt")

	assert.Equal(t, []int{1}, pages(h.fetcher.searches()))
	assert.Equal(t, reqcache.StatusFulfilled, s.CacheStatus(s.Fingerprint()))
	assert.True(t, s.PendingPrefetch())

	h.clock.Advance(999 * time.Millisecond)
	assert.Equal(t, []int{1}, pages(h.fetcher.searches()))
	h.clock.Advance(time.Millisecond)
	assert.Equal(t, []int{1, 2}, pages(h.fetcher.searches()))

	mustDispatch(t, s.Session, search.SetPagination{Page: 2})
	assert.Equal(t, []int{1, 2}, pages(h.fetcher.searches()), "page 2 is served warm")

	h.clock.Advance(time.Second)
	assert.Equal(t, []int{1, 2, 3}, pages(h.fetcher.searches()))
}

func TestSession_PrefetchStopsAtLastPage(t *testing.T) {
	h := newHarness(t)
	h.fetcher.respond = func(catalog.Request, int) (catalog.Result, error) {
		return catalog.Ready{Body: []byte(`{}`), TotalCount: 20}, nil
	}
	s := h.open(t, "/browse", "")

	assert.False(t, s.PendingPrefetch())
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, []int{1}, pages(h.fetcher.searches()))
}

func TestSession_FilterChangeCancelsPrefetch(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "/browse", "name=Bolt")
	require.True(t, s.PendingPrefetch())

	h.clock.Advance(500 * time.Millisecond)
	mustDispatch(t, s.Session, search.SetFilter{Facet: search.FacetName, Value: "Shock"})
	h.clock.Advance(2 * time.Second)

	for _, c := range h.fetcher.searches() {
		if c.name == "Bolt" {
			assert.Equal(t, 1, c.page, "no prefetch for the abandoned filters")
		}
	}
	var shock []int
	for _, c := range h.fetcher.searches() {
		if c.name == "Shock" {
			shock = append(shock, c.page)
		}
	}
	assert.Equal(t, []int{1, 2}, shock)
}

func TestSession_PrefetchArmedAfterPageReplacedNeverRuns(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "/browse", "name=Bolt")
	require.True(t, s.PendingPrefetch())

	// A dispatch that swapped the request and cancelled before the settle
	// armed its prefetch leaves exactly this state behind.
	s.mu.Lock()
	s.fp = "replaced"
	s.mu.Unlock()

	h.clock.Advance(2 * time.Second)
	assert.Equal(t, []int{1}, pages(h.fetcher.searches()))
	assert.False(t, s.PendingPrefetch())
}

func TestSession_PrefetchDisabled(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "/browse", "", noPrefetch)

	assert.False(t, s.PendingPrefetch())
	h.clock.Advance(10 * time.Second)
	assert.Equal(t, []int{1}, pages(h.fetcher.searches()))
}

func TestSession_NetworkErrorSurfacesOnEntry(t *testing.T) {
	h := newHarness(t)
	boom := eris.New("catalog down")
	h.fetcher.respond = func(catalog.Request, int) (catalog.Result, error) { return nil, boom }

	var got []reqcache.Entry
	bar := urlsync.NewMemoryAddressBar("/browse", "name=Bolt")
	s, err := Open(Options{
		Bar:       bar,
		Prefs:     prefs.New(prefs.Options{Durable: h.durable}),
		Cache:     h.cache,
		Scheduler: h.clock,
		Prefetch:  true,
	})
	require.NoError(t, err)
	defer s.Close()
	s.Wait()
	s.OnResult(func(e reqcache.Entry) { got = append(got, e) })
	s.Reload()
	s.Wait()

	assert.Equal(t, reqcache.StatusError, s.CacheStatus(s.Fingerprint()))
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, reqcache.StatusError, last.Status)
	assert.ErrorIs(t, last.Err, boom)
	assert.False(t, s.PendingPrefetch())
}

func TestSession_RejectedActionKeepsState(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "/browse", "name=Bolt")
	before := s.State()

	st, err := s.Dispatch(search.SetSort{Key: "bogus"})
	assert.ErrorIs(t, err, search.ErrInvalidAction)
	assert.True(t, search.Equal(before, st))
	assert.True(t, search.Equal(before, s.State()))
	assert.Len(t, h.fetcher.searches(), 1)
}

func TestSession_OnStateChange(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "/browse", "")

	var seen []string
	unsub := s.OnStateChange(func(st model.SearchState) { seen = append(seen, st.Name) })

	mustDispatch(t, s.Session, search.SetFilter{Facet: search.FacetName, Value: "Bolt"})
	mustDispatch(t, s.Session, search.SetFilter{Facet: search.FacetName, Value: "Bolt"})
	unsub()
	mustDispatch(t, s.Session, search.SetFilter{Facet: search.FacetName, Value: "Shock"})

	assert.Equal(t, []string{"Bolt"}, seen, "no-op transitions are not reported")
}

func TestSession_ViewModeDoesNotRefetch(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "/browse", "", noPrefetch)
	fp := s.Fingerprint()

	st := mustDispatch(t, s.Session, search.SetFilter{Facet: search.FacetViewMode, Value: model.ViewModeTable})

	assert.Equal(t, model.ViewModeTable, st.ViewMode)
	assert.Equal(t, fp, s.Fingerprint())
	assert.Len(t, h.fetcher.searches(), 1)
	assert.Equal(t, model.ViewModeTable, prefs.Get(s.Prefs(), prefs.KeyViewMode(model.ViewCards), model.ViewModeGrid))
}

func TestSession_ViewModeFollowsOtherTabs(t *testing.T) {
	h := newHarness(t)
	a := h.open(t, "/browse", "", noPrefetch)
	b := h.open(t, "/browse", "", noPrefetch)

	mustDispatch(t, a.Session, search.SetFilter{Facet: search.FacetViewMode, Value: model.ViewModeTable})

	assert.Eventually(t, func() bool {
		return b.State().ViewMode == model.ViewModeTable
	}, time.Second, 5*time.Millisecond)

	c := h.open(t, "/browse", "", noPrefetch)
	assert.Equal(t, model.ViewModeTable, c.State().ViewMode, "new tabs start from the preference")
}

func TestSession_PageSizePreference(t *testing.T) {
	h := newHarness(t)
	a := h.open(t, "/browse", "", noPrefetch)

	st := mustDispatch(t, a.Session, search.SetPagination{PageSize: 48})
	assert.Equal(t, 48, st.PageSize)
	h.clock.Advance(300 * time.Millisecond)
	assert.Equal(t, "contentType=cards", a.bar.Query(), "the remembered size is left out of the URL")

	b := h.open(t, "/browse", "name=Bolt&page=2", noPrefetch)
	assert.Equal(t, 48, b.State().PageSize)
	assert.Equal(t, 2, b.State().Page)

	c := h.open(t, "/browse", "pageSize=12", noPrefetch)
	assert.Equal(t, 12, c.State().PageSize, "an explicit URL size wins")
}

func TestSession_DefaultPageSizeFromOptions(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "/browse", "contentType=sets", noPrefetch, func(o *Options) {
		o.DefaultPageSizes = map[model.View]int{model.ViewSets: 30}
	})
	assert.Equal(t, model.ViewSets, s.View())
	assert.Equal(t, 30, s.State().PageSize)
	assert.Equal(t, catalog.EndpointSetsSearch, h.fetcher.searches()[0].req.Endpoint)
}

func TestSession_BrowseScopeDropsCollectionFields(t *testing.T) {
	h := newHarness(t)
	h.fetcher.respond = func(catalog.Request, int) (catalog.Result, error) {
		return catalog.Compiling{}, nil
	}
	s := h.open(t, "/browse", "goalId=7&name=Bolt", noPrefetch)
	h.clock.Advance(time.Second)

	assert.Equal(t, 0, h.fetcher.searches()[0].goal)
	assert.False(t, s.CompilationStatus(7).IsCompiling)
	assert.Equal(t, 0, s.rec.Count(notify.EventShow))
	assert.Equal(t, "name=Bolt&contentType=cards", s.bar.Query())
}

func TestSession_GoalCompilesThenSettles(t *testing.T) {
	h := newHarness(t)
	h.fetcher.respond = func(_ catalog.Request, n int) (catalog.Result, error) {
		if n <= 3 {
			return catalog.Compiling{}, nil
		}
		return catalog.Ready{Body: []byte(`{"data":[]}`), TotalCount: 10}, nil
	}
	s := h.open(t, "/collections/42", "goalId=7", noPrefetch)

	st := s.CompilationStatus(7)
	assert.True(t, st.IsCompiling)
	assert.Equal(t, 0, st.RetryCount)
	assert.Len(t, s.rec.Open(), 1)

	for _, d := range []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second} {
		h.clock.Advance(d)
		s.Wait()
	}

	calls := h.fetcher.searches()
	require.Len(t, calls, 4)
	for _, c := range calls {
		assert.Equal(t, 7, c.goal)
	}
	st = s.CompilationStatus(7)
	assert.False(t, st.IsCompiling)
	assert.Equal(t, 0, st.RetryCount)
	assert.Nil(t, st.LastRetryTime)
	assert.Equal(t, 1, s.rec.Count(notify.EventShow), "one notification, never duplicated")
	assert.Equal(t, 1, s.rec.Count(notify.EventToast))
	assert.Empty(t, s.rec.Open())
}

func TestSession_CompilationChangesAreReported(t *testing.T) {
	h := newHarness(t)
	h.fetcher.respond = func(catalog.Request, int) (catalog.Result, error) {
		return catalog.Compiling{Message: "crunching"}, nil
	}
	var states []model.PollState
	var mu sync.Mutex
	s := h.open(t, "/collections/42", "", noPrefetch)
	s.OnCompilationChange(func(ps model.PollState) {
		mu.Lock()
		states = append(states, ps)
		mu.Unlock()
	})

	mustDispatch(t, s.Session, search.SetFilter{Facet: search.FacetGoal, Value: 9})
	h.clock.Advance(2 * time.Second)
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(states), 2)
	assert.Equal(t, 9, states[0].GoalID)
	assert.True(t, states[0].IsCompiling)
	require.NotNil(t, states[0].Message)
	assert.Equal(t, "crunching", *states[0].Message)
	assert.Equal(t, 1, s.CompilationStatus(9).RetryCount)
}

func TestSession_GoalChangeStopsPolling(t *testing.T) {
	h := newHarness(t)
	h.fetcher.respond = func(catalog.Request, int) (catalog.Result, error) {
		return catalog.Compiling{}, nil
	}
	s := h.open(t, "/collections/42", "goalId=7", noPrefetch)
	require.True(t, s.CompilationStatus(7).IsCompiling)

	h.clock.Advance(time.Second)
	mustDispatch(t, s.Session, search.SetFilter{Facet: search.FacetGoal, Value: 8})

	assert.False(t, s.CompilationStatus(7).IsCompiling)
	_, open := s.rec.Get(poller.NotificationID(7))
	assert.False(t, open)
	assert.True(t, s.CompilationStatus(8).IsCompiling)

	h.clock.Advance(2 * time.Second)
	s.Wait()

	var goals []int
	for _, c := range h.fetcher.searches() {
		goals = append(goals, c.goal)
	}
	assert.Equal(t, []int{7, 8, 8}, goals, "the stale goal-7 timer never fires")
}

func TestSession_RetryNowFromNotification(t *testing.T) {
	h := newHarness(t)
	h.fetcher.respond = func(catalog.Request, int) (catalog.Result, error) {
		return catalog.Compiling{}, nil
	}
	s := h.open(t, "/collections/42", "goalId=7", noPrefetch)
	h.clock.Advance(500 * time.Millisecond)

	require.True(t, s.rec.Trigger(poller.NotificationID(7)))
	s.Wait()

	assert.Len(t, h.fetcher.searches(), 2)
	assert.Equal(t, 1, s.CompilationStatus(7).RetryCount)
	assert.Equal(t, 1, h.clock.Pending(), "one retry timer")
}

func TestSession_CloseCancelsEveryTimer(t *testing.T) {
	h := newHarness(t)
	h.fetcher.respond = func(req catalog.Request, _ int) (catalog.Result, error) {
		if p, ok := req.Payload.(catalog.SearchPayload); ok && p.GoalID != 0 {
			return catalog.Compiling{}, nil
		}
		return catalog.Ready{Body: []byte(`{}`), TotalCount: 100}, nil
	}
	s := h.open(t, "/collections/42", "goalId=7")
	mustDispatch(t, s.Session, search.SetFilter{Facet: search.FacetGoal, Value: 0})
	mustDispatch(t, s.Session, search.SetFilter{Facet: search.FacetGoal, Value: 7})
	require.Positive(t, h.clock.Pending())

	s.Close()
	assert.Equal(t, 0, h.clock.Pending())

	before := len(h.fetcher.searches())
	h.clock.Advance(time.Minute)
	assert.Len(t, h.fetcher.searches(), before)

	_, err := s.Dispatch(search.SetPagination{Page: 2})
	assert.ErrorIs(t, err, ErrClosed)
	s.Close()
}

func TestSession_DismissedNotificationStaysClosed(t *testing.T) {
	h := newHarness(t)
	h.fetcher.respond = func(catalog.Request, int) (catalog.Result, error) {
		return catalog.Compiling{}, nil
	}
	s := h.open(t, "/collections/42", "goalId=7", noPrefetch)
	id := poller.NotificationID(7)
	require.NoError(t, s.DismissMessage(id))
	assert.Empty(t, s.rec.Open())
	assert.True(t, s.Dismissed(id))

	for range 5 {
		h.clock.Advance(35 * time.Second)
		s.Wait()
	}

	assert.GreaterOrEqual(t, s.CompilationStatus(7).RetryCount, 5)
	assert.Empty(t, s.rec.Open(), "the slow message is not reopened")
}

func TestSession_Duplicate(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "/browse", "name=Bolt", noPrefetch)
	require.NoError(t, s.DismissMessage("welcome"))

	bar := urlsync.NewMemoryAddressBar("/browse", s.bar.Query())
	dup, err := s.Duplicate(bar, notify.NewRecorder(nil))
	require.NoError(t, err)
	defer dup.Close()
	dup.Wait()

	assert.NotEqual(t, s.ID(), dup.ID())
	assert.True(t, search.Equal(s.State(), dup.State()))
	assert.True(t, dup.Dismissed("welcome"), "session tier is copied")

	require.NoError(t, dup.DismissMessage("tour"))
	assert.False(t, s.Dismissed("tour"), "copies are independent afterwards")
}

func TestSession_Goals(t *testing.T) {
	h := newHarness(t)
	h.fetcher.respond = func(req catalog.Request, _ int) (catalog.Result, error) {
		if req.Endpoint == catalog.EndpointGoals {
			return catalog.Ready{Body: []byte(`[{"id":2,"name":"Foils"},{"id":1,"name":"Commons","isActive":true}]`), TotalCount: -1}, nil
		}
		return catalog.Ready{Body: []byte(`{}`), TotalCount: 0}, nil
	}
	s := h.open(t, "/collections/42", "", noPrefetch)

	goals, err := s.Goals(context.Background())
	require.NoError(t, err)
	require.Len(t, goals, 2)
	assert.Equal(t, 1, goals[0].ID)
	assert.Equal(t, "Foils", goals[1].Name)
	assert.Equal(t, 1, h.fetcher.count(catalog.EndpointGoals))

	h.cache.Purge()
	goals, err = s.Goals(context.Background())
	require.NoError(t, err)
	assert.Len(t, goals, 2)
	assert.Equal(t, 1, h.fetcher.count(catalog.EndpointGoals), "served from the goals cache preference")

	h.cache.Purge()
	bumped := h.open(t, "/collections/42", "", noPrefetch, func(o *Options) { o.GoalsCacheVersion = 2 })
	_, err = bumped.Goals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, h.fetcher.count(catalog.EndpointGoals), "a version bump discards the cache")

	h.cache.Purge()
	other := h.open(t, "/collections/43", "", noPrefetch, func(o *Options) { o.GoalsCacheVersion = 2 })
	_, err = other.Goals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, h.fetcher.count(catalog.EndpointGoals), "another user's cache is not reused")

	browse := h.open(t, "/browse", "", noPrefetch)
	_, err = browse.Goals(context.Background())
	assert.ErrorIs(t, err, ErrNoCollection)
}

func TestSession_CostToCompleteUsesPriceTypePreference(t *testing.T) {
	h := newHarness(t)
	h.fetcher.respond = func(req catalog.Request, _ int) (catalog.Result, error) {
		if req.Endpoint == catalog.EndpointCostToComplete {
			return catalog.Ready{Body: []byte(`{"total":12.5}`), TotalCount: -1}, nil
		}
		return catalog.Ready{Body: []byte(`{}`), TotalCount: 0}, nil
	}
	s := h.open(t, "/collections/42", "contentType=sets", noPrefetch)
	require.NoError(t, prefs.Set(s.Prefs(), prefs.KeyDisplayPriceType, "foil"))

	body, err := s.CostToComplete(context.Background(), 5)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":12.5}`, string(body))

	_, err = s.CostToComplete(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, h.fetcher.count(catalog.EndpointCostToComplete), "reference data is cached")

	var q catalog.Request
	h.fetcher.mu.Lock()
	for _, c := range h.fetcher.calls {
		if c.req.Endpoint == catalog.EndpointCostToComplete {
			q = c.req
		}
	}
	h.fetcher.mu.Unlock()
	assert.Equal(t, "foil", q.Query.Get("priceType"))
	assert.Equal(t, "5", q.Query.Get("setId"))
	assert.Equal(t, "42", q.Query.Get("userId"))
}
