package prefs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalogsync/internal/model"
)

// failingBackend rejects every call.
type failingBackend struct{}

func (failingBackend) Load(context.Context, string) ([]byte, bool, error) {
	return nil, false, eris.New("quota exceeded")
}
func (failingBackend) Save(context.Context, string, []byte) error { return eris.New("quota exceeded") }
func (failingBackend) Delete(context.Context, string) error       { return eris.New("quota exceeded") }
func (failingBackend) Keys(context.Context) ([]string, error)     { return nil, eris.New("quota exceeded") }

func TestStore_GetReturnsDefaultWhenMissing(t *testing.T) {
	s := New(Options{})
	assert.Equal(t, 24, Get(s, KeyPageSize(model.ViewCards), 24))
}

func TestStore_SetThenGet(t *testing.T) {
	s := New(Options{})
	require.NoError(t, Set(s, KeyPageSize(model.ViewCards), 48))
	assert.Equal(t, 48, Get(s, KeyPageSize(model.ViewCards), 24))
	assert.Equal(t, 20, Get(s, KeyPageSize(model.ViewSets), 20))
}

func TestStore_NamespacedStorageKey(t *testing.T) {
	mem := NewMemory()
	s := New(Options{Namespace: "mtgcb", Durable: mem})
	require.NoError(t, Set(s, KeyDisplayPriceType, "market"))

	raw, ok, err := mem.Load(context.Background(), "mtgcb:displayPriceType")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `"market"`, string(raw))
}

func TestStore_MalformedValueDegradesToDefault(t *testing.T) {
	mem := NewMemory()
	require.NoError(t, mem.Save(context.Background(), "catalogsync:pageSize.cards", []byte(`"not a number"`)))

	s := New(Options{Durable: mem})
	assert.Equal(t, 24, Get(s, KeyPageSize(model.ViewCards), 24))
}

func TestStore_BackendFailureDegrades(t *testing.T) {
	s := New(Options{Durable: failingBackend{}})

	assert.Equal(t, "market", Get(s, KeyDisplayPriceType, "market"))

	var got []string
	unsub := Watch(s, KeyDisplayPriceType, "", func(v string) { got = append(got, v) })
	defer unsub()

	err := Set(s, KeyDisplayPriceType, "low")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	// The in-memory value and same-context subscribers still move on.
	assert.Equal(t, "low", Get(s, KeyDisplayPriceType, "market"))
	assert.Equal(t, []string{"low"}, got)
}

func TestStore_SetRawRejectsInvalidJSON(t *testing.T) {
	s := New(Options{})
	err := s.SetRaw(KeyDisplayPriceType, json.RawMessage(`{`))
	require.Error(t, err)
	_, ok := s.GetRaw(KeyDisplayPriceType)
	assert.False(t, ok)
}

func TestStore_SubscribeSynchronous(t *testing.T) {
	s := New(Options{})
	var calls []json.RawMessage
	unsub := s.Subscribe(KeyDisplayPriceType, func(raw json.RawMessage) {
		calls = append(calls, raw)
	})

	require.NoError(t, Set(s, KeyDisplayPriceType, "market"))
	require.Len(t, calls, 1, "subscriber runs before Set returns")
	assert.JSONEq(t, `"market"`, string(calls[0]))

	require.NoError(t, s.Delete(KeyDisplayPriceType))
	require.Len(t, calls, 2)
	assert.Nil(t, calls[1])

	unsub()
	unsub()
	require.NoError(t, Set(s, KeyDisplayPriceType, "low"))
	assert.Len(t, calls, 2)
}

func TestStore_WatchDecodes(t *testing.T) {
	s := New(Options{})
	var got []ListPagination
	unsub := Watch(s, KeyGoalsPagination, ListPagination{Page: 1, PageSize: 25}, func(v ListPagination) {
		got = append(got, v)
	})
	defer unsub()

	require.NoError(t, Set(s, KeyGoalsPagination, ListPagination{Page: 3, PageSize: 50}))
	require.NoError(t, s.Delete(KeyGoalsPagination))

	assert.Equal(t, []ListPagination{{Page: 3, PageSize: 50}, {Page: 1, PageSize: 25}}, got)
}

func TestStore_SessionTierIsPerContext(t *testing.T) {
	durable := NewMemory()
	a := New(Options{Durable: durable})
	b := New(Options{Durable: durable})

	require.NoError(t, Set(a, KeyDismissedMessages, []string{"welcome"}))
	assert.Equal(t, []string{"welcome"}, Get[[]string](a, KeyDismissedMessages, nil))
	assert.Nil(t, Get[[]string](b, KeyDismissedMessages, nil))
}

func TestStore_CrossContextNotification(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	durable := NewMemory()

	a := New(Options{ContextID: "tab-a", Durable: durable, Bus: bus})
	b := New(Options{ContextID: "tab-b", Durable: durable, Bus: bus})
	defer a.Close()
	defer b.Close()

	// Prime b's cache so the bus event must update it.
	assert.Equal(t, "market", Get(b, KeyDisplayPriceType, "market"))

	var mu sync.Mutex
	var seenA, seenB []string
	defer Watch(a, KeyDisplayPriceType, "", func(v string) {
		mu.Lock()
		seenA = append(seenA, v)
		mu.Unlock()
	})()
	defer Watch(b, KeyDisplayPriceType, "", func(v string) {
		mu.Lock()
		seenB = append(seenB, v)
		mu.Unlock()
	})()

	require.NoError(t, Set(a, KeyDisplayPriceType, "low"))
	require.NoError(t, Set(a, KeyDisplayPriceType, "high"))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seenB) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"low", "high"}, seenB, "delivered in publish order")
	assert.Equal(t, []string{"low", "high"}, seenA, "origin notified once, synchronously")
	mu.Unlock()
	assert.Equal(t, "high", Get(b, KeyDisplayPriceType, "market"))
}

func TestStore_BusIgnoresSessionTierAndOtherNamespaces(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a := New(Options{Bus: bus})
	b := New(Options{Bus: bus})
	other := New(Options{Namespace: "other", Bus: bus})

	var mu sync.Mutex
	var calls int
	count := func(json.RawMessage) {
		mu.Lock()
		calls++
		mu.Unlock()
	}
	defer b.Subscribe(KeyDismissedMessages, count)()
	defer other.Subscribe(KeyDisplayPriceType, count)()
	defer b.Subscribe(KeyDisplayPriceType, count)()

	require.NoError(t, Set(a, KeyDismissedMessages, []string{"x"}))
	require.NoError(t, Set(a, KeyDisplayPriceType, "low"))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestStore_Refresh(t *testing.T) {
	durable := NewMemory()
	s := New(Options{Durable: durable})

	assert.Equal(t, 24, Get(s, KeyPageSize(model.ViewCards), 24))
	var got []int
	defer Watch(s, KeyPageSize(model.ViewCards), 24, func(v int) { got = append(got, v) })()
	defer Watch(s, KeyDisplayPriceType, "market", func(string) { t.Error("unchanged key notified") })()

	// Another process writes the shared file.
	require.NoError(t, durable.Save(context.Background(), "catalogsync:pageSize.cards", []byte(`96`)))

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, []int{96}, got)
	assert.Equal(t, 96, Get(s, KeyPageSize(model.ViewCards), 24))

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, []int{96}, got, "second refresh sees no change")
}

func TestStore_Fork(t *testing.T) {
	durable := NewMemory()
	s := New(Options{ContextID: "tab-a", Durable: durable})
	require.NoError(t, Set(s, KeyDismissedMessages, []string{"welcome"}))
	require.NoError(t, Set(s, KeyDisplayPriceType, "low"))

	dup, err := s.Fork("tab-b")
	require.NoError(t, err)
	assert.Equal(t, "tab-b", dup.ID())
	assert.Equal(t, []string{"welcome"}, Get[[]string](dup, KeyDismissedMessages, nil))
	assert.Equal(t, "low", Get(dup, KeyDisplayPriceType, "market"))

	// The copy diverges from here.
	require.NoError(t, Set(dup, KeyDismissedMessages, []string{"welcome", "tips"}))
	assert.Equal(t, []string{"welcome"}, Get[[]string](s, KeyDismissedMessages, nil))
}

func TestStore_List(t *testing.T) {
	durable := NewMemory()
	require.NoError(t, durable.Save(context.Background(), "foreign:key", []byte(`1`)))
	s := New(Options{Durable: durable})
	require.NoError(t, Set(s, KeyPageSize(model.ViewSets), 40))
	require.NoError(t, Set(s, KeyDisplayPriceType, "low"))

	names, err := s.List(Durable)
	require.NoError(t, err)
	assert.Equal(t, []string{"displayPriceType", "pageSize.sets"}, names)
}

func TestStore_DefaultContextID(t *testing.T) {
	a := New(Options{})
	b := New(Options{})
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, "catalogsync", a.Namespace())
}
