package session

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalogsync/internal/config"
	"github.com/sells-group/catalogsync/internal/model"
	"github.com/sells-group/catalogsync/internal/notify"
	"github.com/sells-group/catalogsync/internal/prefs"
	"github.com/sells-group/catalogsync/internal/resilience"
	"github.com/sells-group/catalogsync/internal/urlsync"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = eris.New("session: not found")

// OptionsFromConfig returns session options carrying the engine settings
// of cfg. Bar, Prefs, Cache and Scope are left for the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Debounce:      cfg.Sync.Debounce(),
		Prefetch:      cfg.Prefetch.Enabled,
		PrefetchDelay: cfg.Prefetch.Delay(),
		PollSchedule:  resilience.ScheduleFromMillis(cfg.Poller.ScheduleMs),
		SlowAfter:     cfg.Poller.SlowAfter,
		DefaultPageSizes: map[model.View]int{
			model.ViewCards: cfg.Search.CardsPageSize,
			model.ViewSets:  cfg.Search.SetsPageSize,
		},
		GoalsCacheVersion: cfg.Prefs.GoalsCacheVersion,
		GoalsCacheMaxAge:  cfg.Prefs.GoalsCacheMaxAge(),
	}
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Template is copied into every session; Bar, Prefs, Scope and
	// Notifier are set per session.
	Template  Options
	Durable   prefs.Backend
	Bus       *prefs.Bus
	Namespace string
	// Notifier receives every session's notifications after they are
	// recorded. Default: notify.LogNotifier.
	Notifier notify.Notifier
}

// Handle is an open session together with its in-memory address bar and
// notification log.
type Handle struct {
	*Session
	Bar           *urlsync.MemoryAddressBar
	Notifications *notify.Recorder
}

// Manager owns the sessions of one process. Every session gets its own
// preference context over the shared durable tier and bus.
type Manager struct {
	opts ManagerOptions

	mu       sync.Mutex
	sessions map[string]*Handle
}

// NewManager creates an empty manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Durable == nil {
		opts.Durable = prefs.NewMemory()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.LogNotifier{}
	}
	return &Manager{opts: opts, sessions: make(map[string]*Handle)}
}

// Create opens a session at path?query. The scope follows the path.
func (m *Manager) Create(view model.View, path, query string) (*Handle, error) {
	if path == "" {
		path = "/"
	}
	bar := urlsync.NewMemoryAddressBar(path, query)
	store := prefs.New(prefs.Options{
		Namespace: m.opts.Namespace,
		Durable:   m.opts.Durable,
		Bus:       m.opts.Bus,
	})
	rec := notify.NewRecorder(m.opts.Notifier)

	opts := m.opts.Template
	opts.View = view
	opts.Scope = urlsync.ScopeFromPath(path)
	opts.Bar = bar
	opts.Prefs = store
	opts.Notifier = rec
	s, err := Open(opts)
	if err != nil {
		store.Close()
		return nil, err
	}
	return m.add(&Handle{Session: s, Bar: bar, Notifications: rec}), nil
}

// Duplicate opens a copy of session id at the same location.
func (m *Manager) Duplicate(id string) (*Handle, error) {
	src, ok := m.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	bar := urlsync.NewMemoryAddressBar(src.Bar.Path(), src.Bar.Query())
	rec := notify.NewRecorder(m.opts.Notifier)
	s, err := src.Session.Duplicate(bar, rec)
	if err != nil {
		return nil, err
	}
	return m.add(&Handle{Session: s, Bar: bar, Notifications: rec}), nil
}

func (m *Manager) add(h *Handle) *Handle {
	m.mu.Lock()
	m.sessions[h.ID()] = h
	m.mu.Unlock()
	return h
}

// Get returns the session id.
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.sessions[id]
	return h, ok
}

// IDs returns the open session ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Close closes and forgets session id.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	h, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		h.Close()
	}
	return ok
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	for _, id := range m.IDs() {
		m.Close(id)
	}
}

// Refresh re-reads durable preferences in every session.
func (m *Manager) Refresh(ctx context.Context) error {
	var errs []error
	for _, id := range m.IDs() {
		h, ok := m.Get(id)
		if !ok {
			continue
		}
		if err := h.RefreshPrefs(ctx); err != nil {
			errs = append(errs, eris.Wrapf(err, "session %s", id))
		}
	}
	return errors.Join(errs...)
}
