package prefs

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Callback receives the new raw value of a key, or nil when it was removed.
type Callback func(raw json.RawMessage)

// Options configures a Store.
type Options struct {
	// Namespace prefixes every stored key. Default: "catalogsync".
	Namespace string
	// ContextID identifies the tab. Default: a random UUID.
	ContextID string
	// Durable is the per-device tier. Default: an in-memory backend.
	Durable Backend
	// Session is the per-tab tier. Default: an in-memory backend.
	Session Backend
	// Bus delivers durable changes to other contexts. Optional.
	Bus *Bus
	// OpTimeout bounds each backend call. Default: 5s.
	OpTimeout time.Duration
}

type cached struct {
	raw     []byte
	present bool
}

// Store is one context's view of the preference tiers. It never returns
// persistence errors from reads: a missing, unreadable or malformed value
// yields the caller's default.
type Store struct {
	id        string
	namespace string
	durable   Backend
	session   Backend
	bus       *Bus
	timeout   time.Duration
	leave     func()

	mu      sync.Mutex
	cache   map[Key]cached
	subs    map[Key]map[uint64]Callback
	nextSub uint64

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a Store and joins its bus, if any.
func New(opts Options) *Store {
	if opts.Namespace == "" {
		opts.Namespace = "catalogsync"
	}
	if opts.ContextID == "" {
		opts.ContextID = uuid.NewString()
	}
	if opts.Durable == nil {
		opts.Durable = NewMemory()
	}
	if opts.Session == nil {
		opts.Session = NewMemory()
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}
	s := &Store{
		id:        opts.ContextID,
		namespace: opts.Namespace,
		durable:   opts.Durable,
		session:   opts.Session,
		bus:       opts.Bus,
		timeout:   opts.OpTimeout,
		cache:     make(map[Key]cached),
		subs:      make(map[Key]map[uint64]Callback),
		nowFunc:   time.Now,
	}
	if s.bus != nil {
		s.leave = s.bus.join(s)
	}
	return s
}

// ID returns the context identifier.
func (s *Store) ID() string { return s.id }

// Namespace returns the key prefix.
func (s *Store) Namespace() string { return s.namespace }

// Close leaves the bus. Subscriptions are dropped.
func (s *Store) Close() {
	if s.leave != nil {
		s.leave()
		s.leave = nil
	}
	s.mu.Lock()
	s.subs = make(map[Key]map[uint64]Callback)
	s.mu.Unlock()
}

func (s *Store) storageKey(k Key) string {
	return s.namespace + ":" + k.Name
}

func (s *Store) backend(t Tier) Backend {
	if t == Session {
		return s.session
	}
	return s.durable
}

func (s *Store) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// GetRaw returns the stored JSON of key.
func (s *Store) GetRaw(key Key) (json.RawMessage, bool) {
	s.mu.Lock()
	if c, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return c.raw, c.present
	}
	s.mu.Unlock()

	ctx, cancel := s.opContext()
	defer cancel()
	raw, ok, err := s.backend(key.Tier).Load(ctx, s.storageKey(key))
	if err != nil {
		zap.L().Warn("prefs: load failed, using default",
			zap.String("key", key.Name),
			zap.String("tier", key.Tier.String()),
			zap.Error(err),
		)
		return nil, false
	}

	s.mu.Lock()
	s.cache[key] = cached{raw: raw, present: ok}
	s.mu.Unlock()
	return raw, ok
}

// Get decodes key into T, returning def when it is absent or malformed.
func Get[T any](s *Store, key Key, def T) T {
	raw, ok := s.GetRaw(key)
	if !ok {
		return def
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		zap.L().Warn("prefs: malformed value, using default",
			zap.String("key", key.Name),
			zap.Error(err),
		)
		return def
	}
	return v
}

// Set stores v under key as a single JSON value and notifies subscribers.
func Set[T any](s *Store, key Key, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "prefs: marshal %s", key.Name)
	}
	return s.SetRaw(key, raw)
}

// SetRaw stores raw JSON under key. Same-context subscribers are notified
// before it returns; other contexts are notified asynchronously through the
// bus for the durable tier. A backend failure is returned after the
// in-memory value has been updated and subscribers notified, so the current
// context keeps working on the new value.
func (s *Store) SetRaw(key Key, raw json.RawMessage) error {
	if !json.Valid(raw) {
		return eris.Errorf("prefs: invalid json for %s", key.Name)
	}
	raw = bytes.Clone(raw)

	ctx, cancel := s.opContext()
	defer cancel()
	saveErr := s.backend(key.Tier).Save(ctx, s.storageKey(key), raw)
	if saveErr != nil {
		zap.L().Warn("prefs: save failed",
			zap.String("key", key.Name),
			zap.String("tier", key.Tier.String()),
			zap.Error(saveErr),
		)
	}

	s.apply(key, raw, true)
	if key.Tier == Durable && s.bus != nil {
		s.bus.publish(s, key, raw, true)
	}
	return eris.Wrapf(saveErr, "prefs: save %s", key.Name)
}

// Delete removes key and notifies subscribers with a nil value.
func (s *Store) Delete(key Key) error {
	ctx, cancel := s.opContext()
	defer cancel()
	err := s.backend(key.Tier).Delete(ctx, s.storageKey(key))

	s.apply(key, nil, false)
	if key.Tier == Durable && s.bus != nil {
		s.bus.publish(s, key, nil, false)
	}
	return eris.Wrapf(err, "prefs: delete %s", key.Name)
}

// Subscribe registers fn for changes of key. The returned function
// unsubscribes and is safe to call more than once.
func (s *Store) Subscribe(key Key, fn Callback) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSub++
	id := s.nextSub
	if s.subs[key] == nil {
		s.subs[key] = make(map[uint64]Callback)
	}
	s.subs[key][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[key], id)
			if len(s.subs[key]) == 0 {
				delete(s.subs, key)
			}
		})
	}
}

// Watch subscribes to key and decodes each change into T, passing def when
// the key is removed or malformed.
func Watch[T any](s *Store, key Key, def T, fn func(T)) func() {
	return s.Subscribe(key, func(raw json.RawMessage) {
		if raw == nil {
			fn(def)
			return
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			fn(def)
			return
		}
		fn(v)
	})
}

// Refresh re-reads every cached or subscribed durable key from the backend
// and notifies subscribers of values that changed underneath this context,
// for example when another process wrote the same database file.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	keys := make(map[Key]struct{})
	for k := range s.cache {
		if k.Tier == Durable {
			keys[k] = struct{}{}
		}
	}
	for k := range s.subs {
		if k.Tier == Durable {
			keys[k] = struct{}{}
		}
	}
	s.mu.Unlock()

	for k := range keys {
		raw, ok, err := s.durable.Load(ctx, s.storageKey(k))
		if err != nil {
			return eris.Wrapf(err, "prefs: refresh %s", k.Name)
		}
		s.mu.Lock()
		prev := s.cache[k]
		s.mu.Unlock()
		if prev.present == ok && bytes.Equal(prev.raw, raw) {
			continue
		}
		s.apply(k, raw, ok)
	}
	return nil
}

// Fork creates a context for a duplicated tab: the durable tier and bus
// are shared, the session tier is copied.
func (s *Store) Fork(contextID string) (*Store, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	copied := NewMemory()
	keys, err := s.session.Keys(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "prefs: fork list session keys")
	}
	for _, k := range keys {
		raw, ok, err := s.session.Load(ctx, k)
		if err != nil {
			return nil, eris.Wrapf(err, "prefs: fork load %s", k)
		}
		if ok {
			if err := copied.Save(ctx, k, raw); err != nil {
				return nil, eris.Wrapf(err, "prefs: fork save %s", k)
			}
		}
	}

	return New(Options{
		Namespace: s.namespace,
		ContextID: contextID,
		Durable:   s.durable,
		Session:   copied,
		Bus:       s.bus,
		OpTimeout: s.timeout,
	}), nil
}

// List returns the names of every stored key of tier in this namespace.
func (s *Store) List(tier Tier) ([]string, error) {
	ctx, cancel := s.opContext()
	defer cancel()
	keys, err := s.backend(tier).Keys(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "prefs: list keys")
	}
	prefix := s.namespace + ":"
	var names []string
	for _, k := range keys {
		if name, ok := strings.CutPrefix(k, prefix); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// apply updates the cache and calls subscribers synchronously.
func (s *Store) apply(key Key, raw []byte, present bool) {
	s.mu.Lock()
	s.cache[key] = cached{raw: raw, present: present}
	fns := make([]Callback, 0, len(s.subs[key]))
	for _, fn := range s.subs[key] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	var msg json.RawMessage
	if present {
		msg = bytes.Clone(raw)
	}
	for _, fn := range fns {
		fn(msg)
	}
}
