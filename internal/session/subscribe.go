package session

import (
	"slices"

	"github.com/sells-group/catalogsync/internal/model"
	"github.com/sells-group/catalogsync/internal/notify"
	"github.com/sells-group/catalogsync/internal/prefs"
	"github.com/sells-group/catalogsync/internal/reqcache"
)

// OnStateChange registers fn for every state change. The returned func
// unsubscribes.
func (s *Session) OnStateChange(fn func(model.SearchState)) func() {
	return subscribe(s, s.stateSubs, fn)
}

// OnResult registers fn for every settled request of the session,
// including requests superseded by a later state.
func (s *Session) OnResult(fn func(reqcache.Entry)) func() {
	return subscribe(s, s.resultSubs, fn)
}

// OnCompilationChange registers fn for every poll state change.
func (s *Session) OnCompilationChange(fn func(model.PollState)) func() {
	return subscribe(s, s.pollSubs, fn)
}

func subscribe[F any](s *Session, subs map[uint64]F, fn F) func() {
	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(subs, id)
		s.subMu.Unlock()
	}
}

func snapshot[F any](s *Session, subs map[uint64]F) []F {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]F, 0, len(ids))
	for _, id := range ids {
		out = append(out, subs[id])
	}
	return out
}

func (s *Session) emitState(st model.SearchState) {
	for _, fn := range snapshot(s, s.stateSubs) {
		fn(st.Clone())
	}
}

func (s *Session) emitResult(e reqcache.Entry) {
	for _, fn := range snapshot(s, s.resultSubs) {
		fn(e)
	}
}

func (s *Session) emitPoll(ps model.PollState) {
	for _, fn := range snapshot(s, s.pollSubs) {
		fn(ps)
	}
}

// DismissMessage closes notification id and keeps it closed for the rest
// of the tab's life, including tabs duplicated from it.
func (s *Session) DismissMessage(id string) error {
	s.notifier.Close(id)
	ids := prefs.Get(s.store, prefs.KeyDismissedMessages, []string{})
	if slices.Contains(ids, id) {
		return nil
	}
	return prefs.Set(s.store, prefs.KeyDismissedMessages, append(ids, id))
}

// Dismissed reports whether notification id was dismissed in this tab.
func (s *Session) Dismissed(id string) bool {
	return slices.Contains(prefs.Get(s.store, prefs.KeyDismissedMessages, []string{}), id)
}

// dismissFilter drops persistent notifications the user dismissed.
type dismissFilter struct {
	next  notify.Notifier
	store *prefs.Store
}

func (d *dismissFilter) Show(n notify.Notification) {
	if slices.Contains(prefs.Get(d.store, prefs.KeyDismissedMessages, []string{}), n.ID) {
		return
	}
	d.next.Show(n)
}

func (d *dismissFilter) Close(id string) { d.next.Close(id) }

func (d *dismissFilter) Toast(title, message string) { d.next.Toast(title, message) }
