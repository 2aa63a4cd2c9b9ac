// Package sched provides cancellable delayed execution. The URL reflector,
// the prefetcher and the compilation poller all schedule through it so that
// they share one cancellation discipline and can run on virtual time in tests.
package sched

import (
	"sync"
	"time"
)

// Token is a handle to a scheduled callback.
type Token interface {
	// Cancel prevents the callback from running. It reports whether the
	// callback was still pending.
	Cancel() bool
}

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	Now() time.Time
	AfterFunc(delay time.Duration, fn func()) Token
}

// Real schedules on wall-clock timers.
type Real struct{}

// NewReal returns a wall-clock scheduler.
func NewReal() Real { return Real{} }

// Now returns the current wall-clock time.
func (Real) Now() time.Time { return time.Now() }

// AfterFunc runs fn on its own goroutine once delay has elapsed.
func (Real) AfterFunc(delay time.Duration, fn func()) Token {
	return timerToken{t: time.AfterFunc(delay, fn)}
}

type timerToken struct {
	t *time.Timer
}

func (tt timerToken) Cancel() bool { return tt.t.Stop() }

// Slot holds at most one pending callback. Setting a new callback cancels
// the previous one, and a callback that was already dequeued by the
// underlying scheduler when it was replaced or cancelled is dropped instead
// of run.
type Slot struct {
	s Scheduler

	mu    sync.Mutex
	gen   uint64
	token Token
}

// NewSlot creates an empty slot bound to s.
func NewSlot(s Scheduler) *Slot {
	return &Slot{s: s}
}

// Set replaces any pending callback with fn, due after delay.
func (sl *Slot) Set(delay time.Duration, fn func()) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.token != nil {
		sl.token.Cancel()
	}
	sl.gen++
	gen := sl.gen
	sl.token = sl.s.AfterFunc(delay, func() {
		sl.mu.Lock()
		if sl.gen != gen || sl.token == nil {
			sl.mu.Unlock()
			return
		}
		sl.token = nil
		sl.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending callback, if any, and reports whether one was pending.
func (sl *Slot) Cancel() bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.token == nil {
		return false
	}
	sl.token.Cancel()
	sl.token = nil
	sl.gen++
	return true
}

// Pending reports whether a callback is waiting to run.
func (sl *Slot) Pending() bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.token != nil
}
