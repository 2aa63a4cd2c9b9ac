package sched

import (
	"sync"
	"time"
)

// Manual is a virtual-time scheduler. Callbacks only run from Advance, on
// the caller's goroutine, in due-time order (ties in scheduling order).
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers map[uint64]*manualTimer
}

type manualTimer struct {
	m   *Manual
	id  uint64
	due time.Time
	fn  func()
}

// NewManual creates a virtual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, timers: make(map[uint64]*manualTimer)}
}

// Now returns the current virtual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc registers fn to run once the virtual clock reaches now+delay.
func (m *Manual) AfterFunc(delay time.Duration, fn func()) Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	if delay < 0 {
		delay = 0
	}
	m.seq++
	t := &manualTimer{m: m, id: m.seq, due: m.now.Add(delay), fn: fn}
	m.timers[t.id] = t
	return t
}

// Cancel removes the timer if it has not fired.
func (t *manualTimer) Cancel() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if _, ok := t.m.timers[t.id]; !ok {
		return false
	}
	delete(t.m.timers, t.id)
	return true
}

// Advance moves the clock forward by d, running every callback that falls
// due, including callbacks scheduled by callbacks. It returns how many ran.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	fired := 0
	for {
		m.mu.Lock()
		next := m.earliestLocked()
		if next == nil || next.due.After(target) {
			m.now = target
			m.mu.Unlock()
			return fired
		}
		delete(m.timers, next.id)
		if next.due.After(m.now) {
			m.now = next.due
		}
		m.mu.Unlock()

		next.fn()
		fired++
	}
}

// Pending returns the number of timers that have not fired or been cancelled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// NextDue returns the due time of the earliest pending timer.
func (m *Manual) NextDue() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.earliestLocked()
	if t == nil {
		return time.Time{}, false
	}
	return t.due, true
}

func (m *Manual) earliestLocked() *manualTimer {
	var best *manualTimer
	for _, t := range m.timers {
		if best == nil || t.due.Before(best.due) || (t.due.Equal(best.due) && t.id < best.id) {
			best = t
		}
	}
	return best
}
