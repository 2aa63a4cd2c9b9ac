// Package resilience provides retry and backoff policies for catalog API
// calls and for the goal compilation poller.
package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff maps a zero-based retry attempt to the delay before it.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Exponential grows the delay by Multiplier per attempt up to Max, with
// optional ±Jitter fraction.
type Exponential struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultExponential is the backoff used for transient network errors.
func DefaultExponential() Exponential {
	return Exponential{
		Initial:    500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.25,
	}
}

// Delay returns the backoff before the given attempt.
func (e Exponential) Delay(attempt int) time.Duration {
	if e.Initial <= 0 {
		e.Initial = 500 * time.Millisecond
	}
	if e.Max <= 0 {
		e.Max = 30 * time.Second
	}
	if e.Multiplier <= 0 {
		e.Multiplier = 2.0
	}

	delay := float64(e.Initial) * math.Pow(e.Multiplier, float64(attempt))
	if delay > float64(e.Max) {
		delay = float64(e.Max)
	}
	if e.Jitter > 0 {
		spread := delay * e.Jitter
		delay += (rand.Float64()*2 - 1) * spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Schedule is a fixed list of delays. Attempts past the end hold at the
// last delay, so a Schedule never runs out.
type Schedule []time.Duration

// CompilationSchedule is the retry schedule for goals whose progress is
// still being computed server-side.
func CompilationSchedule() Schedule {
	return Schedule{
		2 * time.Second,
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		35 * time.Second,
	}
}

// ScheduleFromMillis builds a Schedule from config values, ignoring
// non-positive entries. An empty result falls back to CompilationSchedule.
func ScheduleFromMillis(ms []int) Schedule {
	var s Schedule
	for _, v := range ms {
		if v > 0 {
			s = append(s, time.Duration(v)*time.Millisecond)
		}
	}
	if len(s) == 0 {
		return CompilationSchedule()
	}
	return s
}

// Delay returns the scheduled delay for attempt.
func (s Schedule) Delay(attempt int) time.Duration {
	if len(s) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(s) {
		return s[len(s)-1]
	}
	return s[attempt]
}
