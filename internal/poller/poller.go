// Package poller re-fetches goal-scoped requests while the server is still
// compiling the goal's progress, on a fixed retry schedule, and keeps the
// user informed through persistent and transient notifications.
package poller

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/catalogsync/internal/catalog"
	"github.com/sells-group/catalogsync/internal/metrics"
	"github.com/sells-group/catalogsync/internal/model"
	"github.com/sells-group/catalogsync/internal/notify"
	"github.com/sells-group/catalogsync/internal/resilience"
	"github.com/sells-group/catalogsync/internal/sched"
)

const (
	compilingTitle   = "Compiling goal progress"
	compilingMessage = "Your goal progress is being calculated. Results will appear automatically."
	slowMessage      = "This is taking longer than expected. We'll keep checking in the background."
	retryLabel       = "Retry now"
	readyTitle       = "Goal progress ready"
	readyMessage     = "Your goal progress has finished compiling."
)

// Options configures a Poller.
type Options struct {
	Scheduler sched.Scheduler
	Notifier  notify.Notifier
	// Schedule gives the delay before each retry. Default: resilience.CompilationSchedule.
	Schedule resilience.Schedule
	// SlowAfter is the retry count from which the slow message is shown. Default: 5.
	SlowAfter int
	// Refetch re-issues the request of goalID. Its outcome must be passed
	// back through Observe.
	Refetch func(goalID int)
	// OnChange is called after every state change of a goal.
	OnChange func(model.PollState)
}

type goalState struct {
	state     model.PollState
	slot      *sched.Slot
	message   string
	slowShown bool
}

// Poller tracks the compilation state of goals. It holds at most one retry
// timer per goal.
type Poller struct {
	opts Options

	mu     sync.Mutex
	goals  map[int]*goalState
	closed bool
}

// New creates a poller.
func New(opts Options) *Poller {
	if opts.Scheduler == nil {
		opts.Scheduler = sched.NewReal()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.LogNotifier{}
	}
	if len(opts.Schedule) == 0 {
		opts.Schedule = resilience.CompilationSchedule()
	}
	if opts.SlowAfter <= 0 {
		opts.SlowAfter = 5
	}
	return &Poller{opts: opts, goals: make(map[int]*goalState)}
}

// NotificationID is the persistent notification of goalID.
func NotificationID(goalID int) string {
	return fmt.Sprintf("goal-compiling-%d", goalID)
}

// Status returns the poll state of goalID.
func (p *Poller) Status(goalID int) model.PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.goals[goalID]; ok {
		return clonePollState(g.state)
	}
	return model.IdlePollState(goalID)
}

// Observe feeds the result of a request scoped to goalID.
func (p *Poller) Observe(goalID int, res catalog.Result) {
	if goalID == 0 || res == nil {
		return
	}
	switch r := res.(type) {
	case catalog.Compiling:
		p.compiling(goalID, r)
	case catalog.Ready:
		p.ready(goalID)
	}
}

func (p *Poller) compiling(goalID int, r catalog.Compiling) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	g, ok := p.goals[goalID]
	if !ok {
		g = &goalState{
			state: model.IdlePollState(goalID),
			slot:  sched.NewSlot(p.opts.Scheduler),
		}
		p.goals[goalID] = g
	}

	entering := !g.state.IsCompiling
	if entering {
		g.state.IsCompiling = true
		g.message = compilingMessage
		if r.Message != "" {
			g.message = r.Message
		}
		msg := g.message
		g.state.Message = &msg
	}
	if !g.slot.Pending() {
		delay := p.opts.Schedule.Delay(g.state.RetryCount)
		g.slot.Set(delay, func() { p.fire(goalID, g) })
	}
	snapshot := clonePollState(g.state)
	p.mu.Unlock()

	if entering {
		zap.L().Info("goal compiling", zap.Int("goal_id", goalID))
		p.opts.Notifier.Show(p.notification(goalID, *snapshot.Message))
	}
	p.changed(snapshot)
}

func (p *Poller) ready(goalID int) {
	p.mu.Lock()
	g, ok := p.goals[goalID]
	if !ok || !g.state.IsCompiling {
		p.mu.Unlock()
		return
	}
	g.slot.Cancel()
	retries := g.state.RetryCount
	delete(p.goals, goalID)
	p.mu.Unlock()

	metrics.PollCompletions.Inc()
	zap.L().Info("goal compilation finished",
		zap.Int("goal_id", goalID),
		zap.Int("retries", retries),
	)
	p.opts.Notifier.Close(NotificationID(goalID))
	if retries > 0 {
		p.opts.Notifier.Toast(readyTitle, readyMessage)
	}
	p.changed(model.IdlePollState(goalID))
}

// fire runs when the retry timer of g elapses, or on a manual retry.
func (p *Poller) fire(goalID int, g *goalState) {
	p.mu.Lock()
	if p.closed || p.goals[goalID] != g || !g.state.IsCompiling {
		p.mu.Unlock()
		return
	}
	g.state.RetryCount++
	now := p.opts.Scheduler.Now()
	g.state.LastRetryTime = &now

	swap := g.state.RetryCount >= p.opts.SlowAfter && !g.slowShown
	if swap {
		g.slowShown = true
		g.message = slowMessage
		msg := g.message
		g.state.Message = &msg
	}
	snapshot := clonePollState(g.state)
	p.mu.Unlock()

	metrics.PollRetries.Inc()
	if swap {
		p.opts.Notifier.Close(NotificationID(goalID))
		p.opts.Notifier.Show(p.notification(goalID, slowMessage))
	}
	p.changed(snapshot)
	if p.opts.Refetch != nil {
		p.opts.Refetch(goalID)
	}
}

// RetryNow cancels the pending retry of goalID and re-fetches immediately.
// It reports whether the goal was compiling.
func (p *Poller) RetryNow(goalID int) bool {
	p.mu.Lock()
	g, ok := p.goals[goalID]
	if !ok || !g.state.IsCompiling {
		p.mu.Unlock()
		return false
	}
	g.slot.Cancel()
	p.mu.Unlock()

	p.fire(goalID, g)
	return true
}

// Stop forgets goalID: its timer is cancelled and its notification closed.
// It is called when the view navigates away from the goal.
func (p *Poller) Stop(goalID int) {
	p.mu.Lock()
	g, ok := p.goals[goalID]
	if ok {
		g.slot.Cancel()
		delete(p.goals, goalID)
	}
	p.mu.Unlock()

	if ok && g.state.IsCompiling {
		p.opts.Notifier.Close(NotificationID(goalID))
		p.changed(model.IdlePollState(goalID))
	}
}

// Close stops every goal. Later results are ignored.
func (p *Poller) Close() {
	p.mu.Lock()
	ids := make([]int, 0, len(p.goals))
	for id := range p.goals {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Stop(id)
	}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Pending reports whether goalID has a retry timer waiting.
func (p *Poller) Pending(goalID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.goals[goalID]
	return ok && g.slot.Pending()
}

func (p *Poller) notification(goalID int, message string) notify.Notification {
	return notify.Notification{
		ID:      NotificationID(goalID),
		Title:   compilingTitle,
		Message: message,
		Action: &notify.Action{
			Label: retryLabel,
			Run:   func() { p.RetryNow(goalID) },
		},
	}
}

func (p *Poller) changed(s model.PollState) {
	if p.opts.OnChange != nil {
		p.opts.OnChange(s)
	}
}

func clonePollState(s model.PollState) model.PollState {
	c := s
	if s.Message != nil {
		m := *s.Message
		c.Message = &m
	}
	if s.LastRetryTime != nil {
		t := *s.LastRetryTime
		c.LastRetryTime = &t
	}
	return c
}
