// Package notify delivers user-facing notifications: persistent ones that
// stay until closed and may carry an action, and transient toasts.
package notify

import (
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Action is a button on a persistent notification.
type Action struct {
	Label string `json:"label"`
	Run   func() `json:"-"`
}

// Notification is a persistent message. Showing a notification with an ID
// that is already open replaces it.
type Notification struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Message string  `json:"message"`
	Action  *Action `json:"action,omitempty"`
}

// Notifier presents notifications to the user.
type Notifier interface {
	Show(n Notification)
	Close(id string)
	Toast(title, message string)
}

// LogNotifier writes notifications to the global zap logger.
type LogNotifier struct{}

func (LogNotifier) Show(n Notification) {
	zap.L().Info("notification shown",
		zap.String("id", n.ID),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
	)
}

func (LogNotifier) Close(id string) {
	zap.L().Info("notification closed", zap.String("id", id))
}

func (LogNotifier) Toast(title, message string) {
	zap.L().Info("toast", zap.String("title", title), zap.String("message", message))
}

// EventKind is what happened to a notification.
type EventKind string

const (
	EventShow  EventKind = "show"
	EventClose EventKind = "close"
	EventToast EventKind = "toast"
)

// Event is one recorded notifier call.
type Event struct {
	Kind    EventKind `json:"kind"`
	ID      string    `json:"id,omitempty"`
	Title   string    `json:"title,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Recorder keeps the open notifications and a log of every call, and
// forwards to Next when set. The HTTP bridge serves its contents.
type Recorder struct {
	Next Notifier

	mu     sync.Mutex
	open   map[string]Notification
	order  []string
	events []Event
	now    func() time.Time
}

// NewRecorder creates an empty recorder forwarding to next, which may be nil.
func NewRecorder(next Notifier) *Recorder {
	return &Recorder{Next: next, open: make(map[string]Notification), now: time.Now}
}

func (r *Recorder) Show(n Notification) {
	r.mu.Lock()
	if _, ok := r.open[n.ID]; !ok {
		r.order = append(r.order, n.ID)
	}
	r.open[n.ID] = n
	r.events = append(r.events, Event{Kind: EventShow, ID: n.ID, Title: n.Title, Message: n.Message, At: r.now()})
	r.mu.Unlock()
	if r.Next != nil {
		r.Next.Show(n)
	}
}

func (r *Recorder) Close(id string) {
	r.mu.Lock()
	delete(r.open, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	r.events = append(r.events, Event{Kind: EventClose, ID: id, At: r.now()})
	r.mu.Unlock()
	if r.Next != nil {
		r.Next.Close(id)
	}
}

func (r *Recorder) Toast(title, message string) {
	r.mu.Lock()
	r.events = append(r.events, Event{Kind: EventToast, Title: title, Message: message, At: r.now()})
	r.mu.Unlock()
	if r.Next != nil {
		r.Next.Toast(title, message)
	}
}

// Open returns the notifications that are showing, oldest first.
func (r *Recorder) Open() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.open[id])
	}
	return out
}

// Get returns the open notification with id.
func (r *Recorder) Get(id string) (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.open[id]
	return n, ok
}

// Events returns every recorded call in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Trigger runs the action of the open notification id and reports whether
// there was one.
func (r *Recorder) Trigger(id string) bool {
	n, ok := r.Get(id)
	if !ok || n.Action == nil || n.Action.Run == nil {
		return false
	}
	n.Action.Run()
	return true
}
