package urlsync

import (
	"slices"
	"strings"
	"sync"
)

// AddressBar is the location of one browsing context.
type AddressBar interface {
	// Query returns the current query string without the leading '?'.
	Query() string
	// Replace swaps the query of the current history entry.
	Replace(query string)
}

// MemoryAddressBar is an AddressBar with a history stack. Push adds an
// entry the way a page navigation does; Replace never does.
type MemoryAddressBar struct {
	mu       sync.Mutex
	path     string
	history  []string
	replaces int
}

// NewMemoryAddressBar starts at path?query.
func NewMemoryAddressBar(path, query string) *MemoryAddressBar {
	return &MemoryAddressBar{path: path, history: []string{strings.TrimPrefix(query, "?")}}
}

func (b *MemoryAddressBar) Query() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history[len(b.history)-1]
}

func (b *MemoryAddressBar) Replace(query string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history[len(b.history)-1] = strings.TrimPrefix(query, "?")
	b.replaces++
}

// Push navigates to a new history entry.
func (b *MemoryAddressBar) Push(query string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, strings.TrimPrefix(query, "?"))
}

// Path returns the location path.
func (b *MemoryAddressBar) Path() string { return b.path }

// URL returns path?query, or just path for an empty query.
func (b *MemoryAddressBar) URL() string {
	q := b.Query()
	if q == "" {
		return b.path
	}
	return b.path + "?" + q
}

// History returns every entry, oldest first.
func (b *MemoryAddressBar) History() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.history)
}

// Replaces counts Replace calls.
func (b *MemoryAddressBar) Replaces() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.replaces
}
