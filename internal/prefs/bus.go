package prefs

import (
	"sync"
)

type busEvent struct {
	origin  *Store
	key     Key
	raw     []byte
	present bool
}

// Bus fans durable preference changes out to every other Store in the same
// namespace. Delivery is asynchronous and preserves publish order.
type Bus struct {
	mu      sync.Mutex
	members map[*Store]struct{}
	queue   []busEvent
	wake    chan struct{}
	done    chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewBus starts a bus dispatcher. Close stops it.
func NewBus() *Bus {
	b := &Bus{
		members: make(map[*Store]struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

func (b *Bus) join(s *Store) func() {
	b.mu.Lock()
	b.members[s] = struct{}{}
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.members, s)
		b.mu.Unlock()
	}
}

func (b *Bus) publish(origin *Store, key Key, raw []byte, present bool) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, busEvent{origin: origin, key: key, raw: raw, present: present})
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bus) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}
		for {
			b.mu.Lock()
			if len(b.queue) == 0 {
				b.mu.Unlock()
				break
			}
			ev := b.queue[0]
			b.queue = b.queue[1:]
			targets := make([]*Store, 0, len(b.members))
			for m := range b.members {
				if m != ev.origin && m.namespace == ev.origin.namespace {
					targets = append(targets, m)
				}
			}
			b.mu.Unlock()

			for _, m := range targets {
				m.apply(ev.key, ev.raw, ev.present)
			}
		}
	}
}

// Close stops delivery. Queued events are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.queue = nil
	b.mu.Unlock()
	close(b.done)
	b.wg.Wait()
}
