package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus with namespace
// prefix filtering. Delivery is non-blocking: a subscriber that cannot
// keep up loses events rather than stalling publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscription
	next uint64
}

type subscription struct {
	prefix string
	ch     chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscription)}
}

// Publish sends an event to every subscriber whose prefix matches
// evt.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Subscriber buffer full; drop.
		}
	}
}

// Subscribe registers interest in events whose kind starts with prefix.
// bufSize controls the channel buffer. The returned function removes the
// subscription; it is safe to call more than once.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
