// Package events fans host lifecycle events out to streaming
// subscribers. The installer publishes pipeline stages, the surface
// manager publishes open/close/injection, and the API layer publishes
// registry changes.
package events

import (
	"sync"

	"github.com/skiff-browser/exthost/internal/shared/types"
)

const subscriberBuffer = 64

// Bus is an in-process broadcast hub. Publishing never blocks: a
// subscriber that falls behind loses events rather than stalling the
// publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan types.Event
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan types.Event)}
}

// Subscribe registers a subscriber. The cancel function removes the
// subscription and closes the channel; it is safe to call more than
// once.
func (b *Bus) Subscribe() (<-chan types.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan types.Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers ev to every subscriber with room in its buffer.
func (b *Bus) Publish(ev types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber, drop.
		}
	}
}

// Subscribers returns the live subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
