// Package events fans host-side status events out to UI subscribers.
package events

import (
	"sync"
	"time"

	"github.com/meetscribe/meetscribe/internal/types"
)

// Bus is a small publish/subscribe fan-out. Slow subscribers drop events
// rather than block publishers; the worker and session controller must
// never stall on a UI consumer.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan types.Event
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan types.Event)}
}

// Publish delivers ev to every subscriber. Stamps At when unset.
func (b *Bus) Publish(ev types.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release the channel.
func (b *Bus) Subscribe() (<-chan types.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan types.Event, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}
