package vision

import (
	"sync"
	"sync/atomic"
)

// EventBus fans finalized events out to live consumers (websocket
// streams, notifiers). Publish never blocks: a subscriber whose buffer
// is full loses the event and the loss is counted. Persistence does
// not go through the bus, so a slow live consumer can never cost a
// stored event.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[int]chan *Event
	nextID int

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan *Event)}
}

// Subscribe registers a buffered subscriber channel and returns it
// with an unsubscribe func. Unsubscribe closes the channel; it is safe
// to call more than once.
func (b *EventBus) Subscribe(buffer int) (<-chan *Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Publish delivers the event to every subscriber with buffer room.
func (b *EventBus) Publish(e *Event) {
	b.published.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// BusStats reports lifetime bus counters.
type BusStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// Stats returns current subscriber count and delivery counters.
func (b *EventBus) Stats() BusStats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return BusStats{
		Subscribers: n,
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}
