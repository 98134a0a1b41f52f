package events

import (
	"sync"
	"sync/atomic"
)

// wildcard is the internal topic key for SubscribeAll subscribers.
const wildcard = "*"

const defaultBuffer = 256

// Subscription is a buffered stream of events from an EventBus.
type Subscription struct {
	C     <-chan Event
	ch    chan Event
	topic string
}

// EventBus is a channel-based topic pub/sub bus. Publishing never blocks:
// a subscriber whose buffer is full misses the event and the drop is counted.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string][]*Subscription
	closed  bool
	dropped atomic.Uint64
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[string][]*Subscription),
	}
}

// Subscribe receives events published to topic. bufSize <= 0 means 256.
func (b *EventBus) Subscribe(topic string, bufSize int) *Subscription {
	return b.subscribe(topic, bufSize)
}

// SubscribeAll receives events from every topic.
func (b *EventBus) SubscribeAll(bufSize int) *Subscription {
	return b.subscribe(wildcard, bufSize)
}

func (b *EventBus) subscribe(topic string, bufSize int) *Subscription {
	if bufSize <= 0 {
		bufSize = defaultBuffer
	}
	ch := make(chan Event, bufSize)
	sub := &Subscription{C: ch, ch: ch, topic: topic}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return sub
	}
	b.subs[topic] = append(b.subs[topic], sub)
	return sub
}

// Unsubscribe detaches sub and closes its channel. Unknown subscriptions are ignored.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	list := b.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			b.subs[sub.topic] = append(list[:i:i], list[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Publish delivers event to topic subscribers and SubscribeAll subscribers.
func (b *EventBus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.deliver(b.subs[topic], event)
	if topic != wildcard {
		b.deliver(b.subs[wildcard], event)
	}
}

func (b *EventBus) deliver(subs []*Subscription, event Event) {
	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Safe to call multiple times.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, list := range b.subs {
		for _, s := range list {
			close(s.ch)
		}
	}
	b.subs = nil
}
