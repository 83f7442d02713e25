package kv

import "sync"

// Event describes one change to a key in the shared store. A nil Value means
// the key was removed. Origin identifies the writer so subscribers can skip
// their own writes; a cache applies its own mutations directly and must not
// replay them.
type Event struct {
	Key    string
	Value  []byte
	Origin string
}

// Bus fans change events out to subscribers within one process. Writes made by
// other processes sharing a durable store never appear here; callers that need
// to notice those must reconcile explicitly.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	origin string
	key    string
	ch     chan Event
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe registers interest in changes to key made by origins other than
// the given one. The returned cancel func releases the subscription; after
// cancel returns the channel is closed.
func (b *Bus) Subscribe(origin, key string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscription{
		origin: origin,
		key:    key,
		ch:     make(chan Event, 16),
	}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Publish delivers evt to every matching subscriber. Delivery is best effort:
// a subscriber that has fallen 16 events behind misses the event rather than
// blocking the writer.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.key != evt.Key || sub.origin == evt.Origin {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}
