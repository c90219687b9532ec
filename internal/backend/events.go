package backend

import "sync"

// EventBufferSize is the per-subscriber channel capacity.
const EventBufferSize = 32

// Broadcaster fans auth events out to subscribers. Sends never block: a
// subscriber that stops draining loses events rather than stalling the
// session that emits them.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan AuthEvent
	nextID int
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan AuthEvent)}
}

// Subscribe registers a subscriber. The returned func removes it and closes
// its channel; calling it more than once is a no-op.
func (b *Broadcaster) Subscribe() (<-chan AuthEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan AuthEvent, EventBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Emit delivers ev to every subscriber. It reports how many subscribers
// dropped the event because their buffer was full.
func (b *Broadcaster) Emit(ev AuthEvent) (dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel; later subscribers get a closed channel.
func (b *Broadcaster) Close() {
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
