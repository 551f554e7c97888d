package events

import (
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 64

// Feed fans events out to any number of subscribers. Slow subscribers do not
// block emitters: when a subscriber's buffer is full the event is dropped for
// that subscriber and counted in Dropped.
type Feed struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]chan Event
	dropped atomic.Uint64
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[uint64]chan Event)}
}

// Emit implements the Emitter interface.
func (f *Feed) Emit(evt Event) {
	if f == nil || evt == nil {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- evt:
		default:
			f.dropped.Add(1)
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function closes
// the channel and must be called once the subscriber is done.
func (f *Feed) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of active subscribers.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (f *Feed) Dropped() uint64 {
	return f.dropped.Load()
}

// Multi fans a single emission out to several emitters in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}
