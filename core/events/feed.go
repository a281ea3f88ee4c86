package events

import (
	"sync"

	"tgeledger/core/types"
)

const defaultFeedBuffer = 64

// Feed is an Emitter that broadcasts rendered events to live subscribers.
// Slow subscribers lose events rather than blocking the ledger.
type Feed struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan *types.Event
	dropped uint64
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan *types.Event)}
}

// Subscribe registers a new subscriber. The returned cancel function closes
// the channel and must be called once.
func (f *Feed) Subscribe(buffer int) (<-chan *types.Event, func()) {
	if buffer <= 0 {
		buffer = defaultFeedBuffer
	}
	ch := make(chan *types.Event, buffer)
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Emit implements Emitter.
func (f *Feed) Emit(evt Event) {
	payload := Render(evt)
	if payload == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- payload.Clone():
		default:
			f.dropped++
		}
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was
// full.
func (f *Feed) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Subscribers returns the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
