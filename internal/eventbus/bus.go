package eventbus

import (
	"sync"
	"time"
)

// Event types emitted by the publication loop.
const (
	PostScheduled = "publisher.scheduled"
	PostPublished = "publisher.posted"
	PostSkipped   = "publisher.skipped"
	PostFailed    = "publisher.failed"
	LoopRecovered = "publisher.recovered"
	LoopCancelled = "publisher.cancelled"
)

// Event is a small in-memory signal between components.
//
// Publish never blocks: subscribers get buffered channels and a slow
// subscriber loses events instead of stalling the publisher.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// RunInfo is the payload of publisher.* events.
type RunInfo struct {
	RunID  string
	Next   time.Time
	Forced bool
	Err    error
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock so Unsubscribe (write lock) can
	// never close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
