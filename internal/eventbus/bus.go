// Package eventbus is an in-memory, non-blocking fanout for lifecycle events
// (dispatch runs, fires, notifier deliveries).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a small signal. Data should be JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus contract:
//   - Publish never blocks.
//   - Subscribers get a buffered channel; when it is full the event is
//     dropped for that subscriber and counted.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

type subscriber struct {
	ch      chan Event
	dropped atomic.Uint64
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// New returns a bus with no background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock; unsubscribe closes under the write
	// lock, so a send never races a close.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

// Dropped returns how many deliveries were dropped on full subscribers.
func Dropped(b Bus) uint64 {
	if mb, ok := b.(*memBus); ok {
		return mb.dropped.Load()
	}
	return 0
}
