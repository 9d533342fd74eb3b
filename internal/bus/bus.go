package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"tradeflow/internal/schema"
)

var (
	ErrBusClosed     = errors.New("event bus closed")
	ErrDuplicateName = errors.New("subscriber name already registered")
	ErrQueueFull     = errors.New("subscriber queue full")
)

// Event is the unit passed through the in-memory bus.
// Exactly one payload field is valid, selected by Header.Type.
type Event struct {
	Header schema.EventHeader
	Tick   schema.Tick
	Gap    schema.Gap
}

// Subscriber receives events through a bounded queue. A slow subscriber
// drops its own events and never stalls the producer or its peers.
type Subscriber struct {
	name     string
	ch       chan Event
	drops    atomic.Uint64
	pressure atomic.Bool
	closed   atomic.Bool
}

// Name returns the subscriber's registered name.
func (s *Subscriber) Name() string {
	return s.name
}

// Events exposes the subscriber's queue for direct consumption.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Drops returns how many events were discarded because the queue was full.
func (s *Subscriber) Drops() uint64 {
	return s.drops.Load()
}

// Backpressured reports whether the last publish found the queue full.
// The flag clears once a publish succeeds again.
func (s *Subscriber) Backpressured() bool {
	return s.pressure.Load()
}

// Run consumes events until the context is done or the subscriber is removed.
func (s *Subscriber) Run(ctx context.Context, handler func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.ch:
			if !ok {
				return
			}
			handler(e)
		}
	}
}

// Bus fans events out to subscribers with per-subscriber bounded queues.
// For a single producer, every subscriber observes events in publish order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscriber
	order  []*Subscriber
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]*Subscriber)}
}

// Subscribe registers a named subscriber with the given queue capacity.
func (b *Bus) Subscribe(name string, capacity int) (*Subscriber, error) {
	if capacity <= 0 {
		capacity = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	if _, ok := b.subs[name]; ok {
		return nil, ErrDuplicateName
	}
	sub := &Subscriber{name: name, ch: make(chan Event, capacity)}
	b.subs[name] = sub
	b.order = append(b.order, sub)
	return sub, nil
}

// Unsubscribe removes a subscriber and closes its queue.
// Safe to call concurrently with Publish.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	current, ok := b.subs[sub.name]
	if !ok || current != sub {
		return
	}
	delete(b.subs, sub.name)
	for i, s := range b.order {
		if s == sub {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	if sub.closed.CompareAndSwap(false, true) {
		close(sub.ch)
	}
}

// Publish delivers the event to every subscriber without blocking.
// A full queue drops the event for that subscriber only and returns
// ErrQueueFull after attempting all deliveries.
func (b *Bus) Publish(e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	var dropped bool
	for _, sub := range b.order {
		select {
		case sub.ch <- e:
			sub.pressure.Store(false)
		default:
			sub.drops.Add(1)
			sub.pressure.Store(true)
			dropped = true
		}
	}
	if dropped {
		return ErrQueueFull
	}
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

// Close stops the bus and closes all subscriber queues.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.order {
		if sub.closed.CompareAndSwap(false, true) {
			close(sub.ch)
		}
	}
	b.order = nil
	b.subs = make(map[string]*Subscriber)
}
