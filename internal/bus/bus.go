// Package bus implements the bounded MPSC event channel with fan-out
// described in spec §4.4: a single source receiver feeds N sink senders,
// best-effort for high-volume deltas and reliable (blocking) for lifecycle
// events, never letting one slow consumer block another.
package bus

import (
	"context"
	"sync"

	"github.com/sacenox/jarvis-core/internal/event"
)

// Capacity is the default bounded channel size for both the source and each
// sink, per §4.4 ("capacity ~128").
const Capacity = 128

// Bus owns the source channel the turn loop publishes to and fans events out
// to every registered sink. One Bus instance is used per turn loop run.
type Bus struct {
	source chan event.AgentEvent

	mu    sync.Mutex
	sinks map[string]chan event.AgentEvent

	done chan struct{}
	once sync.Once
}

// New creates a Bus and starts its fan-out goroutine. Cancel ctx to stop
// fan-out (remaining buffered sinks are simply abandoned).
func New(ctx context.Context) *Bus {
	b := &Bus{
		source: make(chan event.AgentEvent, Capacity),
		sinks:  make(map[string]chan event.AgentEvent),
		done:   make(chan struct{}),
	}
	go b.fanOut(ctx)
	return b
}

// Subscribe registers a new sink under name and returns its receive channel.
// Subscribing after fan-out has started is safe.
func (b *Bus) Subscribe(name string) <-chan event.AgentEvent {
	ch := make(chan event.AgentEvent, Capacity)
	b.mu.Lock()
	b.sinks[name] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a sink. Safe to call more than once.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	ch, ok := b.sinks[name]
	if ok {
		delete(b.sinks, name)
	}
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Publish is how the turn loop emits an event. It blocks if the bounded
// source channel is full, which is the only hop in the pipeline allowed to
// apply back-pressure to the turn loop (§4.4).
func (b *Bus) Publish(ctx context.Context, ev event.AgentEvent) {
	select {
	case b.source <- ev:
	case <-ctx.Done():
	case <-b.done:
	}
}

// Close stops fan-out and closes every remaining sink.
func (b *Bus) Close() {
	b.once.Do(func() {
		close(b.done)
		b.mu.Lock()
		for name, ch := range b.sinks {
			delete(b.sinks, name)
			close(ch)
		}
		b.mu.Unlock()
	})
}

func (b *Bus) fanOut(ctx context.Context) {
	defer b.Close()
	for {
		select {
		case ev, ok := <-b.source:
			if !ok {
				return
			}
			b.deliver(ev)
		case <-ctx.Done():
			return
		case <-b.done:
			return
		}
	}
}

// deliver sends ev to every sink according to the event kind's delivery
// discipline. Reliable events block (bounded by ctx via the caller having
// already published); best-effort events try-send and drop per-consumer on
// Full. A sink is removed only when found Closed (send on a closed channel
// panics in Go, so closed sinks are removed via Unsubscribe instead — here
// "Closed" is modeled as the sink simply no longer present in b.sinks).
func (b *Bus) deliver(ev event.AgentEvent) {
	b.mu.Lock()
	targets := make([]chan event.AgentEvent, 0, len(b.sinks))
	for _, ch := range b.sinks {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	reliable := ev.Kind.Delivery() == event.Reliable
	for _, ch := range targets {
		if reliable {
			select {
			case ch <- ev:
			case <-b.done:
				return
			}
			continue
		}
		select {
		case ch <- ev:
		default:
			// Full: drop this event for this consumer only.
		}
	}
}
