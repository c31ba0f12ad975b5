package provider

import (
	"context"

	"github.com/sacenox/jarvis-core/internal/event"
)

// channelStream runs a producer function on its own goroutine, feeding
// normalized events into a buffered channel that Recv drains. Grounded on
// the teacher's newEventStream (internal/llm/provider.go), generalized to
// emit event.AgentEvent instead of the teacher's flat Event type.
type channelStream struct {
	events chan event.AgentEvent
	errc   chan error
	cancel context.CancelFunc
	err    error
	done   bool
}

func newChannelStream(ctx context.Context, produce func(ctx context.Context, events chan<- event.AgentEvent) error) *channelStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &channelStream{
		events: make(chan event.AgentEvent, 64),
		errc:   make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		defer close(s.events)
		s.errc <- produce(ctx, s.events)
	}()
	return s
}

// Recv returns the next event. ok is false once the stream is exhausted;
// err is non-nil only if the producer failed.
func (s *channelStream) Recv() (event.AgentEvent, bool, error) {
	if s.done {
		return event.AgentEvent{}, false, s.err
	}
	ev, ok := <-s.events
	if ok {
		return ev, true, nil
	}
	s.done = true
	s.err = <-s.errc
	return event.AgentEvent{}, false, s.err
}

func (s *channelStream) Close() error {
	s.cancel()
	return nil
}
