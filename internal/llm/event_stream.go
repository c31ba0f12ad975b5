package llm

import (
	"context"
	"io"
	"sync"
)

// eventStream adapts a push-style producer function into the pull-style
// Stream interface: the producer runs on its own goroutine writing to a
// channel, and Recv drains it one event at a time.
type eventStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	errCh  chan error

	closeOnce sync.Once
}

// newEventStream starts fn on its own goroutine and returns a Stream that
// yields whatever events fn sends on the channel it's given, until fn
// returns. A non-nil return from fn surfaces as the error from the Recv call
// that drains the final (closed) event; a nil return surfaces as io.EOF.
func newEventStream(ctx context.Context, fn func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, 32),
		errCh:  make(chan error, 1),
	}

	go func() {
		err := fn(ctx, s.events)
		if err != nil {
			s.errCh <- err
		}
		close(s.events)
	}()

	return s
}

func (s *eventStream) Recv() (Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			select {
			case err := <-s.errCh:
				return Event{}, err
			default:
				return Event{}, io.EOF
			}
		}
		return ev, nil
	case <-s.ctx.Done():
		return Event{}, s.ctx.Err()
	}
}

func (s *eventStream) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}
