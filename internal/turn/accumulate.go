package turn

import (
	"context"
	"strings"
	"time"

	"github.com/sacenox/jarvis-core/internal/event"
	"github.com/sacenox/jarvis-core/internal/provider"
)

// pendingToolCall is one tool-use block surfaced by ToolInputReady, captured
// in request order so the loop can dispatch them sequentially (§4.3 step 5).
type pendingToolCall struct {
	id    string
	name  string
	input []byte
}

// turnAccumulator collects one provider stream's content into the pieces
// §4.3 step 5 needs to commit an assistant message: text, reasoning blocks
// (with their replay tokens), and the tool calls requested along the way.
// The provider adapters already resolve per-content-block-index ordering
// internally (see internal/provider/accumulator.go); this accumulator only
// needs to append in the order events arrive.
type turnAccumulator struct {
	text      strings.Builder
	reasoning []event.Part
	toolCalls []pendingToolCall
	errKind   event.ErrorKind
}

func (a *turnAccumulator) assistantMessage() event.Message {
	var parts []event.Part
	parts = append(parts, a.reasoning...)
	if a.text.Len() > 0 {
		parts = append(parts, event.Part{Type: event.PartText, Text: a.text.String()})
	}
	for _, tc := range a.toolCalls {
		parts = append(parts, event.Part{Type: event.PartToolUse, ToolUseID: tc.id, ToolName: tc.name, ToolInput: tc.input})
	}
	return event.Message{Role: event.RoleAssistant, Parts: parts}
}

// recvResult is one item off a stream's background poll loop: either an
// event, end-of-stream, or a terminal error.
type recvResult struct {
	ev  event.AgentEvent
	ok  bool
	err error
}

// pollStream runs stream.Recv() on its own goroutine and republishes each
// result onto ch, so the caller can select against it alongside a timeout
// and the interrupt wake channel without blocking past pollTimeout (§4.3
// step 2: "Poll with a bounded timeout (~250ms) so cancellation is checked
// even if the stream stalls"). done bounds the goroutine's lifetime once
// the consumer stops reading: the in-flight Recv() is left to return on its
// own (the caller closes the underlying stream, which unblocks it), but the
// result is then discarded instead of blocking forever on an unread send.
func pollStream(ctx context.Context, stream provider.Stream, ch chan<- recvResult) {
	for {
		ev, ok, err := stream.Recv()
		select {
		case ch <- recvResult{ev: ev, ok: ok, err: err}:
		case <-ctx.Done():
			return
		}
		if !ok {
			return
		}
	}
}

// consumeStream drains one provider stream per §4.3 steps 2-4, forwarding
// every event onto the bus and feeding the turnAccumulator, until the
// stream ends or an Error event signals failure. It checks the interrupt
// flag at every poll-timeout tick, so a stalled stream never blocks
// cancellation for more than pollTimeout.
func (l *Loop) consumeStream(ctx context.Context, stream provider.Stream) (*turnAccumulator, error) {
	acc := &turnAccumulator{}
	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	ch := make(chan recvResult)
	go pollStream(pollCtx, stream, ch)

	var wake <-chan struct{}
	if l.Interrupt != nil {
		wake = l.Interrupt.Wait()
	}

	for {
		select {
		case res := <-ch:
			if !res.ok {
				if res.err != nil {
					acc.errKind = event.ErrAPIError
					return acc, res.err
				}
				return acc, nil
			}
			l.applyEvent(ctx, acc, res.ev)
			if res.ev.Kind == event.Error {
				acc.errKind = res.ev.ErrKind
				return acc, errFromEvent(res.ev)
			}

		case <-wake:
			// Interrupt fired: stop draining and let the caller (Run) act
			// on l.Interrupt.Requested() at the next step-6 boundary. The
			// provider's own goroutine is torn down via stream.Close() by
			// the caller; we don't raise from here (§4.3 step 6: "Do not
			// raise from the provider call itself on cancellation").
			return acc, nil

		case <-time.After(pollTimeout):
			if l.Interrupt != nil && l.Interrupt.Requested() {
				return acc, nil
			}

		case <-ctx.Done():
			return acc, ctx.Err()
		}
	}
}

// applyEvent forwards ev onto the bus and, for the kinds that contribute to
// the eventual assistant message, updates acc.
func (l *Loop) applyEvent(ctx context.Context, acc *turnAccumulator, ev event.AgentEvent) {
	l.publish(ctx, ev)

	switch ev.Kind {
	case event.AssistantDelta:
		acc.text.WriteString(ev.Text)
	case event.ToolInputReady:
		acc.toolCalls = append(acc.toolCalls, pendingToolCall{id: ev.ToolID, name: ev.ToolName, input: ev.ToolInput})
	case event.ThinkingComplete:
		if len(ev.Messages) > 0 {
			acc.reasoning = append(acc.reasoning, ev.Messages[0].Parts...)
		}
	}
}

func errFromEvent(ev event.AgentEvent) error {
	return &streamError{kind: ev.ErrKind, message: ev.Message}
}

type streamError struct {
	kind    event.ErrorKind
	message string
}

func (e *streamError) Error() string { return e.message }
