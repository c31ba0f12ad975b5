// Package turn implements the turn loop of spec §4.3: one user → assistant
// exchange, possibly multi-step, until the model emits a non-tool stop.
// Grounded on the teacher's internal/llm/engine.go runLoop, generalized from
// the teacher's single Anthropic-family wire format to the provider-agnostic
// event.AgentEvent stream produced by internal/provider.
package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sacenox/jarvis-core/internal/bus"
	"github.com/sacenox/jarvis-core/internal/event"
	"github.com/sacenox/jarvis-core/internal/interrupt"
	"github.com/sacenox/jarvis-core/internal/provider"
)

// pollTimeout bounds how long a single Stream.Recv() poll blocks before the
// loop re-checks the interrupt flag, per §4.3 step 2 ("≈250 ms").
const pollTimeout = 250 * time.Millisecond

// ToolExecutor dispatches one model-requested tool call and returns its
// result envelope. Implementations must never panic across this boundary;
// a failing tool call is reported via event.Failure, not a Go error, so the
// tool-result-completeness invariant (exactly one result per call) holds
// even when execution goes wrong.
type ToolExecutor interface {
	Execute(ctx context.Context, toolID, toolName string, input json.RawMessage) event.ToolOutput
}

// Request is one call to Run: the full message history so far, the tool
// catalog and system prompt to send, and the reasoning/caching knobs.
type Request struct {
	Messages     []event.Message
	Tools        []provider.ToolSpec
	System       string
	Reasoning    provider.ReasoningLevel
	Model        string
	CacheControl bool

	// MaxIterations bounds step-5-loops-to-step-1 repetitions within one
	// Run call, guarding against a model that never stops calling tools.
	MaxIterations int
}

const defaultMaxIterations = 50

// Result is what Run returns once the turn reaches a non-tool stop, is
// interrupted, or fails.
type Result struct {
	// Messages is the full history, including every assistant and
	// synthetic tool-result message committed during this run.
	Messages []event.Message
	// FinalText is the last assistant turn's concatenated text content.
	FinalText string
	// Interrupted is true if the loop stopped because the Coordinator
	// fired rather than because the model reached a non-tool stop.
	Interrupted bool
}

// Loop drives one Provider through the §4.3 algorithm, publishing every
// event onto a Bus and dispatching tool calls through a ToolExecutor.
type Loop struct {
	Provider  provider.Provider
	Bus       *bus.Bus
	Interrupt *interrupt.Coordinator
	Tools     ToolExecutor
}

// Run executes the algorithm in spec §4.3 to completion: step 1 builds and
// opens the provider request, steps 3-4 consume the stream and accumulate
// tool input, step 5 either commits a tool round and loops or commits a
// final assistant turn and returns, and step 6 applies at every boundary.
func (l *Loop) Run(ctx context.Context, req Request) (Result, error) {
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	messages := append([]event.Message(nil), req.Messages...)

	for iter := 0; iter < maxIter; iter++ {
		if l.Interrupt != nil && l.Interrupt.Requested() {
			return l.finishInterrupted(ctx, messages)
		}

		l.publish(ctx, event.AgentEvent{Kind: event.TurnStarted})

		stream, err := l.Provider.Send(ctx, provider.Request{
			Messages:     messages,
			Tools:        req.Tools,
			System:       req.System,
			Reasoning:    req.Reasoning,
			Model:        req.Model,
			CacheControl: req.CacheControl,
		})
		if err != nil {
			l.publishError(ctx, event.ErrAPIError, err)
			return Result{Messages: messages}, err
		}

		turn, err := l.consumeStream(ctx, stream)
		stream.Close()
		if err != nil {
			l.publishError(ctx, turn.errKind, err)
			return Result{Messages: messages}, err
		}

		if l.Interrupt != nil && l.Interrupt.Requested() {
			messages = append(messages, turn.assistantMessage())
			return l.finishInterruptedDuringTools(ctx, messages, turn.toolCalls)
		}

		assistantMsg := turn.assistantMessage()

		if len(turn.toolCalls) == 0 {
			messages = append(messages, assistantMsg)
			l.publish(ctx, event.AgentEvent{Kind: event.AssistantComplete, Messages: []event.Message{assistantMsg}})
			l.publish(ctx, event.AgentEvent{Kind: event.TurnComplete, FinalText: assistantMsg.Text(), Messages: messages})
			return Result{Messages: messages, FinalText: assistantMsg.Text()}, nil
		}

		messages = append(messages, assistantMsg)
		l.publish(ctx, event.AgentEvent{Kind: event.AssistantComplete, Messages: []event.Message{assistantMsg}})

		resultMsg, interrupted := l.runTools(ctx, turn.toolCalls)
		messages = append(messages, resultMsg)
		if interrupted {
			return l.finishInterrupted(ctx, messages)
		}
		// loop to step 1 with the updated history
	}

	return Result{Messages: messages}, fmt.Errorf("turn loop exceeded max iterations (%d)", maxIter)
}

// finishInterrupted emits TurnComplete with the current partial state
// followed by Interrupted, per §4.3 step 6, when no tools are in flight.
func (l *Loop) finishInterrupted(ctx context.Context, messages []event.Message) (Result, error) {
	l.publish(ctx, event.AgentEvent{Kind: event.TurnComplete, Messages: messages})
	l.publish(ctx, event.AgentEvent{Kind: event.Interrupted})
	return Result{Messages: messages, Interrupted: true}, nil
}

// finishInterruptedDuringTools handles an interrupt fired before any tool in
// the pending batch started executing (e.g. while the stream was still
// open). It synthesizes Canceled results for the whole batch, so the model
// sees a well-formed request if the turn is resumed later, then completes
// per §4.3 step 6.
func (l *Loop) finishInterruptedDuringTools(ctx context.Context, messages []event.Message, pending []pendingToolCall) (Result, error) {
	if len(pending) > 0 {
		parts := make([]event.Part, 0, len(pending))
		for _, call := range pending {
			out := event.Canceled(event.CanceledInterrupt)
			l.publish(ctx, event.AgentEvent{Kind: event.ToolFinished, ToolID: call.id, ToolName: call.name, Result: out})
			parts = append(parts, toolResultPart(call.id, out))
		}
		messages = append(messages, event.Message{Role: event.RoleUser, Parts: parts})
	}
	return l.finishInterrupted(ctx, messages)
}

// runTools dispatches each requested tool call sequentially via the
// ToolExecutor, per §4.3 step 5 ("dispatch each tool sequentially via C2"),
// and returns the synthetic user message carrying all of this batch's
// tool-result blocks. It checks the interrupt flag at each tool boundary
// (step 6): the current tool is allowed to finish (its result is never
// discarded, honoring the completeness invariant), but any tools still
// pending in the batch are canceled instead of executed.
func (l *Loop) runTools(ctx context.Context, calls []pendingToolCall) (event.Message, bool) {
	parts := make([]event.Part, 0, len(calls))
	var images []*event.ImageAttachment

	for i, call := range calls {
		if l.Interrupt != nil && l.Interrupt.Requested() && i > 0 {
			for _, remaining := range calls[i:] {
				out := event.Canceled(event.CanceledInterrupt)
				l.publish(ctx, event.AgentEvent{Kind: event.ToolFinished, ToolID: remaining.id, ToolName: remaining.name, Result: out})
				parts = append(parts, toolResultPart(remaining.id, out))
			}
			return event.Message{Role: event.RoleUser, Parts: parts}, true
		}

		l.publish(ctx, event.AgentEvent{Kind: event.ToolStarted, ToolID: call.id, ToolName: call.name})
		out := l.executeOne(ctx, call)
		l.publish(ctx, event.AgentEvent{Kind: event.ToolFinished, ToolID: call.id, ToolName: call.name, Result: out})
		parts = append(parts, toolResultPart(call.id, out))
		if out.Kind == event.ToolSuccess && out.Image != nil {
			images = append(images, out.Image)
		}
	}

	for _, img := range images {
		parts = append(parts, event.Part{Type: event.PartImage, Image: img})
	}

	interrupted := l.Interrupt != nil && l.Interrupt.Requested()
	return event.Message{Role: event.RoleUser, Parts: parts}, interrupted
}

// executeOne runs a single tool call, recovering from a panicking executor
// into a Failure envelope so the completeness invariant holds even when a
// tool implementation misbehaves (teacher: executeSingleToolCallSafe).
func (l *Loop) executeOne(ctx context.Context, call pendingToolCall) (out event.ToolOutput) {
	defer func() {
		if r := recover(); r != nil {
			out = event.Failure("internal", fmt.Sprintf("tool panicked: %v", r))
		}
	}()
	if l.Tools == nil {
		return event.Failure("not_registered", fmt.Sprintf("no tool executor configured for %q", call.name))
	}
	return l.Tools.Execute(ctx, call.id, call.name, call.input)
}

func toolResultPart(toolUseID string, out event.ToolOutput) event.Part {
	part := event.Part{Type: event.PartToolResult, ToolUseID: toolUseID, IsError: out.IsError()}
	switch out.Kind {
	case event.ToolSuccess:
		part.ToolResultContent = string(out.Data)
		part.ToolResultImage = out.Image
	default:
		part.ToolResultContent = out.Message
	}
	return part
}

func (l *Loop) publish(ctx context.Context, ev event.AgentEvent) {
	if l.Bus == nil {
		return
	}
	l.Bus.Publish(ctx, ev)
}

func (l *Loop) publishError(ctx context.Context, kind event.ErrorKind, err error) {
	l.publish(ctx, event.AgentEvent{Kind: event.Error, ErrKind: kind, Message: err.Error()})
}
