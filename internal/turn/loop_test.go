package turn

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sacenox/jarvis-core/internal/bus"
	"github.com/sacenox/jarvis-core/internal/event"
	"github.com/sacenox/jarvis-core/internal/interrupt"
	"github.com/sacenox/jarvis-core/internal/provider"
)

// scriptedProvider replays a fixed sequence of event batches, one batch per
// Send call, so each test can script exactly the frames a real adapter
// would have produced. Grounded on the teacher's MockProvider
// (internal/llm/mock_provider_test.go), generalized to AgentEvent batches.
type scriptedProvider struct {
	batches [][]event.AgentEvent
	calls   int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Send(ctx context.Context, req provider.Request) (provider.Stream, error) {
	idx := p.calls
	p.calls++
	if idx >= len(p.batches) {
		return &scriptedStream{}, nil
	}
	return &scriptedStream{events: p.batches[idx]}, nil
}

type scriptedStream struct {
	events []event.AgentEvent
	i      int
}

func (s *scriptedStream) Recv() (event.AgentEvent, bool, error) {
	if s.i >= len(s.events) {
		return event.AgentEvent{}, false, nil
	}
	ev := s.events[s.i]
	s.i++
	return ev, true, nil
}

func (s *scriptedStream) Close() error { return nil }

// fakeExecutor returns a canned success/failure per tool name.
type fakeExecutor struct {
	results map[string]event.ToolOutput
	seen    []string
	delay   time.Duration
}

func (f *fakeExecutor) Execute(ctx context.Context, toolID, toolName string, input json.RawMessage) event.ToolOutput {
	f.seen = append(f.seen, toolName)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	if out, ok := f.results[toolName]; ok {
		return out
	}
	return event.Success(json.RawMessage(`{}`), nil)
}

func drainBus(t *testing.T, b *bus.Bus, name string) (<-chan event.AgentEvent, func() []event.AgentEvent) {
	t.Helper()
	ch := b.Subscribe(name)
	var got []event.AgentEvent
	done := make(chan struct{})
	go func() {
		for ev := range ch {
			got = append(got, ev)
		}
		close(done)
	}()
	return ch, func() []event.AgentEvent {
		<-done
		return got
	}
}

func TestRun_HappyTextTurn(t *testing.T) {
	p := &scriptedProvider{batches: [][]event.AgentEvent{
		{
			{Kind: event.AssistantDelta, Text: "Hello, "},
			{Kind: event.AssistantDelta, Text: "world."},
			{Kind: event.UsageUpdate, Usage: event.Usage{InputTokens: 10, OutputTokens: 5}},
		},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := bus.New(ctx)
	defer b.Close()
	_, collect := drainBus(t, b, "sink")

	l := &Loop{Provider: p, Bus: b, Interrupt: interrupt.New()}
	res, err := l.Run(ctx, Request{Messages: []event.Message{
		{Role: event.RoleUser, Parts: []event.Part{{Type: event.PartText, Text: "hi"}}},
	}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Interrupted {
		t.Fatal("expected not interrupted")
	}
	if res.FinalText != "Hello, world." {
		t.Fatalf("FinalText = %q, want %q", res.FinalText, "Hello, world.")
	}
	// Last message should be the committed assistant turn.
	last := res.Messages[len(res.Messages)-1]
	if last.Role != event.RoleAssistant || last.Text() != "Hello, world." {
		t.Fatalf("unexpected last message: %+v", last)
	}

	b.Close()
	evs := collect()
	var sawTurnComplete, sawAssistantComplete bool
	for _, ev := range evs {
		switch ev.Kind {
		case event.TurnComplete:
			sawTurnComplete = true
		case event.AssistantComplete:
			sawAssistantComplete = true
		}
	}
	if !sawTurnComplete || !sawAssistantComplete {
		t.Fatalf("missing lifecycle events: turnComplete=%v assistantComplete=%v", sawTurnComplete, sawAssistantComplete)
	}
}

func TestRun_ToolTurn(t *testing.T) {
	toolInput := json.RawMessage(`{"path":"a.txt"}`)
	p := &scriptedProvider{batches: [][]event.AgentEvent{
		{
			{Kind: event.AssistantDelta, Text: "Let me check."},
			{Kind: event.ToolInputReady, ToolID: "call_1", ToolName: "read_file", ToolInput: toolInput},
		},
		{
			{Kind: event.AssistantDelta, Text: "The file says hi."},
		},
	}}

	exec := &fakeExecutor{results: map[string]event.ToolOutput{
		"read_file": event.Success(json.RawMessage(`"hi"`), nil),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := bus.New(ctx)
	_, collect := drainBus(t, b, "sink")

	l := &Loop{Provider: p, Bus: b, Interrupt: interrupt.New(), Tools: exec}
	res, err := l.Run(ctx, Request{Messages: []event.Message{
		{Role: event.RoleUser, Parts: []event.Part{{Type: event.PartText, Text: "what does a.txt say?"}}},
	}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(exec.seen) != 1 || exec.seen[0] != "read_file" {
		t.Fatalf("expected exactly one read_file execution, got %v", exec.seen)
	}
	if res.FinalText != "The file says hi." {
		t.Fatalf("FinalText = %q", res.FinalText)
	}

	// History must contain: user, assistant(tool call), user(tool result), assistant(final).
	if len(res.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d: %+v", len(res.Messages), res.Messages)
	}
	toolResultMsg := res.Messages[2]
	if toolResultMsg.Role != event.RoleUser || len(toolResultMsg.Parts) != 1 || toolResultMsg.Parts[0].Type != event.PartToolResult {
		t.Fatalf("unexpected tool-result message: %+v", toolResultMsg)
	}
	if toolResultMsg.Parts[0].ToolUseID != "call_1" {
		t.Fatalf("tool result carries wrong ToolUseID: %+v", toolResultMsg.Parts[0])
	}

	b.Close()
	var sawToolStarted, sawToolFinished bool
	for _, ev := range collect() {
		if ev.Kind == event.ToolStarted {
			sawToolStarted = true
		}
		if ev.Kind == event.ToolFinished {
			sawToolFinished = true
		}
	}
	if !sawToolStarted || !sawToolFinished {
		t.Fatalf("missing tool lifecycle events: started=%v finished=%v", sawToolStarted, sawToolFinished)
	}
}

func TestRun_InterruptDuringSecondTool(t *testing.T) {
	p := &scriptedProvider{batches: [][]event.AgentEvent{
		{
			{Kind: event.ToolInputReady, ToolID: "call_1", ToolName: "slow_tool", ToolInput: json.RawMessage(`{}`)},
			{Kind: event.ToolInputReady, ToolID: "call_2", ToolName: "slow_tool", ToolInput: json.RawMessage(`{}`)},
			{Kind: event.ToolInputReady, ToolID: "call_3", ToolName: "slow_tool", ToolInput: json.RawMessage(`{}`)},
		},
	}}

	coord := interrupt.New()
	exec := &fakeToolFiringInterruptAfterFirst{coord: coord}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := bus.New(ctx)
	_, collect := drainBus(t, b, "sink")

	l := &Loop{Provider: p, Bus: b, Interrupt: coord, Tools: exec}
	res, err := l.Run(ctx, Request{Messages: []event.Message{
		{Role: event.RoleUser, Parts: []event.Part{{Type: event.PartText, Text: "run three slow tools"}}},
	}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Interrupted {
		t.Fatal("expected Interrupted = true")
	}
	if exec.calls != 1 {
		t.Fatalf("expected exactly 1 tool to actually execute, got %d", exec.calls)
	}

	toolResultMsg := res.Messages[len(res.Messages)-1]
	if len(toolResultMsg.Parts) != 3 {
		t.Fatalf("expected 3 synthesized tool results (1 real + 2 canceled), got %d", len(toolResultMsg.Parts))
	}
	if !toolResultMsg.Parts[1].IsError || !toolResultMsg.Parts[2].IsError {
		t.Fatalf("expected the two un-run tool calls to be reported as canceled: %+v", toolResultMsg.Parts[1:])
	}

	b.Close()
	var sawInterrupted bool
	for _, ev := range collect() {
		if ev.Kind == event.Interrupted {
			sawInterrupted = true
		}
	}
	if !sawInterrupted {
		t.Fatal("expected an Interrupted event on the bus")
	}
}

// fakeToolFiringInterruptAfterFirst executes exactly once, firing the
// interrupt coordinator as a side effect (simulating the user hitting
// ctrl-c while the first of three tool calls is running), then lets the
// loop's per-tool-boundary check cancel the remaining two.
type fakeToolFiringInterruptAfterFirst struct {
	coord *interrupt.Coordinator
	calls int
}

func (f *fakeToolFiringInterruptAfterFirst) Execute(ctx context.Context, toolID, toolName string, input json.RawMessage) event.ToolOutput {
	f.calls++
	f.coord.Fire()
	return event.Success(json.RawMessage(`{}`), nil)
}
