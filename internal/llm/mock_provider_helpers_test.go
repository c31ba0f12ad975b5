package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockTurn scripts a single Stream call's worth of events for MockProvider.
type MockTurn struct {
	Text      string
	ToolCalls []ToolCall
	Usage     *Usage
	Err       error
	Delay     time.Duration
}

// MockProvider is a scripted Provider for engine/orchestration tests: each
// call to Stream consumes the next queued MockTurn and records the Request
// it was given.
type MockProvider struct {
	name string

	mu       sync.Mutex
	caps     Capabilities
	turns    []MockTurn
	current  int
	Requests []Request
}

// NewMockProvider returns a MockProvider with tool calls enabled by default.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name: name,
		caps: Capabilities{ToolCalls: true},
	}
}

// WithCapabilities overrides the default capabilities. Returns p for chaining.
func (p *MockProvider) WithCapabilities(caps Capabilities) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.caps = caps
	return p
}

// AddTurn queues a fully-specified turn. Returns p for chaining.
func (p *MockProvider) AddTurn(turn MockTurn) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turn)
	return p
}

// AddTextResponse queues a turn that streams text and a token usage event.
func (p *MockProvider) AddTextResponse(text string) *MockProvider {
	return p.AddTurn(MockTurn{Text: text, Usage: &Usage{InputTokens: 1, OutputTokens: 1}})
}

// AddToolCall queues a turn with a single tool call, marshaling args to JSON.
func (p *MockProvider) AddToolCall(id, name string, args any) *MockProvider {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte("{}")
	}
	return p.AddTurn(MockTurn{ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: raw}}})
}

// AddError queues a turn that emits an EventError.
func (p *MockProvider) AddError(err error) *MockProvider {
	return p.AddTurn(MockTurn{Err: err})
}

// Reset clears recorded requests and rewinds to the first queued turn.
func (p *MockProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = 0
	p.Requests = nil
}

// CurrentTurn reports the index of the next turn Stream will consume.
func (p *MockProvider) CurrentTurn() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *MockProvider) Name() string { return p.name }

func (p *MockProvider) Credential() string { return "mock" }

func (p *MockProvider) Capabilities() Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps
}

func (p *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	idx := p.current
	if idx >= len(p.turns) {
		p.mu.Unlock()
		return nil, fmt.Errorf("mock provider %q: no more turns configured", p.name)
	}
	turn := p.turns[idx]
	p.current++
	p.mu.Unlock()

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		if turn.Delay > 0 {
			select {
			case <-time.After(turn.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if turn.Err != nil {
			events <- Event{Type: EventError, Err: turn.Err}
			return nil
		}

		for _, chunk := range chunkText(turn.Text, 8) {
			events <- Event{Type: EventTextDelta, Text: chunk}
		}
		for i := range turn.ToolCalls {
			call := turn.ToolCalls[i]
			events <- Event{Type: EventToolCall, Tool: &call}
		}
		if turn.Usage != nil {
			events <- Event{Type: EventUsage, Use: turn.Usage}
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

// chunkText splits text into pieces of at most chunkSize runes, for
// simulating a provider that streams its response incrementally.
func chunkText(text string, chunkSize int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var chunks []string
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
