// Package provider normalizes three distinct wire protocols — Anthropic-style
// message-delta SSE, the Cloud-Code-Assist envelope, and the OpenAI Responses
// API — into a single stream of event.AgentEvent, per spec §4.2.
package provider

import (
	"context"

	"github.com/sacenox/jarvis-core/internal/event"
)

// ReasoningLevel is the portable enum spec §4.2 translates into each
// provider's native reasoning-control shape.
type ReasoningLevel int

const (
	ReasoningOff ReasoningLevel = iota
	ReasoningMinimal
	ReasoningLow
	ReasoningMedium
	ReasoningHigh
	ReasoningXHigh
)

// ToolSpec is the provider-agnostic tool advertisement: a name, description,
// and JSON schema. Name normalization (lowercase vs PascalCase) and schema
// sanitization (additionalProperties stripping) happen at the provider
// boundary, not here.
type ToolSpec struct {
	Name        string
	Description string
	Schema      []byte // JSON schema, as given to the tool registry
}

// Request is one turn's provider-agnostic request: full message history,
// tool catalog, system prompt, and the reasoning level requested.
type Request struct {
	Messages  []event.Message
	Tools     []ToolSpec
	System    string
	Reasoning ReasoningLevel
	Model     string

	// CacheControl requests that the adapter place cache breakpoints per
	// §4.2 (final system block + last content block of last user message).
	CacheControl bool
}

// Stream is the normalized event source a Provider.Send call returns. Recv
// returns io.EOF (wrapped, via a nil event and ok=false) when the stream is
// exhausted.
type Stream interface {
	Recv() (event.AgentEvent, bool, error)
	Close() error
}

// Provider is the uniform contract every wire-protocol adapter implements.
type Provider interface {
	// Name identifies the provider for logging/reasoning-table lookups.
	Name() string
	// Send opens a streaming request and returns a Stream of normalized
	// events. Canceling ctx must end the stream promptly.
	Send(ctx context.Context, req Request) (Stream, error)
}
