// Package event defines the tagged-union event and envelope types shared by
// the turn loop, the event bus, the thread log, and the TUI reducer.
package event

import "encoding/json"

// Kind discriminates an AgentEvent's variant.
type Kind int

const (
	TurnStarted Kind = iota
	UsageUpdate
	AssistantDelta
	AssistantComplete
	ThinkingDelta
	ThinkingComplete
	ToolRequested
	ToolInputReady
	ToolStarted
	ToolOutputDelta
	ToolFinished
	Error
	Interrupted
	TurnComplete
)

func (k Kind) String() string {
	switch k {
	case TurnStarted:
		return "turn_started"
	case UsageUpdate:
		return "usage_update"
	case AssistantDelta:
		return "assistant_delta"
	case AssistantComplete:
		return "assistant_complete"
	case ThinkingDelta:
		return "thinking_delta"
	case ThinkingComplete:
		return "thinking_complete"
	case ToolRequested:
		return "tool_requested"
	case ToolInputReady:
		return "tool_input_ready"
	case ToolStarted:
		return "tool_started"
	case ToolOutputDelta:
		return "tool_output_delta"
	case ToolFinished:
		return "tool_finished"
	case Error:
		return "error"
	case Interrupted:
		return "interrupted"
	case TurnComplete:
		return "turn_complete"
	default:
		return "unknown"
	}
}

// Delivery marks whether an event kind is sent best-effort ("delta") or
// reliably ("important") by the bus. See internal/bus.
func (k Kind) Delivery() Delivery {
	switch k {
	case AssistantDelta, ThinkingDelta, ToolOutputDelta, ToolRequested:
		return BestEffort
	default:
		return Reliable
	}
}

// Delivery is the send discipline a bus uses for a given event.
type Delivery int

const (
	BestEffort Delivery = iota
	Reliable
)

// Usage carries token accounting for one message_start/message_delta pair.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
}

// ContextTokens is the total context occupancy represented by this usage
// snapshot alone — never summed across turns. See §8 "Usage accounting".
func (u Usage) ContextTokens() int {
	return u.InputTokens + u.CacheReadTokens + u.CacheWriteTokens + u.OutputTokens
}

// ErrorKind classifies a failure discovered by the provider adapter or turn
// loop, per the error taxonomy in §7 (kinds, not type names).
type ErrorKind int

const (
	ErrHTTPStatus ErrorKind = iota
	ErrTimeout
	ErrParse
	ErrAPIError
	ErrInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrHTTPStatus:
		return "HttpStatus"
	case ErrTimeout:
		return "Timeout"
	case ErrParse:
		return "Parse"
	case ErrAPIError:
		return "ApiError"
	default:
		return "Internal"
	}
}

// ToolOutput is the envelope a tool execution yields. Exactly one of the
// three payload fields is meaningful, selected by Kind.
type ToolOutputKind int

const (
	ToolSuccess ToolOutputKind = iota
	ToolFailure
	ToolCanceled
)

// ImageAttachment is the out-of-band image payload a tool result may carry.
// It never appears in the wire JSON returned to the model; the turn loop
// attaches it to the next request's user message instead.
type ImageAttachment struct {
	Mime   string `json:"mime"`
	Base64 string `json:"base64"`
}

type ToolOutput struct {
	Kind ToolOutputKind

	// ToolSuccess
	Data  json.RawMessage  `json:"data,omitempty"`
	Image *ImageAttachment `json:"-"`

	// ToolFailure
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// toolOutputWire is the §3/§6 wire shape: {"ok":true,"data":...} or
// {"ok":false,"error":{"code","message"}}. No other top-level keys.
type toolOutputWire struct {
	OK    bool             `json:"ok"`
	Data  json.RawMessage  `json:"data,omitempty"`
	Error *toolOutputError `json:"error,omitempty"`
}

type toolOutputError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MarshalJSON implements the §3/§6 wire contract.
func (o ToolOutput) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case ToolSuccess:
		return json.Marshal(toolOutputWire{OK: true, Data: o.Data})
	case ToolCanceled:
		return json.Marshal(toolOutputWire{OK: false, Error: &toolOutputError{Code: "canceled", Message: o.Message}})
	default:
		return json.Marshal(toolOutputWire{OK: false, Error: &toolOutputError{Code: o.Code, Message: o.Message}})
	}
}

// IsError reports whether this envelope must be reported to the model as a
// ToolResultBlock with is_error=true (§4.1 failure semantics).
func (o ToolOutput) IsError() bool {
	return o.Kind != ToolSuccess
}

// Success builds a successful tool envelope.
func Success(data json.RawMessage, image *ImageAttachment) ToolOutput {
	return ToolOutput{Kind: ToolSuccess, Data: data, Image: image}
}

// Failure builds a failed tool envelope.
func Failure(code, message string) ToolOutput {
	return ToolOutput{Kind: ToolFailure, Code: code, Message: message}
}

// Canceled builds a canceled tool envelope. Use CanceledTimeout/CanceledInterrupt
// for the two distinguished reasons named in §4.1.
func Canceled(message string) ToolOutput {
	return ToolOutput{Kind: ToolCanceled, Message: message}
}

const (
	CanceledTimeout    = "timeout"
	CanceledInterrupt  = "Interrupted by user"
)

// AgentEvent is the tagged union the turn loop emits onto the bus.
type AgentEvent struct {
	Kind Kind

	// UsageUpdate
	Usage Usage

	// AssistantDelta / AssistantComplete / ThinkingDelta
	Text string

	// ThinkingComplete
	Signature string

	// ToolRequested / ToolInputReady / ToolStarted / ToolOutputDelta / ToolFinished
	ToolID      string
	ToolName    string
	ToolInput   json.RawMessage // ToolInputReady: final parsed input
	InputSoFar  string          // ToolRequested: accumulated raw JSON fragment
	Chunk       string          // ToolOutputDelta
	Result      ToolOutput      // ToolFinished

	// Error
	ErrKind ErrorKind
	Message string
	Details string

	// TurnComplete
	FinalText string
	Messages  []Message
}

// Message and Part mirror the chat-message data model of §3: content is an
// ordered sequence of blocks, each one of Text/Image/ToolUse/ToolResult/Reasoning.
type Role int

const (
	RoleUser Role = iota
	RoleAssistant
)

func (r Role) String() string {
	if r == RoleAssistant {
		return "assistant"
	}
	return "user"
}

type PartType int

const (
	PartText PartType = iota
	PartImage
	PartToolUse
	PartToolResult
	PartReasoning
)

// ReplayToken is the opaque, provider-scoped value carried on reasoning
// blocks (e.g. a Gemini "thoughtSignature") so later requests can faithfully
// replay prior chain-of-thought. Empty means no real token is available.
type ReplayToken struct {
	Provider string `json:"provider,omitempty"`
	Value    string `json:"value,omitempty"`
}

type Part struct {
	Type PartType

	Text string // PartText, PartReasoning

	Image *ImageAttachment // PartImage

	ToolUseID string          // PartToolUse, PartToolResult
	ToolName  string          // PartToolUse
	ToolInput json.RawMessage // PartToolUse

	ToolResultContent string     // PartToolResult (text form)
	ToolResultImage    *ImageAttachment
	IsError           bool       // PartToolResult

	Replay ReplayToken // PartReasoning
}

type Message struct {
	Role  Role
	Parts []Part
}

// Text returns the concatenation of the message's text blocks.
func (m Message) Text() string {
	out := ""
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolUseIDs returns, in order, the ids of every ToolUse block in the message.
func (m Message) ToolUseIDs() []string {
	var ids []string
	for _, p := range m.Parts {
		if p.Type == PartToolUse {
			ids = append(ids, p.ToolUseID)
		}
	}
	return ids
}
