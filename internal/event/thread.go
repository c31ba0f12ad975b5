package event

import "time"

// ThreadEventKind discriminates the on-disk tagged union of §3/§6.
type ThreadEventKind int

const (
	ThreadMeta ThreadEventKind = iota
	ThreadMessage
	ThreadToolUse
	ThreadToolResult
	ThreadThinking
	ThreadInterrupted
)

func (k ThreadEventKind) wireType() string {
	switch k {
	case ThreadMeta:
		return "meta"
	case ThreadMessage:
		return "message"
	case ThreadToolUse:
		return "tool_use"
	case ThreadToolResult:
		return "tool_result"
	case ThreadThinking:
		return "thinking"
	case ThreadInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// SchemaVersion is the current thread-file schema version (§6: schema v1).
const SchemaVersion = 1

// ThreadEvent is one JSON-line of an on-disk thread file. Timestamps are
// RFC3339 UTC to second precision, per §3.
type ThreadEvent struct {
	Kind ThreadEventKind
	TS   time.Time

	// Meta
	SchemaVersion int

	// Message / Interrupted
	Role Role
	Text string

	// ToolUse
	ToolUseID string
	ToolName  string
	ToolInput []byte

	// ToolResult
	ToolResultForID string
	Output          ToolOutput
	OK              bool

	// Thinking
	Content   string
	Signature string
}

// WireType returns the on-disk "type" discriminant string for this kind.
func (k ThreadEventKind) WireType() string { return k.wireType() }

// ParseRole maps the on-disk role string back to a Role (default: user).
func ParseRole(s string) Role {
	if s == "assistant" {
		return RoleAssistant
	}
	return RoleUser
}
