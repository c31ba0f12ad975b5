package thread

import (
	"encoding/json"

	"github.com/sacenox/jarvis-core/internal/event"
	"github.com/sacenox/jarvis-core/internal/llm"
)

// FromLLMMessage converts one turn's llm.Message into the ThreadEvent lines
// that represent it on disk: a Thinking line per reasoning part, a ToolUse
// line per tool call, a ToolResult line per tool result, and a trailing
// Message line for any plain text left over. A message with no parts that
// map to anything produces no events.
func FromLLMMessage(msg llm.Message) []event.ThreadEvent {
	role := event.RoleUser
	if msg.Role == llm.RoleAssistant {
		role = event.RoleAssistant
	}

	var events []event.ThreadEvent
	var text string

	for _, part := range msg.Parts {
		switch part.Type {
		case llm.PartText:
			text += part.Text
		case llm.PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			events = append(events, event.ThreadEvent{
				Kind:      event.ThreadToolUse,
				ToolUseID: part.ToolCall.ID,
				ToolName:  part.ToolCall.Name,
				ToolInput: []byte(part.ToolCall.Arguments),
			})
		case llm.PartToolResult:
			if part.ToolResult == nil {
				continue
			}
			events = append(events, event.ThreadEvent{
				Kind:            event.ThreadToolResult,
				ToolResultForID: part.ToolResult.ID,
				OK:              !part.ToolResult.IsError,
				Output:          toolResultOutput(*part.ToolResult),
			})
		}
		if part.ReasoningContent != "" {
			events = append(events, event.ThreadEvent{
				Kind:      event.ThreadThinking,
				Content:   part.ReasoningContent,
				Signature: part.ReasoningEncryptedContent,
			})
		}
	}

	if text != "" {
		events = append(events, event.ThreadEvent{Kind: event.ThreadMessage, Role: role, Text: text})
	}

	return events
}

func toolResultOutput(r llm.ToolResult) event.ToolOutput {
	if r.IsError {
		return event.ToolOutput{Kind: event.ToolFailure, Message: r.Content}
	}
	data, err := json.Marshal(r.Content)
	if err != nil {
		data = nil
	}
	return event.ToolOutput{Kind: event.ToolSuccess, Data: data}
}
