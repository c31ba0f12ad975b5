package thread

import (
	"testing"

	"github.com/sacenox/jarvis-core/internal/event"
)

func TestReplayGroupsToolUseAndResultIntoSeparateMessages(t *testing.T) {
	events := []event.ThreadEvent{
		{Kind: event.ThreadMessage, Role: event.RoleUser, Text: "what's the weather?"},
		{Kind: event.ThreadThinking, Content: "checking weather tool"},
		{Kind: event.ThreadToolUse, ToolUseID: "1", ToolName: "weather", ToolInput: []byte(`{"city":"nyc"}`)},
		{Kind: event.ThreadToolResult, ToolResultForID: "1", OK: true, Output: event.ToolOutput{Kind: event.ToolSuccess, Data: []byte(`"sunny"`)}},
		{Kind: event.ThreadMessage, Role: event.RoleAssistant, Text: "it's sunny"},
	}

	messages := Replay(events)
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d: %+v", len(messages), messages)
	}
	if messages[0].Role != event.RoleUser || messages[0].Text() != "what's the weather?" {
		t.Fatalf("unexpected first message: %+v", messages[0])
	}
	if messages[1].Role != event.RoleAssistant || len(messages[1].Parts) != 2 {
		t.Fatalf("expected assistant message with reasoning+tool_use parts, got %+v", messages[1])
	}
	if messages[2].Role != event.RoleUser || messages[2].Parts[0].Type != event.PartToolResult {
		t.Fatalf("expected tool result message, got %+v", messages[2])
	}
	if messages[3].Role != event.RoleAssistant || messages[3].Text() != "it's sunny" {
		t.Fatalf("unexpected final message: %+v", messages[3])
	}
}
