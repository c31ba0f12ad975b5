package thread

import "github.com/sacenox/jarvis-core/internal/event"

// Replay projects a thread's on-disk events into provider-agnostic chat
// messages per spec §4.5: consecutive assistant-side events (reasoning +
// tool-use) collapse into a single assistant message with block content;
// tool-result events become a following user message with tool-result
// blocks; plain Message events that aren't adjacent to reasoning/tool-use
// stay standalone text messages.
func Replay(events []event.ThreadEvent) []event.Message {
	var messages []event.Message
	var assistantParts []event.Part
	var resultParts []event.Part

	flushAssistant := func() {
		if len(assistantParts) == 0 {
			return
		}
		messages = append(messages, event.Message{Role: event.RoleAssistant, Parts: assistantParts})
		assistantParts = nil
	}
	flushResults := func() {
		if len(resultParts) == 0 {
			return
		}
		messages = append(messages, event.Message{Role: event.RoleUser, Parts: resultParts})
		resultParts = nil
	}

	for _, ev := range events {
		switch ev.Kind {
		case event.ThreadMeta:
			continue

		case event.ThreadThinking:
			flushResults()
			assistantParts = append(assistantParts, event.Part{
				Type:   event.PartReasoning,
				Text:   ev.Content,
				Replay: event.ReplayToken{Signature: ev.Signature},
			})

		case event.ThreadToolUse:
			flushResults()
			assistantParts = append(assistantParts, event.Part{
				Type:      event.PartToolUse,
				ToolUseID: ev.ToolUseID,
				ToolName:  ev.ToolName,
				ToolInput: ev.ToolInput,
			})

		case event.ThreadToolResult:
			flushAssistant()
			resultParts = append(resultParts, event.Part{
				Type:              event.PartToolResult,
				ToolUseID:         ev.ToolResultForID,
				ToolResultContent: outputText(ev.Output),
				IsError:           !ev.OK,
			})

		case event.ThreadMessage:
			flushAssistant()
			flushResults()
			if ev.Role == event.RoleAssistant {
				messages = append(messages, event.Message{
					Role:  event.RoleAssistant,
					Parts: []event.Part{{Type: event.PartText, Text: ev.Text}},
				})
			} else {
				messages = append(messages, event.Message{
					Role:  event.RoleUser,
					Parts: []event.Part{{Type: event.PartText, Text: ev.Text}},
				})
			}

		case event.ThreadInterrupted:
			flushAssistant()
			flushResults()
			messages = append(messages, event.Message{
				Role:  ev.Role,
				Parts: []event.Part{{Type: event.PartText, Text: ev.Text}},
			})
		}
	}
	flushAssistant()
	flushResults()

	return messages
}

func outputText(out event.ToolOutput) string {
	switch out.Kind {
	case event.ToolSuccess:
		return string(out.Data)
	case event.ToolFailure:
		return out.Message
	case event.ToolCanceled:
		return "canceled"
	default:
		return ""
	}
}
