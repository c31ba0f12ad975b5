package llm

import (
	"context"
	"fmt"

	"github.com/sacenox/jarvis-core/internal/prompt"
)

// GetEditsFromProvider drives the generic Stream interface with a single
// "edit" tool, for providers without a faster native tool-calling path
// (e.g. CodeAssistProvider). It mirrors the specialized implementations in
// openai.go/codex.go but goes through Provider.Stream instead of a
// provider-specific SDK call.
func GetEditsFromProvider(ctx context.Context, p Provider, systemPrompt, userPrompt string, debug bool) ([]EditToolCall, error) {
	toolCalls, err := runSingleToolRequest(ctx, p, ToolCallRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		ToolName:     "edit",
		ToolDesc:     prompt.EditDescription,
		ToolSchema:   prompt.EditSchema(),
		Debug:        debug,
	})
	if err != nil {
		return nil, err
	}
	return ParseEditToolCalls(toolCalls), nil
}

// GetUnifiedDiffFromProvider is GetEditsFromProvider's counterpart for the
// unified_diff tool.
func GetUnifiedDiffFromProvider(ctx context.Context, p Provider, systemPrompt, userPrompt string, debug bool) (string, error) {
	toolCalls, err := runSingleToolRequest(ctx, p, ToolCallRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		ToolName:     "unified_diff",
		ToolDesc:     prompt.UnifiedDiffDescription,
		ToolSchema:   prompt.UnifiedDiffSchema(),
		Debug:        debug,
	})
	if err != nil {
		return "", err
	}
	return ParseUnifiedDiff(toolCalls)
}

// runSingleToolRequest issues one Stream request offering exactly one tool
// with ToolChoiceRequired, and collects the tool calls the model makes.
func runSingleToolRequest(ctx context.Context, p Provider, req ToolCallRequest) ([]ToolCallArguments, error) {
	request := Request{
		Messages: []Message{
			SystemText(req.SystemPrompt),
			UserText(req.UserPrompt),
		},
		Tools: []ToolSpec{{
			Name:        req.ToolName,
			Description: req.ToolDesc,
			Schema:      req.ToolSchema,
		}},
		ToolChoice:        ToolChoice{Mode: ToolChoiceRequired},
		ParallelToolCalls: true,
		Debug:             req.Debug,
	}

	stream, err := p.Stream(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	defer stream.Close()

	var calls []ToolCallArguments
	for {
		event, err := stream.Recv()
		if err != nil {
			break
		}
		if event.Type == EventToolCall && event.Tool != nil {
			calls = append(calls, ToolCallArguments{Name: event.Tool.Name, Arguments: event.Tool.Arguments})
		}
		if event.Type == EventDone {
			break
		}
		if event.Type == EventError {
			return nil, event.Err
		}
	}
	if len(calls) == 0 {
		return nil, fmt.Errorf("no %s tool call in response", req.ToolName)
	}
	return calls, nil
}
