package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/sacenox/jarvis-core/internal/event"
	"github.com/sacenox/jarvis-core/internal/oauth"
)

// oauthBetaHeader is the beta header Anthropic requires on every OAuth-authenticated
// request (grounded on the teacher's internal/llm/anthropic.go).
const oauthBetaHeader = "oauth-2025-04-20"

// AnthropicProvider implements Provider over the message-delta SSE family.
type AnthropicProvider struct {
	client   *anthropic.Client
	model    string
	oauthMgr *oauth.Manager
}

// NewAnthropicProvider builds a provider using the oauth.Manager credential
// cascade (api key → env → oauth) rather than the teacher's hand-rolled
// cascade, since internal/oauth already owns that concern.
func NewAnthropicProvider(ctx context.Context, model string, mgr *oauth.Manager, apiKeyFallback string) (*AnthropicProvider, error) {
	creds, err := mgr.Resolve(ctx, oauth.ClaudeProviderKey, apiKeyFallback)
	if err != nil {
		return nil, fmt.Errorf("resolve anthropic credentials: %w", err)
	}

	var client anthropic.Client
	if creds.AccessToken != "" {
		client = anthropic.NewClient(
			option.WithAuthToken(creds.AccessToken),
			option.WithHeader("anthropic-beta", oauthBetaHeader),
		)
	} else {
		client = anthropic.NewClient(option.WithAPIKey(apiKeyFallback))
	}

	return &AnthropicProvider{client: &client, model: model, oauthMgr: mgr}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Send(ctx context.Context, req Request) (Stream, error) {
	return newChannelStream(ctx, func(ctx context.Context, events chan<- event.AgentEvent) error {
		system := req.System
		messages := buildAnthropicMessages(req.Messages, req.CacheControl)
		acc := newBlockAccumulator()

		model := req.Model
		if model == "" {
			model = p.model
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: 4096,
			Messages:  messages,
		}
		if system != "" {
			block := anthropic.TextBlockParam{Text: system}
			if req.CacheControl {
				block.CacheControl = anthropic.NewCacheControlEphemeralParam()
			}
			params.System = []anthropic.TextBlockParam{block}
		}
		if len(req.Tools) > 0 {
			params.Tools = buildAnthropicTools(req.Tools)
		}

		if req.Reasoning != ReasoningOff {
			budget := int64(TokenBudget(req.Reasoning, model))
			params.MaxTokens = 16000
			params.Thinking = anthropic.ThinkingConfigParamUnion{
				OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: budget},
			}
		}

		stream := p.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			raw := stream.Current()
			switch variant := raw.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						events <- event.AgentEvent{Kind: event.AssistantDelta, Text: delta.Text}
					}
				case anthropic.InputJSONDelta:
					if delta.PartialJSON != "" {
						acc.appendToolJSON(variant.Index, delta.PartialJSON)
						events <- event.AgentEvent{
							Kind:       event.ToolRequested,
							ToolID:     acc.toolID(variant.Index),
							InputSoFar: acc.toolJSONSoFar(variant.Index),
						}
					}
				case anthropic.ThinkingDelta:
					if delta.Thinking != "" {
						acc.appendThinking(variant.Index, delta.Thinking)
						events <- event.AgentEvent{Kind: event.ThinkingDelta, Text: delta.Thinking}
					}
				case anthropic.SignatureDelta:
					acc.setSignature(variant.Index, delta.Signature)
				}
			case anthropic.ContentBlockStartEvent:
				switch block := variant.ContentBlock.AsAny().(type) {
				case anthropic.ToolUseBlock:
					acc.startTool(variant.Index, block.ID, block.Name, toolInputToRaw(block.Input))
				case anthropic.ThinkingBlock:
					acc.appendThinking(variant.Index, block.Thinking)
					acc.setSignature(variant.Index, block.Signature)
				}
			case anthropic.ContentBlockStopEvent:
				if tc, ok := acc.finishTool(variant.Index); ok {
					events <- event.AgentEvent{Kind: event.ToolInputReady, ToolID: tc.id, ToolName: tc.name, ToolInput: tc.input}
					continue
				}
				if th, ok := acc.finishThinking(variant.Index); ok {
					events <- event.AgentEvent{
						Kind: event.ThinkingComplete,
						Text: th.text,
						Signature: th.signature,
						Messages: []event.Message{{
							Parts: []event.Part{{Type: event.PartReasoning, Text: th.text, Replay: event.ReplayToken{Provider: "anthropic", Value: th.signature}}},
						}},
					}
				}
			case anthropic.MessageDeltaEvent:
				if variant.Usage.OutputTokens > 0 {
					events <- event.AgentEvent{Kind: event.UsageUpdate, Usage: event.Usage{
						InputTokens:      int(variant.Usage.InputTokens),
						OutputTokens:     int(variant.Usage.OutputTokens),
						CacheReadTokens:  int(variant.Usage.CacheReadInputTokens),
						CacheWriteTokens: int(variant.Usage.CacheCreationInputTokens),
					}}
				}
			}
		}
		if err := stream.Err(); err != nil {
			events <- event.AgentEvent{Kind: event.Error, ErrKind: event.ErrAPIError, Message: err.Error()}
			return fmt.Errorf("anthropic streaming error: %w", err)
		}
		return nil
	}), nil
}

func buildAnthropicMessages(messages []event.Message, cacheControl bool) []anthropic.MessageParam {
	var out []anthropic.MessageParam

	bp := LocateCacheBreakpoints(messages, false)

	for i, msg := range messages {
		if len(msg.Parts) == 0 {
			continue
		}
		blocks := buildAnthropicBlocks(msg.Parts, msg.Role == event.RoleAssistant, cacheControl && i == bp.LastUserMsg, bp.LastUserPart)
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == event.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}

	return out
}

func buildAnthropicBlocks(parts []event.Part, allowToolUse bool, markLastCache bool, lastIdx int) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for i, part := range parts {
		var block anthropic.ContentBlockParamUnion
		switch part.Type {
		case event.PartText:
			block = anthropic.NewTextBlock(part.Text)
		case event.PartToolUse:
			if !allowToolUse {
				continue
			}
			block = anthropic.NewToolUseBlock(part.ToolUseID, part.ToolInput, part.ToolName)
		case event.PartToolResult:
			block = toolResultBlock(part)
		case event.PartReasoning:
			if !allowToolUse {
				continue
			}
			block = anthropic.NewThinkingBlock(part.Replay.Value, part.Text)
		default:
			continue
		}
		if markLastCache && i == lastIdx {
			applyCacheControl(&block)
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// applyCacheControl marks a content block as an ephemeral cache breakpoint.
// Only text and tool-result blocks carry a CacheControl field in the SDK.
func applyCacheControl(block *anthropic.ContentBlockParamUnion) {
	switch {
	case block.OfText != nil:
		block.OfText.CacheControl = anthropic.NewCacheControlEphemeralParam()
	case block.OfToolResult != nil:
		block.OfToolResult.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}
}

func toolResultBlock(part event.Part) anthropic.ContentBlockParamUnion {
	contentBlocks := make([]anthropic.ToolResultBlockParamContentUnion, 0, 1)
	if part.ToolResultContent != "" {
		contentBlocks = append(contentBlocks, anthropic.ToolResultBlockParamContentUnion{
			OfText: &anthropic.TextBlockParam{Text: part.ToolResultContent},
		})
	}
	if img := part.ToolResultImage; img != nil {
		contentBlocks = append(contentBlocks, anthropic.ToolResultBlockParamContentUnion{
			OfImage: &anthropic.ImageBlockParam{
				Source: anthropic.ImageBlockParamSourceUnion{
					OfBase64: &anthropic.Base64ImageSourceParam{
						Data:      img.Base64,
						MediaType: anthropic.Base64ImageSourceMediaType(img.Mime),
					},
				},
			},
		})
	}
	block := anthropic.ToolResultBlockParam{
		ToolUseID: part.ToolUseID,
		IsError:   anthropic.Bool(part.IsError),
		Content:   contentBlocks,
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &block}
}

func buildAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		clean := SanitizeSchema(spec.Schema)
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: SchemaProperties(clean),
			Required:   SchemaRequired(clean),
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, spec.Name)
		if spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

func toolInputToRaw(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return json.RawMessage(data)
	}
}

