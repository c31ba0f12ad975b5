package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/sacenox/jarvis-core/internal/event"
)

// BedrockConfig configures a SigV4-signed Bedrock transport for the
// Anthropic-family message protocol. Grounded on haasonsaas-nexus's
// internal/agent/providers/bedrock.go.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
}

// BedrockProvider is the fourth Anthropic-family credential/transport mode:
// requests go over AWS SigV4 auth and the Bedrock Converse(Stream) API
// instead of a bearer token against api.anthropic.com.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
}

func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Send(ctx context.Context, req Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := convertBedrockMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: convert messages: %w", err)
	}

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.System != "" {
		converseReq.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if len(req.Tools) > 0 {
		converseReq.ToolConfig = buildBedrockToolConfig(req.Tools)
	}

	stream, err := p.client.ConverseStream(ctx, converseReq)
	if err != nil {
		return nil, fmt.Errorf("bedrock: ConverseStream: %w", err)
	}

	return newChannelStream(ctx, func(ctx context.Context, events chan<- event.AgentEvent) error {
		eventStream := stream.GetStream()
		defer eventStream.Close()

		var toolID, toolName string
		var toolInput strings.Builder

		for raw := range eventStream.Events() {
			switch ev := raw.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					toolID = aws.ToString(toolUse.Value.ToolUseId)
					toolName = aws.ToString(toolUse.Value.Name)
					toolInput.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						events <- event.AgentEvent{Kind: event.AssistantDelta, Text: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
						events <- event.AgentEvent{Kind: event.ToolRequested, ToolID: toolID, InputSoFar: toolInput.String()}
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if toolID != "" {
					input := toolInput.String()
					if input == "" {
						input = "{}"
					}
					events <- event.AgentEvent{Kind: event.ToolInputReady, ToolID: toolID, ToolName: toolName, ToolInput: json.RawMessage(input)}
					toolID, toolName = "", ""
					toolInput.Reset()
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if u := ev.Value.Usage; u != nil {
					events <- event.AgentEvent{Kind: event.UsageUpdate, Usage: event.Usage{
						InputTokens:  int(aws.ToInt32(u.InputTokens)),
						OutputTokens: int(aws.ToInt32(u.OutputTokens)),
					}}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				return nil
			}
		}
		return eventStream.Err()
	}), nil
}

func convertBedrockMessages(messages []event.Message) ([]types.Message, error) {
	out := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		var content []types.ContentBlock
		for _, part := range msg.Parts {
			switch part.Type {
			case event.PartText:
				if part.Text != "" {
					content = append(content, &types.ContentBlockMemberText{Value: part.Text})
				}
			case event.PartToolUse:
				var inputDoc any
				if err := json.Unmarshal(part.ToolInput, &inputDoc); err != nil {
					inputDoc = map[string]any{}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(part.ToolUseID),
						Name:      aws.String(part.ToolName),
						Input:     document.NewLazyDocument(inputDoc),
					},
				})
			case event.PartToolResult:
				content = append(content, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(part.ToolUseID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: part.ToolResultContent}},
						Status:    bedrockToolStatus(part.IsError),
					},
				})
			}
		}
		if len(content) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if msg.Role == event.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: content})
	}
	return out, nil
}

func bedrockToolStatus(isError bool) types.ToolResultStatus {
	if isError {
		return types.ToolResultStatusError
	}
	return types.ToolResultStatusSuccess
}

func buildBedrockToolConfig(specs []ToolSpec) *types.ToolConfiguration {
	tools := make([]types.Tool, 0, len(specs))
	for _, s := range specs {
		clean := SanitizeSchema(s.Schema)
		var doc any
		json.Unmarshal(clean, &doc)
		tools = append(tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(s.Name),
				Description: aws.String(s.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(doc)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: tools}
}
