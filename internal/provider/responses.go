package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sacenox/jarvis-core/internal/event"
)

// ResponsesProvider speaks the OpenAI Responses API wire protocol directly
// over HTTP, grounded on the teacher's internal/llm/responses_api.go. Unlike
// the Anthropic adapter this has no official typed SDK in the pack, so it
// builds and parses the JSON/SSE wire format by hand, exactly as the
// teacher's ResponsesClient does.
type ResponsesProvider struct {
	baseURL       string
	authHeader    func() string
	httpClient    *http.Client
	model         string
	lastResponse  string
}

// NewResponsesProvider builds a provider against baseURL (e.g.
// "https://api.openai.com/v1/responses"). authHeader is called per-request
// so a refreshed OAuth token is always used.
func NewResponsesProvider(baseURL, model string, authHeader func() string, client *http.Client) *ResponsesProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &ResponsesProvider{baseURL: baseURL, authHeader: authHeader, httpClient: client, model: model}
}

func (p *ResponsesProvider) Name() string { return "responses" }

type responsesRequest struct {
	Model           string              `json:"model"`
	Input           []responsesItem     `json:"input"`
	Tools           []responsesTool     `json:"tools,omitempty"`
	MaxOutputTokens int                 `json:"max_output_tokens,omitempty"`
	Reasoning       *responsesReasoning `json:"reasoning,omitempty"`
	Stream          bool                `json:"stream"`
}

type responsesReasoning struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type responsesTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type responsesItem struct {
	Type      string `json:"type"`
	Role      string `json:"role,omitempty"`
	Content   any    `json:"content,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

func (p *ResponsesProvider) Send(ctx context.Context, req Request) (Stream, error) {
	body := responsesRequest{
		Model:  pick(req.Model, p.model),
		Input:  buildResponsesInput(req.System, req.Messages),
		Tools:  buildResponsesTools(req.Tools),
		Stream: true,
	}
	if req.Reasoning != ReasoningOff {
		body.Reasoning = &responsesReasoning{Effort: StringLevel(req.Reasoning, body.Model), Summary: "auto"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal responses request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build responses request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.authHeader != nil {
		httpReq.Header.Set("Authorization", p.authHeader())
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("responses API request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var errBody bytes.Buffer
		errBody.ReadFrom(resp.Body)
		return nil, fmt.Errorf("responses API error (status %d): %s", resp.StatusCode, errBody.String())
	}

	return newChannelStream(ctx, func(ctx context.Context, events chan<- event.AgentEvent) error {
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		tools := newResponsesToolState()
		var lastEventType string
		sawTextDelta := false

		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				lastEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			case !strings.HasPrefix(line, "data:"):
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}

			switch lastEventType {
			case "response.output_text.delta":
				var d struct {
					Delta string `json:"delta"`
				}
				if json.Unmarshal([]byte(data), &d) == nil && d.Delta != "" {
					sawTextDelta = true
					events <- event.AgentEvent{Kind: event.AssistantDelta, Text: d.Delta}
				}
			case "response.output_item.added":
				var it struct {
					Item        responsesItem `json:"item"`
					OutputIndex int           `json:"output_index"`
				}
				if json.Unmarshal([]byte(data), &it) == nil && it.Item.Type == "function_call" {
					tools.start(it.OutputIndex, it.Item.CallID, it.Item.Name)
				}
			case "response.function_call_arguments.delta":
				var d struct {
					OutputIndex int    `json:"output_index"`
					Delta       string `json:"delta"`
				}
				if json.Unmarshal([]byte(data), &d) == nil {
					tools.append(d.OutputIndex, d.Delta)
					events <- event.AgentEvent{Kind: event.ToolRequested, InputSoFar: tools.soFar(d.OutputIndex)}
				}
			case "response.output_item.done":
				var d struct {
					Item struct {
						Type      string `json:"type"`
						CallID    string `json:"call_id,omitempty"`
						Name      string `json:"name,omitempty"`
						Arguments string `json:"arguments,omitempty"`
						Content   []struct {
							Type    string `json:"type"`
							Text    string `json:"text,omitempty"`
							Refusal string `json:"refusal,omitempty"`
						} `json:"content,omitempty"`
					} `json:"item"`
					OutputIndex int `json:"output_index"`
				}
				if json.Unmarshal([]byte(data), &d) != nil {
					continue
				}
				switch d.Item.Type {
				case "function_call":
					if tc, ok := tools.finish(d.OutputIndex, d.Item.CallID, d.Item.Name, d.Item.Arguments); ok {
						events <- event.AgentEvent{Kind: event.ToolInputReady, ToolID: tc.id, ToolName: tc.name, ToolInput: tc.input}
					}
				case "message":
					if sawTextDelta {
						continue
					}
					for _, c := range d.Item.Content {
						switch {
						case c.Type == "output_text" && c.Text != "":
							events <- event.AgentEvent{Kind: event.AssistantDelta, Text: c.Text}
						case c.Type == "refusal" && c.Refusal != "":
							events <- event.AgentEvent{Kind: event.AssistantDelta, Text: c.Refusal}
						}
					}
				}
			case "response.completed":
				var d struct {
					Response struct {
						ID    string `json:"id"`
						Usage *struct {
							InputTokens        int `json:"input_tokens"`
							OutputTokens       int `json:"output_tokens"`
							InputTokensDetails struct {
								CachedTokens int `json:"cached_tokens"`
							} `json:"input_tokens_details"`
						} `json:"usage"`
					} `json:"response"`
				}
				if json.Unmarshal([]byte(data), &d) == nil {
					p.lastResponse = d.Response.ID
					if d.Response.Usage != nil {
						events <- event.AgentEvent{Kind: event.UsageUpdate, Usage: event.Usage{
							InputTokens:     d.Response.Usage.InputTokens,
							OutputTokens:    d.Response.Usage.OutputTokens,
							CacheReadTokens: d.Response.Usage.InputTokensDetails.CachedTokens,
						}}
					}
				}
			case "response.failed", "error":
				var d struct {
					Error struct {
						Message string `json:"message"`
					} `json:"error"`
				}
				json.Unmarshal([]byte(data), &d)
				return fmt.Errorf("responses API error: %s", d.Error.Message)
			}
			lastEventType = ""
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("responses API streaming error: %w", err)
		}
		return nil
	}), nil
}

func pick(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}

func buildResponsesInput(system string, messages []event.Message) []responsesItem {
	var out []responsesItem
	if system != "" {
		out = append(out, responsesItem{Type: "message", Role: "developer", Content: system})
	}
	for _, msg := range messages {
		for _, part := range msg.Parts {
			switch part.Type {
			case event.PartText:
				role := "user"
				if msg.Role == event.RoleAssistant {
					role = "assistant"
				}
				out = append(out, responsesItem{Type: "message", Role: role, Content: part.Text})
			case event.PartToolUse:
				out = append(out, responsesItem{Type: "function_call", CallID: part.ToolUseID, Name: part.ToolName, Arguments: string(part.ToolInput)})
			case event.PartToolResult:
				out = append(out, responsesItem{Type: "function_call_output", CallID: part.ToolUseID, Output: part.ToolResultContent})
			}
		}
	}
	return out
}

func buildResponsesTools(specs []ToolSpec) []responsesTool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]responsesTool, 0, len(specs))
	for _, s := range specs {
		clean := SanitizeSchema(s.Schema)
		var params map[string]any
		json.Unmarshal(clean, &params)
		out = append(out, responsesTool{Type: "function", Name: s.Name, Description: s.Description, Parameters: params})
	}
	return out
}

type responsesToolCall struct {
	id    string
	name  string
	input json.RawMessage
}

type responsesToolState struct {
	calls map[int]*struct {
		id   string
		name string
		args strings.Builder
	}
}

func newResponsesToolState() *responsesToolState {
	return &responsesToolState{calls: make(map[int]*struct {
		id   string
		name string
		args strings.Builder
	})}
}

func (s *responsesToolState) start(index int, id, name string) {
	s.calls[index] = &struct {
		id   string
		name string
		args strings.Builder
	}{id: id, name: name}
}

func (s *responsesToolState) append(index int, delta string) {
	if c, ok := s.calls[index]; ok {
		c.args.WriteString(delta)
	}
}

func (s *responsesToolState) soFar(index int) string {
	if c, ok := s.calls[index]; ok {
		return c.args.String()
	}
	return ""
}

func (s *responsesToolState) finish(index int, id, name, finalArgs string) (responsesToolCall, bool) {
	c, ok := s.calls[index]
	if !ok {
		return responsesToolCall{}, false
	}
	delete(s.calls, index)
	args := finalArgs
	if args == "" {
		args = c.args.String()
	}
	if args == "" {
		args = "{}"
	}
	return responsesToolCall{id: pick(c.id, id), name: pick(c.name, name), input: json.RawMessage(args)}, true
}
