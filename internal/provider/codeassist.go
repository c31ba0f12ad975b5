package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sacenox/jarvis-core/internal/event"
)

const (
	codeAssistEndpoint   = "https://cloudcode-pa.googleapis.com"
	codeAssistAPIVersion = "v1internal"
)

// CodeAssistProvider speaks the Cloud-Code-Assist envelope protocol: every
// request/response is wrapped in a {"model","project","request":{...}}
// (resp: {"response":{...}}) shell around an otherwise-ordinary Gemini
// generateContent body. Grounded on the teacher's internal/llm/codeassist.go
// StreamResponse/CallWithTool, generalized here to a single streaming path
// that carries tool calls (CallWithTool's functionCall shape merged into
// StreamResponse's SSE loop, since the turn loop needs both at once).
type CodeAssistProvider struct {
	projectID  string
	model      string
	authHeader func() string
	httpClient *http.Client
}

// NewCodeAssistProvider builds a provider for a resolved GCP project id.
// authHeader is invoked per request so a refreshed OAuth bearer is used.
func NewCodeAssistProvider(projectID, model string, authHeader func() string, client *http.Client) *CodeAssistProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &CodeAssistProvider{projectID: projectID, model: model, authHeader: authHeader, httpClient: client}
}

func (p *CodeAssistProvider) Name() string { return "codeassist" }

func (p *CodeAssistProvider) Send(ctx context.Context, req Request) (Stream, error) {
	contents := buildCodeAssistContents(req.Messages)

	requestInner := map[string]any{"contents": contents}
	if req.System != "" {
		requestInner["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.System}},
		}
	}
	if len(req.Tools) > 0 {
		requestInner["tools"] = []map[string]any{{"functionDeclarations": buildCodeAssistTools(req.Tools)}}
	}

	body := map[string]any{
		"model":          pick(req.Model, p.model),
		"project":        p.projectID,
		"user_prompt_id": fmt.Sprintf("turn-%d", time.Now().UnixNano()),
		"request":        requestInner,
	}

	reqJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal code assist request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:streamGenerateContent?alt=sse", codeAssistEndpoint, codeAssistAPIVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("build code assist request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.authHeader != nil {
		httpReq.Header.Set("Authorization", p.authHeader())
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("streamGenerateContent request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("streamGenerateContent failed with status %d: %s", resp.StatusCode, string(msg))
	}

	return newChannelStream(ctx, func(ctx context.Context, events chan<- event.AgentEvent) error {
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var usage event.Usage
		haveUsage := false

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}

			var chunk codeAssistChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Response.Candidates) == 0 {
				continue
			}
			candidate := chunk.Response.Candidates[0]
			for _, part := range candidate.Content.Parts {
				switch {
				case part.Text != "":
					events <- event.AgentEvent{Kind: event.AssistantDelta, Text: part.Text}
				case part.FunctionCall != nil:
					args, _ := json.Marshal(part.FunctionCall.Args)
					events <- event.AgentEvent{
						Kind:      event.ToolInputReady,
						ToolID:    part.FunctionCall.Name,
						ToolName:  part.FunctionCall.Name,
						ToolInput: args,
					}
				}
			}
			if chunk.Response.UsageMetadata != nil {
				usage = event.Usage{
					InputTokens:     chunk.Response.UsageMetadata.PromptTokenCount,
					OutputTokens:    chunk.Response.UsageMetadata.CandidatesTokenCount,
					CacheReadTokens: chunk.Response.UsageMetadata.CachedContentTokenCount,
				}
				haveUsage = true
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("streamGenerateContent streaming error: %w", err)
		}
		if haveUsage {
			events <- event.AgentEvent{Kind: event.UsageUpdate, Usage: usage}
		}
		return nil
	}), nil
}

type codeAssistChunk struct {
	Response struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text         string `json:"text,omitempty"`
					FunctionCall *struct {
						Name string         `json:"name"`
						Args map[string]any `json:"args"`
					} `json:"functionCall,omitempty"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata *struct {
			PromptTokenCount        int `json:"promptTokenCount"`
			CandidatesTokenCount    int `json:"candidatesTokenCount"`
			CachedContentTokenCount int `json:"cachedContentTokenCount"`
		} `json:"usageMetadata,omitempty"`
	} `json:"response"`
}

func buildCodeAssistContents(messages []event.Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		role := "user"
		if msg.Role == event.RoleAssistant {
			role = "model"
		}
		var parts []map[string]any
		for _, part := range msg.Parts {
			switch part.Type {
			case event.PartText:
				if part.Text != "" {
					parts = append(parts, map[string]any{"text": part.Text})
				}
			case event.PartToolUse:
				var args map[string]any
				json.Unmarshal(part.ToolInput, &args)
				parts = append(parts, map[string]any{"functionCall": map[string]any{"name": part.ToolName, "args": args}})
			case event.PartToolResult:
				parts = append(parts, map[string]any{"functionResponse": map[string]any{
					"name":     part.ToolUseID,
					"response": map[string]any{"output": part.ToolResultContent},
				}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, map[string]any{"role": role, "parts": parts})
	}
	return out
}

func buildCodeAssistTools(specs []ToolSpec) []map[string]any {
	out := make([]map[string]any, 0, len(specs))
	for _, s := range specs {
		clean := SanitizeSchema(s.Schema)
		var params map[string]any
		json.Unmarshal(clean, &params)
		out = append(out, map[string]any{
			"name":        s.Name,
			"description": s.Description,
			"parameters":  params,
		})
	}
	return out
}
