package llm

import (
	"context"
	"fmt"
	"strings"
)

// WarningPhasePrefix marks an EventPhase text as an informational warning
// rather than routine progress, so the UI can style it distinctly.
const WarningPhasePrefix = "Warning: "

// defaultThresholdRatio is how full the context window must be (relative to
// the provider/model's input limit) before compaction kicks in, or before a
// warning is surfaced when compaction is disabled.
const defaultThresholdRatio = 0.8

// CompactionConfig controls when and how Compact rewrites conversation
// history to fit back under a provider's input token limit.
type CompactionConfig struct {
	// ThresholdRatio is the fraction of InputLimit that triggers compaction.
	ThresholdRatio float64
	// KeepRecentMessages preserves this many of the most recent messages
	// verbatim; everything older is summarized.
	KeepRecentMessages int
	// MaxToolResultChars additionally truncates any single tool result's
	// content as a secondary safety net beyond the engine's global limit.
	MaxToolResultChars int
}

// DefaultCompactionConfig returns the config used when auto_compact is
// enabled without per-field overrides.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		ThresholdRatio:     defaultThresholdRatio,
		KeepRecentMessages: 10,
		MaxToolResultChars: 4000,
	}
}

// CompactionResult describes one compaction pass: the rewritten message
// history plus enough bookkeeping for a caller to report what happened.
type CompactionResult struct {
	NewMessages     []Message
	SummaryText     string
	MessagesDropped int
}

// Compact summarizes the oldest non-system messages into a single synthetic
// assistant note and keeps the most recent messages verbatim, so the next
// request fits back under the provider's input limit.
//
// The summary itself is produced by asking the same provider/model for a
// short recap — grounded on the teacher's practice of using the active
// model for all auxiliary text generation (title generation, etc.) rather
// than a separate fixed summarizer model.
func Compact(ctx context.Context, provider Provider, model, systemPrompt string, messages []Message, config CompactionConfig) (*CompactionResult, error) {
	keep := config.KeepRecentMessages
	if keep <= 0 {
		keep = 10
	}
	if len(messages) <= keep {
		return &CompactionResult{NewMessages: messages}, nil
	}

	toSummarize := messages[:len(messages)-keep]
	recent := messages[len(messages)-keep:]

	summary, err := summarizeMessages(ctx, provider, model, systemPrompt, toSummarize)
	if err != nil {
		return nil, fmt.Errorf("compact: summarize: %w", err)
	}

	newMessages := make([]Message, 0, len(recent)+1)
	newMessages = append(newMessages, SystemText("Earlier conversation summary:\n"+summary))
	newMessages = append(newMessages, recent...)

	return &CompactionResult{
		NewMessages:     newMessages,
		SummaryText:     summary,
		MessagesDropped: len(toSummarize),
	}, nil
}

func summarizeMessages(ctx context.Context, provider Provider, model, systemPrompt string, messages []Message) (string, error) {
	var transcript strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if part.Type != PartText || part.Text == "" {
				continue
			}
			transcript.WriteString(string(msg.Role))
			transcript.WriteString(": ")
			transcript.WriteString(part.Text)
			transcript.WriteString("\n")
		}
	}
	if transcript.Len() == 0 {
		return "(no summarizable content)", nil
	}

	req := Request{
		Model: model,
		Messages: []Message{
			SystemText("Summarize the following conversation history concisely, preserving any facts, decisions, file paths, or open tasks a continuing assistant would need."),
			UserText(transcript.String()),
		},
		ToolChoice: ToolChoice{Mode: ToolChoiceNone},
	}

	stream, err := provider.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var out strings.Builder
	for {
		event, err := stream.Recv()
		if err != nil {
			break
		}
		if event.Type == EventTextDelta {
			out.WriteString(event.Text)
		}
		if event.Type == EventDone {
			break
		}
	}
	if out.Len() == 0 {
		return "(summary unavailable)", nil
	}
	return out.String(), nil
}

// isContextOverflowError reports whether err looks like a provider-side
// "context window exceeded" rejection, by matching on the substrings the
// four adapters' APIs are known to return.
func isContextOverflowError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"context_length_exceeded",
		"context window",
		"maximum context length",
		"too many tokens",
		"input is too long",
		"prompt is too long",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// inputLimits is a coarse, deliberately conservative model-family ->
// context-window table, grounded on the same model-name-substring
// classifier idiom as parseModelThinking (anthropic.go) and the codex/gpt
// family checks in codex.go.
var inputLimits = []struct {
	substr string
	limit  int
}{
	{"claude-opus-4", 200_000},
	{"claude-sonnet-4", 200_000},
	{"claude-haiku-4", 200_000},
	{"claude-3", 200_000},
	{"gpt-5", 272_000},
	{"gpt-4.1", 1_000_000},
	{"gpt-4o", 128_000},
	{"codex", 272_000},
	{"o3", 200_000},
	{"o1", 200_000},
	{"gemini-2.5", 1_000_000},
	{"gemini-2.0", 1_000_000},
	{"gemini", 1_000_000},
	{"grok", 131_072},
}

// InputLimitForProviderModel returns the known input token budget for a
// provider/model pair, or 0 if unknown (meaning compaction/tracking should
// be left disabled rather than guessed at). providerName is currently
// unused (all known models are disambiguated by name alone) but kept in
// the signature so callers don't need a provider-specific variant later.
func InputLimitForProviderModel(providerName, modelName string) int {
	return InputLimitForModel(modelName)
}

// InputLimitForModel returns the known input token budget for a bare model
// ID, used when listing models from a single provider's API.
func InputLimitForModel(modelID string) int {
	m := strings.ToLower(modelID)
	for _, entry := range inputLimits {
		if strings.Contains(m, entry.substr) {
			return entry.limit
		}
	}
	return 0
}

// charsPerToken is the rough English-text chars-per-token ratio used when no
// provider-native tokenizer is available.
const charsPerToken = 4

// EstimateMessageTokens heuristically estimates the token count of messages
// by counting characters across all text-bearing parts and dividing by
// charsPerToken. This intentionally over-approximates tool call/result JSON,
// which tends to be denser than prose.
func EstimateMessageTokens(messages []Message) int {
	chars := 0
	for _, msg := range messages {
		for _, part := range msg.Parts {
			chars += len(part.Text)
			chars += len(part.ReasoningContent)
			if part.ToolCall != nil {
				chars += len(part.ToolCall.Arguments)
			}
			if part.ToolResult != nil {
				chars += len(part.ToolResult.Content)
				for _, cp := range part.ToolResult.ContentParts {
					chars += len(cp.Text)
				}
			}
		}
	}
	return chars / charsPerToken
}

// TruncateToolResult trims content to at most maxChars runes, appending a
// marker so the model knows output was cut rather than naturally short.
func TruncateToolResult(content string, maxChars int) string {
	if maxChars <= 0 {
		return content
	}
	runes := []rune(content)
	if len(runes) <= maxChars {
		return content
	}
	return string(runes[:maxChars]) + fmt.Sprintf("\n... [truncated, %d characters omitted]", len(runes)-maxChars)
}
