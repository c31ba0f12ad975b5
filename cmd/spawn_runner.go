package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/sacenox/jarvis-core/internal/agents"
	"github.com/sacenox/jarvis-core/internal/config"
	"github.com/sacenox/jarvis-core/internal/llm"
	"github.com/sacenox/jarvis-core/internal/session"
	"github.com/sacenox/jarvis-core/internal/tools"
)

// SpawnAgentRunner implements the tools.SpawnAgentRunner interface.
// It loads and runs sub-agents for the spawn_agent tool.
type SpawnAgentRunner struct {
	cfg               *config.Config
	registry          *agents.Registry
	yoloMode          bool // Auto-approve all tool operations in sub-agents
	parentApprovalMgr *tools.ApprovalManager
	store             session.Store // Session store for tracking subagent turns
	parentSessionID   string        // Parent session ID for child session linking
	warnFunc          func(format string, args ...any)
}

// NewSpawnAgentRunner creates a new SpawnAgentRunner.
// parentApprovalMgr enables sub-agents to inherit parent's session approvals and prompting.
func NewSpawnAgentRunner(cfg *config.Config, yoloMode bool, parentApprovalMgr *tools.ApprovalManager) (*SpawnAgentRunner, error) {
	return NewSpawnAgentRunnerWithStore(cfg, yoloMode, parentApprovalMgr, nil, "")
}

// NewSpawnAgentRunnerWithStore creates a new SpawnAgentRunner with session tracking.
// store is used to save subagent turns, parentSessionID links child sessions to parent.
func NewSpawnAgentRunnerWithStore(cfg *config.Config, yoloMode bool, parentApprovalMgr *tools.ApprovalManager, store session.Store, parentSessionID string) (*SpawnAgentRunner, error) {
	registry, err := agents.NewRegistry(agents.RegistryConfig{
		UseBuiltin:  cfg.Agents.UseBuiltin,
		SearchPaths: cfg.Agents.SearchPaths,
	})
	if err != nil {
		return nil, fmt.Errorf("create agent registry: %w", err)
	}

	registry.SetPreferences(cfg.Agents.Preferences)

	return &SpawnAgentRunner{
		cfg:               cfg,
		registry:          registry,
		yoloMode:          yoloMode,
		parentApprovalMgr: parentApprovalMgr,
		store:             store,
		parentSessionID:   parentSessionID,
	}, nil
}

// SetWarnFunc sets a function to be called when non-fatal warnings occur
// (e.g., session persistence failures). If not set, warnings are logged via log.Printf.
func (r *SpawnAgentRunner) SetWarnFunc(fn func(format string, args ...any)) {
	r.warnFunc = fn
}

func (r *SpawnAgentRunner) warn(format string, args ...any) {
	if r.warnFunc != nil {
		r.warnFunc(format, args...)
	} else {
		log.Printf("Warning: "+format, args...)
	}
}

// RunAgent loads and runs a sub-agent with the given prompt.
// It returns the text output from the agent.
func (r *SpawnAgentRunner) RunAgent(ctx context.Context, agentName string, prompt string, depth int) (tools.SpawnAgentRunResult, error) {
	return r.runAgentInternal(ctx, agentName, prompt, depth, "", nil)
}

// RunAgentWithCallback loads and runs a sub-agent with an event callback for progress reporting.
func (r *SpawnAgentRunner) RunAgentWithCallback(ctx context.Context, agentName string, prompt string, depth int,
	callID string, cb tools.SubagentEventCallback) (tools.SpawnAgentRunResult, error) {
	return r.runAgentInternal(ctx, agentName, prompt, depth, callID, cb)
}

// runAgentInternal is the shared implementation for running sub-agents.
func (r *SpawnAgentRunner) runAgentInternal(ctx context.Context, agentName string, prompt string, depth int,
	callID string, cb tools.SubagentEventCallback) (tools.SpawnAgentRunResult, error) {
	emptyResult := tools.SpawnAgentRunResult{}

	agent, err := r.registry.Get(agentName)
	if err != nil {
		return emptyResult, fmt.Errorf("load agent '%s': %w", agentName, err)
	}

	if err := agent.Validate(); err != nil {
		return emptyResult, fmt.Errorf("invalid agent '%s': %w", agentName, err)
	}

	cfg := r.cfg

	// Apply provider overrides from agent. Deep copy to avoid modifying the
	// original config (shared by other sub-agents or the parent): ProviderConfig
	// holds pointer fields (UseNativeSearch, OAuthCreds) and a slice (Models)
	// that a shallow copy would alias.
	if agent.Provider != "" || agent.Model != "" {
		cfgCopy := *cfg
		cfgCopy.Providers = make(map[string]config.ProviderConfig, len(cfg.Providers))
		for k, v := range cfg.Providers {
			if v.Models != nil {
				v.Models = append([]string(nil), v.Models...)
			}
			if v.UseNativeSearch != nil {
				tmp := *v.UseNativeSearch
				v.UseNativeSearch = &tmp
			}
			if v.OAuthCreds != nil {
				credsCopy := *v.OAuthCreds
				v.OAuthCreds = &credsCopy
			}
			cfgCopy.Providers[k] = v
		}
		cfg = &cfgCopy

		if agent.Provider != "" {
			cfg.DefaultProvider = agent.Provider
		}
		if agent.Model != "" {
			if providerCfg, ok := cfg.Providers[cfg.DefaultProvider]; ok {
				providerCfg.Model = agent.Model
				cfg.Providers[cfg.DefaultProvider] = providerCfg
			}
		}
	}

	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return emptyResult, fmt.Errorf("create provider: %w", err)
	}

	providerName := cfg.DefaultProvider
	modelName := agent.Model
	if modelName == "" {
		if providerCfg := cfg.GetActiveProviderConfig(); providerCfg != nil {
			modelName = providerCfg.Model
		}
	}

	// Create child session if store is available (before engine setup so nested agents can reference it).
	var childSessionID string
	if r.store != nil {
		childSession := &session.Session{
			ID:         session.NewID(),
			ParentID:   r.parentSessionID,
			IsSubagent: true,
			Provider:   providerName,
			Model:      modelName,
			Agent:      agentName,
			Summary:    fmt.Sprintf("@%s: %s", agentName, session.TruncateSummary(prompt)),
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
			Status:     session.StatusActive,
		}
		if cwd, err := os.Getwd(); err == nil {
			childSession.CWD = cwd
		}
		if err := r.store.Create(ctx, childSession); err != nil {
			r.warn("session Create failed: %v", err)
		} else {
			childSessionID = childSession.ID

			userMsg := session.NewMessage(childSessionID, llm.UserText(prompt), -1)
			if err := r.store.AddMessage(ctx, childSessionID, userMsg); err != nil {
				r.warn("session AddMessage failed: %v", err)
			}
		}
	}

	engine := llm.NewEngine(provider, defaultToolRegistry(cfg))

	toolMgr, err := r.setupAgentTools(cfg, engine, agent, depth, childSessionID)
	if err != nil {
		return emptyResult, fmt.Errorf("setup tools: %w", err)
	}

	streamStartTime := time.Now()
	if r.store != nil && childSessionID != "" {
		// Response callback saves the assistant message before tool execution,
		// so it's persisted even if tool execution fails or the process crashes.
		engine.SetResponseCompletedCallback(func(ctx context.Context, turnIndex int, assistantMsg llm.Message, metrics llm.TurnMetrics) error {
			sessionMsg := session.NewMessage(childSessionID, assistantMsg, -1)
			sessionMsg.DurationMs = time.Since(streamStartTime).Milliseconds()
			if err := r.store.AddMessage(ctx, childSessionID, sessionMsg); err != nil {
				r.warn("session AddMessage failed: %v", err)
			}
			return nil
		})

		engine.SetTurnCompletedCallback(func(ctx context.Context, turnIndex int, turnMessages []llm.Message, metrics llm.TurnMetrics) error {
			for _, msg := range turnMessages {
				sessionMsg := session.NewMessage(childSessionID, msg, -1)
				if msg.Role == llm.RoleAssistant {
					sessionMsg.DurationMs = time.Since(streamStartTime).Milliseconds()
				}
				if err := r.store.AddMessage(ctx, childSessionID, sessionMsg); err != nil {
					r.warn("session AddMessage failed: %v", err)
				}
			}
			if err := r.store.UpdateMetrics(ctx, childSessionID, 1, metrics.ToolCalls, metrics.InputTokens, metrics.OutputTokens, metrics.CachedInputTokens); err != nil {
				r.warn("session UpdateMetrics failed: %v", err)
			}
			return nil
		})
	}

	systemPrompt := ""
	if agent.SystemPrompt != "" {
		templateCtx := agents.NewTemplateContextForTemplate(agent.SystemPrompt)
		if agents.IsBuiltinAgent(agent.Name) {
			if resourceDir, err := agents.ExtractBuiltinResources(agent.Name); err == nil {
				templateCtx = templateCtx.WithResourceDir(resourceDir)
			}
		}
		systemPrompt = agents.ExpandTemplate(agent.SystemPrompt, templateCtx)

		if agent.ShouldLoadProjectInstructions() {
			if projectInstructions := agents.DiscoverProjectInstructions(); projectInstructions != "" {
				systemPrompt += "\n\n---\n\n" + projectInstructions
			}
		}
	}

	messages := []llm.Message{}
	if systemPrompt != "" {
		messages = append(messages, llm.SystemText(systemPrompt))
	}
	messages = append(messages, llm.UserText(prompt))

	maxTurns := 20
	if agent.MaxTurns > 0 {
		maxTurns = agent.MaxTurns
	}

	req := llm.Request{
		Messages:          messages,
		Search:            agent.Search,
		ParallelToolCalls: true,
		MaxTurns:          maxTurns,
	}

	if toolMgr != nil {
		allSpecs := engine.Tools().AllSpecs()
		if !agent.Search {
			var filtered []llm.ToolSpec
			for _, spec := range allSpecs {
				if spec.Name != llm.WebSearchToolName && spec.Name != llm.ReadURLToolName {
					filtered = append(filtered, spec)
				}
			}
			req.Tools = filtered
		} else {
			req.Tools = allSpecs
		}
		req.ToolChoice = llm.ToolChoice{Mode: llm.ToolChoiceAuto}
	}

	output, err := r.runAndCollectWithCallback(ctx, engine, req, callID, cb, providerName, modelName)
	if err != nil {
		if r.store != nil && childSessionID != "" {
			if statusErr := r.store.UpdateStatus(ctx, childSessionID, session.StatusError); statusErr != nil {
				r.warn("session UpdateStatus failed: %v", statusErr)
			}
		}
		return tools.SpawnAgentRunResult{Output: output, SessionID: childSessionID}, err
	}

	if r.store != nil && childSessionID != "" {
		if statusErr := r.store.UpdateStatus(ctx, childSessionID, session.StatusComplete); statusErr != nil {
			r.warn("session UpdateStatus failed: %v", statusErr)
		}
	}

	return tools.SpawnAgentRunResult{Output: output, SessionID: childSessionID}, nil
}

// setupAgentTools sets up tools based on agent configuration.
// childSessionID is the session ID for this agent run, used as parent for nested agents.
func (r *SpawnAgentRunner) setupAgentTools(cfg *config.Config, engine *llm.Engine, agent *agents.Agent, depth int, childSessionID string) (*tools.ToolManager, error) {
	var enabledTools string
	if agent.HasEnabledList() {
		enabledTools = strings.Join(agent.Tools.Enabled, ",")
	} else if agent.HasDisabledList() {
		allTools := tools.AllToolNames()
		enabled := agent.GetEnabledTools(allTools)
		enabledTools = strings.Join(enabled, ",")
	}

	if enabledTools == "" {
		return nil, nil
	}

	toolConfig := buildToolConfig(enabledTools, agent.Read.Dirs, nil, agent.Shell.Allow, cfg)
	if agent.Shell.AutoRun {
		toolConfig.ShellAutoRun = true
	}
	if len(agent.Shell.Scripts) > 0 {
		for _, script := range agent.Shell.Scripts {
			toolConfig.ScriptCommands = append(toolConfig.ScriptCommands, script)
		}
	}

	toolConfig.Spawn = tools.SpawnConfig{
		MaxParallel:    agent.Spawn.MaxParallel,
		MaxDepth:       agent.Spawn.MaxDepth,
		DefaultTimeout: agent.Spawn.DefaultTimeout,
		AllowedAgents:  agent.Spawn.AllowedAgents,
	}
	if toolConfig.Spawn.MaxParallel <= 0 {
		toolConfig.Spawn.MaxParallel = 3
	}
	if toolConfig.Spawn.MaxDepth <= 0 {
		toolConfig.Spawn.MaxDepth = 2
	}
	if toolConfig.Spawn.DefaultTimeout <= 0 {
		toolConfig.Spawn.DefaultTimeout = 300
	}

	if errs := toolConfig.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid tool config: %v", errs[0])
	}

	toolMgr, err := tools.NewToolManager(&toolConfig, cfg)
	if err != nil {
		return nil, err
	}

	if r.yoloMode {
		toolMgr.ApprovalMgr.SetYoloMode(true)
	}

	if r.parentApprovalMgr != nil {
		if err := toolMgr.ApprovalMgr.SetParent(r.parentApprovalMgr); err != nil {
			return nil, fmt.Errorf("failed to set parent approval manager: %w", err)
		}
	}

	toolMgr.SetupEngine(engine)

	// Wire up spawn_agent for nested agents (with incremented depth); this
	// sub-agent's own ApprovalMgr becomes the parent for further nesting.
	if spawnTool := toolMgr.GetSpawnAgentTool(); spawnTool != nil {
		spawnTool.SetDepth(depth)
		childRunner := &SpawnAgentRunner{
			cfg:               r.cfg,
			registry:          r.registry,
			yoloMode:          r.yoloMode,
			parentApprovalMgr: toolMgr.ApprovalMgr,
			store:             r.store,
			parentSessionID:   childSessionID,
			warnFunc:          r.warnFunc,
		}
		spawnTool.SetRunner(childRunner)
	}

	return toolMgr, nil
}

// runAndCollectWithCallback runs the engine and collects text output, optionally forwarding events.
func (r *SpawnAgentRunner) runAndCollectWithCallback(
	ctx context.Context, engine *llm.Engine, req llm.Request,
	callID string, cb tools.SubagentEventCallback,
	providerName, modelName string) (string, error) {
	stream, err := engine.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	if cb != nil && callID != "" {
		cb(callID, tools.SubagentEvent{
			Type:     tools.SubagentEventInit,
			Provider: providerName,
			Model:    modelName,
		})
	}

	var output strings.Builder
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if cb != nil && callID != "" {
				cb(callID, tools.SubagentEvent{Type: tools.SubagentEventDone})
			}
			return output.String(), err
		}

		switch event.Type {
		case llm.EventTextDelta:
			output.WriteString(event.Text)
			if cb != nil && callID != "" {
				cb(callID, tools.SubagentEvent{Type: tools.SubagentEventText, Text: event.Text})
			}
		case llm.EventToolExecStart:
			if cb != nil && callID != "" {
				cb(callID, tools.SubagentEvent{
					Type:     tools.SubagentEventToolStart,
					ToolName: event.ToolName,
					ToolInfo: event.ToolInfo,
				})
			}
		case llm.EventToolExecEnd:
			if cb != nil && callID != "" {
				cb(callID, tools.SubagentEvent{
					Type:     tools.SubagentEventToolEnd,
					ToolName: event.ToolName,
					Diffs:    event.ToolDiffs,
					Images:   event.ToolImages,
					Success:  event.ToolSuccess,
				})
			}
		case llm.EventPhase:
			if cb != nil && callID != "" {
				cb(callID, tools.SubagentEvent{Type: tools.SubagentEventPhase, Phase: event.Text})
			}
		case llm.EventUsage:
			if cb != nil && callID != "" && event.Use != nil {
				cb(callID, tools.SubagentEvent{
					Type:         tools.SubagentEventUsage,
					InputTokens:  event.Use.InputTokens,
					OutputTokens: event.Use.OutputTokens,
				})
			}
		case llm.EventError:
			if event.Err != nil {
				if cb != nil && callID != "" {
					cb(callID, tools.SubagentEvent{Type: tools.SubagentEventDone})
				}
				return output.String(), event.Err
			}
		}
	}

	if cb != nil && callID != "" {
		cb(callID, tools.SubagentEvent{Type: tools.SubagentEventDone})
	}

	return output.String(), nil
}
