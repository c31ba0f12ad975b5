package cmd

import (
	"github.com/sacenox/jarvis-core/internal/config"
	"github.com/sacenox/jarvis-core/internal/llm"
	"github.com/sacenox/jarvis-core/internal/search"
	"github.com/sacenox/jarvis-core/internal/tools"
)

// defaultToolRegistry builds the always-on tool registry (web search, URL
// fetch) available regardless of the --tools flag.
func defaultToolRegistry(cfg *config.Config) *llm.ToolRegistry {
	registry := llm.NewToolRegistry()
	registry.Register(llm.NewWebSearchTool(search.NewExaSearcher(cfg.Search.Exa.APIKey, "")))
	registry.Register(llm.NewReadURLTool())
	return registry
}

// buildToolConfig merges the config file's tool defaults with CLI overrides
// for a single chat/ask/exec invocation.
func buildToolConfig(toolsFlag string, readDirs, writeDirs, shellAllow []string, cfg *config.Config) tools.ToolConfig {
	base := tools.NewToolConfigFromFields(
		cfg.Tools.Enabled,
		cfg.Tools.ReadDirs,
		cfg.Tools.WriteDirs,
		cfg.Tools.ShellAllow,
		cfg.Tools.ShellAutoRun,
		cfg.Tools.ShellAutoRunEnv,
		cfg.Tools.ShellNonTTYEnv,
		cfg.Tools.ImageProvider,
	)

	override := tools.DefaultToolConfig()
	if toolsFlag != "" {
		override.Enabled = tools.ParseToolsFlag(toolsFlag)
	}
	override.ReadDirs = readDirs
	override.WriteDirs = writeDirs
	override.ShellAllow = shellAllow

	return base.Merge(override)
}
