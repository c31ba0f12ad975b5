package tools

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// ToolPermissions holds the pre-approved, non-interactive allowlist a tool
// call is checked against before falling back to an interactive prompt:
// directories opened for reading/writing and shell command patterns.
type ToolPermissions struct {
	ReadDirs  []string
	WriteDirs []string
	ShellAllow []string

	readAbs  []string
	writeAbs []string

	shellPatterns  []glob.Glob
	scriptCommands map[string]bool
}

// NewToolPermissions returns an empty ToolPermissions ready for AddReadDir /
// AddWriteDir / AddShellPattern / AddScriptCommand calls.
func NewToolPermissions() *ToolPermissions {
	return &ToolPermissions{
		scriptCommands: make(map[string]bool),
	}
}

// AddReadDir allowlists dir (and everything beneath it) for read access.
func (p *ToolPermissions) AddReadDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve read dir %q: %w", dir, err)
	}
	p.ReadDirs = append(p.ReadDirs, dir)
	p.readAbs = append(p.readAbs, abs)
	return nil
}

// AddWriteDir allowlists dir (and everything beneath it) for write access.
func (p *ToolPermissions) AddWriteDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve write dir %q: %w", dir, err)
	}
	p.WriteDirs = append(p.WriteDirs, dir)
	p.writeAbs = append(p.writeAbs, abs)
	return nil
}

// AddShellPattern allowlists a glob pattern (e.g. "git *") for shell execution.
func (p *ToolPermissions) AddShellPattern(pattern string) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile shell pattern %q: %w", pattern, err)
	}
	p.ShellAllow = append(p.ShellAllow, pattern)
	p.shellPatterns = append(p.shellPatterns, g)
	return nil
}

// AddScriptCommand allowlists an exact shell command string, bypassing glob
// matching entirely (used for script_commands config entries).
func (p *ToolPermissions) AddScriptCommand(script string) {
	if p.scriptCommands == nil {
		p.scriptCommands = make(map[string]bool)
	}
	p.scriptCommands[script] = true
}

// CompileShellPatterns rebuilds the compiled glob matchers from ShellAllow,
// for callers that set ShellAllow directly rather than via AddShellPattern.
func (p *ToolPermissions) CompileShellPatterns() error {
	patterns := p.ShellAllow
	p.shellPatterns = p.shellPatterns[:0]
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return fmt.Errorf("compile shell pattern %q: %w", pattern, err)
		}
		p.shellPatterns = append(p.shellPatterns, g)
	}
	return nil
}

// IsPathAllowedForRead reports whether path falls under a pre-approved read
// directory.
func (p *ToolPermissions) IsPathAllowedForRead(path string) (bool, error) {
	return p.isPathAllowed(path, p.readAbs)
}

// IsPathAllowedForWrite reports whether path falls under a pre-approved
// write directory.
func (p *ToolPermissions) IsPathAllowedForWrite(path string) (bool, error) {
	return p.isPathAllowed(path, p.writeAbs)
}

func (p *ToolPermissions) isPathAllowed(path string, dirs []string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("resolve path %q: %w", path, err)
	}
	for _, dir := range dirs {
		if absPath == dir || strings.HasPrefix(absPath, dir+string(filepath.Separator)) {
			return true, nil
		}
	}
	return false, nil
}

// IsShellCommandAllowed reports whether command matches a pre-approved glob
// pattern or exact script command.
func (p *ToolPermissions) IsShellCommandAllowed(command string) bool {
	if p.scriptCommands[command] {
		return true
	}
	for _, g := range p.shellPatterns {
		if g.Match(command) {
			return true
		}
	}
	return false
}
