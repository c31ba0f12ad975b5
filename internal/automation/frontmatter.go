package automation

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is one parsed automation: a scheduled markdown prompt with
// front-matter controlling model/timeout/retries, per §6/GLOSSARY.
type Definition struct {
	Name        string
	Path        string
	Schedule    string // empty if absent
	Model       string // empty if absent
	TimeoutSecs int    // 0 if absent
	MaxRetries  int
	Prompt      string
}

// frontmatter is the YAML shape, unknown keys rejected (§6: "unknown keys
// rejected").
type frontmatter struct {
	Schedule    string `yaml:"schedule"`
	Model       string `yaml:"model"`
	TimeoutSecs *int   `yaml:"timeout_secs"`
	MaxRetries  *int   `yaml:"max_retries"`
}

// Discover reads every *.md file directly under dir and parses it as an
// automation. Files are processed in lexical order; duplicate names (by file
// stem) are rejected.
func Discover(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read automation dir %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	byName := make(map[string]Definition, len(paths))
	var out []Definition
	for _, path := range paths {
		def, err := ParseFile(path)
		if err != nil {
			return nil, fmt.Errorf("parse automation %s: %w", path, err)
		}
		if existing, ok := byName[def.Name]; ok {
			return nil, fmt.Errorf("duplicate automation name %q: %q and %q", def.Name, existing.Path, def.Path)
		}
		byName[def.Name] = def
		out = append(out, def)
	}
	return out, nil
}

// ParseFile reads and parses a single automation markdown file.
func ParseFile(path string) (Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read automation file %s: %w", path, err)
	}

	yamlPart, body, err := splitFrontmatter(string(content))
	if err != nil {
		return Definition{}, err
	}

	var fm frontmatter
	if strings.TrimSpace(yamlPart) != "" {
		dec := yaml.NewDecoder(strings.NewReader(yamlPart))
		dec.KnownFields(true)
		if err := dec.Decode(&fm); err != nil {
			return Definition{}, fmt.Errorf("parse YAML frontmatter in %s: %w", path, err)
		}
	}

	name, err := fileStem(path)
	if err != nil {
		return Definition{}, err
	}

	schedule, err := normalizeOptional(fm.Schedule, "schedule")
	if err != nil {
		return Definition{}, err
	}
	model, err := normalizeOptional(fm.Model, "model")
	if err != nil {
		return Definition{}, err
	}

	if fm.TimeoutSecs != nil && *fm.TimeoutSecs == 0 {
		return Definition{}, fmt.Errorf("timeout_secs must be greater than zero")
	}

	prompt := strings.TrimSpace(body)
	if prompt == "" {
		return Definition{}, fmt.Errorf("automation prompt body cannot be empty")
	}

	maxRetries := 0
	if fm.MaxRetries != nil {
		maxRetries = *fm.MaxRetries
	}
	timeoutSecs := 0
	if fm.TimeoutSecs != nil {
		timeoutSecs = *fm.TimeoutSecs
	}

	return Definition{
		Name:        name,
		Path:        path,
		Schedule:    schedule,
		Model:       model,
		TimeoutSecs: timeoutSecs,
		MaxRetries:  maxRetries,
		Prompt:      prompt,
	}, nil
}

func fileStem(path string) (string, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.TrimSpace(stem)
	if stem == "" {
		return "", fmt.Errorf("invalid automation file name: %s", path)
	}
	return stem, nil
}

func normalizeOptional(value, field string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if value != "" && trimmed == "" {
		return "", fmt.Errorf("%s cannot be empty", field)
	}
	return trimmed, nil
}

// splitFrontmatter separates a leading "---"-delimited YAML block (ending in
// "---" or "...") from the markdown body that follows it.
func splitFrontmatter(content string) (yamlPart, body string, err error) {
	content = strings.TrimPrefix(content, "﻿")
	lines := strings.Split(content, "\n")

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", "", fmt.Errorf("missing YAML frontmatter")
	}

	for idx := 1; idx < len(lines); idx++ {
		trimmed := strings.TrimSpace(lines[idx])
		if trimmed == "---" || trimmed == "..." {
			return strings.Join(lines[1:idx], "\n"), strings.Join(lines[idx+1:], "\n"), nil
		}
	}

	return "", "", fmt.Errorf("unterminated YAML frontmatter")
}
