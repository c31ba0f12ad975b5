package automation

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestParseMinimalAutomationDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "morning-report.md", "---\n---\nGenerate morning report from recent threads.")

	def, err := ParseFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Name != "morning-report" {
		t.Fatalf("name=%q, want morning-report", def.Name)
	}
	if def.Schedule != "" || def.Model != "" {
		t.Fatalf("expected no schedule/model, got %+v", def)
	}
	if def.MaxRetries != 0 {
		t.Fatalf("max_retries=%d, want 0", def.MaxRetries)
	}
	if def.Prompt != "Generate morning report from recent threads." {
		t.Fatalf("prompt=%q", def.Prompt)
	}
}

func TestParseRequiresFrontmatter(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "invalid.md", "no frontmatter")

	_, err := ParseFile(path)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseRejectsEmptyPrompt(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empty.md", "---\n---\n   \n")

	_, err := ParseFile(path)
	if err == nil {
		t.Fatalf("expected error for empty prompt body")
	}
}

func TestParseRejectsZeroTimeout(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad-timeout.md", "---\ntimeout_secs: 0\n---\ndo something")

	_, err := ParseFile(path)
	if err == nil {
		t.Fatalf("expected error for zero timeout_secs")
	}
}

func TestParseRejectsUnknownFrontmatterKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "unknown-key.md", "---\nbogus: true\n---\ndo something")

	_, err := ParseFile(path)
	if err == nil {
		t.Fatalf("expected error for unknown frontmatter key")
	}
}

func TestDiscoverRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "report.md", "---\n---\nfirst")
	sub := filepath.Join(dir, "report.MD")
	writeFile(t, filepath.Dir(sub), "report.MD", "---\n---\nsecond")

	_, err := Discover(dir)
	if err == nil {
		t.Fatalf("expected duplicate-name error")
	}
}

func TestDiscoverMissingDirReturnsEmpty(t *testing.T) {
	defs, err := Discover(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(defs) != 0 {
		t.Fatalf("expected no definitions")
	}
}
