package thread

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sacenox/jarvis-core/internal/event"
)

func TestAppendWritesMetaLazilyOnFirstLine(t *testing.T) {
	dir := t.TempDir()
	th, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := th.Append(event.ThreadEvent{
		Kind: event.ThreadMessage,
		TS:   time.Now().UTC().Truncate(time.Second),
		Role: event.RoleUser,
		Text: "hello",
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	th.Close()

	events, err := Load(th.Path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events (meta + message), got %d", len(events))
	}
	if events[0].Kind != event.ThreadMeta {
		t.Fatalf("expected first event to be Meta, got %v", events[0].Kind)
	}
	if events[0].SchemaVersion != event.SchemaVersion {
		t.Fatalf("expected schema version %d, got %d", event.SchemaVersion, events[0].SchemaVersion)
	}
	if events[1].Kind != event.ThreadMessage || events[1].Text != "hello" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

func TestLoadSkipsUnparseableLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.jsonl")
	contents := "{\"type\":\"meta\",\"schema_version\":1,\"ts\":\"2026-01-01T00:00:00Z\"}\n" +
		"not json at all\n" +
		"{\"type\":\"message\",\"role\":\"user\",\"text\":\"still works\",\"ts\":\"2026-01-01T00:00:01Z\"}\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	events, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 parseable events, got %d", len(events))
	}
}

func TestSetTitleSurvivesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	th, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := th.Append(event.ThreadEvent{Kind: event.ThreadMessage, Role: event.RoleUser, Text: "hi"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	th.Close()

	if err := th.SetTitle("My Thread"); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}

	title, err := Title(th.Path)
	if err != nil {
		t.Fatalf("Title: %v", err)
	}
	if title != "My Thread" {
		t.Fatalf("expected title %q, got %q", "My Thread", title)
	}

	events, err := Load(th.Path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected meta+message to survive rename, got %d events", len(events))
	}
}
