// Package thread implements the append-only JSON-lines conversation log
// (spec §3/§4.5/§6): one file per thread, a schema-versioned Meta record as
// the first line, tolerant line-by-line replay, and mtime-ordered listing.
// internal/session's Store/Session/Message shapes are kept as the
// in-memory/replayed projection these logs produce; this package owns the
// on-disk system of record instead of a SQLite table.
package thread

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sacenox/jarvis-core/internal/event"
)

// Thread is a single append-only JSONL conversation log.
type Thread struct {
	ID    string
	Path  string
	IsNew bool

	mu       sync.Mutex
	file     *os.File
	metaDone bool // Meta record has been written as line 1
}

// wireEvent is the on-disk JSON shape for one ThreadEvent line.
type wireEvent struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`

	SchemaVersion int    `json:"schema_version,omitempty"`
	Title         string `json:"title,omitempty"`

	Role string `json:"role,omitempty"`
	Text string `json:"text,omitempty"`

	ToolUseID string          `json:"id,omitempty"`
	ToolName  string          `json:"name,omitempty"`
	ToolInput json.RawMessage `json:"input,omitempty"`

	ToolResultForID string          `json:"tool_use_id,omitempty"`
	Output          json.RawMessage `json:"output,omitempty"`
	OK              bool            `json:"ok,omitempty"`

	Content   string `json:"content,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Dir returns the well-known threads directory, creating it if absent.
func Dir() (string, error) {
	dataDir, err := dataHome()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(dataDir, "threads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create threads dir: %w", err)
	}
	return dir, nil
}

func dataHome() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "term-llm"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "term-llm"), nil
}

// New creates a fresh thread with a random id. The file is not created on
// disk until the first Append (the Meta record is written lazily), per §3
// ("new sessions write it lazily on first append").
func New(dir string) (*Thread, error) {
	id := uuid.New().String()
	return &Thread{
		ID:    id,
		Path:  filepath.Join(dir, id+".jsonl"),
		IsNew: true,
	}, nil
}

// Open opens an existing thread by id for appending (new events are
// appended after whatever is already on disk).
func Open(dir, id string) (*Thread, error) {
	path := filepath.Join(dir, id+".jsonl")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open thread %q: %w", id, err)
	}
	return &Thread{ID: id, Path: path, metaDone: true}, nil
}

// Append writes one ThreadEvent as a single JSON line. The file is opened
// (and, for a brand new thread, a Meta line written first) on the first
// call. Writes are append-only for the lifetime of the Thread.
func (t *Thread) Append(ev event.ThreadEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		f, err := os.OpenFile(t.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open thread file: %w", err)
		}
		t.file = f
	}

	if !t.metaDone {
		meta := wireEvent{
			Type:          event.ThreadMeta.WireType(),
			TS:            time.Now().UTC().Truncate(time.Second),
			SchemaVersion: event.SchemaVersion,
		}
		if err := t.writeLine(meta); err != nil {
			return err
		}
		t.metaDone = true
	}

	return t.writeLine(toWire(ev))
}

// SetTitle rewrites the thread's Meta record (line 1) with a title, per the
// rename-is-read-modify-rewrite decision: the title lives in the first
// line, not a separate sidecar, so it survives a round trip through Load.
func (t *Thread) SetTitle(title string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines, err := readLines(t.Path)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		lines = []string{}
	}

	var meta wireEvent
	if len(lines) > 0 {
		_ = json.Unmarshal([]byte(lines[0]), &meta)
	}
	meta.Type = event.ThreadMeta.WireType()
	if meta.SchemaVersion == 0 {
		meta.SchemaVersion = event.SchemaVersion
	}
	if meta.TS.IsZero() {
		meta.TS = time.Now().UTC().Truncate(time.Second)
	}
	meta.Title = title

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	if len(lines) == 0 {
		lines = append(lines, string(data))
	} else {
		lines[0] = string(data)
	}

	if t.file != nil {
		if err := t.file.Close(); err != nil {
			return fmt.Errorf("close thread file: %w", err)
		}
		t.file = nil
	}

	tmp := t.Path + ".tmp"
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	if err := os.WriteFile(tmp, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write thread file: %w", err)
	}
	if err := os.Rename(tmp, t.Path); err != nil {
		return fmt.Errorf("rename thread file: %w", err)
	}
	return nil
}

// Title returns the title stored in the thread's Meta record, or "" if unset.
func Title(path string) (string, error) {
	lines, err := readLines(path)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", nil
	}
	var meta wireEvent
	if err := json.Unmarshal([]byte(lines[0]), &meta); err != nil {
		return "", nil
	}
	return meta.Title, nil
}

func (t *Thread) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal thread event: %w", err)
	}
	if _, err := t.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write thread event: %w", err)
	}
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open thread file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan thread file: %w", err)
	}
	return lines, nil
}

// Load reads every event in a thread file, skipping any line that fails to
// parse (§4.5 "best-effort (unparseable lines are skipped)"). The Meta line
// is included in the result as a ThreadMeta event.
func Load(path string) ([]event.ThreadEvent, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	events := make([]event.ThreadEvent, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var w wireEvent
		if err := json.Unmarshal([]byte(line), &w); err != nil {
			continue // tolerant: skip unparseable lines
		}
		ev, ok := fromWire(w)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func toWire(ev event.ThreadEvent) wireEvent {
	w := wireEvent{
		Type: ev.Kind.WireType(),
		TS:   ev.TS,
	}
	switch ev.Kind {
	case event.ThreadMeta:
		w.SchemaVersion = ev.SchemaVersion
	case event.ThreadMessage, event.ThreadInterrupted:
		w.Role = ev.Role.String()
		w.Text = ev.Text
	case event.ThreadToolUse:
		w.ToolUseID = ev.ToolUseID
		w.ToolName = ev.ToolName
		w.ToolInput = ev.ToolInput
	case event.ThreadToolResult:
		w.ToolResultForID = ev.ToolResultForID
		w.OK = ev.OK
		if data, err := json.Marshal(ev.Output); err == nil {
			w.Output = data
		}
	case event.ThreadThinking:
		w.Content = ev.Content
		w.Signature = ev.Signature
	}
	return w
}

func fromWire(w wireEvent) (event.ThreadEvent, bool) {
	ev := event.ThreadEvent{TS: w.TS}
	switch w.Type {
	case "meta":
		ev.Kind = event.ThreadMeta
		ev.SchemaVersion = w.SchemaVersion
	case "message":
		ev.Kind = event.ThreadMessage
		ev.Role = event.ParseRole(w.Role)
		ev.Text = w.Text
	case "tool_use":
		ev.Kind = event.ThreadToolUse
		ev.ToolUseID = w.ToolUseID
		ev.ToolName = w.ToolName
		ev.ToolInput = w.ToolInput
	case "tool_result":
		ev.Kind = event.ThreadToolResult
		ev.ToolResultForID = w.ToolResultForID
		ev.OK = w.OK
		if len(w.Output) > 0 {
			_ = json.Unmarshal(w.Output, &ev.Output)
		}
	case "thinking":
		ev.Kind = event.ThreadThinking
		ev.Content = w.Content
		ev.Signature = w.Signature
	case "interrupted":
		ev.Kind = event.ThreadInterrupted
		ev.Role = event.ParseRole(w.Role)
		ev.Text = w.Text
	default:
		return event.ThreadEvent{}, false
	}
	return ev, true
}

// Close closes the underlying file handle, if open.
func (t *Thread) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
