package thread

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/sacenox/jarvis-core/internal/event"
)

// Index is a derived, rebuildable full-text search index over a directory
// of thread logs. It is never the system of record — the JSONL files are —
// so a corrupt or missing index file can always be regenerated by Rebuild.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if absent) the FTS5 index database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open thread index: %w", err)
	}
	if _, err := db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS thread_search USING fts5(
		thread_id UNINDEXED,
		title,
		body
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create thread_search table: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the index's database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Rebuild truncates and repopulates the index by replaying every thread
// file under dir. Safe to call at any time: it never reads or writes the
// JSONL files' own content, only derives rows from them.
func (idx *Index) Rebuild(dir string) error {
	if _, err := idx.db.Exec(`DELETE FROM thread_search`); err != nil {
		return fmt.Errorf("clear thread_search: %w", err)
	}

	summaries, err := List(dir)
	if err != nil {
		return fmt.Errorf("list threads: %w", err)
	}

	for _, s := range summaries {
		path := threadPath(dir, s.ID)
		events, err := Load(path)
		if err != nil {
			continue
		}
		if err := idx.indexOne(s.ID, s.Title, events); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) indexOne(id, title string, events []event.ThreadEvent) error {
	var body string
	for _, ev := range Replay(events) {
		body += ev.Text() + "\n"
	}
	_, err := idx.db.Exec(
		`INSERT INTO thread_search (thread_id, title, body) VALUES (?, ?, ?)`,
		id, title, body,
	)
	if err != nil {
		return fmt.Errorf("index thread %q: %w", id, err)
	}
	return nil
}

// SearchResult is one match from Search.
type SearchResult struct {
	ThreadID string
	Title    string
	Snippet  string
}

// Search runs a full-text query against the index and returns matching
// thread ids, ranked by FTS5's default bm25 ordering.
func (idx *Index) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := idx.db.Query(
		`SELECT thread_id, title, snippet(thread_search, 2, '[', ']', '...', 10)
		 FROM thread_search WHERE thread_search MATCH ? ORDER BY rank LIMIT ?`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search thread index: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ThreadID, &r.Title, &r.Snippet); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func threadPath(dir, id string) string {
	return filepath.Join(dir, id+".jsonl")
}
