package thread

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Summary is a thread's listing entry: id plus last-modified time.
type Summary struct {
	ID       string
	Modified time.Time
	Title    string
}

// List enumerates thread files under dir and returns them ordered by
// modification time, newest first, per §4.5 ("key by modification time
// descending"). This is a plain filepath.Glob + os.Stat scan — no index
// required for listing.
func List(dir string) ([]Summary, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		title, _ := Title(path)
		summaries = append(summaries, Summary{ID: id, Modified: info.ModTime(), Title: title})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Modified.After(summaries[j].Modified)
	})
	return summaries, nil
}
