package udiff

import (
	"fmt"
	"strings"
)

// Parse reads unified-diff text (per the format documented by the
// unified_diff tool) into one FileDiff per --- / +++ path pair.
func Parse(text string) ([]FileDiff, error) {
	lines := strings.Split(text, "\n")

	var diffs []FileDiff
	var cur *FileDiff
	var hunk *Hunk

	flushHunk := func() {
		if cur != nil && hunk != nil {
			cur.Hunks = append(cur.Hunks, *hunk)
			hunk = nil
		}
	}
	flushFile := func() {
		flushHunk()
		if cur != nil {
			diffs = append(diffs, *cur)
			cur = nil
		}
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		switch {
		case strings.HasPrefix(line, "--- "):
			flushFile()
			path := strings.TrimSpace(strings.TrimPrefix(line, "--- "))
			cur = &FileDiff{Path: path}

		case strings.HasPrefix(line, "+++ "):
			if cur == nil {
				return nil, fmt.Errorf("line %d: +++ without preceding ---", i+1)
			}
			path := strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
			if path != "" && path != "/dev/null" {
				cur.Path = path
			}

		case strings.HasPrefix(line, "@@"):
			if cur == nil {
				return nil, fmt.Errorf("line %d: hunk header outside of a file block", i+1)
			}
			flushHunk()
			hunk = &Hunk{Context: extractHunkContext(line)}

		case hunk == nil:
			// Blank separator lines between file blocks, or stray text
			// before the first hunk header; ignore.
			continue

		case strings.HasPrefix(line, "-"):
			content := line[1:]
			if strings.TrimSpace(content) == "..." {
				hunk.Lines = append(hunk.Lines, Line{Type: Elision})
			} else {
				hunk.Lines = append(hunk.Lines, Line{Type: Remove, Content: content})
			}

		case strings.HasPrefix(line, "+"):
			hunk.Lines = append(hunk.Lines, Line{Type: Add, Content: line[1:]})

		case strings.HasPrefix(line, " "):
			hunk.Lines = append(hunk.Lines, Line{Type: Context, Content: line[1:]})

		case line == "":
			hunk.Lines = append(hunk.Lines, Line{Type: Context, Content: ""})

		default:
			// Tolerate a missing leading space on context lines.
			hunk.Lines = append(hunk.Lines, Line{Type: Context, Content: line})
		}
	}

	flushFile()

	if len(diffs) == 0 {
		return nil, fmt.Errorf("no file diffs found in input")
	}

	return diffs, nil
}

// extractHunkContext pulls the text between the two @@ markers, e.g.
// "@@ func Name @@" -> "func Name".
func extractHunkContext(line string) string {
	rest := strings.TrimPrefix(line, "@@")
	if idx := strings.LastIndex(rest, "@@"); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.TrimSpace(rest)
}
