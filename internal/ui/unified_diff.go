package ui

import (
	"fmt"
	"io"
	"strings"
)

// RenderUnifiedDiff writes a colorized unified diff. File headers are
// dropped and hunks after the first are separated by an ellipsis line.
func RenderUnifiedDiff(w io.Writer, styles *Styles, diffText string) {
	hunkCount := 0
	for _, line := range strings.Split(diffText, "\n") {
		if line == "" ||
			strings.HasPrefix(line, "diff ") ||
			strings.HasPrefix(line, "--- ") ||
			strings.HasPrefix(line, "+++ ") {
			continue
		}

		switch line[0] {
		case '@':
			if hunkCount > 0 {
				fmt.Fprintln(w, styles.Muted.Render("  ..."))
			}
			hunkCount++
			fmt.Fprintln(w, styles.DiffHeader.Render(line))
		case '-':
			fmt.Fprintln(w, styles.DiffRemove.Render(line))
		case '+':
			fmt.Fprintln(w, styles.DiffAdd.Render(line))
		case ' ':
			fmt.Fprintln(w, styles.Muted.Render(line))
		default:
			fmt.Fprintln(w, line)
		}
	}
}

// DiffStats counts added and removed lines in a unified diff.
func DiffStats(diffText string) (added, removed int) {
	for _, line := range strings.Split(diffText, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ "), strings.HasPrefix(line, "--- "):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}
