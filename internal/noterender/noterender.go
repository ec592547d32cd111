// Package noterender supplies the CLI's ports.BodyRenderer: a pure
// function turning a book's annotations into a note body with tracking
// comments, grouped into reading-session blocks separated by a gap in
// consecutive highlight timestamps.
//
// Template rendering itself carries no engine semantics (SPEC_FULL.md
// marks it a Non-goal of the core packages); this is the thin, swappable
// implementation the default CLI shell wires in, the way the teacher's
// internal/marshal.Render is the one concrete renderer its own commands use.
package noterender

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kohl-sync/kohl-sync/internal/kohl"
	"github.com/kohl-sync/kohl-sync/internal/notecodec"
)

// Render implements ports.BodyRenderer. Annotations are sorted by
// timestamp; a gap larger than maxHighlightGap between two consecutive
// annotations starts a new "## Session" heading. Each annotation is
// emitted as its tracking marker followed by a blockquote so re-imports
// can recover highlight identity from the body alone.
func Render(metadata kohl.BookMetadata, annotations []kohl.Annotation, style kohl.CommentStyle, maxHighlightGap time.Duration) string {
	sorted := make([]kohl.Annotation, len(annotations))
	copy(sorted, annotations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	var sb strings.Builder
	var lastTS time.Time
	sessionOpen := false

	for i, a := range sorted {
		ts, tsErr := time.Parse(time.RFC3339, a.Timestamp)
		newSession := i == 0 || !sessionOpen
		if tsErr == nil && i > 0 && !lastTS.IsZero() && maxHighlightGap > 0 {
			newSession = ts.Sub(lastTS) > maxHighlightGap
		}
		if newSession {
			if sessionOpen {
				sb.WriteString("\n")
			}
			sb.WriteString(fmt.Sprintf("## %s\n\n", sessionHeading(a, i)))
			sessionOpen = true
		}

		if tsErr == nil {
			lastTS = ts
		}

		writeAnnotation(&sb, a, style)
	}

	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func sessionHeading(a kohl.Annotation, index int) string {
	if a.Timestamp != "" {
		return "Session starting " + a.Timestamp
	}
	return fmt.Sprintf("Session %d", index+1)
}

func writeAnnotation(sb *strings.Builder, a kohl.Annotation, style kohl.CommentStyle) {
	id := a.ID()
	marker := notecodec.Marker(id, style)
	if marker != "" {
		sb.WriteString(marker)
		sb.WriteString("\n")
	}

	for _, line := range strings.Split(strings.TrimRight(a.Text, "\n"), "\n") {
		sb.WriteString("> ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if a.Note != "" {
		sb.WriteString("\n")
		sb.WriteString(a.Note)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}
