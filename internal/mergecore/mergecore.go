// Package mergecore implements the engine's only three-way merge: a pure,
// line-based diff3 over (ours, base, theirs) that never drops a line
// silently and renders unresolved overlaps as labeled conflict blocks.
//
// Line-level diffing is delegated to github.com/sergi/go-diff's
// diffmatchpatch, the only line-diff library with a direct "require" in
// the retrieval pack (pulumi-pulumi, open-policy-agent-opa); this package
// supplies the diff3 reconciliation on top of it.
package mergecore

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// RegionKind distinguishes a Region's two shapes.
type RegionKind int

const (
	Clean RegionKind = iota
	Conflict
)

// Region is one segment of a merge3 result: either a clean run of lines or
// an unresolved conflict carrying both sides' lines.
type Region struct {
	Kind RegionKind
	// Lines holds the resolved content for a Clean region.
	Lines []string
	// A and B hold the two sides' content for a Conflict region.
	A []string
	B []string
}

// hunk is a contiguous run of base lines [Start,End) replaced by New in one
// side of the merge. A pure insertion has Start == End.
type hunk struct {
	Start, End int
	New        []string
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	parts := strings.SplitAfter(text, "\n")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// hunksAgainstBase returns the non-equal runs of a base→other line diff,
// each anchored to the base line range it replaces.
func hunksAgainstBase(base, other string) []hunk {
	dmp := diffmatchpatch.New()
	chars1, chars2, lines := dmp.DiffLinesToChars(base, other)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var hunks []hunk
	basePos := 0
	var pendingStart = -1
	var pendingNew []string
	pendingBaseLen := 0

	flush := func() {
		if pendingStart == -1 {
			return
		}
		hunks = append(hunks, hunk{Start: pendingStart, End: pendingStart + pendingBaseLen, New: pendingNew})
		pendingStart = -1
		pendingNew = nil
		pendingBaseLen = 0
	}

	for _, d := range diffs {
		dLines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			basePos += len(dLines)
		case diffmatchpatch.DiffDelete:
			if pendingStart == -1 {
				pendingStart = basePos
			}
			pendingBaseLen += len(dLines)
			basePos += len(dLines)
		case diffmatchpatch.DiffInsert:
			if pendingStart == -1 {
				pendingStart = basePos
			}
			pendingNew = append(pendingNew, dLines...)
		}
	}
	flush()
	return hunks
}

// mergeOverlapping groups a and b's hunks into maximal base-line ranges
// touched by either side, expanding each range to a fixpoint so a hunk
// that only partially overlaps an already-grown range still pulls the
// whole range together.
func mergeOverlapping(a, b []hunk) [][2]int {
	all := append(append([][2]int{}, rangesOf(a)...), rangesOf(b)...)
	if len(all) == 0 {
		return nil
	}
	changed := true
	for changed {
		changed = false
		for i := 0; i < len(all); i++ {
			for j := i + 1; j < len(all); j++ {
				if overlapsOrTouches(all[i], all[j]) {
					all[i] = union(all[i], all[j])
					all = append(all[:j], all[j+1:]...)
					changed = true
					break
				}
			}
			if changed {
				break
			}
		}
	}
	sortRanges(all)
	return all
}

func rangesOf(hs []hunk) [][2]int {
	out := make([][2]int, len(hs))
	for i, h := range hs {
		out[i] = [2]int{h.Start, h.End}
	}
	return out
}

func overlapsOrTouches(x, y [2]int) bool {
	// Zero-width (pure-insertion) ranges only merge with another range
	// anchored at the exact same base position; otherwise every
	// insertion point would coalesce the whole document into one hunk.
	if x[0] == x[1] || y[0] == y[1] {
		return x[0] == y[0] && x[1] == y[1]
	}
	return x[0] < y[1] && y[0] < x[1]
}

func union(x, y [2]int) [2]int {
	s := x[0]
	if y[0] < s {
		s = y[0]
	}
	e := x[1]
	if y[1] > e {
		e = y[1]
	}
	return [2]int{s, e}
}

func sortRanges(rs [][2]int) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j][0] < rs[j-1][0]; j-- {
			rs[j], rs[j-1] = rs[j-1], rs[j]
		}
	}
}

func hunksIn(hs []hunk, r [2]int) []hunk {
	var out []hunk
	for _, h := range hs {
		if h.Start >= r[0] && h.End <= r[1] {
			out = append(out, h)
		}
	}
	return out
}

func joinedNew(hs []hunk) []string {
	var out []string
	for _, h := range hs {
		out = append(out, h.New...)
	}
	return out
}

func sameLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Merge3 performs the line-based diff3 merge described in SPEC_FULL.md
// §4.6: regions where ours==base take theirs; regions where theirs==base
// take ours; regions where both changed identically collapse to one
// clean region; everything else becomes a Conflict. No input line is
// ever dropped silently.
func Merge3(ours, base, theirs string) []Region {
	baseLines := splitLines(base)
	oHunks := hunksAgainstBase(base, ours)
	tHunks := hunksAgainstBase(base, theirs)

	disputed := mergeOverlapping(oHunks, tHunks)

	var regions []Region
	cursor := 0
	for _, r := range disputed {
		if r[0] > cursor {
			regions = append(regions, Region{Kind: Clean, Lines: baseLines[cursor:r[0]]})
		}

		oh := hunksIn(oHunks, r)
		th := hunksIn(tHunks, r)

		switch {
		case len(oh) == 0 && len(th) == 0:
			// Nothing actually touched this base range (can happen for
			// zero-width ranges at the same point from both sides with
			// no net content change); skip rather than duplicate.
		case len(oh) == 0:
			regions = append(regions, Region{Kind: Clean, Lines: joinedNew(th)})
		case len(th) == 0:
			regions = append(regions, Region{Kind: Clean, Lines: joinedNew(oh)})
		default:
			a := joinedNew(oh)
			b := joinedNew(th)
			if sameLines(a, b) {
				regions = append(regions, Region{Kind: Clean, Lines: a})
			} else {
				regions = append(regions, Region{Kind: Conflict, A: a, B: b})
			}
		}

		if r[1] > cursor {
			cursor = r[1]
		}
	}
	if cursor < len(baseLines) {
		regions = append(regions, Region{Kind: Clean, Lines: baseLines[cursor:]})
	}

	return regions
}

// ConflictFormatter renders the two sides of a Conflict region into the
// text that replaces it.
type ConflictFormatter func(a, b []string) string

const (
	ConflictStart = "<<<<<<< KOHL-CONFLICT: Your Edits"
	ConflictMid   = "======="
	ConflictEnd   = ">>>>>>> KOHL-CONFLICT: Incoming Changes"
)

// DefaultConflictFormatter renders a labeled, sentinel-wrapped block later
// automated detection (and a human reviewer) can recognize unambiguously.
func DefaultConflictFormatter(a, b []string) string {
	var sb strings.Builder
	sb.WriteString(ConflictStart)
	sb.WriteString("\n")
	sb.WriteString(strings.Join(a, ""))
	if len(a) > 0 && !strings.HasSuffix(a[len(a)-1], "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString(ConflictMid)
	sb.WriteString("\n")
	sb.WriteString(strings.Join(b, ""))
	if len(b) > 0 && !strings.HasSuffix(b[len(b)-1], "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString(ConflictEnd)
	sb.WriteString("\n")
	return sb.String()
}

// RenderRegions concatenates regions into final text, rendering conflicts
// with formatter (DefaultConflictFormatter if nil). hadConflict reports
// whether any Conflict region was present.
func RenderRegions(regions []Region, formatter ConflictFormatter) (mergedText string, hadConflict bool) {
	if formatter == nil {
		formatter = DefaultConflictFormatter
	}
	var sb strings.Builder
	for _, r := range regions {
		switch r.Kind {
		case Clean:
			sb.WriteString(strings.Join(r.Lines, ""))
		case Conflict:
			hadConflict = true
			sb.WriteString(formatter(r.A, r.B))
		}
	}
	return sb.String(), hadConflict
}
