package mergecore

import (
	"strings"
	"testing"
)

func render(t *testing.T, ours, base, theirs string) (string, bool) {
	t.Helper()
	regions := Merge3(ours, base, theirs)
	return RenderRegions(regions, nil)
}

func TestMerge3IdentityAllSame(t *testing.T) {
	t.Parallel()
	x := "line one\nline two\nline three\n"
	got, conflict := render(t, x, x, x)
	if conflict {
		t.Fatalf("unexpected conflict for merge3(x,x,x)")
	}
	if got != x {
		t.Fatalf("merge3(x,x,x) = %q, want %q", got, x)
	}
}

func TestMerge3IdentityTheirsChangedOnly(t *testing.T) {
	t.Parallel()
	x := "alpha\nbeta\ngamma\n"
	y := "alpha\nBETA-CHANGED\ngamma\n"
	got, conflict := render(t, x, x, y)
	if conflict {
		t.Fatalf("unexpected conflict for merge3(x,x,y): %q", got)
	}
	if got != y {
		t.Fatalf("merge3(x,x,y) = %q, want %q", got, y)
	}
}

func TestMerge3IdentityOursChangedOnly(t *testing.T) {
	t.Parallel()
	x := "alpha\nbeta\ngamma\n"
	y := "alpha\nBETA-CHANGED\ngamma\n"
	got, conflict := render(t, y, x, x)
	if conflict {
		t.Fatalf("unexpected conflict for merge3(y,x,x): %q", got)
	}
	if got != y {
		t.Fatalf("merge3(y,x,x) = %q, want %q", got, y)
	}
}

func TestMerge3AllDistinctYieldsConflict(t *testing.T) {
	t.Parallel()
	base := "the original line\n"
	ours := "my rewritten line\n"
	theirs := "their rewritten line\n"
	got, conflict := render(t, ours, base, theirs)
	if !conflict {
		t.Fatalf("expected a conflict region, got clean merge: %q", got)
	}
	if !strings.Contains(got, "my rewritten line") || !strings.Contains(got, "their rewritten line") {
		t.Fatalf("conflict block dropped a side's content: %q", got)
	}
}

func TestMerge3AdditiveBothSidesNoOverlap(t *testing.T) {
	t.Parallel()
	base := "first\nsecond\nthird\n"
	ours := "first\nsecond (mine)\nthird\n"
	theirs := "first\nsecond\nthird\nfourth (new)\n"
	got, conflict := render(t, ours, base, theirs)
	if conflict {
		t.Fatalf("unexpected conflict for non-overlapping additive edits: %q", got)
	}
	if !strings.Contains(got, "second (mine)") || !strings.Contains(got, "fourth (new)") {
		t.Fatalf("additive merge lost a side's edit: %q", got)
	}
}

func TestMerge3IdenticalEditBothSidesCollapses(t *testing.T) {
	t.Parallel()
	base := "one\ntwo\nthree\n"
	same := "one\nTWO-EDITED\nthree\n"
	got, conflict := render(t, same, base, same)
	if conflict {
		t.Fatalf("identical edits on both sides should not conflict: %q", got)
	}
	if got != same {
		t.Fatalf("merge3(same,base,same) = %q, want %q", got, same)
	}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.SplitAfter(s, "\n"))
}

func TestMerge3NeverDropsOriginalLines(t *testing.T) {
	t.Parallel()
	base := "a\nb\nc\nd\ne\n"
	ours := "a\nb-mine\nc\nd\ne\n"
	theirs := "a\nb\nc\nd-theirs\ne\nf-new\n"
	regions := Merge3(ours, base, theirs)
	var totalA, totalB, totalClean int
	for _, r := range regions {
		switch r.Kind {
		case Clean:
			totalClean += len(r.Lines)
		case Conflict:
			totalA += len(r.A)
			totalB += len(r.B)
		}
	}
	if totalClean == 0 {
		t.Fatalf("expected some clean region to survive, got none: %+v", regions)
	}
	got, _ := render(t, ours, base, theirs)
	if !strings.Contains(got, "b-mine") || !strings.Contains(got, "d-theirs") || !strings.Contains(got, "f-new") {
		t.Fatalf("a non-overlapping edit was silently dropped: %q", got)
	}
}
