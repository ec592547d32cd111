package duplicateresolver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kohl-sync/kohl-sync/internal/atomicfs"
	"github.com/kohl-sync/kohl-sync/internal/indexstore"
	"github.com/kohl-sync/kohl-sync/internal/kohl"
)

func writeNote(t *testing.T, fs *atomicfs.AtomicFS, path, content string) {
	t.Helper()
	if err := fs.WriteTextAtomic(context.Background(), path, content); err != nil {
		t.Fatalf("write note %s: %v", path, err)
	}
}

func TestResolveFallbackScanExactMatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	fs := atomicfs.New(0)

	annotation := kohl.Annotation{StartPos: "", EndPos: "", Text: "highlight", Note: ""}

	// The note embeds the incoming annotation's own id, so both id sets are
	// equal and the front matter matches the incoming metadata.
	note := "---\ntitle: The Odyssey\nauthors: Homer\n---\n<!-- kohl-id: " + annotation.ID() + " -->\n> highlight\n"
	writeNote(t, fs, filepath.Join(dir, "odyssey.md"), note)

	idx, err := indexstore.Open(filepath.Join(dir, ".data", "index.db"))
	if err != nil {
		t.Fatalf("Open index: %v", err)
	}
	defer idx.Close()

	resolver := New(fs, idx, dir, 0, 0)
	metadata := kohl.BookMetadata{Title: "The Odyssey", Authors: "Homer"}

	got, err := resolver.Resolve(context.Background(), metadata, []kohl.Annotation{annotation})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Match == nil {
		t.Fatalf("expected a match")
	}
	if got.Match.MatchType != kohl.MatchExact {
		t.Fatalf("expected an exact match, got %v", got.Match.MatchType)
	}
}

func TestResolveNoCandidatesReturnsNilMatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	fs := atomicfs.New(0)
	idx, err := indexstore.Open(filepath.Join(dir, ".data", "index.db"))
	if err != nil {
		t.Fatalf("Open index: %v", err)
	}
	defer idx.Close()

	resolver := New(fs, idx, dir, 0, 0)
	got, err := resolver.Resolve(context.Background(), kohl.BookMetadata{Title: "Unknown", Authors: "Nobody"}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Match != nil {
		t.Fatalf("expected no match, got %+v", got.Match)
	}
	if got.Confidence != kohl.ConfidenceFull {
		t.Fatalf("expected full confidence with zero candidates, got %s", got.Confidence)
	}
}

func TestResolveReusesCachedParseUntilNoteChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	fs := atomicfs.New(0)

	path := filepath.Join(dir, "odyssey.md")
	note := "---\ntitle: The Odyssey\nauthors: Homer\n---\n<!-- kohl-id: 0123456789abcdef -->\n> highlight\n"
	writeNote(t, fs, path, note)

	idx, err := indexstore.Open(filepath.Join(dir, ".data", "index.db"))
	if err != nil {
		t.Fatalf("Open index: %v", err)
	}
	defer idx.Close()

	resolver := New(fs, idx, dir, 0, 0)
	metadata := kohl.BookMetadata{Title: "The Odyssey", Authors: "Homer"}

	if _, err := resolver.Resolve(context.Background(), metadata, nil); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if _, ok := resolver.docs.Get(parsedDocCache, path); !ok {
		t.Fatalf("expected parsed document to be cached after first Resolve")
	}

	cachedBefore, _ := resolver.docs.Get(parsedDocCache, path)

	if _, err := resolver.Resolve(context.Background(), metadata, nil); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	cachedAfter, _ := resolver.docs.Get(parsedDocCache, path)
	if cachedBefore.modTime != cachedAfter.modTime {
		t.Fatalf("expected cache entry to survive an unchanged note across resolves")
	}

	// Rewriting the note changes its mtime, so the next resolve must
	// observe the new content rather than a stale cached parse.
	updated := "---\ntitle: The Odyssey\nauthors: Homer\n---\n<!-- kohl-id: fedcba9876543210 -->\n> new highlight\n"
	writeNote(t, fs, path, updated)

	got, err := resolver.Resolve(context.Background(), metadata, []kohl.Annotation{{Text: "new highlight"}})
	if err != nil {
		t.Fatalf("third Resolve: %v", err)
	}
	if got.Match == nil {
		t.Fatalf("expected match after note update to be picked up")
	}
}

func TestClassifySubsetExtension(t *testing.T) {
	t.Parallel()
	candidateIDs := map[string]bool{"a": true}
	incomingIDs := map[string]bool{"a": true, "b": true}
	fm := kohl.FrontMatter{kohl.FMTitle: "T", kohl.FMAuthors: "A"}
	meta := kohl.BookMetadata{Title: "T", Authors: "A"}

	got := classify(candidateIDs, incomingIDs, fm, meta)
	if got != kohl.MatchSubsetExtension {
		t.Fatalf("got %s want %s", got, kohl.MatchSubsetExtension)
	}
}

func TestClassifyDivergent(t *testing.T) {
	t.Parallel()
	candidateIDs := map[string]bool{"a": true, "c": true}
	incomingIDs := map[string]bool{"a": true, "b": true}
	fm := kohl.FrontMatter{kohl.FMTitle: "T", kohl.FMAuthors: "A"}
	meta := kohl.BookMetadata{Title: "T", Authors: "A"}

	got := classify(candidateIDs, incomingIDs, fm, meta)
	if got != kohl.MatchDivergent {
		t.Fatalf("got %s want %s", got, kohl.MatchDivergent)
	}
}

func TestClassifyExactRequiresNonUserFieldsMatch(t *testing.T) {
	t.Parallel()
	ids := map[string]bool{"a": true}
	fm := kohl.FrontMatter{kohl.FMTitle: "Different Title", kohl.FMAuthors: "A"}
	meta := kohl.BookMetadata{Title: "T", Authors: "A"}

	got := classify(ids, ids, fm, meta)
	if got != kohl.MatchDivergent {
		t.Fatalf("expected divergent when front matter disagrees, got %s", got)
	}
}
