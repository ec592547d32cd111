package importexecutor

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kohl-sync/kohl-sync/internal/atomicfs"
	"github.com/kohl-sync/kohl-sync/internal/identitystore"
	"github.com/kohl-sync/kohl-sync/internal/keyedqueue"
	"github.com/kohl-sync/kohl-sync/internal/kohl"
	"github.com/kohl-sync/kohl-sync/internal/mergeengine"
	"github.com/kohl-sync/kohl-sync/internal/notepersistence"
)

func newExecutor(t *testing.T) (*Executor, string, *atomicfs.AtomicFS) {
	t.Helper()
	dir := t.TempDir()
	fs := atomicfs.New(0)
	queue := keyedqueue.New()
	identity := identitystore.New(fs, queue, filepath.Join(dir, "plugin-data"))
	persistence := notepersistence.New(fs, queue, identity, nil)
	merge := mergeengine.New(fs, identity)
	naming := func(m kohl.BookMetadata) string { return m.Title }
	return New(persistence, merge, queue, dir, naming), dir, fs
}

func TestExecuteSkipIsNoop(t *testing.T) {
	t.Parallel()
	exec, _, _ := newExecutor(t)
	res, err := exec.Execute(context.Background(), kohl.ImportPlan{Kind: kohl.PlanSkip}, kohl.BookMetadata{}, nil, kohl.SessionPolicy{}, kohl.CommentStyleHTML)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != kohl.OutcomeSkipped {
		t.Fatalf("got %+v", res)
	}
}

func TestExecuteAwaitUserChoiceSurfacesWithoutIO(t *testing.T) {
	t.Parallel()
	exec, _, _ := newExecutor(t)
	plan := kohl.ImportPlan{Kind: kohl.PlanAwaitUserChoice, Title: "Book", ExistingPath: "/vault/book.md"}
	res, err := exec.Execute(context.Background(), plan, kohl.BookMetadata{}, nil, kohl.SessionPolicy{}, kohl.CommentStyleHTML)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Await != AwaitUserChoice || res.AwaitTitle != "Book" {
		t.Fatalf("got %+v", res)
	}
}

func TestExecuteAwaitStaleLocationSurfacesMatch(t *testing.T) {
	t.Parallel()
	exec, _, _ := newExecutor(t)
	match := &kohl.Candidate{Path: "/outside/book.md"}
	plan := kohl.ImportPlan{Kind: kohl.PlanAwaitStaleLocationConfirm, Match: match}
	res, err := exec.Execute(context.Background(), plan, kohl.BookMetadata{}, nil, kohl.SessionPolicy{}, kohl.CommentStyleHTML)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Await != AwaitStaleLocation || res.AwaitMatch != match {
		t.Fatalf("got %+v", res)
	}
}

func TestExecuteCreateWritesNewNote(t *testing.T) {
	t.Parallel()
	exec, dir, fs := newExecutor(t)
	plan := kohl.ImportPlan{Kind: kohl.PlanCreate}
	metadata := kohl.BookMetadata{Title: "New Book", Authors: "Jane Doe"}
	render := func(ctx context.Context) (string, error) { return "body", nil }

	res, err := exec.Execute(context.Background(), plan, metadata, render, kohl.SessionPolicy{}, kohl.CommentStyleHTML)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != kohl.OutcomeCreated {
		t.Fatalf("got %+v", res)
	}
	got, err := fs.ReadText(res.TargetPath)
	if err != nil {
		t.Fatalf("created note unreadable: %v", err)
	}
	if !strings.Contains(got, "title: New Book") || !strings.Contains(got, "authors: Jane Doe") {
		t.Fatalf("expected created note to carry title/authors front-matter, got %q", got)
	}
	if filepath.Dir(res.TargetPath) != dir {
		t.Fatalf("expected note under managed folder, got %s", res.TargetPath)
	}
}

func TestExecuteMergeReplaceWritesContent(t *testing.T) {
	t.Parallel()
	exec, dir, fs := newExecutor(t)
	ctx := context.Background()

	path := filepath.Join(dir, "existing.md")
	if err := fs.WriteTextAtomic(ctx, path, "---\ntitle: T\n---\noriginal"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	plan := kohl.ImportPlan{Kind: kohl.PlanMerge, Match: &kohl.Candidate{Path: path, MatchType: kohl.MatchDivergent}}
	policy := kohl.SessionPolicy{Decision: kohl.DecisionReplace}
	render := func(ctx context.Context) (string, error) { return "new body", nil }

	res, err := exec.Execute(ctx, plan, kohl.BookMetadata{Title: "T"}, render, policy, kohl.CommentStyleHTML)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != kohl.OutcomeMerged {
		t.Fatalf("got %+v", res)
	}
	got, err := fs.ReadText(path)
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if got == "" {
		t.Fatalf("expected content written")
	}
}

func TestExecuteMergeKeepBothCreatesNewNoteInstead(t *testing.T) {
	t.Parallel()
	exec, dir, fs := newExecutor(t)
	ctx := context.Background()

	path := filepath.Join(dir, "existing.md")
	if err := fs.WriteTextAtomic(ctx, path, "---\ntitle: T\n---\noriginal"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	plan := kohl.ImportPlan{Kind: kohl.PlanMerge, Match: &kohl.Candidate{Path: path, MatchType: kohl.MatchDivergent}}
	policy := kohl.SessionPolicy{Decision: kohl.DecisionKeepBoth}
	metadata := kohl.BookMetadata{Title: "Another Title"}
	render := func(ctx context.Context) (string, error) { return "body", nil }

	res, err := exec.Execute(ctx, plan, metadata, render, policy, kohl.CommentStyleHTML)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != kohl.OutcomeKeptBoth {
		t.Fatalf("got %+v", res)
	}
	if res.TargetPath == path {
		t.Fatalf("expected a new path distinct from the existing match, got %s", res.TargetPath)
	}

	original, err := fs.ReadText(path)
	if err != nil {
		t.Fatalf("ReadText original: %v", err)
	}
	if original != "---\ntitle: T\n---\noriginal" {
		t.Fatalf("original note was mutated: %q", original)
	}
}
