// Package ports declares the interfaces the engine consumes from its host
// shell. They are consumer-owned, the way the teacher's
// internal/repo.Repository and internal/sync's API client interface are
// declared next to the code that calls them rather than next to their
// implementation.
package ports

import (
	"context"
	"time"

	"github.com/kohl-sync/kohl-sync/internal/kohl"
)

// SourceBook is one book discovered by a MetadataSource, pre-parsed and
// ready for planning.
type SourceBook struct {
	SourcePath  string
	Metadata    kohl.BookMetadata
	Annotations []kohl.Annotation
	Stat        kohl.Stat
}

// MetadataSource streams already-parsed books from the reader's data. The
// engine never touches reader-specific file formats directly.
type MetadataSource interface {
	IterBooks(ctx context.Context) (<-chan SourceBook, <-chan error)
}

// BodyRenderer renders a book's annotations into a note body. It must be
// pure: same inputs, same output, no I/O.
type BodyRenderer func(metadata kohl.BookMetadata, annotations []kohl.Annotation, style kohl.CommentStyle, maxHighlightGap time.Duration) string

// DuplicateChoice is the user's resolution for an AwaitUserChoice or
// AwaitStaleLocationConfirm plan.
type DuplicateChoice string

const (
	ChoiceSkip              DuplicateChoice = "skip"
	ChoiceKeepBoth          DuplicateChoice = "keep_both"
	ChoiceReplace           DuplicateChoice = "replace"
	ChoiceMergeUseSnapshot  DuplicateChoice = "merge"
)

// DuplicateChoiceRequest carries the context a UserPrompt needs to ask a
// human which of several ambiguous candidates to use.
type DuplicateChoiceRequest struct {
	Title                    string
	ExistingPath             string
	IncomingAnnotationsCount int
	CandidateAnnotationsCount int
	MatchType                kohl.MatchType
}

// Cancelled is returned by UserPrompt methods when the surrounding context
// is cancelled before a human answers.
var Cancelled = cancelledErr{}

type cancelledErr struct{}

func (cancelledErr) Error() string { return "cancelled" }

// UserPrompt solicits a human decision when the engine cannot resolve a
// duplicate automatically.
type UserPrompt interface {
	ChooseDuplicate(ctx context.Context, req DuplicateChoiceRequest) (DuplicateChoice, error)
	ConfirmStaleLocation(ctx context.Context, match kohl.Candidate) (bool, error)
}

// Clock supplies the current time, injected so tests can control it.
type Clock interface {
	NowRFC3339() string
	Now() time.Time
}

// RandomID supplies fresh uids, injected so tests can force collisions.
type RandomID interface {
	NewUID() string
}

// VaultEvents lets the host notify the engine of out-of-band filesystem
// changes (a human renamed or deleted a note outside the engine) so
// AtomicFS's walk cache and IndexStore's cached lookups stay fresh.
type VaultEvents interface {
	OnCreate(path string)
	OnDelete(path string)
	OnRename(oldPath, newPath string)
}
