// Package importexecutor carries out one ImportPlan: creating a note,
// merging into an existing one, or surfacing a choice the surrounding
// coordinator must solicit from a human before the plan can be executed.
//
// Mirrors the teacher's internal/sync/worker.go dispatch-by-action shape:
// one switch over the plan kind, each branch delegating to the component
// that owns that kind of write.
package importexecutor

import (
	"context"

	"github.com/kohl-sync/kohl-sync/internal/apperr"
	"github.com/kohl-sync/kohl-sync/internal/keyedqueue"
	"github.com/kohl-sync/kohl-sync/internal/kohl"
	"github.com/kohl-sync/kohl-sync/internal/mergeengine"
	"github.com/kohl-sync/kohl-sync/internal/notecodec"
	"github.com/kohl-sync/kohl-sync/internal/notepersistence"
)

// AwaitKind distinguishes the two ways Execute can hand control back to
// the coordinator instead of completing a plan outright.
type AwaitKind string

const (
	AwaitNone          AwaitKind = ""
	AwaitUserChoice    AwaitKind = "user_choice"
	AwaitStaleLocation AwaitKind = "stale_location"
)

// Result is Execute's outcome for one book.
type Result struct {
	Outcome     kohl.Outcome
	TargetPath  string
	Warnings    []string
	HadConflict bool

	Await             AwaitKind
	AwaitTitle        string
	AwaitExistingPath string
	AwaitMatch        *kohl.Candidate
}

// RenderBody is the caller-supplied pure renderer, already closed over the
// book's metadata and annotations.
type RenderBody func(ctx context.Context) (string, error)

// NamingTemplate derives a filename stem for a brand-new note.
type NamingTemplate func(metadata kohl.BookMetadata) string

// Executor carries out plans.
type Executor struct {
	persistence   *notepersistence.NotePersistence
	merge         *mergeengine.Engine
	queue         *keyedqueue.KeyedQueue
	managedFolder string
	naming        NamingTemplate
}

// New returns an Executor. naming derives the stem NotePersistence uses
// for brand-new notes from a book's metadata.
func New(persistence *notepersistence.NotePersistence, merge *mergeengine.Engine, queue *keyedqueue.KeyedQueue, managedFolder string, naming NamingTemplate) *Executor {
	return &Executor{persistence: persistence, merge: merge, queue: queue, managedFolder: managedFolder, naming: naming}
}

// Execute carries out plan for one book. Skip and the two Await kinds
// never touch disk; Create and Merge do, each under the locking scope
// SPEC_FULL.md §4.13 specifies.
func (e *Executor) Execute(ctx context.Context, plan kohl.ImportPlan, metadata kohl.BookMetadata, renderBody RenderBody, policy kohl.SessionPolicy, commentStyle kohl.CommentStyle) (Result, error) {
	switch plan.Kind {
	case kohl.PlanSkip:
		return Result{Outcome: kohl.OutcomeSkipped}, nil

	case kohl.PlanAwaitUserChoice:
		return Result{Await: AwaitUserChoice, AwaitTitle: plan.Title, AwaitExistingPath: plan.ExistingPath}, nil

	case kohl.PlanAwaitStaleLocationConfirm:
		return Result{Await: AwaitStaleLocation, AwaitMatch: plan.Match}, nil

	case kohl.PlanMerge:
		return e.executeMerge(ctx, plan, metadata, renderBody, policy, commentStyle)

	case kohl.PlanCreate:
		return e.executeCreate(ctx, metadata, renderBody)

	default:
		return Result{}, nil
	}
}

func (e *Executor) executeMerge(ctx context.Context, plan kohl.ImportPlan, metadata kohl.BookMetadata, renderBody RenderBody, policy kohl.SessionPolicy, commentStyle kohl.CommentStyle) (Result, error) {
	match := *plan.Match
	out, err := keyedqueue.Run(ctx, e.queue, match.Path, func(ctx context.Context) (mergeengine.Outcome, error) {
		return e.merge.HandleDuplicate(ctx, match, mergeengine.RenderBody(renderBody), policy, commentStyle)
	})
	if err != nil {
		return Result{}, err
	}

	if out.Kind == kohl.OutcomeKeptBoth {
		// MergeEngine performed no mutation; the new note is created here,
		// under (folder, stem) locking rather than the target-path lock
		// just released above.
		created, cerr := e.executeCreate(ctx, metadata, renderBody)
		if cerr != nil {
			return Result{}, cerr
		}
		created.Outcome = kohl.OutcomeKeptBoth
		return created, nil
	}

	return Result{
		Outcome:     out.Kind,
		TargetPath:  out.Path,
		Warnings:    out.Warnings,
		HadConflict: out.HadConflict,
	}, nil
}

func (e *Executor) executeCreate(ctx context.Context, metadata kohl.BookMetadata, renderBody RenderBody) (Result, error) {
	body, err := renderBody(ctx)
	if err != nil {
		return Result{}, err
	}

	content, err := notecodec.Reconstruct(frontMatterFromMetadata(metadata), body)
	if err != nil {
		return Result{}, apperr.ParseFailedErr("yaml", err.Error())
	}

	stem := e.naming(metadata)
	res, err := e.persistence.CreateNote(ctx, e.managedFolder, stem, content)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: kohl.OutcomeCreated, TargetPath: res.Path, Warnings: res.Warnings}, nil
}

// frontMatterFromMetadata stamps the front-matter fields this engine owns
// on a brand-new note. title/authors are always written since
// DuplicateResolver.classify and BookMetadata.Key both depend on them
// being present; series/language are included only when the reader
// supplied them.
func frontMatterFromMetadata(metadata kohl.BookMetadata) kohl.FrontMatter {
	fm := kohl.FrontMatter{
		kohl.FMTitle:   metadata.Title,
		kohl.FMAuthors: metadata.Authors,
	}
	if metadata.Series != "" {
		fm[kohl.FMSeries] = metadata.Series
	}
	if metadata.Language != "" {
		fm[kohl.FMLanguage] = metadata.Language
	}
	return fm
}
