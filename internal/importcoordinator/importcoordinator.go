// Package importcoordinator is the top-level facade that turns a stream of
// source books into note files: it builds planner inputs from IndexStore
// and DuplicateResolver, calls ImportPlanner, runs ImportExecutor, and
// solicits a human choice through UserPrompt when a plan cannot proceed
// unattended.
//
// The worker-pool-plus-keyed-queue shape is the teacher's own
// internal/sync.Worker pattern (bounded concurrency over independent
// items, with a per-resource lock beneath it); applog.For("importcoordinator")
// follows the teacher's one-logger-per-component convention.
package importcoordinator

import (
	"context"
	"time"

	"github.com/kohl-sync/kohl-sync/internal/apperr"
	"github.com/kohl-sync/kohl-sync/internal/atomicfs"
	"github.com/kohl-sync/kohl-sync/internal/applog"
	"github.com/kohl-sync/kohl-sync/internal/duplicateresolver"
	"github.com/kohl-sync/kohl-sync/internal/importexecutor"
	"github.com/kohl-sync/kohl-sync/internal/importplanner"
	"github.com/kohl-sync/kohl-sync/internal/indexstore"
	"github.com/kohl-sync/kohl-sync/internal/kohl"
	"github.com/kohl-sync/kohl-sync/internal/ports"
	"github.com/kohl-sync/kohl-sync/internal/workerpool"
)

var log = applog.For("importcoordinator")

// Config carries the per-run policy Coordinator needs beyond its
// collaborators.
type Config struct {
	ManagedFolder     string
	CommentStyle      kohl.CommentStyle
	Policy            kohl.SessionPolicy
	WorkerConcurrency int
	MaxHighlightGap   time.Duration
	ForceReimport     bool
}

// Coordinator runs one full import pass.
type Coordinator struct {
	fs       *atomicfs.AtomicFS
	index    *indexstore.IndexStore
	resolver *duplicateresolver.Resolver
	executor *importexecutor.Executor
	source   ports.MetadataSource
	render   ports.BodyRenderer
	prompt   ports.UserPrompt
	clock    ports.Clock
	cfg      Config
}

// New validates cfg and wires a Coordinator. A blank ManagedFolder is
// rejected, per SPEC_FULL.md §9 Open Question 3: the managed folder must
// never default to the repository root.
func New(
	fs *atomicfs.AtomicFS,
	index *indexstore.IndexStore,
	resolver *duplicateresolver.Resolver,
	executor *importexecutor.Executor,
	source ports.MetadataSource,
	render ports.BodyRenderer,
	prompt ports.UserPrompt,
	clock ports.Clock,
	cfg Config,
) (*Coordinator, error) {
	if cfg.ManagedFolder == "" {
		return nil, apperr.ConfigInvalidErr("managed_folder", "must not be empty")
	}
	return &Coordinator{
		fs: fs, index: index, resolver: resolver, executor: executor,
		source: source, render: render, prompt: prompt, clock: clock, cfg: cfg,
	}, nil
}

// Run drains source, processes every book with bounded concurrency, and
// returns the aggregated summary. IndexStore is flushed once at the end
// regardless of how the run ended.
func (c *Coordinator) Run(ctx context.Context) (kohl.ImportSummary, error) {
	if c.index != nil && c.index.State() == indexstore.InMemory {
		seeds := indexstore.BuildBookSeeds(c.fs, c.cfg.ManagedFolder)
		log.Printf("index store fell back to in-memory; rebuilding from %d managed note(s) in the background", len(seeds))
		c.index.StartBackgroundRebuild(ctx, seeds, nil)
	}

	books, sourceErr := c.collectBooks(ctx)

	results := workerpool.Run(ctx, books, c.cfg.WorkerConcurrency, func(ctx context.Context, book ports.SourceBook) (kohl.BookReport, error) {
		return c.processBook(ctx, book), nil
	})

	var summary kohl.ImportSummary
	for _, r := range results {
		report := r.Value
		summary.PerBook = append(summary.PerBook, report)
		switch report.Outcome {
		case kohl.OutcomeCreated:
			summary.Created++
		case kohl.OutcomeMerged:
			summary.Merged++
		case kohl.OutcomeAutoMerged:
			summary.AutoMerged++
		case kohl.OutcomeSkipped, kohl.OutcomeKeptBoth:
			summary.Skipped++
		case kohl.OutcomeFailed, kohl.OutcomeCancelled:
			summary.Failed++
		}
	}

	if err := c.index.Flush(ctx); err != nil {
		log.Printf("flush failed: %v", err)
	}

	return summary, sourceErr
}

func (c *Coordinator) collectBooks(ctx context.Context) ([]ports.SourceBook, error) {
	bookCh, errCh := c.source.IterBooks(ctx)
	var books []ports.SourceBook
	var firstErr error
	for bookCh != nil || errCh != nil {
		select {
		case b, ok := <-bookCh:
			if !ok {
				bookCh = nil
				continue
			}
			books = append(books, b)
		case e, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if firstErr == nil {
				firstErr = e
			}
		case <-ctx.Done():
			return books, ctx.Err()
		}
	}
	return books, firstErr
}

// processBook never returns an error: execution failures are captured in
// the returned BookReport so one book's failure never aborts the batch.
func (c *Coordinator) processBook(ctx context.Context, book ports.SourceBook) kohl.BookReport {
	report := kohl.BookReport{SourcePath: book.SourcePath}

	bookKey := book.Metadata.Key()
	existingRecord, _ := c.index.GetImportSource(ctx, book.SourcePath)
	duplicate, err := c.resolver.Resolve(ctx, book.Metadata, book.Annotations)
	if err != nil {
		return c.fail(ctx, book, report, err)
	}

	missingPaths := c.missingTargetPaths(ctx, bookKey)

	input := importplanner.Input{
		Metadata:             book.Metadata,
		Annotations:          book.Annotations,
		SourceStat:           &book.Stat,
		NewestAnnotationTS:   newestTimestamp(book.Annotations),
		ExistingSourceRecord: existingRecord,
		Duplicate:            duplicate,
		MissingTargetPaths:   missingPaths,
		ForceReimport:        c.cfg.ForceReimport,
		ManagedFolder:        c.cfg.ManagedFolder,
	}
	plan := importplanner.Plan(input)

	for _, p := range plan.IndexCleanupPaths {
		_ = c.index.DeleteNoteInstance(ctx, p)
	}

	renderBody := func(ctx context.Context) (string, error) {
		return c.render(book.Metadata, book.Annotations, c.cfg.CommentStyle, c.cfg.MaxHighlightGap), nil
	}

	result, err := c.executor.Execute(ctx, plan, book.Metadata, renderBody, c.cfg.Policy, c.cfg.CommentStyle)
	if err != nil {
		return c.fail(ctx, book, report, err)
	}

	if result.Await != importexecutor.AwaitNone {
		result, err = c.resolveAwait(ctx, book, duplicate, result, renderBody)
		if err != nil {
			return c.fail(ctx, book, report, err)
		}
	}

	report.Outcome = result.Outcome
	report.Warnings = result.Warnings
	report.TargetPath = result.TargetPath
	report.HadConflict = result.HadConflict

	if result.TargetPath != "" {
		_ = c.index.UpsertBook(ctx, bookKey, book.Metadata.Title, book.Metadata.Authors)
		_ = c.index.UpsertNoteInstance(ctx, bookKey, result.TargetPath)
	}

	c.recordSource(ctx, book, bookKey, input.NewestAnnotationTS, nil)
	return report
}

// resolveAwait solicits a human decision for a plan ImportExecutor could
// not complete unattended, then re-executes with the resolved decision.
func (c *Coordinator) resolveAwait(ctx context.Context, book ports.SourceBook, duplicate kohl.DuplicateMatch, awaiting importexecutor.Result, renderBody importexecutor.RenderBody) (importexecutor.Result, error) {
	switch awaiting.Await {
	case importexecutor.AwaitUserChoice:
		req := ports.DuplicateChoiceRequest{
			Title:                    awaiting.AwaitTitle,
			ExistingPath:             awaiting.AwaitExistingPath,
			IncomingAnnotationsCount: len(book.Annotations),
		}
		if duplicate.Match != nil {
			req.MatchType = duplicate.Match.MatchType
		}
		choice, err := c.prompt.ChooseDuplicate(ctx, req)
		if err != nil {
			return importexecutor.Result{}, err
		}
		return c.executeChoice(ctx, book, duplicate.Match, choice, renderBody)

	case importexecutor.AwaitStaleLocation:
		confirmed, err := c.prompt.ConfirmStaleLocation(ctx, *awaiting.AwaitMatch)
		if err != nil {
			return importexecutor.Result{}, err
		}
		if confirmed {
			plan := kohl.ImportPlan{Kind: kohl.PlanMerge, Match: awaiting.AwaitMatch}
			return c.executor.Execute(ctx, plan, book.Metadata, renderBody, c.cfg.Policy, c.cfg.CommentStyle)
		}
		plan := kohl.ImportPlan{Kind: kohl.PlanCreate}
		if len(book.Annotations) == 0 {
			plan = kohl.ImportPlan{Kind: kohl.PlanSkip, SkipReason: kohl.SkipNoAnnotations}
		}
		return c.executor.Execute(ctx, plan, book.Metadata, renderBody, c.cfg.Policy, c.cfg.CommentStyle)

	default:
		return awaiting, nil
	}
}

func (c *Coordinator) executeChoice(ctx context.Context, book ports.SourceBook, match *kohl.Candidate, choice ports.DuplicateChoice, renderBody importexecutor.RenderBody) (importexecutor.Result, error) {
	if choice == ports.ChoiceSkip || match == nil {
		return c.executor.Execute(ctx, kohl.ImportPlan{Kind: kohl.PlanSkip}, book.Metadata, renderBody, c.cfg.Policy, c.cfg.CommentStyle)
	}

	policy := c.cfg.Policy
	switch choice {
	case ports.ChoiceKeepBoth:
		policy.Decision = kohl.DecisionKeepBoth
	case ports.ChoiceReplace:
		policy.Decision = kohl.DecisionReplace
	case ports.ChoiceMergeUseSnapshot:
		policy.Decision = kohl.DecisionMergeUseBase
	}
	plan := kohl.ImportPlan{Kind: kohl.PlanMerge, Match: match}
	return c.executor.Execute(ctx, plan, book.Metadata, renderBody, policy, c.cfg.CommentStyle)
}

func (c *Coordinator) missingTargetPaths(ctx context.Context, bookKey string) []string {
	known, err := c.index.NoteInstancesForBookKey(ctx, bookKey)
	if err != nil {
		return nil
	}
	var missing []string
	for _, path := range known {
		if _, err := c.fs.Stat(path); err != nil {
			missing = append(missing, path)
		}
	}
	return missing
}

func (c *Coordinator) fail(ctx context.Context, book ports.SourceBook, report kohl.BookReport, err error) kohl.BookReport {
	report.Outcome = kohl.OutcomeFailed
	report.Error = err
	c.recordSource(ctx, book, book.Metadata.Key(), newestTimestamp(book.Annotations), err)
	return report
}

func (c *Coordinator) recordSource(ctx context.Context, book ports.SourceBook, bookKey, newestTS string, failure error) {
	if failure != nil {
		_ = c.index.RecordImportFailure(ctx, book.SourcePath, failure.Error())
		return
	}
	now := time.Now()
	if c.clock != nil {
		now = c.clock.Now()
	}
	_ = c.index.RecordImportSuccess(ctx, kohl.ImportSourceRecord{
		SourcePath:         book.SourcePath,
		LastMtime:          book.Stat.Mtime,
		LastSize:           book.Stat.Size,
		NewestAnnotationTS: newestTS,
		BookKey:            bookKey,
		MD5:                book.Metadata.ContentHash,
	}, now)
}

func newestTimestamp(annotations []kohl.Annotation) string {
	var newest string
	for _, a := range annotations {
		if a.Timestamp > newest {
			newest = a.Timestamp
		}
	}
	return newest
}
