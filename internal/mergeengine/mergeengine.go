// Package mergeengine safely reconciles an existing note with a freshly
// rendered incoming body, per SPEC_FULL.md §4.10: backup before write,
// three-way merge when a base snapshot exists, two-way union otherwise,
// and an explicit unresolved-conflict marker when reconciliation cannot
// complete automatically.
package mergeengine

import (
	"context"
	"sort"

	"github.com/kohl-sync/kohl-sync/internal/apperr"
	"github.com/kohl-sync/kohl-sync/internal/atomicfs"
	"github.com/kohl-sync/kohl-sync/internal/identitystore"
	"github.com/kohl-sync/kohl-sync/internal/kohl"
	"github.com/kohl-sync/kohl-sync/internal/mergecore"
	"github.com/kohl-sync/kohl-sync/internal/notecodec"
)

// Outcome is MergeEngine's result for one handle_duplicate call.
type Outcome struct {
	Kind        kohl.Outcome
	Path        string
	HadConflict bool
	Warnings    []string
}

// Engine runs the merge pipeline. Callers must invoke HandleDuplicate
// inside KeyedQueue(match.Path); the engine itself does not acquire that
// lock so it composes cleanly with ImportExecutor's broader lock scope.
type Engine struct {
	fs       *atomicfs.AtomicFS
	identity *identitystore.IdentityStore
}

// New returns an Engine.
func New(fs *atomicfs.AtomicFS, identity *identitystore.IdentityStore) *Engine {
	return &Engine{fs: fs, identity: identity}
}

// RenderBody is the caller-provided pure renderer invoked to produce the
// incoming content for the matched book.
type RenderBody func(ctx context.Context) (string, error)

// HandleDuplicate implements §4.10 steps 1-9.
func (e *Engine) HandleDuplicate(ctx context.Context, match kohl.Candidate, renderBody RenderBody, policy kohl.SessionPolicy, commentStyle kohl.CommentStyle) (Outcome, error) {
	switch policy.Decision {
	case kohl.DecisionSkip:
		return Outcome{Kind: kohl.OutcomeSkipped, Path: match.Path}, nil
	case kohl.DecisionKeepBoth:
		return Outcome{Kind: kohl.OutcomeKeptBoth, Path: match.Path}, nil
	}

	uid, err := e.identity.EnsureID(ctx, match.Path)
	if err != nil {
		return Outcome{}, err
	}

	currentText, err := e.fs.ReadText(match.Path)
	if err != nil {
		return Outcome{}, err
	}
	currentDoc := notecodec.Parse(currentText)

	baseSnapshot, err := e.identity.ReadSnapshot(uid)
	if err != nil {
		return Outcome{}, err
	}

	incomingBody, err := renderBody(ctx)
	if err != nil {
		return Outcome{}, err
	}

	var warnings []string
	var newContent string
	var hadConflict bool

	if policy.Decision == kohl.DecisionReplace {
		newContent, err = notecodec.Reconstruct(currentDoc.FrontMatter, incomingBody)
		if err != nil {
			return Outcome{}, apperr.ParseFailedErr("yaml", err.Error())
		}
	} else {
		switch match.MatchType {
		case kohl.MatchExact:
			return Outcome{Kind: kohl.OutcomeSkipped, Path: match.Path}, nil
		default:
			fm := currentDoc.FrontMatter
			if baseSnapshot == "" {
				mergedBody, w := twoWayUnion(currentDoc.Body, incomingBody, commentStyle)
				warnings = append(warnings, w...)
				newContent, err = notecodec.Reconstruct(fm, mergedBody)
			} else {
				baseDoc := notecodec.Parse(baseSnapshot)
				regions := mergecore.Merge3(currentDoc.Body, baseDoc.Body, incomingBody)
				mergedBody, conflict := mergecore.RenderRegions(regions, nil)
				hadConflict = conflict
				if hadConflict {
					fm[kohl.FMConflict] = kohl.ConflictUnresolved
				}
				newContent, err = notecodec.Reconstruct(fm, mergedBody)
			}
			if err != nil {
				return Outcome{}, apperr.ParseFailedErr("yaml", err.Error())
			}
		}
	}

	backupPath := match.Path + ".bak"
	if err := e.fs.WriteTextAtomic(ctx, backupPath, currentText); err != nil {
		return Outcome{}, apperr.BackupFailedErr(match.Path, err)
	}

	if err := e.fs.WriteTextAtomic(ctx, match.Path, newContent); err != nil {
		return Outcome{}, err
	}

	if err := e.identity.WriteSnapshot(ctx, uid, newContent); err != nil {
		warnings = append(warnings, kohl.WarnSnapshotFailed)
	}

	kind := kohl.OutcomeMerged
	if policy.AutoMergeOnAddition && !hadConflict {
		kind = kohl.OutcomeAutoMerged
	}

	return Outcome{Kind: kind, Path: match.Path, HadConflict: hadConflict, Warnings: warnings}, nil
}

// twoWayUnion performs the no-base-snapshot reconciliation: union
// annotations in the body by tracking-comment id (when the comment style
// supports tracking), falling back to wholesale replacement with a
// warning when it does not or when the current body carries no tracking
// comments.
func twoWayUnion(currentBody, incomingBody string, style kohl.CommentStyle) (string, []string) {
	if style == kohl.CommentStyleNone {
		return incomingBody, []string{kohl.WarnCommentStyleNoneMerge}
	}

	currentIDs, usedStyle := notecodec.ExtractHighlights(currentBody, style)
	if usedStyle == kohl.CommentStyleNone || len(currentIDs) == 0 {
		return incomingBody, []string{kohl.WarnCommentStyleNoneMerge}
	}

	incomingIDs, _ := notecodec.ExtractHighlights(incomingBody, style)
	seen := make(map[string]bool, len(currentIDs))
	for _, id := range currentIDs {
		seen[id] = true
	}

	var onlyIncoming []string
	for _, id := range incomingIDs {
		if !seen[id] {
			onlyIncoming = append(onlyIncoming, id)
		}
	}
	sort.Strings(onlyIncoming)

	if len(onlyIncoming) == 0 {
		return currentBody, nil
	}

	wanted := make(map[string]bool, len(onlyIncoming))
	for _, id := range onlyIncoming {
		wanted[id] = true
	}
	additions := notecodec.ExtractBlocks(incomingBody, style, wanted)
	if additions == "" {
		return currentBody, nil
	}
	return currentBody + "\n" + additions, nil
}
