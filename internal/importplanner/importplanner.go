// Package importplanner decides, for one book, what ImportExecutor should
// do next. It is pure: no I/O, no clock, no randomness — every input is an
// explicit argument and the same input always yields the same plan.
//
// The rule-table shape (ordered predicates, first match wins) mirrors the
// teacher's internal/sync/worker.go dispatch on sync state, generalized
// from "push/pull/conflict" to this engine's skip/create/merge/await set.
package importplanner

import (
	"strings"

	"github.com/kohl-sync/kohl-sync/internal/indexstore"
	"github.com/kohl-sync/kohl-sync/internal/kohl"
)

// Input is everything Plan needs to decide one book's fate.
type Input struct {
	Metadata             kohl.BookMetadata
	Annotations          []kohl.Annotation
	SourceStat           *kohl.Stat
	NewestAnnotationTS   string
	ExistingSourceRecord *kohl.ImportSourceRecord
	Duplicate            kohl.DuplicateMatch
	MissingTargetPaths   []string
	ForceReimport        bool
	ManagedFolder        string
}

// Plan implements SPEC_FULL.md §4.12's seven ordered rules.
func Plan(input Input) kohl.ImportPlan {
	if input.SourceStat == nil {
		return kohl.ImportPlan{Kind: kohl.PlanSkip, SkipReason: kohl.SkipNoAnnotations}
	}

	if !input.ForceReimport && !indexstore.ShouldProcess(
		input.ExistingSourceRecord, *input.SourceStat, input.NewestAnnotationTS, input.Metadata.ContentHash,
	) {
		if len(input.MissingTargetPaths) > 0 {
			return kohl.ImportPlan{Kind: kohl.PlanCreate, IndexCleanupPaths: input.MissingTargetPaths}
		}
		return kohl.ImportPlan{Kind: kohl.PlanSkip, SkipReason: kohl.SkipUnchanged}
	}

	if input.Duplicate.Confidence == kohl.ConfidencePartial {
		return kohl.ImportPlan{Kind: kohl.PlanAwaitUserChoice, Title: input.Metadata.Title, ExistingPath: existingPathOf(input.Duplicate.Match)}
	}

	if input.Duplicate.Match != nil && !isUnderManagedFolder(input.Duplicate.Match.Path, input.ManagedFolder) {
		return kohl.ImportPlan{Kind: kohl.PlanAwaitStaleLocationConfirm, Match: input.Duplicate.Match}
	}

	if input.Duplicate.Match != nil {
		if input.Duplicate.Match.MatchType == kohl.MatchExact {
			return kohl.ImportPlan{Kind: kohl.PlanSkip, SkipReason: kohl.SkipUnchanged}
		}
		return kohl.ImportPlan{Kind: kohl.PlanMerge, Match: input.Duplicate.Match}
	}

	if len(input.Annotations) == 0 {
		return kohl.ImportPlan{Kind: kohl.PlanSkip, SkipReason: kohl.SkipNoAnnotations}
	}

	return kohl.ImportPlan{Kind: kohl.PlanCreate}
}

func existingPathOf(match *kohl.Candidate) string {
	if match == nil {
		return ""
	}
	return match.Path
}

func isUnderManagedFolder(path, managedFolder string) bool {
	if managedFolder == "" {
		return true
	}
	normalizedRoot := strings.TrimRight(managedFolder, "/\\")
	return path == normalizedRoot || strings.HasPrefix(path, normalizedRoot+"/") || strings.HasPrefix(path, normalizedRoot+"\\")
}
