// Package kohl defines the data model shared by every component of the
// sync engine: annotations and book metadata as produced by the reader,
// the note/front-matter shape they are rendered into, and the records the
// index keeps about each managed note and source file.
package kohl

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// AnnotationIDVersion pins the content-hash algorithm used by AnnotationID.
// A change to the hash is a new major version of this module, not a
// migration this engine performs silently (see SPEC_FULL.md §9, Open
// Question 2).
const AnnotationIDVersion = 1

// Annotation is a single highlight captured by the reader.
type Annotation struct {
	Page       int
	StartPos   string // opaque position or serialized {x,y}
	EndPos     string // optional; empty if not applicable
	Text       string
	Note       string // optional user note attached to the highlight
	Timestamp  string // RFC-3339, stable per user gesture on the source device
	Color      string // optional highlight color
	DrawStyle  string // optional draw style (e.g. "lighten", "underscore")
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func normalizeForHash(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(strings.ToLower(s), " "))
}

// ID computes the stable 16-hex-character annotation id: a content hash of
// the normalized (page, start, end, text, note) tuple. Two annotations with
// the same page, position and text hash identically regardless of case or
// whitespace differences introduced by round-tripping through a note file.
func (a Annotation) ID() string {
	h := md5.New()
	h.Write([]byte(strconv.Itoa(a.Page)))
	h.Write([]byte{0})
	h.Write([]byte(normalizeForHash(a.StartPos)))
	h.Write([]byte{0})
	h.Write([]byte(normalizeForHash(a.EndPos)))
	h.Write([]byte{0})
	h.Write([]byte(normalizeForHash(a.Text)))
	h.Write([]byte{0})
	h.Write([]byte(normalizeForHash(a.Note)))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}

// BookMetadata describes one book as reported by the reader.
type BookMetadata struct {
	Title       string
	Authors     string
	Series      string
	Language    string
	ContentHash string // optional md5 of the source file, as reported by the reader
	Identifiers map[string]string // scheme -> value, e.g. "isbn" -> "..."
}

var urlLikePrefix = regexp.MustCompile(`^(https?://|[a-z0-9.+-]+://)`)

func normalizeBookField(s string) string {
	s = strings.TrimSpace(whitespaceRun.ReplaceAllString(strings.ToLower(s), " "))
	if urlLikePrefix.MatchString(s) {
		return ""
	}
	return s
}

// Key computes the book's logical identity across imports:
// normalize(authors) + "::" + normalize(title).
func (m BookMetadata) Key() string {
	return normalizeBookField(m.Authors) + "::" + normalizeBookField(m.Title)
}

// CommentStyle selects how (or whether) tracking comments are embedded in a
// note body to allow highlight-by-highlight deduplication on re-import.
type CommentStyle string

const (
	CommentStyleHTML CommentStyle = "html"
	CommentStyleMD   CommentStyle = "md"
	CommentStyleNone CommentStyle = "none"
)

// FrontMatter is an ordered-on-write mapping of note metadata. Keys not
// recognized by this engine are preserved opaquely and re-emitted in a
// stable order (see internal/notecodec).
type FrontMatter map[string]any

// Recognized front-matter keys.
const (
	FMTitle    = "title"
	FMAuthors  = "authors"
	FMSeries   = "series"
	FMLanguage = "language"
	FMUID      = "kohl-uid"
	FMConflict = "conflicts"
)

// ConflictUnresolved is the value MergeEngine writes to the "conflicts"
// front-matter field when a merge could not be fully reconciled.
const ConflictUnresolved = "unresolved"

// Document is a parsed note: front-matter plus body. It is the unit
// NoteCodec parses and reconstructs.
type Document struct {
	FrontMatter FrontMatter
	Body        string
}

// MatchType classifies a duplicate candidate relative to incoming
// annotations.
type MatchType string

const (
	MatchExact           MatchType = "exact"
	MatchSubsetExtension MatchType = "subset_extension"
	MatchDivergent       MatchType = "divergent"
)

// Candidate is a note file considered for reconciliation against incoming
// metadata.
type Candidate struct {
	Path      string
	UID       string
	MatchType MatchType
	ModTime   time.Time
}

// DuplicateMatch is the result of DuplicateResolver.Resolve.
type DuplicateMatch struct {
	Match      *Candidate
	Confidence string // "full" | "partial"
}

const (
	ConfidenceFull    = "full"
	ConfidencePartial = "partial"
)

// ImportSourceRecord drives "should we re-process this source?" decisions.
type ImportSourceRecord struct {
	SourcePath         string
	LastMtime          time.Time
	LastSize           int64
	NewestAnnotationTS string
	LastSuccessAt      *time.Time
	LastError          string
	BookKey            string
	MD5                string
}

// Stat is the subset of filesystem metadata the planner needs about a
// source file.
type Stat struct {
	Mtime time.Time
	Size  int64
}

// SessionPolicy carries the per-import-run choices that affect how
// MergeEngine reconciles a duplicate.
type SessionPolicy struct {
	AutoMergeOnAddition bool
	Decision            MergeDecision // explicit user choice, if any
}

// MergeDecision is the resolved action for a single duplicate, either
// derived automatically or supplied by UserPrompt.choose_duplicate.
type MergeDecision string

const (
	DecisionAuto         MergeDecision = ""
	DecisionSkip         MergeDecision = "skip"
	DecisionKeepBoth     MergeDecision = "keep_both"
	DecisionReplace      MergeDecision = "replace"
	DecisionMergeUseBase MergeDecision = "merge"
)

// ImportPlanKind enumerates ImportPlanner's possible decisions.
type ImportPlanKind string

const (
	PlanSkip                     ImportPlanKind = "skip"
	PlanCreate                   ImportPlanKind = "create"
	PlanMerge                    ImportPlanKind = "merge"
	PlanAwaitUserChoice          ImportPlanKind = "await_user_choice"
	PlanAwaitStaleLocationConfirm ImportPlanKind = "await_stale_location_confirm"
)

// SkipReason explains a PlanSkip decision.
type SkipReason string

const (
	SkipNoAnnotations SkipReason = "NO_ANNOTATIONS"
	SkipUnchanged     SkipReason = "UNCHANGED"
)

// ImportPlan is ImportPlanner's pure decision for one book.
type ImportPlan struct {
	Kind              ImportPlanKind
	SkipReason        SkipReason
	Match             *Candidate
	Title             string
	ExistingPath      string
	IndexCleanupPaths []string
}

// Outcome classifies how ImportExecutor resolved one book.
type Outcome string

const (
	OutcomeCreated      Outcome = "created"
	OutcomeMerged       Outcome = "merged"
	OutcomeAutoMerged   Outcome = "automerged"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeFailed       Outcome = "failed"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeKeptBoth     Outcome = "kept_both"
)

// BookReport is the per-book result surfaced to the caller.
type BookReport struct {
	SourcePath string
	Outcome    Outcome
	Warnings   []string
	TargetPath string
	Error      error
	HadConflict bool
}

// ImportSummary aggregates an entire import run.
type ImportSummary struct {
	Created    int
	Merged     int
	AutoMerged int
	Skipped    int
	Failed     int
	PerBook    []BookReport
}

// Warning codes recorded on BookReport.Warnings.
const (
	WarnFilenameTruncated     = "FilenameTruncated"
	WarnBackupFailed          = "BACKUP_FAILED"
	WarnSnapshotFailed        = "SNAPSHOT_FAILED"
	WarnDuplicateTimeout      = "duplicate-timeout"
	WarnCommentStyleNoneMerge = "comment-style-none-wholesale-replace"
)
