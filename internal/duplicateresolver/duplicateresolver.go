// Package duplicateresolver finds an existing note for incoming metadata
// and classifies how it relates to the incoming annotations, per
// SPEC_FULL.md §4.9.
//
// The index-unavailable fallback walk is grounded on the teacher's
// internal/fs directory-listing convention (filepath.WalkDir plus an
// extension predicate), wrapped by AtomicFS's cached Walk. Parsed note
// documents are memoized in a cacheregistry.Registry keyed by path and
// invalidated by mtime, so a run resolving many books against the same
// candidate set re-parses each note at most once per change.
package duplicateresolver

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kohl-sync/kohl-sync/internal/atomicfs"
	"github.com/kohl-sync/kohl-sync/internal/cacheregistry"
	"github.com/kohl-sync/kohl-sync/internal/indexstore"
	"github.com/kohl-sync/kohl-sync/internal/kohl"
	"github.com/kohl-sync/kohl-sync/internal/notecodec"
)

const parsedDocCache = "notecodec.Document"

type parsedDoc struct {
	doc     kohl.Document
	modTime time.Time
}

// Resolver finds and classifies duplicate candidates for incoming books.
type Resolver struct {
	fs          *atomicfs.AtomicFS
	index       *indexstore.IndexStore
	managedRoot string
	docs        *cacheregistry.Registry[parsedDoc]
}

// New returns a Resolver backed by index (may be in any IndexStore.State)
// and falling back to a scan of managedRoot when the index cannot answer.
// ttl/maxEntries size the parsed-document cache; zero means unbounded.
func New(fs *atomicfs.AtomicFS, index *indexstore.IndexStore, managedRoot string, ttl time.Duration, maxEntries int) *Resolver {
	docs := cacheregistry.New[parsedDoc]()
	docs.CreateMap(parsedDocCache, ttl, maxEntries)
	return &Resolver{fs: fs, index: index, managedRoot: managedRoot, docs: docs}
}

// loadDoc returns the parsed note at path, reusing a cached parse if the
// file's mtime has not changed since it was cached.
func (r *Resolver) loadDoc(path string) (kohl.Document, bool) {
	stat, serr := r.fs.Stat(path)
	if serr == nil {
		if cached, ok := r.docs.Get(parsedDocCache, path); ok && cached.modTime.Equal(stat.ModTime) {
			return cached.doc, true
		}
	}

	text, rerr := r.fs.ReadText(path)
	if rerr != nil {
		return kohl.Document{}, false
	}
	doc := notecodec.Parse(text)
	if serr == nil {
		r.docs.Set(parsedDocCache, path, parsedDoc{doc: doc, modTime: stat.ModTime})
	}
	return doc, true
}

// Resolve implements the §4.9 algorithm: find candidate note(s) for
// metadata/annotations, classify the best match, and report confidence.
func (r *Resolver) Resolve(ctx context.Context, metadata kohl.BookMetadata, annotations []kohl.Annotation) (kohl.DuplicateMatch, error) {
	bookKey := metadata.Key()
	incomingIDs := annotationIDSet(annotations)

	paths, indexAnswered, err := r.candidatePaths(ctx, bookKey)
	if err != nil {
		return kohl.DuplicateMatch{}, err
	}

	confidence := kohl.ConfidenceFull
	if !indexAnswered && len(paths) > 1 {
		confidence = kohl.ConfidencePartial
	}

	var candidates []kohl.Candidate
	for _, path := range paths {
		doc, ok := r.loadDoc(path)
		if !ok {
			continue
		}
		candidateIDs, _ := notecodec.ExtractHighlights(doc.Body, kohl.CommentStyleHTML)
		if len(candidateIDs) == 0 {
			candidateIDs, _ = notecodec.ExtractHighlights(doc.Body, kohl.CommentStyleMD)
		}
		mt := classify(stringSet(candidateIDs), incomingIDs, doc.FrontMatter, metadata)

		stat, _ := r.fs.Stat(path)

		uid, _ := doc.FrontMatter[kohl.FMUID].(string)
		candidates = append(candidates, kohl.Candidate{
			Path:      path,
			UID:       uid,
			MatchType: mt,
			ModTime:   stat.ModTime,
		})
	}

	if len(candidates) == 0 {
		return kohl.DuplicateMatch{Match: nil, Confidence: confidence}, nil
	}

	best := r.tieBreak(candidates)
	return kohl.DuplicateMatch{Match: &best, Confidence: confidence}, nil
}

// candidatePaths asks the index first; if it is unavailable or has no
// entries for bookKey, falls back to a full scan of managedRoot.
// indexAnswered reports whether the index (not the fallback scan)
// produced the result.
func (r *Resolver) candidatePaths(ctx context.Context, bookKey string) (paths []string, indexAnswered bool, err error) {
	if r.index != nil && r.index.State() != indexstore.Unavailable {
		got, ierr := r.index.NoteInstancesForBookKey(ctx, bookKey)
		if ierr == nil && len(got) > 0 {
			return got, true, nil
		}
	}

	all, werr := r.fs.Walk(r.managedRoot, ".md", true)
	if werr != nil {
		return nil, false, werr
	}

	var matched []string
	for _, path := range all {
		doc, ok := r.loadDoc(path)
		if !ok {
			continue
		}
		meta := kohl.BookMetadata{
			Title:   stringField(doc.FrontMatter, kohl.FMTitle),
			Authors: stringField(doc.FrontMatter, kohl.FMAuthors),
		}
		if meta.Key() == bookKey {
			matched = append(matched, path)
		}
	}
	return matched, false, nil
}

func stringField(fm kohl.FrontMatter, key string) string {
	v, _ := fm[key].(string)
	return v
}

func annotationIDSet(annotations []kohl.Annotation) map[string]bool {
	set := make(map[string]bool, len(annotations))
	for _, a := range annotations {
		set[a.ID()] = true
	}
	return set
}

func stringSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func setEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func subsetOf(a, b map[string]bool) bool {
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// classify implements §4.9 step 3d. Non-user front-matter fields compared
// for "exact" are title/authors/series/language — the fields the engine
// itself owns and re-derives on every import.
func classify(candidateIDs, incomingIDs map[string]bool, fm kohl.FrontMatter, metadata kohl.BookMetadata) kohl.MatchType {
	nonUserFieldsMatch := strings.EqualFold(stringField(fm, kohl.FMTitle), metadata.Title) &&
		strings.EqualFold(stringField(fm, kohl.FMAuthors), metadata.Authors) &&
		strings.EqualFold(stringField(fm, kohl.FMSeries), metadata.Series) &&
		strings.EqualFold(stringField(fm, kohl.FMLanguage), metadata.Language)

	switch {
	case setEqual(candidateIDs, incomingIDs) && nonUserFieldsMatch:
		return kohl.MatchExact
	case subsetOf(candidateIDs, incomingIDs):
		return kohl.MatchSubsetExtension
	default:
		return kohl.MatchDivergent
	}
}

// tieBreak prefers a candidate under the managed root, then the most
// recently modified.
func (r *Resolver) tieBreak(candidates []kohl.Candidate) kohl.Candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		iManaged := isUnderRoot(candidates[i].Path, r.managedRoot)
		jManaged := isUnderRoot(candidates[j].Path, r.managedRoot)
		if iManaged != jManaged {
			return iManaged
		}
		return candidates[i].ModTime.After(candidates[j].ModTime)
	})
	return candidates[0]
}

func isUnderRoot(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, "..")
}
