// Package kohltest supplies fixture builders and fake port implementations
// for the engine's own test suite, in the style of the teacher's
// internal/testutil/fixtures: functional-option constructors over a fixed
// base timestamp, plus small fakes for the ports this engine's tests need
// most often.
package kohltest

import (
	"context"
	"time"

	"github.com/kohl-sync/kohl-sync/internal/kohl"
	"github.com/kohl-sync/kohl-sync/internal/ports"
)

// BaseTime anchors every fixture's default timestamp so tests comparing
// relative ordering don't depend on wall-clock time.
var BaseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// AnnotationOption customizes FixtureAnnotation.
type AnnotationOption func(*kohl.Annotation)

func WithText(text string) AnnotationOption {
	return func(a *kohl.Annotation) { a.Text = text }
}

func WithNote(note string) AnnotationOption {
	return func(a *kohl.Annotation) { a.Note = note }
}

func WithTimestamp(t time.Time) AnnotationOption {
	return func(a *kohl.Annotation) { a.Timestamp = t.Format(time.RFC3339) }
}

func WithPage(page int) AnnotationOption {
	return func(a *kohl.Annotation) { a.Page = page }
}

// FixtureAnnotation returns a highlight at BaseTime with defaults suitable
// for most tests; pass options to vary specific fields.
func FixtureAnnotation(opts ...AnnotationOption) kohl.Annotation {
	a := kohl.Annotation{
		Page:      1,
		StartPos:  "100",
		EndPos:    "200",
		Text:      "a highlighted passage",
		Timestamp: BaseTime.Format(time.RFC3339),
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// BookMetadataOption customizes FixtureBookMetadata.
type BookMetadataOption func(*kohl.BookMetadata)

func WithTitle(title string) BookMetadataOption {
	return func(m *kohl.BookMetadata) { m.Title = title }
}

func WithAuthors(authors string) BookMetadataOption {
	return func(m *kohl.BookMetadata) { m.Authors = authors }
}

func WithContentHash(hash string) BookMetadataOption {
	return func(m *kohl.BookMetadata) { m.ContentHash = hash }
}

// FixtureBookMetadata returns a book with defaults suitable for most tests.
func FixtureBookMetadata(opts ...BookMetadataOption) kohl.BookMetadata {
	m := kohl.BookMetadata{
		Title:   "The Test Book",
		Authors: "A. Author",
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// FixtureSourceBook composes a ports.SourceBook from defaults.
func FixtureSourceBook(metadata kohl.BookMetadata, annotations []kohl.Annotation) ports.SourceBook {
	return ports.SourceBook{
		SourcePath:  "/reader/book.sdr/metadata.lua",
		Metadata:    metadata,
		Annotations: annotations,
		Stat:        kohl.Stat{Mtime: BaseTime, Size: 1024},
	}
}

// FixedClock implements ports.Clock against a pinned time.
type FixedClock struct {
	Time time.Time
}

func NewFixedClock(t time.Time) FixedClock { return FixedClock{Time: t} }

func (c FixedClock) Now() time.Time     { return c.Time }
func (c FixedClock) NowRFC3339() string { return c.Time.Format(time.RFC3339) }

// StubPrompt answers every UserPrompt question with a fixed choice,
// recording how many times each method was called.
type StubPrompt struct {
	Choice       ports.DuplicateChoice
	ConfirmStale bool
	ChooseCalls  int
	ConfirmCalls int
}

func (s *StubPrompt) ChooseDuplicate(ctx context.Context, req ports.DuplicateChoiceRequest) (ports.DuplicateChoice, error) {
	s.ChooseCalls++
	return s.Choice, nil
}

func (s *StubPrompt) ConfirmStaleLocation(ctx context.Context, match kohl.Candidate) (bool, error) {
	s.ConfirmCalls++
	return s.ConfirmStale, nil
}

// ChanSource implements ports.MetadataSource by replaying a fixed slice of
// books through a buffered channel, then closing both channels.
type ChanSource struct {
	Books []ports.SourceBook
}

func (s *ChanSource) IterBooks(ctx context.Context) (<-chan ports.SourceBook, <-chan error) {
	bookCh := make(chan ports.SourceBook, len(s.Books))
	errCh := make(chan error)
	for _, b := range s.Books {
		bookCh <- b
	}
	close(bookCh)
	close(errCh)
	return bookCh, errCh
}
