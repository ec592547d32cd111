package kohl

import "testing"

func TestAnnotationIDDiffersByPage(t *testing.T) {
	t.Parallel()
	a := Annotation{Page: 1, StartPos: "100", EndPos: "200", Text: "same passage"}
	b := Annotation{Page: 2, StartPos: "100", EndPos: "200", Text: "same passage"}
	if a.ID() == b.ID() {
		t.Fatalf("expected annotations on different pages to hash differently, both got %s", a.ID())
	}
}

func TestAnnotationIDStableAcrossWhitespaceAndCase(t *testing.T) {
	t.Parallel()
	a := Annotation{Page: 1, StartPos: "100", EndPos: "200", Text: "A Passage", Note: "note"}
	b := Annotation{Page: 1, StartPos: "100", EndPos: "200", Text: "a   passage", Note: "NOTE"}
	if a.ID() != b.ID() {
		t.Fatalf("expected normalized text/note to hash identically, got %s vs %s", a.ID(), b.ID())
	}
}

func TestBookMetadataKeyNormalizesAndIgnoresURLs(t *testing.T) {
	t.Parallel()
	a := BookMetadata{Title: "The Odyssey", Authors: "Homer"}
	b := BookMetadata{Title: "  the odyssey ", Authors: "HOMER"}
	if a.Key() != b.Key() {
		t.Fatalf("expected case/whitespace-insensitive key match, got %q vs %q", a.Key(), b.Key())
	}
	c := BookMetadata{Title: "The Odyssey", Authors: "https://example.com/homer"}
	if c.Key() != "::the odyssey" {
		t.Fatalf("expected URL-like authors to normalize to empty, got %q", c.Key())
	}
}
