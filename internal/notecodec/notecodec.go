// Package notecodec implements the engine's only note-file serialization
// discipline: parsing a YAML front-matter block plus body out of a note's
// text, reconstructing that text in a stable key order, and finding or
// rewriting the tracking comments that let re-imports dedupe highlight by
// highlight.
//
// Adapted from the teacher's internal/marshal.Parse/Render, generalized
// from Linear-issue markdown to arbitrary note front-matter and extended
// with highlight tracking-comment scanning.
package notecodec

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kohl-sync/kohl-sync/internal/kohl"
)

const delimiter = "---"

// canonicalOrder lists recognized keys in the order they are emitted.
// Keys not in this list are appended afterward, sorted for determinism.
var canonicalOrder = []string{
	kohl.FMUID,
	kohl.FMTitle,
	kohl.FMAuthors,
	kohl.FMSeries,
	kohl.FMLanguage,
	kohl.FMConflict,
}

// Parse splits note text into front-matter and body. Malformed YAML never
// fails: it yields an empty mapping and the full text as body, per
// SPEC_FULL.md §4.5.
func Parse(text string) kohl.Document {
	if !strings.HasPrefix(text, delimiter) {
		return kohl.Document{FrontMatter: kohl.FrontMatter{}, Body: text}
	}

	rest := text[len(delimiter):]
	idx := strings.Index(rest, "\n"+delimiter)
	if idx == -1 {
		return kohl.Document{FrontMatter: kohl.FrontMatter{}, Body: text}
	}

	fmYAML := rest[:idx]
	afterDelim := rest[idx+len("\n"+delimiter):]
	body := strings.TrimPrefix(afterDelim, "\n")
	// A single blank line separates front-matter from body in a
	// well-formed note (SPEC_FULL.md §6); tolerate its absence on parse.
	body = strings.TrimPrefix(body, "\n")

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(fmYAML), &raw); err != nil || raw == nil {
		return kohl.Document{FrontMatter: kohl.FrontMatter{}, Body: text}
	}

	return kohl.Document{FrontMatter: kohl.FrontMatter(raw), Body: body}
}

// Reconstruct emits front-matter in canonical key order followed by a
// blank-line separator and the body. reconstruct(parse(s)) normalizes key
// order but never alters scalar values or body bytes (SPEC_FULL.md §4.5
// invariant).
func Reconstruct(fm kohl.FrontMatter, body string) (string, error) {
	if len(fm) == 0 {
		return body, nil
	}

	ordered := &yaml.Node{Kind: yaml.MappingNode}
	seen := make(map[string]bool, len(fm))

	appendKey := func(key string) error {
		if seen[key] {
			return nil
		}
		v, ok := fm[key]
		if !ok {
			return nil
		}
		seen[key] = true
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: key}
		valNode := &yaml.Node{}
		if err := valNode.Encode(v); err != nil {
			return err
		}
		ordered.Content = append(ordered.Content, keyNode, valNode)
		return nil
	}

	for _, key := range canonicalOrder {
		if err := appendKey(key); err != nil {
			return "", err
		}
	}

	rest := make([]string, 0, len(fm))
	for key := range fm {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		if err := appendKey(key); err != nil {
			return "", err
		}
	}

	fmBytes, err := yaml.Marshal(ordered)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteString(delimiter)
	buf.WriteString("\n")
	buf.Write(fmBytes)
	buf.WriteString(delimiter)
	buf.WriteString("\n\n")
	buf.WriteString(body)
	return buf.String(), nil
}

// Highlight describes a single body-embedded annotation reference: its id
// and the byte range of the rendered block that follows its tracking
// comment. ExtractHighlights reports ids only and does not produce
// Highlight values.
type Highlight struct {
	ID    string
	Start int
	End   int
}

var (
	htmlMarker = regexp.MustCompile(`<!--\s*kohl-id:\s*([0-9a-f]{16})\s*-->`)
	mdMarker   = regexp.MustCompile(`%%\s*kohl-id:\s*([0-9a-f]{16})\s*%%`)
)

// ExtractHighlights scans body for tracking markers in the given comment
// style and reports which style was actually found (a body may carry
// stale markers in a style the caller no longer prefers). When style is
// CommentStyleNone, it returns no annotations: without markers, highlight
// identity cannot be recovered from the body alone.
func ExtractHighlights(body string, style kohl.CommentStyle) (ids []string, usedStyle kohl.CommentStyle) {
	if style == kohl.CommentStyleNone {
		return nil, kohl.CommentStyleNone
	}

	if m := htmlMarker.FindAllStringSubmatch(body, -1); len(m) > 0 {
		ids = make([]string, len(m))
		for i, g := range m {
			ids[i] = g[1]
		}
		return ids, kohl.CommentStyleHTML
	}
	if m := mdMarker.FindAllStringSubmatch(body, -1); len(m) > 0 {
		ids = make([]string, len(m))
		for i, g := range m {
			ids[i] = g[1]
		}
		return ids, kohl.CommentStyleMD
	}
	return nil, style
}

// Marker renders the tracking comment for id in the given style. It
// returns "" for CommentStyleNone.
func Marker(id string, style kohl.CommentStyle) string {
	switch style {
	case kohl.CommentStyleHTML:
		return fmt.Sprintf("<!-- kohl-id: %s -->", id)
	case kohl.CommentStyleMD:
		return fmt.Sprintf("%%%% kohl-id: %s %%%%", id)
	default:
		return ""
	}
}

// ExtractBlocks returns the concatenation of body's tracking-comment
// blocks whose id is in wanted, each block running from its marker up to
// (but not including) the next marker or the end of body. Used by
// MergeEngine's two-way reconciliation to append only the annotations the
// incoming render actually added.
func ExtractBlocks(body string, style kohl.CommentStyle, wanted map[string]bool) string {
	var pattern *regexp.Regexp
	switch style {
	case kohl.CommentStyleHTML:
		pattern = htmlMarker
	case kohl.CommentStyleMD:
		pattern = mdMarker
	default:
		return ""
	}

	locs := pattern.FindAllStringSubmatchIndex(body, -1)
	if len(locs) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, loc := range locs {
		id := body[loc[2]:loc[3]]
		start := loc[0]
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if wanted[id] {
			sb.WriteString(body[start:end])
		}
	}
	return sb.String()
}

// ConvertCommentStyle rewrites every tracking marker in body from one
// style to the other, preserving all non-marker content byte-for-byte.
func ConvertCommentStyle(body string, from, to kohl.CommentStyle) string {
	var pattern *regexp.Regexp
	switch from {
	case kohl.CommentStyleHTML:
		pattern = htmlMarker
	case kohl.CommentStyleMD:
		pattern = mdMarker
	default:
		return body
	}
	return pattern.ReplaceAllStringFunc(body, func(match string) string {
		sub := pattern.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		return Marker(sub[1], to)
	})
}
