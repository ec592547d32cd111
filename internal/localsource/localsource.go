// Package localsource implements ports.MetadataSource by reading
// pre-parsed book fixtures from a directory of JSON files, one file per
// book, the CLI's stand-in for a real reader's sidecar format.
//
// Grounded on the teacher's directory-walking convention in
// internal/fs/scan.go (a flat os.ReadDir pass, one item at a time,
// errors surfaced per item rather than aborting the walk).
package localsource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kohl-sync/kohl-sync/internal/kohl"
	"github.com/kohl-sync/kohl-sync/internal/ports"
)

// fixture is the on-disk JSON shape of one book. Field names are snake
// case to match the reader-side export format this CLI stub imitates.
type fixture struct {
	SourcePath string `json:"source_path"`
	Metadata   struct {
		Title       string            `json:"title"`
		Authors     string            `json:"authors"`
		Series      string            `json:"series"`
		Language    string            `json:"language"`
		ContentHash string            `json:"content_hash"`
		Identifiers map[string]string `json:"identifiers"`
	} `json:"metadata"`
	Annotations []struct {
		Page      int    `json:"page"`
		StartPos  string `json:"start_pos"`
		EndPos    string `json:"end_pos"`
		Text      string `json:"text"`
		Note      string `json:"note"`
		Timestamp string `json:"timestamp"`
		Color     string `json:"color"`
		DrawStyle string `json:"draw_style"`
	} `json:"annotations"`
}

// Source streams books found as *.json files directly under Dir.
type Source struct {
	Dir string
}

func New(dir string) *Source {
	return &Source{Dir: dir}
}

func (s *Source) IterBooks(ctx context.Context) (<-chan ports.SourceBook, <-chan error) {
	bookCh := make(chan ports.SourceBook)
	errCh := make(chan error, 1)

	go func() {
		defer close(bookCh)
		defer close(errCh)

		entries, err := os.ReadDir(s.Dir)
		if err != nil {
			errCh <- fmt.Errorf("read %s: %w", s.Dir, err)
			return
		}

		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}

			path := filepath.Join(s.Dir, entry.Name())
			book, err := s.loadFixture(path)
			if err != nil {
				select {
				case errCh <- fmt.Errorf("%s: %w", path, err):
				case <-ctx.Done():
					return
				}
				continue
			}

			select {
			case bookCh <- book:
			case <-ctx.Done():
				return
			}
		}
	}()

	return bookCh, errCh
}

func (s *Source) loadFixture(path string) (ports.SourceBook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ports.SourceBook{}, err
	}

	var fx fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return ports.SourceBook{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return ports.SourceBook{}, err
	}

	sourcePath := fx.SourcePath
	if sourcePath == "" {
		sourcePath = path
	}

	annotations := make([]kohl.Annotation, 0, len(fx.Annotations))
	for _, a := range fx.Annotations {
		annotations = append(annotations, kohl.Annotation{
			Page:      a.Page,
			StartPos:  a.StartPos,
			EndPos:    a.EndPos,
			Text:      a.Text,
			Note:      a.Note,
			Timestamp: a.Timestamp,
			Color:     a.Color,
			DrawStyle: a.DrawStyle,
		})
	}

	return ports.SourceBook{
		SourcePath: sourcePath,
		Metadata: kohl.BookMetadata{
			Title:       fx.Metadata.Title,
			Authors:     fx.Metadata.Authors,
			Series:      fx.Metadata.Series,
			Language:    fx.Metadata.Language,
			ContentHash: fx.Metadata.ContentHash,
			Identifiers: fx.Metadata.Identifiers,
		},
		Annotations: annotations,
		Stat: kohl.Stat{
			Mtime: info.ModTime(),
			Size:  info.Size(),
		},
	}, nil
}
