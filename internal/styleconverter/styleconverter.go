// Package styleconverter implements the engine's convert_comment_style
// operation (spec.md §4 "Engine.convert_comment_style"): rewrite every
// managed note's tracking-comment style in place, leaving front-matter
// and all non-marker body content byte-for-byte untouched.
//
// Grounded on AtomicFS.Walk for the managed-folder scan (the same walk
// DuplicateResolver uses to enumerate candidates) and notecodec's
// ConvertCommentStyle for the actual rewrite.
package styleconverter

import (
	"context"

	"github.com/kohl-sync/kohl-sync/internal/atomicfs"
	"github.com/kohl-sync/kohl-sync/internal/keyedqueue"
	"github.com/kohl-sync/kohl-sync/internal/kohl"
	"github.com/kohl-sync/kohl-sync/internal/notecodec"
)

// Result reports how many notes were rewritten versus left untouched
// (either already in the target style, or visited after ctx was cancelled).
type Result struct {
	Converted int
	Skipped   int
}

type Converter struct {
	fs    *atomicfs.AtomicFS
	queue *keyedqueue.KeyedQueue
}

func New(fs *atomicfs.AtomicFS, queue *keyedqueue.KeyedQueue) *Converter {
	return &Converter{fs: fs, queue: queue}
}

// Convert rewrites every "*.md" note under managedFolder to targetStyle.
// A note already matching targetStyle, or carrying no recognizable
// markers at all, is counted as skipped rather than rewritten.
func (c *Converter) Convert(ctx context.Context, managedFolder string, targetStyle kohl.CommentStyle) (Result, error) {
	paths, err := c.fs.Walk(managedFolder, ".md", true)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			result.Skipped += len(paths) - result.Converted - result.Skipped
			return result, nil
		}

		converted, err := keyedqueue.Run(ctx, c.queue, path, func(ctx context.Context) (bool, error) {
			return c.convertOne(ctx, path, targetStyle)
		})
		if err != nil {
			return result, err
		}
		if converted {
			result.Converted++
		} else {
			result.Skipped++
		}
	}

	return result, nil
}

func (c *Converter) convertOne(ctx context.Context, path string, targetStyle kohl.CommentStyle) (bool, error) {
	text, err := c.fs.ReadText(path)
	if err != nil {
		return false, err
	}

	doc := notecodec.Parse(text)

	// The style argument to ExtractHighlights only gates the "none"
	// short-circuit; passing HTML here still detects MD markers if HTML
	// ones aren't present, so one call is enough to learn the body's
	// actual marker style.
	ids, sourceStyle := notecodec.ExtractHighlights(doc.Body, kohl.CommentStyleHTML)
	if len(ids) == 0 || sourceStyle == targetStyle {
		return false, nil
	}

	newBody := notecodec.ConvertCommentStyle(doc.Body, sourceStyle, targetStyle)
	if newBody == doc.Body {
		return false, nil
	}

	rewritten, err := notecodec.Reconstruct(doc.FrontMatter, newBody)
	if err != nil {
		return false, err
	}

	if err := c.fs.WriteTextAtomic(ctx, path, rewritten); err != nil {
		return false, err
	}
	return true, nil
}
