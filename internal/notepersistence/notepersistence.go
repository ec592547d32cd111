// Package notepersistence creates brand-new notes collision-safely, per
// SPEC_FULL.md §4.11: sanitize the stem, probe suffixes atomically, fall
// back to a timestamped name, then mint a uid and its first snapshot.
//
// The sanitize-then-suffix-loop shape is grounded on the teacher's
// filename handling in internal/sync/worker.go (title-derived filenames
// truncated to a platform limit); the collision probe itself is
// CreateExclusive, an O_EXCL wrapper added to AtomicFS for this package.
package notepersistence

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/kohl-sync/kohl-sync/internal/atomicfs"
	"github.com/kohl-sync/kohl-sync/internal/identitystore"
	"github.com/kohl-sync/kohl-sync/internal/keyedqueue"
	"github.com/kohl-sync/kohl-sync/internal/kohl"
	"github.com/kohl-sync/kohl-sync/internal/ports"
)

// maxStemLength bounds the sanitized stem before suffixing, matching the
// conservative common filesystem limit (255 bytes) minus room for a
// suffix and the .md extension.
const maxStemLength = 200

// maxSuffixAttempts bounds the collision probe loop before falling back
// to a timestamped stem.
const maxSuffixAttempts = 1000

var disallowedChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// Result is CreateNote's outcome.
type Result struct {
	Path     string
	Warnings []string
}

// NotePersistence creates new notes.
type NotePersistence struct {
	fs       *atomicfs.AtomicFS
	queue    *keyedqueue.KeyedQueue
	identity *identitystore.IdentityStore
	clock    ports.Clock
}

// New returns a NotePersistence. clock supplies the deterministic
// timestamped fallback stem and may be nil to use a random fallback stem.
func New(fs *atomicfs.AtomicFS, queue *keyedqueue.KeyedQueue, identity *identitystore.IdentityStore, clock ports.Clock) *NotePersistence {
	return &NotePersistence{fs: fs, queue: queue, identity: identity, clock: clock}
}

// sanitize strips disallowed characters and truncates to maxStemLength,
// reporting whether truncation occurred.
func sanitize(stem string) (string, bool) {
	cleaned := disallowedChars.ReplaceAllString(stem, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		cleaned = "untitled"
	}
	if len(cleaned) > maxStemLength {
		return cleaned[:maxStemLength], true
	}
	return cleaned, false
}

func suffix(i int) string {
	if i == 0 {
		return ""
	}
	return fmt.Sprintf(" (%d)", i)
}

// CreateNote creates a new note file under targetFolder from baseStem,
// running the entire operation inside KeyedQueue(targetFolder+baseStem) so
// two concurrent creates for the same title never race the suffix probe.
func (p *NotePersistence) CreateNote(ctx context.Context, targetFolder, baseStem, content string) (Result, error) {
	lockKey := targetFolder + "\x00" + baseStem
	return keyedqueue.Run(ctx, p.queue, lockKey, func(ctx context.Context) (Result, error) {
		return p.createNoteLocked(ctx, targetFolder, baseStem, content)
	})
}

func (p *NotePersistence) createNoteLocked(ctx context.Context, targetFolder, baseStem, content string) (Result, error) {
	var warnings []string

	stem, truncated := sanitize(baseStem)
	if truncated {
		warnings = append(warnings, kohl.WarnFilenameTruncated)
	}

	path, err := p.createWithSuffix(targetFolder, stem, content)
	if err != nil {
		path, err = p.createWithTimestampFallback(targetFolder, content)
		if err != nil {
			return Result{}, err
		}
	}

	if _, err := p.identity.EnsureID(ctx, path); err != nil {
		return Result{}, err
	}
	if err := p.identity.CreateSnapshotFromNotePath(ctx, path); err != nil {
		return Result{}, err
	}

	return Result{Path: path, Warnings: warnings}, nil
}

func (p *NotePersistence) createWithSuffix(targetFolder, stem, content string) (string, error) {
	var lastErr error
	for i := 0; i < maxSuffixAttempts; i++ {
		path := filepath.Join(targetFolder, stem+suffix(i)+".md")
		err := p.fs.CreateExclusive(path, content)
		if err == nil {
			return path, nil
		}
		lastErr = err
	}
	return "", lastErr
}

// createWithTimestampFallback is used once the suffix loop is exhausted.
// The timestamp source is deterministic when a clock port is supplied (the
// CLI's import command wires the system clock), and otherwise a random
// suffix via uuid.
func (p *NotePersistence) createWithTimestampFallback(targetFolder, content string) (string, error) {
	var tag string
	if p.clock != nil {
		tag = strings.ReplaceAll(strings.ReplaceAll(p.clock.NowRFC3339(), ":", "-"), "+", "-")
	} else {
		tag = uuid.NewString()
	}
	path := filepath.Join(targetFolder, "note-"+tag+".md")
	if err := p.fs.CreateExclusive(path, content); err != nil {
		return "", err
	}
	return path, nil
}
