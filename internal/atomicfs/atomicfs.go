// Package atomicfs is the engine's only path to disk: every note, snapshot,
// and backup write goes through WriteTextAtomic/WriteBinaryAtomic so a crash
// or concurrent reader never observes a half-written file.
//
// The write-temp-then-rename discipline and .bak fallback are grounded on
// the teacher's db.Store.openDB recovery behavior (delete-and-recreate on a
// corrupt file); the bounded jittered retry around the rename step uses
// github.com/cenkalti/backoff/v4, a direct dependency of several pack repos
// (steveyegge-beads, AKJUS-bsc-erigon) though not imported by the teacher
// itself (see DESIGN.md).
package atomicfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/kohl-sync/kohl-sync/internal/apperr"
)

// Stat is the subset of file metadata callers need without importing os.
type Stat struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// AtomicFS wraps every filesystem operation the engine performs, adding
// atomic-write guarantees and a cached directory walk.
type AtomicFS struct {
	retryMax time.Duration

	mu        sync.Mutex
	walkCache map[walkKey][]string
	onChanged []func(path string)
}

type walkKey struct {
	root      string
	ext       string
	recursive bool
}

// New returns an AtomicFS with bounded retry of up to retryMax (zero means
// use the package default of 2 seconds).
func New(retryMax time.Duration) *AtomicFS {
	if retryMax <= 0 {
		retryMax = 2 * time.Second
	}
	return &AtomicFS{
		retryMax:  retryMax,
		walkCache: make(map[walkKey][]string),
	}
}

func toAppErr(path string, err error) *apperr.AppError {
	if err == nil {
		return nil
	}
	var ae *apperr.AppError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return apperr.NotFoundErr(path)
	case errors.Is(err, fs.ErrPermission):
		return apperr.PermissionDeniedErr(path)
	default:
		return apperr.ReadFailedErr(path, err)
	}
}

// ReadText reads path as UTF-8 text.
func (a *AtomicFS) ReadText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", toAppErr(path, err)
	}
	return string(b), nil
}

// ReadBinary reads path's raw bytes.
func (a *AtomicFS) ReadBinary(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, toAppErr(path, err)
	}
	return b, nil
}

// EnsureParentDir creates path's parent directory tree if missing.
func (a *AtomicFS) EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.WriteFailedErr(dir, err)
	}
	return nil
}

func (a *AtomicFS) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = a.retryMax
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 6), ctx))
}

// WriteTextAtomic writes content to path by writing a sibling temp file and
// renaming it into place, retrying the rename step on transient failure. If
// path already exists, its prior content is preserved at path+".bak" before
// the rename so a failed or interrupted write never leaves the reader with
// less than what was there before. This engine takes the backup on every
// write rather than only the rename-over-existing-unsupported fallback a
// narrower reading of the contract would allow; os.Rename already replaces
// the destination atomically on every platform this engine targets, so the
// extra .bak is pure safety margin, not a correctness requirement. Paths
// already ending in ".bak" are exempt, so a backup file is never itself
// backed up.
func (a *AtomicFS) WriteTextAtomic(ctx context.Context, path string, content string) error {
	return a.writeAtomic(ctx, path, []byte(content))
}

// WriteBinaryAtomic is WriteTextAtomic for raw bytes.
func (a *AtomicFS) WriteBinaryAtomic(ctx context.Context, path string, content []byte) error {
	return a.writeAtomic(ctx, path, content)
}

func (a *AtomicFS) writeAtomic(ctx context.Context, path string, content []byte) error {
	if err := a.EnsureParentDir(path); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")

	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return apperr.WriteFailedErr(path, err)
	}

	if filepath.Ext(path) != ".bak" {
		if prior, err := os.ReadFile(path); err == nil {
			backupPath := path + ".bak"
			if werr := os.WriteFile(backupPath, prior, 0o644); werr != nil {
				os.Remove(tmp)
				return apperr.BackupFailedErr(path, werr)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			os.Remove(tmp)
			return toAppErr(path, err)
		}
	}

	renameErr := a.retry(ctx, func() error {
		err := os.Rename(tmp, path)
		if err != nil && !errors.Is(err, syscall.EINTR) && !errors.Is(err, syscall.EAGAIN) && !os.IsTimeout(err) {
			return backoff.Permanent(err)
		}
		return err
	})
	if renameErr != nil {
		os.Remove(tmp)
		return apperr.WriteFailedErr(path, renameErr)
	}

	a.notifyChanged(path)
	return nil
}

// CreateExclusive creates path with content only if it does not already
// exist, returning an AlreadyExists AppError otherwise. Used by
// NotePersistence's collision-safe suffix loop, where the existence check
// and the write must be one atomic step.
func (a *AtomicFS) CreateExclusive(path string, content string) error {
	if err := a.EnsureParentDir(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return apperr.AlreadyExistsErr(path)
		}
		return apperr.WriteFailedErr(path, err)
	}
	_, werr := io.WriteString(f, content)
	cerr := f.Close()
	if werr != nil {
		os.Remove(path)
		return apperr.WriteFailedErr(path, werr)
	}
	if cerr != nil {
		os.Remove(path)
		return apperr.WriteFailedErr(path, cerr)
	}
	a.notifyChanged(path)
	return nil
}

// AppendText appends content to path, creating it if absent. Unlike the
// atomic writers this is not crash-safe (it opens in append mode directly)
// and exists only for the plugin-data activity log, which tolerates a
// truncated final line.
func (a *AtomicFS) AppendText(path, content string) error {
	if err := a.EnsureParentDir(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.WriteFailedErr(path, err)
	}
	defer f.Close()
	if _, err := io.WriteString(f, content); err != nil {
		return apperr.WriteFailedErr(path, err)
	}
	return nil
}

// Remove deletes path. Deleting a path that does not exist is not an
// error.
func (a *AtomicFS) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperr.WriteFailedErr(path, err)
	}
	a.notifyChanged(path)
	return nil
}

// Rename moves oldPath to newPath, invalidating any cached walk results.
func (a *AtomicFS) Rename(oldPath, newPath string) error {
	if err := a.EnsureParentDir(newPath); err != nil {
		return err
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return apperr.WriteFailedErr(newPath, err)
	}
	a.notifyChanged(oldPath)
	a.notifyChanged(newPath)
	return nil
}

// Stat returns metadata for path.
func (a *AtomicFS) Stat(path string) (Stat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Stat{}, toAppErr(path, err)
	}
	return Stat{Path: path, Size: info.Size(), ModTime: info.ModTime(), IsDir: info.IsDir()}, nil
}

// ListDir returns the immediate entries of dir (not recursive).
func (a *AtomicFS) ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, toAppErr(dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, filepath.Join(dir, e.Name()))
	}
	sort.Strings(names)
	return names, nil
}

// OnPathChanged registers a callback invoked whenever a write through this
// AtomicFS touches a path, so a Walk cache consumer can invalidate eagerly
// instead of waiting for its own TTL.
func (a *AtomicFS) OnPathChanged(fn func(path string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChanged = append(a.onChanged, fn)
}

func (a *AtomicFS) notifyChanged(path string) {
	a.mu.Lock()
	dir := filepath.Dir(path)
	for k := range a.walkCache {
		if k.root == dir || filepath.Dir(k.root) == dir || k.recursive {
			delete(a.walkCache, k)
		}
	}
	callbacks := append([]func(path string){}, a.onChanged...)
	a.mu.Unlock()

	for _, cb := range callbacks {
		cb(path)
	}
}

// Walk returns every file under root with the given extension (""  matches
// all files), recursing into subdirectories when recursive is true. Results
// are cached per (root, ext, recursive) until a write observed through this
// AtomicFS invalidates them.
func (a *AtomicFS) Walk(root, ext string, recursive bool) ([]string, error) {
	key := walkKey{root: root, ext: ext, recursive: recursive}

	a.mu.Lock()
	if cached, ok := a.walkCache[key]; ok {
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	var matches []string
	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if ext == "" || filepath.Ext(path) == ext {
			matches = append(matches, path)
		}
		return nil
	}

	if err := filepath.WalkDir(root, walkFn); err != nil {
		return nil, toAppErr(root, err)
	}
	sort.Strings(matches)

	a.mu.Lock()
	a.walkCache[key] = matches
	a.mu.Unlock()

	return matches, nil
}
