// Package identitystore gives notes and their content snapshots stable
// identities: the kohl-uid front-matter field and the snapshot file it
// names under a plugin-data root.
//
// GenerateUID's collision-retry loop follows the MaxIDRetries idiom in the
// pack's dcosson-beads-lite filesystem issue store (O_EXCL-probe, retry up
// to 20 times, bounded by the entropy of the id space rather than an
// arbitrary cap).
package identitystore

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kohl-sync/kohl-sync/internal/apperr"
	"github.com/kohl-sync/kohl-sync/internal/atomicfs"
	"github.com/kohl-sync/kohl-sync/internal/keyedqueue"
	"github.com/kohl-sync/kohl-sync/internal/kohl"
	"github.com/kohl-sync/kohl-sync/internal/notecodec"
)

// MaxUIDRetries bounds GenerateUID's collision-retry loop.
const MaxUIDRetries = 20

var base32Enc = base32.StdEncoding.WithPadding(base32.NoPadding)

// IdentityStore is the single owner of kohl-uid minting and snapshot I/O.
type IdentityStore struct {
	fs            *atomicfs.AtomicFS
	queue         *keyedqueue.KeyedQueue
	snapshotsRoot string

	mu        sync.RWMutex
	uidToPath map[string]string // memoized reverse lookup, cache-only
}

// New returns an IdentityStore whose snapshots live under
// filepath.Join(pluginDataRoot, "snapshots").
func New(fs *atomicfs.AtomicFS, queue *keyedqueue.KeyedQueue, pluginDataRoot string) *IdentityStore {
	return &IdentityStore{
		fs:            fs,
		queue:         queue,
		snapshotsRoot: filepath.Join(pluginDataRoot, "snapshots"),
		uidToPath:     make(map[string]string),
	}
}

func (s *IdentityStore) snapshotPath(uid string) string {
	return filepath.Join(s.snapshotsRoot, uid)
}

func (s *IdentityStore) rememberPath(uid, path string) {
	s.mu.Lock()
	s.uidToPath[uid] = path
	s.mu.Unlock()
}

// GetID reads path's front-matter and returns its kohl-uid, if present.
func (s *IdentityStore) GetID(path string) (string, error) {
	text, err := s.fs.ReadText(path)
	if err != nil {
		return "", err
	}
	doc := notecodec.Parse(text)
	uid, _ := doc.FrontMatter[kohl.FMUID].(string)
	return uid, nil
}

// GenerateUID mints a fresh 16-character base32 id, retrying on collision
// with a known snapshot file up to MaxUIDRetries times.
func (s *IdentityStore) GenerateUID() (string, error) {
	for attempt := 0; attempt < MaxUIDRetries; attempt++ {
		buf := make([]byte, 10)
		if _, err := rand.Read(buf); err != nil {
			return "", apperr.Wrap(apperr.WriteFailed, s.snapshotsRoot, err)
		}
		uid := strings.ToLower(base32Enc.EncodeToString(buf))[:16]
		if _, err := s.fs.Stat(s.snapshotPath(uid)); err != nil {
			return uid, nil
		}
	}
	return "", apperr.Wrap(apperr.WriteFailed, s.snapshotsRoot, nil)
}

// EnsureID returns path's existing uid, or mints and writes one under
// KeyedQueue("ensure-id:"+path) so concurrent callers converge on a single
// winner. The key differs from the bare note path, so a caller that already
// holds KeyedQueue(path), as MergeEngine does under ImportExecutor, can
// call it without waiting on its own lock.
func (s *IdentityStore) EnsureID(ctx context.Context, path string) (string, error) {
	return keyedqueue.Run(ctx, s.queue, "ensure-id:"+path, func(ctx context.Context) (string, error) {
		existing, err := s.GetID(path)
		if err != nil {
			return "", err
		}
		if existing != "" {
			s.rememberPath(existing, path)
			return existing, nil
		}

		uid, err := s.GenerateUID()
		if err != nil {
			return "", err
		}

		text, err := s.fs.ReadText(path)
		if err != nil {
			return "", err
		}
		doc := notecodec.Parse(text)
		if doc.FrontMatter == nil {
			doc.FrontMatter = kohl.FrontMatter{}
		}
		doc.FrontMatter[kohl.FMUID] = uid
		rendered, err := notecodec.Reconstruct(doc.FrontMatter, doc.Body)
		if err != nil {
			return "", apperr.ParseFailedErr("yaml", err.Error())
		}
		if err := s.fs.WriteTextAtomic(ctx, path, rendered); err != nil {
			return "", err
		}

		s.rememberPath(uid, path)
		return uid, nil
	})
}

// ReadSnapshot returns uid's stored content, or ("", nil) if no snapshot
// exists yet.
func (s *IdentityStore) ReadSnapshot(uid string) (string, error) {
	text, err := s.fs.ReadText(s.snapshotPath(uid))
	if err != nil {
		var ae *apperr.AppError
		if aerr, ok := err.(*apperr.AppError); ok {
			ae = aerr
		}
		if ae != nil && ae.Kind == apperr.NotFound {
			return "", nil
		}
		return "", err
	}
	return text, nil
}

// WriteSnapshot atomically writes content under uid's snapshot file,
// serialized under KeyedQueue("uid:<uid>"). The write is not skipped when
// ctx is already cancelled, so a note write that just completed still gets
// its snapshot.
func (s *IdentityStore) WriteSnapshot(ctx context.Context, uid, content string) error {
	_, err := keyedqueue.Run(context.WithoutCancel(ctx), s.queue, "uid:"+uid, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.fs.WriteTextAtomic(ctx, s.snapshotPath(uid), content)
	})
	return err
}

// CreateSnapshotFromNotePath reads path, ensures it has a uid, and snapshots
// the parsed-then-reconstructed content (not the raw bytes), so the
// snapshot always reflects NoteCodec's canonical rendering.
func (s *IdentityStore) CreateSnapshotFromNotePath(ctx context.Context, path string) error {
	uid, err := s.EnsureID(ctx, path)
	if err != nil {
		return err
	}
	text, err := s.fs.ReadText(path)
	if err != nil {
		return err
	}
	doc := notecodec.Parse(text)
	rendered, err := notecodec.Reconstruct(doc.FrontMatter, doc.Body)
	if err != nil {
		return apperr.ParseFailedErr("yaml", err.Error())
	}
	return s.WriteSnapshot(ctx, uid, rendered)
}

// RepairCollision mints path a fresh uid when wantedUID is already known to
// belong to a different path, snapshotting under the new uid before
// rewriting front-matter. wantedUID's own snapshot is left untouched: it
// belongs to the other path, not this one, so deleting it here would
// destroy that path's legitimate history.
func (s *IdentityStore) RepairCollision(ctx context.Context, path, wantedUID string) (string, error) {
	s.mu.RLock()
	owner, known := s.uidToPath[wantedUID]
	s.mu.RUnlock()
	if !known || owner == path {
		return wantedUID, nil
	}

	newUID, err := s.GenerateUID()
	if err != nil {
		return "", err
	}

	text, err := s.fs.ReadText(path)
	if err != nil {
		return "", err
	}
	doc := notecodec.Parse(text)
	rendered, err := notecodec.Reconstruct(doc.FrontMatter, doc.Body)
	if err != nil {
		return "", apperr.ParseFailedErr("yaml", err.Error())
	}
	if err := s.WriteSnapshot(ctx, newUID, rendered); err != nil {
		return "", err
	}

	if doc.FrontMatter == nil {
		doc.FrontMatter = kohl.FrontMatter{}
	}
	doc.FrontMatter[kohl.FMUID] = newUID
	newRendered, err := notecodec.Reconstruct(doc.FrontMatter, doc.Body)
	if err != nil {
		return "", apperr.ParseFailedErr("yaml", err.Error())
	}
	if err := s.fs.WriteTextAtomic(ctx, path, newRendered); err != nil {
		return "", err
	}

	s.rememberPath(newUID, path)
	return newUID, nil
}

// DeleteSnapshot removes uid's snapshot file. Callers must first confirm
// the owning note no longer exists.
func (s *IdentityStore) DeleteSnapshot(uid string) error {
	return s.fs.Remove(s.snapshotPath(uid))
}
