package identitystore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kohl-sync/kohl-sync/internal/atomicfs"
	"github.com/kohl-sync/kohl-sync/internal/keyedqueue"
)

func newStore(t *testing.T) (*IdentityStore, string) {
	t.Helper()
	dir := t.TempDir()
	fs := atomicfs.New(0)
	store := New(fs, keyedqueue.New(), filepath.Join(dir, "plugin-data"))
	return store, dir
}

func TestEnsureIDGeneratesOnce(t *testing.T) {
	t.Parallel()
	store, dir := newStore(t)
	notePath := filepath.Join(dir, "note.md")
	if err := os.WriteFile(notePath, []byte("---\ntitle: X\n---\nbody"), 0o644); err != nil {
		t.Fatalf("seed note: %v", err)
	}

	ctx := context.Background()
	uid1, err := store.EnsureID(ctx, notePath)
	if err != nil {
		t.Fatalf("EnsureID: %v", err)
	}
	if uid1 == "" {
		t.Fatalf("expected non-empty uid")
	}

	uid2, err := store.EnsureID(ctx, notePath)
	if err != nil {
		t.Fatalf("EnsureID (again): %v", err)
	}
	if uid2 != uid1 {
		t.Fatalf("expected idempotent uid, got %s then %s", uid1, uid2)
	}

	got, err := store.GetID(notePath)
	if err != nil {
		t.Fatalf("GetID: %v", err)
	}
	if got != uid1 {
		t.Fatalf("GetID = %s want %s", got, uid1)
	}
}

func TestWriteAndReadSnapshot(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()

	uid, err := store.GenerateUID()
	if err != nil {
		t.Fatalf("GenerateUID: %v", err)
	}

	got, err := store.ReadSnapshot(uid)
	if err != nil {
		t.Fatalf("ReadSnapshot (missing): %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty snapshot before any write, got %q", got)
	}

	if err := store.WriteSnapshot(ctx, uid, "snapshot content"); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	got, err = store.ReadSnapshot(uid)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if got != "snapshot content" {
		t.Fatalf("got %q want %q", got, "snapshot content")
	}
}

func TestDeleteSnapshotRemovesFile(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()

	uid, _ := store.GenerateUID()
	if err := store.WriteSnapshot(ctx, uid, "x"); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if err := store.DeleteSnapshot(uid); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	got, err := store.ReadSnapshot(uid)
	if err != nil {
		t.Fatalf("ReadSnapshot (after delete): %v", err)
	}
	if got != "" {
		t.Fatalf("expected snapshot gone, got %q", got)
	}
}

func TestGenerateUIDProducesSixteenLowercaseChars(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	uid, err := store.GenerateUID()
	if err != nil {
		t.Fatalf("GenerateUID: %v", err)
	}
	if len(uid) != 16 {
		t.Fatalf("expected 16 char uid, got %q (%d)", uid, len(uid))
	}
	for _, r := range uid {
		if r >= 'A' && r <= 'Z' {
			t.Fatalf("expected lowercase uid, got %q", uid)
		}
	}
}
