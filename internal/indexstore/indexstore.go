// Package indexstore is the engine's persistent index of known books, note
// instances, and per-source import state, backed by modernc.org/sqlite —
// the teacher's own pure-Go driver — opened exactly the way the teacher's
// internal/db.Store does (WAL, foreign keys on, embedded schema), with an
// in-memory fallback and background rebuild modeled on the teacher's
// internal/sync.Worker ticking loop.
package indexstore

import (
	"context"
	_ "embed"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kohl-sync/kohl-sync/internal/apperr"
	"github.com/kohl-sync/kohl-sync/internal/atomicfs"
	"github.com/kohl-sync/kohl-sync/internal/kohl"
	"github.com/kohl-sync/kohl-sync/internal/notecodec"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stamped into PRAGMA user_version once the embedded
// schema has been applied; bump it whenever schema.sql changes shape.
// There are no per-version migration steps: every open re-runs schema.sql
// and then stamps this value, outside any transaction.
const schemaVersion = 1

// State is IndexStore's degradation level.
type State string

const (
	Persistent State = "persistent"
	InMemory   State = "in_memory"
	Unavailable State = "unavailable"
)

// RebuildPhase tracks the background rebuild scan.
type RebuildPhase string

const (
	RebuildIdle      RebuildPhase = "idle"
	RebuildRunning   RebuildPhase = "rebuilding"
	RebuildComplete  RebuildPhase = "complete"
	RebuildCancelled RebuildPhase = "cancelled"
	RebuildFailed    RebuildPhase = "failed"
)

// RebuildProgress is reported to an optional observer during a background
// rebuild.
type RebuildProgress struct {
	Current int
	Total   int
}

const rebuildBatchSize = 64

// IndexStore owns the sqlite connection (or none, in Unavailable state)
// plus the single write-serializing lock every mutation goes through.
type IndexStore struct {
	mu    sync.RWMutex
	state State
	db    *sql.DB

	writeMu       sync.Mutex
	debounceTimer *time.Timer
	debounceMu    sync.Mutex

	rebuildMu    sync.Mutex
	rebuildPhase RebuildPhase
	rebuildStop  context.CancelFunc
}

// Open opens or creates a persistent sqlite-backed index at dbPath. On
// unrecoverable open or schema corruption, it falls back to an in-memory
// database with the schema freshly applied; the caller is responsible for
// kicking off StartBackgroundRebuild in that case (IndexStore cannot know
// the managed notes folder on its own).
func Open(dbPath string) (*IndexStore, error) {
	store, err := openPersistent(dbPath)
	if err == nil {
		return store, nil
	}
	if isSchemaMismatch(err) {
		os.Remove(dbPath)
		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")
		store, err = openPersistent(dbPath)
		if err == nil {
			return store, nil
		}
	}

	mem, merr := openInMemory()
	if merr != nil {
		return &IndexStore{state: Unavailable}, nil
	}
	return mem, nil
}

func isSchemaMismatch(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "SQL logic error")
}

func openPersistent(dbPath string) (*IndexStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, apperr.Wrap(apperr.DbOpenFailed, dbPath, err)
	}
	escaped := strings.ReplaceAll(dbPath, " ", "%20")
	db, err := sql.Open("sqlite", "file:"+escaped+"?_time_format=sqlite")
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpenFailed, dbPath, err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &IndexStore{state: Persistent, db: db}, nil
}

func openInMemory() (*IndexStore, error) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpenFailed, ":memory:", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &IndexStore{state: InMemory, db: db}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return apperr.Wrap(apperr.DbOpenFailed, "", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return apperr.Wrap(apperr.DbOpenFailed, "", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return apperr.Wrap(apperr.DbValidateFailed, "", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", schemaVersion)); err != nil {
		return apperr.Wrap(apperr.MigrationFailed, "", err)
	}
	return nil
}

// State reports the store's current degradation level.
func (s *IndexStore) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Close releases the underlying connection, if any.
func (s *IndexStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertBook inserts or updates a Book row.
func (s *IndexStore) UpsertBook(ctx context.Context, key, title, authors string) error {
	if s.State() == Unavailable {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO book(key, title, authors) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET title = excluded.title, authors = excluded.authors
	`, key, title, authors)
	if err != nil {
		return apperr.Wrap(apperr.DbPersistFailed, key, err)
	}
	s.scheduleDebouncedCheckpoint()
	return nil
}

// UpsertNoteInstance registers vaultPath as an instance of bookKey.
func (s *IndexStore) UpsertNoteInstance(ctx context.Context, bookKey, vaultPath string) error {
	if s.State() == Unavailable {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO note_instance(book_key, vault_path) VALUES (?, ?)
		ON CONFLICT(vault_path) DO UPDATE SET book_key = excluded.book_key
	`, bookKey, vaultPath)
	if err != nil {
		return apperr.Wrap(apperr.DbPersistFailed, vaultPath, err)
	}
	s.scheduleDebouncedCheckpoint()
	return nil
}

// DeleteNoteInstance removes vaultPath; the schema's trigger removes the
// owning Book row automatically once it has no remaining instances.
func (s *IndexStore) DeleteNoteInstance(ctx context.Context, vaultPath string) error {
	if s.State() == Unavailable {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM note_instance WHERE vault_path = ?`, vaultPath)
	if err != nil {
		return apperr.Wrap(apperr.DbPersistFailed, vaultPath, err)
	}
	s.scheduleDebouncedCheckpoint()
	return nil
}

// NoteInstancesForBookKey returns every known vault path for a book key.
func (s *IndexStore) NoteInstancesForBookKey(ctx context.Context, bookKey string) ([]string, error) {
	if s.State() == Unavailable {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT vault_path FROM note_instance WHERE book_key = ?`, bookKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.DbPersistFailed, bookKey, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, apperr.Wrap(apperr.DbPersistFailed, bookKey, err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// GetImportSource returns the known ImportSourceRecord for sourcePath, or
// nil if none exists yet.
func (s *IndexStore) GetImportSource(ctx context.Context, sourcePath string) (*kohl.ImportSourceRecord, error) {
	if s.State() == Unavailable {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT source_path, last_processed_mtime, last_processed_size,
		       newest_annotation_ts, last_success_ts, last_error, book_key, md5
		FROM import_source WHERE source_path = ?
	`, sourcePath)

	var rec kohl.ImportSourceRecord
	var mtime, lastSuccess sql.NullString
	var size sql.NullInt64
	var newestTS, lastError, bookKey, md5 sql.NullString

	err := row.Scan(&rec.SourcePath, &mtime, &size, &newestTS, &lastSuccess, &lastError, &bookKey, &md5)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.DbPersistFailed, sourcePath, err)
	}

	if mtime.Valid {
		if t, perr := time.Parse(time.RFC3339, mtime.String); perr == nil {
			rec.LastMtime = t
		}
	}
	rec.LastSize = size.Int64
	rec.NewestAnnotationTS = newestTS.String
	if lastSuccess.Valid {
		if t, perr := time.Parse(time.RFC3339, lastSuccess.String); perr == nil {
			rec.LastSuccessAt = &t
		}
	}
	rec.LastError = lastError.String
	rec.BookKey = bookKey.String
	rec.MD5 = md5.String
	return &rec, nil
}

// RecordImportSuccess upserts sourcePath's ImportSource row with a cleared
// error and a fresh success timestamp.
func (s *IndexStore) RecordImportSuccess(ctx context.Context, rec kohl.ImportSourceRecord, now time.Time) error {
	if s.State() == Unavailable {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_source(source_path, last_processed_mtime, last_processed_size,
			newest_annotation_ts, last_success_ts, last_error, book_key, md5)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(source_path) DO UPDATE SET
			last_processed_mtime = excluded.last_processed_mtime,
			last_processed_size  = excluded.last_processed_size,
			newest_annotation_ts = excluded.newest_annotation_ts,
			last_success_ts      = excluded.last_success_ts,
			last_error           = NULL,
			book_key             = excluded.book_key,
			md5                  = excluded.md5
	`, rec.SourcePath, rec.LastMtime.Format(time.RFC3339Nano), rec.LastSize, rec.NewestAnnotationTS,
		now.Format(time.RFC3339), rec.BookKey, rec.MD5)
	if err != nil {
		return apperr.Wrap(apperr.DbPersistFailed, rec.SourcePath, err)
	}
	s.scheduleDebouncedCheckpoint()
	return nil
}

// RecordImportFailure upserts sourcePath's ImportSource row with an error
// message, leaving prior success/processing fields untouched.
func (s *IndexStore) RecordImportFailure(ctx context.Context, sourcePath, errMsg string) error {
	if s.State() == Unavailable {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_source(source_path, last_error) VALUES (?, ?)
		ON CONFLICT(source_path) DO UPDATE SET last_error = excluded.last_error
	`, sourcePath, errMsg)
	if err != nil {
		return apperr.Wrap(apperr.DbPersistFailed, sourcePath, err)
	}
	s.scheduleDebouncedCheckpoint()
	return nil
}

// scheduleDebouncedCheckpoint coalesces bursts of writes into a single WAL
// checkpoint shortly after the last one, instead of fsync-ing on every
// call; Flush forces it immediately.
func (s *IndexStore) scheduleDebouncedCheckpoint() {
	if s.db == nil {
		return
	}
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(200*time.Millisecond, func() {
		s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
	})
}

// Flush forces any debounced checkpoint to run immediately. Callers should
// call this on shutdown.
func (s *IndexStore) Flush(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	s.debounceMu.Lock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	s.debounceMu.Unlock()

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return apperr.Wrap(apperr.DbPersistFailed, "", err)
	}
	return nil
}

// ShouldProcess implements the decision table from SPEC_FULL.md §4.8: a
// pure function over the existing record and a source's freshly observed
// stats/md5/newest-annotation-timestamp.
func ShouldProcess(existing *kohl.ImportSourceRecord, newStats kohl.Stat, newNewestTS, newMD5 string) bool {
	if existing == nil {
		return true
	}
	if existing.LastError != "" || existing.LastSuccessAt == nil {
		return true
	}
	if existing.MD5 != "" && newMD5 != "" {
		if existing.MD5 != newMD5 {
			return true
		}
		return newNewestTS > existing.NewestAnnotationTS
	}
	if !existing.LastMtime.Equal(newStats.Mtime) || existing.LastSize != newStats.Size {
		return true
	}
	return newNewestTS > existing.NewestAnnotationTS
}

// RebuildPhase reports the background rebuild's current phase.
func (s *IndexStore) RebuildPhase() RebuildPhase {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()
	if s.rebuildPhase == "" {
		return RebuildIdle
	}
	return s.rebuildPhase
}

// BookSeed is one book discovered by a rebuild scan.
type BookSeed struct {
	Key       string
	Title     string
	Authors   string
	VaultPath string
}

// BuildBookSeeds scans managedFolder for existing notes and converts each
// into a BookSeed, for replaying into StartBackgroundRebuild after Open
// fell back to an in-memory database. Notes that can't be read are
// skipped rather than aborting the scan.
func BuildBookSeeds(fs *atomicfs.AtomicFS, managedFolder string) []BookSeed {
	paths, err := fs.Walk(managedFolder, ".md", true)
	if err != nil {
		return nil
	}

	seeds := make([]BookSeed, 0, len(paths))
	for _, path := range paths {
		text, rerr := fs.ReadText(path)
		if rerr != nil {
			continue
		}
		doc := notecodec.Parse(text)
		title, _ := doc.FrontMatter[kohl.FMTitle].(string)
		authors, _ := doc.FrontMatter[kohl.FMAuthors].(string)
		meta := kohl.BookMetadata{Title: title, Authors: authors}
		seeds = append(seeds, BookSeed{
			Key:       meta.Key(),
			Title:     title,
			Authors:   authors,
			VaultPath: path,
		})
	}
	return seeds
}

// StartBackgroundRebuild streams seeds into Book/NoteInstance in chunks of
// 64, checking for cancellation before each chunk and reporting progress to
// onProgress (if non-nil) after it. Each upsert is its own statement; a
// chunk is not grouped into one transaction. It is cancelable via ctx and
// idempotent: upserts are safe to repeat on restart.
func (s *IndexStore) StartBackgroundRebuild(ctx context.Context, seeds []BookSeed, onProgress func(RebuildProgress)) {
	rctx, cancel := context.WithCancel(ctx)

	s.rebuildMu.Lock()
	if s.rebuildStop != nil {
		s.rebuildStop()
	}
	s.rebuildStop = cancel
	s.rebuildPhase = RebuildRunning
	s.rebuildMu.Unlock()

	go func() {
		total := len(seeds)
		for i := 0; i < total; i += rebuildBatchSize {
			select {
			case <-rctx.Done():
				s.setRebuildPhase(RebuildCancelled)
				return
			default:
			}

			end := i + rebuildBatchSize
			if end > total {
				end = total
			}
			for _, seed := range seeds[i:end] {
				if err := s.UpsertBook(rctx, seed.Key, seed.Title, seed.Authors); err != nil {
					s.setRebuildPhase(RebuildFailed)
					return
				}
				if err := s.UpsertNoteInstance(rctx, seed.Key, seed.VaultPath); err != nil {
					s.setRebuildPhase(RebuildFailed)
					return
				}
			}
			if onProgress != nil {
				onProgress(RebuildProgress{Current: end, Total: total})
			}
		}
		s.setRebuildPhase(RebuildComplete)
	}()
}

func (s *IndexStore) setRebuildPhase(p RebuildPhase) {
	s.rebuildMu.Lock()
	s.rebuildPhase = p
	s.rebuildMu.Unlock()
}

// CancelBackgroundRebuild stops an in-progress rebuild, if any.
func (s *IndexStore) CancelBackgroundRebuild() {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()
	if s.rebuildStop != nil {
		s.rebuildStop()
	}
}
