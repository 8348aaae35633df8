package cachestore

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"
)

// blobCacheSize bounds the in-memory blob cache used by range reads.
const blobCacheSize = 256

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	ref TEXT PRIMARY KEY,
	object_id TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	ref TEXT NOT NULL,
	path TEXT NOT NULL,
	is_dir INTEGER NOT NULL,
	object_id TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (ref, path)
) WITHOUT ROWID;
`

// Store owns the on-disk cache directory: one SQLite tree database per
// remote id, the materialized file tree under refs/, and object-id markers
// under hash/. Only the update coordinator writes; everything else reads.
type Store struct {
	dir string
	fs  billy.Filesystem // rooted at dir; blob materialization goes through it
	log *slog.Logger

	mu    sync.RWMutex
	snaps map[string]*Snapshot // remoteID + "\x00" + ref

	dbMu sync.Mutex
	dbs  map[string]*sql.DB // per remote id

	blobs *lru.Cache[string, []byte]
}

// New opens a store over the given cache directory. bfs must be rooted at
// dir; tests pass an osfs over a temp dir.
func New(dir string, bfs billy.Filesystem, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	blobs, err := lru.New[string, []byte](blobCacheSize)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		dir:   dir,
		fs:    bfs,
		log:   log,
		snaps: map[string]*Snapshot{},
		dbs:   map[string]*sql.DB{},
		blobs: blobs,
	}, nil
}

// Dir returns the cache directory root.
func (st *Store) Dir() string {
	return st.dir
}

func snapKey(remoteID, ref string) string {
	return remoteID + "\x00" + ref
}

func (st *Store) dbPath(remoteID string) string {
	return filepath.Join(st.dir, remoteID, "tree.db")
}

// db returns the per-remote tree database, opening and initializing it on
// first use. A database that cannot be opened or probed is discarded and
// recreated: corrupt cache state means "absent", never a fatal error.
func (st *Store) db(remoteID string) (*sql.DB, error) {
	st.dbMu.Lock()
	defer st.dbMu.Unlock()
	if db, ok := st.dbs[remoteID]; ok {
		return db, nil
	}
	path := st.dbPath(remoteID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create remote cache dir: %w", err)
	}
	db, err := st.openDB(path)
	if err != nil {
		st.log.Warn("discarding unreadable tree cache", "remote_id", remoteID, "error", err)
		_ = os.Remove(path)
		_ = os.Remove(path + "-wal")
		_ = os.Remove(path + "-shm")
		if db, err = st.openDB(path); err != nil {
			return nil, err
		}
	}
	st.dbs[remoteID] = db
	return db, nil
}

func (st *Store) openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open tree cache: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("tree cache pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tree cache schema: %w", err)
	}
	// Probe: a corrupt file can open fine and fail on first query.
	var n int
	if err := db.QueryRow("SELECT count(*) FROM snapshots").Scan(&n); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tree cache probe: %w", err)
	}
	return db, nil
}

// LoadRemote loads all persisted snapshots of a remote into memory.
// Unreadable rows are skipped; a fully unreadable database was already
// recreated by db().
func (st *Store) LoadRemote(remoteID string) error {
	db, err := st.db(remoteID)
	if err != nil {
		return err
	}
	rows, err := db.Query("SELECT ref, object_id, updated_at FROM snapshots")
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	type head struct {
		ref, objectID string
		updatedAt     int64
	}
	var heads []head
	for rows.Next() {
		var h head
		if err := rows.Scan(&h.ref, &h.objectID, &h.updatedAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("load snapshots: %w", err)
		}
		heads = append(heads, h)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("load snapshots: %w", err)
	}
	_ = rows.Close()

	for _, h := range heads {
		snap, err := st.loadSnapshot(db, remoteID, h.ref, h.objectID, h.updatedAt)
		if err != nil {
			st.log.Warn("skipping unreadable snapshot", "remote_id", remoteID, "ref", h.ref, "error", err)
			continue
		}
		st.mu.Lock()
		st.snaps[snapKey(remoteID, h.ref)] = snap
		st.mu.Unlock()
	}
	return nil
}

func (st *Store) loadSnapshot(db *sql.DB, remoteID, ref, objectID string, updatedAt int64) (*Snapshot, error) {
	rows, err := db.Query("SELECT path, is_dir, object_id, size FROM entries WHERE ref = ?", ref)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	snap := &Snapshot{
		RemoteID:  remoteID,
		Ref:       ref,
		ObjectID:  objectID,
		UpdatedAt: time.Unix(updatedAt, 0),
		entries:   map[string]Entry{},
	}
	for rows.Next() {
		var e Entry
		var isDir int
		if err := rows.Scan(&e.Path, &isDir, &e.ObjectID, &e.Size); err != nil {
			return nil, err
		}
		e.IsDir = isDir != 0
		snap.insert(e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	snap.seal()
	return snap, nil
}

// Get returns the current snapshot for (remote, ref), or nil when absent.
// Never blocks on an in-progress refresh; an older snapshot keeps serving
// until Replace swaps in the new one.
func (st *Store) Get(remoteID, ref string) *Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snaps[snapKey(remoteID, ref)]
}

// Replace persists a snapshot in one transaction and then swaps the
// in-memory copy. Concurrent readers see the previous snapshot until the
// swap; a failed transaction leaves both the database and memory
// untouched.
func (st *Store) Replace(snap *Snapshot) error {
	db, err := st.db(snap.RemoteID)
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM entries WHERE ref = ?", snap.Ref); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	stmt, err := tx.Prepare("INSERT INTO entries (ref, path, is_dir, object_id, size) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, e := range snap.entries {
		isDir := 0
		if e.IsDir {
			isDir = 1
		}
		if _, err := stmt.Exec(snap.Ref, e.Path, isDir, e.ObjectID, e.Size); err != nil {
			return fmt.Errorf("replace snapshot: %w", err)
		}
	}
	if _, err := tx.Exec(
		"INSERT INTO snapshots (ref, object_id, updated_at) VALUES (?, ?, ?) "+
			"ON CONFLICT(ref) DO UPDATE SET object_id = excluded.object_id, updated_at = excluded.updated_at",
		snap.Ref, snap.ObjectID, snap.UpdatedAt.Unix()); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	st.mu.Lock()
	st.snaps[snapKey(snap.RemoteID, snap.Ref)] = snap
	st.mu.Unlock()
	return nil
}

// Prune drops snapshots of a remote whose ref is not in keep, both on disk
// and in memory. Called after a refresh when refs disappeared upstream.
func (st *Store) Prune(remoteID string, keep map[string]bool) error {
	db, err := st.db(remoteID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	var drop []string
	for key, snap := range st.snaps {
		if snap.RemoteID != remoteID {
			continue
		}
		if !keep[snap.Ref] {
			drop = append(drop, key)
		}
	}
	for _, key := range drop {
		delete(st.snaps, key)
	}
	st.mu.Unlock()

	rows, err := db.Query("SELECT ref FROM snapshots")
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	var stale []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			_ = rows.Close()
			return fmt.Errorf("prune: %w", err)
		}
		if !keep[ref] {
			stale = append(stale, ref)
		}
	}
	_ = rows.Close()
	for _, ref := range stale {
		if _, err := db.Exec("DELETE FROM entries WHERE ref = ?", ref); err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		if _, err := db.Exec("DELETE FROM snapshots WHERE ref = ?", ref); err != nil {
			return fmt.Errorf("prune: %w", err)
		}
	}
	return nil
}

// Close releases the per-remote databases.
func (st *Store) Close() error {
	st.dbMu.Lock()
	defer st.dbMu.Unlock()
	var first error
	for id, db := range st.dbs {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
		delete(st.dbs, id)
	}
	return first
}
