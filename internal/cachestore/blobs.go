package cachestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/moneybenn-online/salt/internal/vcs"
)

// ValidEnvName reports whether an environment name is usable as a cache
// path segment. Branch-style names with slashes are allowed; anything
// that would resolve outside the refs/<env> namespace is not.
func ValidEnvName(env string) bool {
	if env == "" || strings.HasPrefix(env, "/") {
		return false
	}
	clean := path.Clean(env)
	if clean != env || clean == "." || clean == ".." {
		return false
	}
	return !strings.HasPrefix(clean, "../")
}

// Materialize ensures the blob behind an entry exists as a plain file
// under refs/<env>/<path> and returns its absolute path. A marker file
// under hash/ records which object id was written, so an unchanged blob is
// never rewritten. The write itself is temp-then-rename: a crashed write
// leaves either the old file or a stray temp file, never a torn one.
//
// env is the environment name as requested by the client — for a fallback
// resolution the materialized path deliberately lives under the requested
// name, not the fallback's.
func (st *Store) Materialize(ctx context.Context, p vcs.Provider, repo vcs.Repo, env, rel string, e Entry) (string, error) {
	if !ValidEnvName(env) {
		return "", fmt.Errorf("invalid environment name %q", env)
	}
	target := path.Join("refs", env, rel)
	marker := path.Join("hash", env, rel+".oid")

	if prev, err := st.readFile(marker); err == nil && string(prev) == e.ObjectID {
		if _, err := st.fs.Stat(target); err == nil {
			return st.abs(target), nil
		}
	}

	blob, err := st.readBlob(ctx, p, repo, e.ObjectID)
	if err != nil {
		return "", err
	}
	if err := st.writeAtomic(target, blob); err != nil {
		return "", err
	}
	if err := st.writeAtomic(marker, []byte(e.ObjectID)); err != nil {
		return "", err
	}
	return st.abs(target), nil
}

// readBlob reads a blob through the bounded in-memory cache.
func (st *Store) readBlob(ctx context.Context, p vcs.Provider, repo vcs.Repo, objectID string) ([]byte, error) {
	if blob, ok := st.blobs.Get(objectID); ok {
		return blob, nil
	}
	blob, err := p.ReadBlob(ctx, repo, objectID)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", objectID, err)
	}
	st.blobs.Add(objectID, blob)
	return blob, nil
}

// ReadRange serves up to limit bytes of a materialized file starting at
// loc, preferring the blob cache over the file.
func (st *Store) ReadRange(objectID, absPath string, loc int64, limit int) ([]byte, error) {
	if blob, ok := st.blobs.Get(objectID); ok {
		if loc >= int64(len(blob)) {
			return nil, nil
		}
		end := loc + int64(limit)
		if end > int64(len(blob)) {
			end = int64(len(blob))
		}
		out := make([]byte, end-loc)
		copy(out, blob[loc:end])
		return out, nil
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open cached file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Seek(loc, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek cached file: %w", err)
	}
	buf := make([]byte, limit)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("read cached file: %w", err)
	}
	return buf[:n], nil
}

func (st *Store) abs(rel string) string {
	return filepath.Join(st.dir, filepath.FromSlash(rel))
}

func (st *Store) readFile(name string) ([]byte, error) {
	f, err := st.fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// writeAtomic writes name via a temp file in the same directory plus a
// rename.
func (st *Store) writeAtomic(name string, data []byte) error {
	dir := path.Dir(name)
	if err := st.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := st.fs.TempFile(dir, ".gitfs-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = st.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = st.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := st.fs.Rename(tmpName, name); err != nil {
		_ = st.fs.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
