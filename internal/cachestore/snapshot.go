// Package cachestore persists per-remote, per-ref tree snapshots and the
// materialized file cache. Snapshots live in one SQLite database per remote
// and are mirrored in memory behind a RWMutex; a refresh replaces a ref's
// snapshot in a single transaction and then swaps the in-memory copy, so
// readers observe wholly old or wholly new data, never a mix.
package cachestore

import (
	"sort"
	"strings"
	"time"

	"github.com/moneybenn-online/salt/internal/vcs"
)

// Entry is one tree entry of a snapshot. Paths are slash-separated,
// relative to the ref's tree root (before root filtering).
type Entry struct {
	Path     string
	IsDir    bool
	ObjectID string
	Size     int64
}

// Snapshot is the immutable tree listing of one ref, captured at a
// specific object id.
type Snapshot struct {
	RemoteID  string
	Ref       string
	ObjectID  string
	UpdatedAt time.Time

	entries map[string]Entry
	files   []string // sorted file paths
	dirs    []string // sorted directory paths
}

// NewSnapshot builds a snapshot from a provider tree listing.
func NewSnapshot(remoteID, ref, objectID string, tree []vcs.TreeEntry) *Snapshot {
	s := &Snapshot{
		RemoteID:  remoteID,
		Ref:       ref,
		ObjectID:  objectID,
		UpdatedAt: time.Now(),
		entries:   make(map[string]Entry, len(tree)),
	}
	for _, te := range tree {
		s.insert(Entry{Path: te.Path, IsDir: te.IsDir, ObjectID: te.ObjectID, Size: te.Size})
	}
	s.seal()
	return s
}

func (s *Snapshot) insert(e Entry) {
	s.entries[e.Path] = e
}

// seal sorts the per-kind path indexes. Called once after population.
func (s *Snapshot) seal() {
	s.files = s.files[:0]
	s.dirs = s.dirs[:0]
	for p, e := range s.entries {
		if e.IsDir {
			s.dirs = append(s.dirs, p)
		} else {
			s.files = append(s.files, p)
		}
	}
	sort.Strings(s.files)
	sort.Strings(s.dirs)
}

// visible reports whether path falls under root, and its root-relative
// form. An empty root exposes everything.
func visible(root, path string) (string, bool) {
	if root == "" {
		return path, true
	}
	prefix := root + "/"
	if strings.HasPrefix(path, prefix) {
		return path[len(prefix):], true
	}
	return "", false
}

// FileList returns the sorted root-relative paths of all files under root.
func (s *Snapshot) FileList(root string) []string {
	return filterPaths(s.files, root)
}

// DirList returns the sorted root-relative paths of all directories under
// root.
func (s *Snapshot) DirList(root string) []string {
	return filterPaths(s.dirs, root)
}

func filterPaths(paths []string, root string) []string {
	out := []string{}
	for _, p := range paths {
		if rel, ok := visible(root, p); ok {
			out = append(out, rel)
		}
	}
	return out
}

// Find looks up a root-relative path. Absence is a normal result.
func (s *Snapshot) Find(root, rel string) (Entry, bool) {
	full := rel
	if root != "" {
		full = root + "/" + rel
	}
	e, ok := s.entries[full]
	return e, ok
}

// Len reports the number of entries; used by tests and log lines.
func (s *Snapshot) Len() int {
	return len(s.entries)
}
