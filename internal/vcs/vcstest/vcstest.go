// Package vcstest provides a deterministic in-memory vcs.Provider for
// engine tests. Fixtures are declared as ref name → file map; object ids
// are content hashes so an unchanged fixture keeps a stable id across
// repeated syncs, which is what the changed-ref detection keys on.
package vcstest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/moneybenn-online/salt/internal/vcs"
)

// Provider is an in-memory vcs.Provider covering any number of remotes.
type Provider struct {
	mu      sync.Mutex
	remotes map[string]*Remote
}

// Remote is one fixture repository.
type Remote struct {
	p   *Provider
	url string

	refs  map[string]vcs.Ref
	trees map[string][]vcs.TreeEntry
	blobs map[string][]byte

	// SyncErr, when set, is returned by Sync without touching the
	// fixture — modeling an unreachable or unauthorized remote.
	SyncErr error

	syncCalls int
}

func New() *Provider {
	return &Provider{remotes: map[string]*Remote{}}
}

// Add registers a fixture remote under the given URL.
func (p *Provider) Add(url string) *Remote {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := &Remote{
		p:     p,
		url:   url,
		refs:  map[string]vcs.Ref{},
		trees: map[string][]vcs.TreeEntry{},
		blobs: map[string][]byte{},
	}
	p.remotes[url] = r
	return r
}

// SyncCalls reports how many times Sync ran for the URL.
func (p *Provider) SyncCalls(url string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.remotes[url]; ok {
		return r.syncCalls
	}
	return 0
}

// SetRef creates or replaces a ref whose tree contains the given files
// (path → content). Parent directories are derived automatically.
func (r *Remote) SetRef(name string, kind vcs.RefKind, files map[string]string) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	commit := sha256.New()
	dirs := map[string]bool{}
	var entries []vcs.TreeEntry
	for _, path := range paths {
		content := []byte(files[path])
		blobID := oid(content)
		r.blobs[blobID] = content
		entries = append(entries, vcs.TreeEntry{
			Path:     path,
			ObjectID: blobID,
			Size:     int64(len(content)),
		})
		fmt.Fprintf(commit, "%s\x00%s\x00", path, blobID)
		for dir := parentDir(path); dir != ""; dir = parentDir(dir) {
			dirs[dir] = true
		}
	}
	for dir := range dirs {
		entries = append(entries, vcs.TreeEntry{
			Path:     dir,
			IsDir:    true,
			ObjectID: oid([]byte("tree:" + dir)),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	commitID := hex.EncodeToString(commit.Sum(nil))[:40]
	r.refs[name] = vcs.Ref{Name: name, Kind: kind, ObjectID: commitID}
	r.trees[commitID] = entries
}

// DeleteRef removes a ref, leaving its tree objects in place (as git
// would until gc).
func (r *Remote) DeleteRef(name string) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	delete(r.refs, name)
}

func (p *Provider) remote(repo vcs.Repo) (*Remote, error) {
	r, ok := p.remotes[repo.URL]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vcs.ErrRemoteUnreachable, repo.URL)
	}
	return r, nil
}

// Sync implements vcs.Provider.
func (p *Provider) Sync(ctx context.Context, repo vcs.Repo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.remote(repo)
	if err != nil {
		return err
	}
	r.syncCalls++
	return r.SyncErr
}

// ListRefs implements vcs.Provider. Refs are returned sorted by name for
// deterministic discovery order.
func (p *Provider) ListRefs(ctx context.Context, repo vcs.Repo) ([]vcs.Ref, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.remote(repo)
	if err != nil {
		return nil, err
	}
	refs := make([]vcs.Ref, 0, len(r.refs))
	for _, ref := range r.refs {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// ListTree implements vcs.Provider.
func (p *Provider) ListTree(ctx context.Context, repo vcs.Repo, objectID string) ([]vcs.TreeEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.remote(repo)
	if err != nil {
		return nil, err
	}
	entries, ok := r.trees[objectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vcs.ErrRefNotFound, objectID)
	}
	return append([]vcs.TreeEntry(nil), entries...), nil
}

// ReadBlob implements vcs.Provider.
func (p *Provider) ReadBlob(ctx context.Context, repo vcs.Repo, objectID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.remote(repo)
	if err != nil {
		return nil, err
	}
	blob, ok := r.blobs[objectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vcs.ErrObjectCorrupt, objectID)
	}
	return append([]byte(nil), blob...), nil
}

func oid(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:40]
}

func parentDir(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}
