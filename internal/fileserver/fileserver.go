// Package fileserver composes the gitfs engine into the operation surface
// the surrounding service consumes: update, envs, file_list, dir_list,
// find_file, and serve_file.
package fileserver

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5/osfs"
	"golang.org/x/sync/errgroup"

	"github.com/moneybenn-online/salt/internal/cachestore"
	"github.com/moneybenn-online/salt/internal/config"
	"github.com/moneybenn-online/salt/internal/coordinator"
	"github.com/moneybenn-online/salt/internal/envmap"
	"github.com/moneybenn-online/salt/internal/vcs"
)

// Found describes a located file: the environment-relative path and the
// absolute, readable path of the materialized cache file.
type Found struct {
	Rel      string
	Path     string
	ObjectID string
	Size     int64
}

// Fileserver is one engine instance over a configuration's remotes.
type Fileserver struct {
	cfg      *config.Config
	provider vcs.Provider
	store    *cachestore.Store
	coord    *coordinator.Coordinator
	resolver *envmap.Resolver
	log      *slog.Logger

	mapMu sync.RWMutex
	envs  *envmap.Map
}

// New builds an engine instance. Persisted snapshots are loaded eagerly so
// reads work from the last-good cache before any update runs.
func New(cfg *config.Config, provider vcs.Provider, log *slog.Logger) (*Fileserver, error) {
	if log == nil {
		log = slog.Default()
	}
	cacheDir := filepath.Join(cfg.CacheDir, "gitfs")
	store, err := cachestore.New(cacheDir, osfs.New(cacheDir), log)
	if err != nil {
		return nil, err
	}
	f := &Fileserver{
		cfg:      cfg,
		provider: provider,
		store:    store,
		coord:    coordinator.New(cfg, provider, store, log),
		resolver: envmap.NewResolver(cfg),
		log:      log,
	}
	for _, rem := range cfg.Remotes {
		if err := store.LoadRemote(rem.ID); err != nil {
			log.Warn("cache load failed, starting empty", "remote", rem.URL, "error", err)
		}
	}
	f.envs = envmap.Build(cfg, f.resolver, f.coord.Candidates())
	return f, nil
}

// Close releases the cache store.
func (f *Fileserver) Close() error {
	return f.store.Close()
}

// Store exposes the cache store to the export layer.
func (f *Fileserver) Store() *cachestore.Store {
	return f.store
}

// Update refreshes every remote. Remotes refresh independently: a failure
// in one neither blocks nor fails the others, and all remote-scoped errors
// come back joined.
func (f *Fileserver) Update(ctx context.Context, force bool) error {
	var (
		errMu sync.Mutex
		errs  []error
	)
	var g errgroup.Group
	for _, rem := range f.cfg.Remotes {
		rem := rem
		g.Go(func() error {
			if err := f.coord.Update(ctx, rem, force); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	f.rebuildMap()
	return errors.Join(errs...)
}

// rebuildMap swaps in a freshly built environment map and rewrites the
// persisted envs and per-environment list caches.
func (f *Fileserver) rebuildMap() {
	m := envmap.Build(f.cfg, f.resolver, f.coord.Candidates())
	f.mapMu.Lock()
	f.envs = m
	f.mapMu.Unlock()
	if err := f.store.SaveEnvs(m.Names()); err != nil {
		f.log.Warn("envs cache write failed", "error", err)
	}
	for _, env := range m.Names() {
		if err := f.store.SaveFileList(env, f.FileList(env), f.DirList(env)); err != nil {
			f.log.Warn("file list cache write failed", "env", env, "error", err)
		}
	}
}

func (f *Fileserver) currentMap() *envmap.Map {
	f.mapMu.RLock()
	defer f.mapMu.RUnlock()
	return f.envs
}

// Envs returns the exposed environment names. With ignoreCache false the
// persisted list from the last update may answer; with true the current
// environment map is consulted directly.
func (f *Fileserver) Envs(ignoreCache bool) []string {
	if !ignoreCache {
		if cached, ok := f.store.LoadEnvs(); ok {
			return cached
		}
	}
	return f.currentMap().Names()
}

// resolve maps a requested environment name to its binding, substituting
// the configured fallback for undefined names. Names that could escape
// the cache namespace are rejected before fallback substitution, since
// the requested name becomes a materialization path segment.
func (f *Fileserver) resolve(env string) (envmap.Binding, bool) {
	if !cachestore.ValidEnvName(env) {
		return envmap.Binding{}, false
	}
	b, ok, usedFallback := f.currentMap().Resolve(env, f.cfg.Fallback)
	if usedFallback {
		f.log.Debug("serving fallback environment", "requested", env, "fallback", f.cfg.Fallback)
	}
	return b, ok
}

// FileList returns all file paths of an environment, mountpoint applied.
// When the live environment map cannot answer, the list persisted by the
// last update serves instead. An environment unknown to both yields an
// empty list.
func (f *Fileserver) FileList(env string) []string {
	if paths, ok := f.list(env, (*cachestore.Snapshot).FileList); ok {
		return paths
	}
	if files, _, ok := f.store.LoadFileList(env); ok {
		return files
	}
	return []string{}
}

// DirList is FileList for directories.
func (f *Fileserver) DirList(env string) []string {
	if paths, ok := f.list(env, (*cachestore.Snapshot).DirList); ok {
		return paths
	}
	if _, dirs, ok := f.store.LoadFileList(env); ok {
		return dirs
	}
	return []string{}
}

func (f *Fileserver) list(env string, fn func(*cachestore.Snapshot, string) []string) ([]string, bool) {
	b, ok := f.resolve(env)
	if !ok {
		return nil, false
	}
	snap := f.store.Get(b.Remote.ID, b.Ref)
	if snap == nil {
		return nil, false
	}
	paths := fn(snap, b.Root)
	if b.Mountpoint == "" {
		return paths, true
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, path.Join(b.Mountpoint, p))
	}
	return out, true
}

// lookup resolves a requested path within an environment down to its
// snapshot entry, applying mountpoint stripping and traversal rejection.
// rel is the path relative to the environment root.
func (f *Fileserver) lookup(p, env string) (envmap.Binding, cachestore.Entry, string, bool) {
	rel, ok := sanitizePath(p)
	if !ok {
		return envmap.Binding{}, cachestore.Entry{}, "", false
	}
	b, ok := f.resolve(env)
	if !ok {
		return envmap.Binding{}, cachestore.Entry{}, "", false
	}
	if b.Mountpoint != "" {
		if !strings.HasPrefix(rel, b.Mountpoint+"/") {
			return envmap.Binding{}, cachestore.Entry{}, "", false
		}
		rel = strings.TrimPrefix(rel, b.Mountpoint+"/")
	}
	snap := f.store.Get(b.Remote.ID, b.Ref)
	if snap == nil {
		return envmap.Binding{}, cachestore.Entry{}, "", false
	}
	entry, ok := snap.Find(b.Root, rel)
	if !ok {
		return envmap.Binding{}, cachestore.Entry{}, "", false
	}
	return b, entry, rel, true
}

// Stat reports the snapshot entry behind a path without materializing it.
func (f *Fileserver) Stat(p, env string) (cachestore.Entry, bool) {
	_, entry, _, ok := f.lookup(p, env)
	return entry, ok
}

// FindFile locates a file in an environment and materializes it into the
// cache, returning nil when the path is absent, is a directory, or
// escapes the environment root. Absence is a result, not an error.
func (f *Fileserver) FindFile(ctx context.Context, p, env string) (*Found, error) {
	b, entry, rel, ok := f.lookup(p, env)
	if !ok || entry.IsDir {
		return nil, nil
	}
	// Materialize under the *requested* env name: fallback resolutions
	// serve their files from the requested environment's cache path.
	abs, err := f.store.Materialize(ctx, f.provider, f.coord.Repo(b.Remote), env, rel, entry)
	if err != nil {
		return nil, err
	}
	return &Found{Rel: rel, Path: abs, ObjectID: entry.ObjectID, Size: entry.Size}, nil
}

// ServeFile reads one chunk of a previously found file starting at loc.
func (f *Fileserver) ServeFile(fnd *Found, loc int64) ([]byte, error) {
	return f.store.ReadRange(fnd.ObjectID, fnd.Path, loc, f.cfg.FileBufferSize)
}

// sanitizePath normalizes a requested path and rejects anything that
// would resolve outside the environment root.
func sanitizePath(p string) (string, bool) {
	p = strings.TrimPrefix(p, "/")
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}
