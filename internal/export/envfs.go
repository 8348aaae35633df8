// Package export presents one environment of the fileserver engine as a
// read-only billy.Filesystem, suitable for serving over NFS with
// willscott/go-nfs.
package export

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"

	"github.com/moneybenn-online/salt/internal/fileserver"
)

var errReadOnly = fmt.Errorf("read-only filesystem")

// EnvFS adapts a fileserver environment to billy.Filesystem. Directory
// listings come from the in-memory snapshots; opening a file materializes
// it through the engine's cache.
type EnvFS struct {
	srv       *fileserver.Fileserver
	env       string
	mountTime time.Time
}

// NewEnvFS exports env from srv.
func NewEnvFS(srv *fileserver.Fileserver, env string) *EnvFS {
	return &EnvFS{srv: srv, env: env, mountTime: time.Now()}
}

// --- billy.Basic ---

func (fs *EnvFS) Create(filename string) (billy.File, error) {
	return nil, errReadOnly
}

func (fs *EnvFS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *EnvFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, errReadOnly
	}
	rel := cleanPath(filename)
	fnd, err := fs.srv.FindFile(context.Background(), rel, fs.env)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: filename, Err: err}
	}
	if fnd == nil {
		if e, ok := fs.srv.Stat(rel, fs.env); ok && e.IsDir {
			return nil, &os.PathError{Op: "open", Path: filename, Err: fmt.Errorf("is a directory")}
		}
		return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrNotExist}
	}
	return &envFile{srv: fs.srv, fnd: fnd}, nil
}

func (fs *EnvFS) Stat(filename string) (os.FileInfo, error) {
	return fs.Lstat(filename)
}

func (fs *EnvFS) Rename(oldpath, newpath string) error { return errReadOnly }
func (fs *EnvFS) Remove(filename string) error         { return errReadOnly }

func (fs *EnvFS) Join(elem ...string) string {
	return path.Join(elem...)
}

// --- billy.TempFile ---

func (fs *EnvFS) TempFile(dir, prefix string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

// --- billy.Dir ---

func (fs *EnvFS) ReadDir(p string) ([]os.FileInfo, error) {
	rel := cleanPath(p)
	if rel != "" {
		if e, ok := fs.srv.Stat(rel, fs.env); !ok || !e.IsDir {
			return nil, &os.PathError{Op: "readdir", Path: p, Err: os.ErrNotExist}
		}
	}

	var infos []os.FileInfo
	for _, d := range fs.srv.DirList(fs.env) {
		if child, ok := childOf(rel, d); ok {
			infos = append(infos, &staticFileInfo{
				name:    child,
				mode:    os.ModeDir | 0o555,
				modTime: fs.mountTime,
			})
		}
	}
	for _, f := range fs.srv.FileList(fs.env) {
		child, ok := childOf(rel, f)
		if !ok {
			continue
		}
		var size int64
		if e, ok := fs.srv.Stat(f, fs.env); ok {
			size = e.Size
		}
		infos = append(infos, &staticFileInfo{
			name:    child,
			size:    size,
			mode:    0o444,
			modTime: fs.mountTime,
		})
	}
	return infos, nil
}

func (fs *EnvFS) MkdirAll(filename string, perm os.FileMode) error {
	return errReadOnly
}

// --- billy.Symlink ---

func (fs *EnvFS) Lstat(filename string) (os.FileInfo, error) {
	rel := cleanPath(filename)
	if rel == "" {
		return &staticFileInfo{name: "/", mode: os.ModeDir | 0o555, modTime: fs.mountTime}, nil
	}
	e, ok := fs.srv.Stat(rel, fs.env)
	if !ok {
		return nil, &os.PathError{Op: "lstat", Path: filename, Err: os.ErrNotExist}
	}
	mode := os.FileMode(0o444)
	if e.IsDir {
		mode = os.ModeDir | 0o555
	}
	return &staticFileInfo{
		name:    path.Base(rel),
		size:    e.Size,
		mode:    mode,
		modTime: fs.mountTime,
	}, nil
}

func (fs *EnvFS) Symlink(target, link string) error {
	return billy.ErrNotSupported
}

func (fs *EnvFS) Readlink(link string) (string, error) {
	return "", billy.ErrNotSupported
}

// --- billy.Chroot ---

func (fs *EnvFS) Chroot(p string) (billy.Filesystem, error) {
	return chroot.New(fs, p), nil
}

func (fs *EnvFS) Root() string {
	return "/"
}

// --- billy.Capable ---

func (fs *EnvFS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

// cleanPath normalizes a billy path to the engine's root-relative form.
func cleanPath(p string) string {
	p = path.Clean("/" + p)
	if p == "/" {
		return ""
	}
	return p[1:]
}

// childOf reports whether p is a direct child of dir, and its base name.
func childOf(dir, p string) (string, bool) {
	if dir == "" {
		if !strings.Contains(p, "/") {
			return p, true
		}
		return "", false
	}
	prefix := dir + "/"
	if !strings.HasPrefix(p, prefix) {
		return "", false
	}
	rest := p[len(prefix):]
	if strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// staticFileInfo implements os.FileInfo with static values.
type staticFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *staticFileInfo) Name() string       { return fi.name }
func (fi *staticFileInfo) Size() int64        { return fi.size }
func (fi *staticFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *staticFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *staticFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *staticFileInfo) Sys() interface{}   { return nil }

var (
	_ billy.Filesystem = (*EnvFS)(nil)
	_ billy.Capable    = (*EnvFS)(nil)
)
