package cachestore

import (
	"path"
	"time"

	"github.com/ohler55/ojg/oj"
)

const envsCachePath = "file_lists/envs.json"

func fileListCachePath(env string) string {
	return path.Join("file_lists", env+".json")
}

// SaveEnvs persists the environment name list produced by an update, for
// cheap envs() calls that tolerate a cached answer.
func (st *Store) SaveEnvs(envs []string) error {
	doc := map[string]any{
		"envs":  envs,
		"mtime": time.Now().Unix(),
	}
	return st.writeAtomic(envsCachePath, []byte(oj.JSON(doc)))
}

// LoadEnvs returns the cached environment list, or ok=false when no cache
// exists or it cannot be parsed. A bad cache file is simply ignored; the
// next update rewrites it.
func (st *Store) LoadEnvs() ([]string, bool) {
	doc, ok := st.loadListDoc(envsCachePath)
	if !ok {
		return nil, false
	}
	envs, ok := stringsField(doc, "envs")
	if !ok {
		return nil, false
	}
	return envs, true
}

// InvalidateEnvs drops the cached environment list.
func (st *Store) InvalidateEnvs() {
	_ = st.fs.Remove(envsCachePath)
}

// SaveFileList persists one environment's file and directory lists as seen
// by the facade (mountpoint applied), rewritten after each update.
func (st *Store) SaveFileList(env string, files, dirs []string) error {
	doc := map[string]any{
		"files": files,
		"dirs":  dirs,
		"mtime": time.Now().Unix(),
	}
	return st.writeAtomic(fileListCachePath(env), []byte(oj.JSON(doc)))
}

// LoadFileList returns an environment's cached lists, or ok=false when
// absent or unreadable. Environment names that are not valid cache path
// segments never hit the filesystem.
func (st *Store) LoadFileList(env string) (files, dirs []string, ok bool) {
	if !ValidEnvName(env) {
		return nil, nil, false
	}
	doc, ok := st.loadListDoc(fileListCachePath(env))
	if !ok {
		return nil, nil, false
	}
	files, ok = stringsField(doc, "files")
	if !ok {
		return nil, nil, false
	}
	dirs, ok = stringsField(doc, "dirs")
	if !ok {
		return nil, nil, false
	}
	return files, dirs, true
}

func (st *Store) loadListDoc(name string) (map[string]any, bool) {
	data, err := st.readFile(name)
	if err != nil {
		return nil, false
	}
	v, err := oj.Parse(data)
	if err != nil {
		st.log.Warn("ignoring unreadable list cache", "path", path.Join(st.dir, name), "error", err)
		return nil, false
	}
	doc, ok := v.(map[string]any)
	return doc, ok
}

func stringsField(doc map[string]any, key string) ([]string, bool) {
	raw, ok := doc[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
