package export

import (
	"context"
	"io"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneybenn-online/salt/internal/config"
	"github.com/moneybenn-online/salt/internal/fileserver"
	"github.com/moneybenn-online/salt/internal/vcs"
	"github.com/moneybenn-online/salt/internal/vcs/vcstest"
)

func newTestFS(t *testing.T) *EnvFS {
	t.Helper()
	cfg := config.New()
	cfg.CacheDir = t.TempDir()
	cfg.Remotes = []*config.Remote{{URL: "https://example.com/repo.git"}}
	require.NoError(t, cfg.Finalize())

	provider := vcstest.New()
	provider.Add("https://example.com/repo.git").SetRef("master", vcs.KindBranch, map[string]string{
		"testfile":    "Scene 24\n",
		"dir1/nested": "deep\n",
	})

	srv, err := fileserver.New(cfg, provider, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	require.NoError(t, srv.Update(context.Background(), false))

	return NewEnvFS(srv, "base")
}

func TestLstat(t *testing.T) {
	fs := newTestFS(t)

	info, err := fs.Lstat("/")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	info, err = fs.Lstat("/testfile")
	require.NoError(t, err)
	assert.False(t, info.IsDir())
	assert.Equal(t, "testfile", info.Name())
	assert.Equal(t, int64(9), info.Size())

	info, err = fs.Lstat("/dir1")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = fs.Lstat("/nosuch")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadDir(t *testing.T) {
	fs := newTestFS(t)

	infos, err := fs.ReadDir("/")
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"dir1", "testfile"}, names)

	infos, err = fs.ReadDir("/dir1")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "nested", infos[0].Name())

	_, err = fs.ReadDir("/nosuch")
	assert.Error(t, err)
}

func TestOpenAndRead(t *testing.T) {
	fs := newTestFS(t)

	f, err := fs.Open("/dir1/nested")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "deep\n", string(data))

	_, err = fs.Open("/dir1")
	assert.Error(t, err)
	_, err = fs.Open("/nosuch")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadAt(t *testing.T) {
	fs := newTestFS(t)

	f, err := fs.Open("/testfile")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	buf := make([]byte, 4)
	n, err := f.ReadAt(buf, 6)
	require.True(t, err == nil || err == io.EOF)
	assert.Equal(t, "24\n", string(buf[:n]))
}

func TestReadOnly(t *testing.T) {
	fs := newTestFS(t)

	_, err := fs.Create("/newfile")
	assert.Error(t, err)
	assert.Error(t, fs.Remove("/testfile"))
	assert.Error(t, fs.Rename("/testfile", "/other"))
	assert.Error(t, fs.MkdirAll("/newdir", 0o755))
	_, err = fs.OpenFile("/testfile", os.O_WRONLY, 0)
	assert.Error(t, err)
}
