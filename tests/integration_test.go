package tests

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneybenn-online/salt/internal/config"
	"github.com/moneybenn-online/salt/internal/fileserver"
	"github.com/moneybenn-online/salt/internal/vcs"
	"github.com/moneybenn-online/salt/internal/vcs/vcstest"
)

// testFixture bundles the shared state for integration tests: a YAML
// configuration parsed through the real loader, an in-memory provider
// with two fixture remotes, and an engine instance over both.
type testFixture struct {
	cfg      *config.Config
	provider *vcstest.Provider
	first    *vcstest.Remote
	second   *vcstest.Remote
	srv      *fileserver.Fileserver
}

const testConfig = `
cachedir: %s
gitfs_fallback: base
gitfs_remotes:
  - https://example.com/states.git
  - https://example.com/formulas.git:
    - mountpoint: salt://formulas
    - root: srv
`

func setup(t *testing.T) *testFixture {
	t.Helper()

	cacheDir := t.TempDir()
	cfg, err := config.Load([]byte(fmt.Sprintf(testConfig, cacheDir)))
	require.NoError(t, err)

	provider := vcstest.New()
	first := provider.Add("https://example.com/states.git")
	first.SetRef("master", vcs.KindBranch, map[string]string{
		"top.sls":       "base:\n  '*':\n    - core\n",
		"core/init.sls": "core config\n",
		"testfile":      "Scene 24\n",
	})
	first.SetRef("dev", vcs.KindBranch, map[string]string{
		"top.sls": "dev top\n",
	})

	second := provider.Add("https://example.com/formulas.git")
	second.SetRef("master", vcs.KindBranch, map[string]string{
		"srv/nginx/init.sls": "nginx formula\n",
		"outside-root.txt":   "hidden\n",
	})

	srv, err := fileserver.New(cfg, provider, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	require.NoError(t, srv.Update(context.Background(), false))

	return &testFixture{
		cfg:      cfg,
		provider: provider,
		first:    first,
		second:   second,
		srv:      srv,
	}
}

func readAll(t *testing.T, srv *fileserver.Fileserver, fnd *fileserver.Found) string {
	t.Helper()
	var out []byte
	var loc int64
	for loc < fnd.Size {
		chunk, err := srv.ServeFile(fnd, loc)
		require.NoError(t, err)
		require.NotEmpty(t, chunk)
		out = append(out, chunk...)
		loc += int64(len(chunk))
	}
	return string(out)
}

func TestEndToEndRoundTrip(t *testing.T) {
	fx := setup(t)

	assert.Equal(t, []string{"base", "dev"}, fx.srv.Envs(true))

	files := fx.srv.FileList("base")
	assert.Contains(t, files, "top.sls")
	assert.Contains(t, files, "core/init.sls")
	// The second remote serves under its mountpoint, filtered to its root.
	assert.Contains(t, files, "formulas/nginx/init.sls")
	assert.NotContains(t, files, "outside-root.txt")
	assert.NotContains(t, files, "formulas/outside-root.txt")

	fnd, err := fx.srv.FindFile(context.Background(), "formulas/nginx/init.sls", "base")
	require.NoError(t, err)
	require.NotNil(t, fnd)
	assert.Equal(t, "nginx formula\n", readAll(t, fx.srv, fnd))

	fnd, err = fx.srv.FindFile(context.Background(), "top.sls", "dev")
	require.NoError(t, err)
	require.NotNil(t, fnd)
	assert.Equal(t, "dev top\n", readAll(t, fx.srv, fnd))
}

func TestFindAndServeFileFallback(t *testing.T) {
	fx := setup(t)

	fnd, err := fx.srv.FindFile(context.Background(), "testfile", "notexisting")
	require.NoError(t, err)
	require.NotNil(t, fnd)
	assert.Equal(t, "Scene 24\n", readAll(t, fx.srv, fnd))

	// The materialized copy lives under the requested environment name.
	expected := filepath.Join(fx.cfg.CacheDir, "gitfs", "refs", "notexisting", "testfile")
	assert.Equal(t, expected, fnd.Path)
	_, err = os.Stat(expected)
	require.NoError(t, err)
}

func TestRefDeletionPropagates(t *testing.T) {
	fx := setup(t)
	require.Contains(t, fx.srv.Envs(true), "dev")

	fx.first.DeleteRef("dev")
	require.NoError(t, fx.srv.Update(context.Background(), true))

	assert.NotContains(t, fx.srv.Envs(true), "dev")
	assert.Empty(t, fx.srv.FileList("dev"))

	// dev falls back to base for find_file now.
	fnd, err := fx.srv.FindFile(context.Background(), "testfile", "dev")
	require.NoError(t, err)
	require.NotNil(t, fnd)
	assert.Equal(t, "Scene 24\n", readAll(t, fx.srv, fnd))
}

func TestContentChangePropagates(t *testing.T) {
	fx := setup(t)

	fnd, err := fx.srv.FindFile(context.Background(), "testfile", "base")
	require.NoError(t, err)
	require.NotNil(t, fnd)
	require.Equal(t, "Scene 24\n", readAll(t, fx.srv, fnd))

	fx.first.SetRef("master", vcs.KindBranch, map[string]string{
		"testfile": "What... is the airspeed velocity of an unladen swallow?\n",
	})
	require.NoError(t, fx.srv.Update(context.Background(), true))

	fnd, err = fx.srv.FindFile(context.Background(), "testfile", "base")
	require.NoError(t, err)
	require.NotNil(t, fnd)
	assert.Equal(t, "What... is the airspeed velocity of an unladen swallow?\n", readAll(t, fx.srv, fnd))

	// top.sls was dropped from the ref.
	gone, err := fx.srv.FindFile(context.Background(), "top.sls", "base")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestConcurrentReadsDuringUpdate(t *testing.T) {
	fx := setup(t)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errCh := make(chan error, 8)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				fnd, err := fx.srv.FindFile(context.Background(), "testfile", "base")
				if err != nil {
					errCh <- err
					return
				}
				if fnd == nil {
					continue
				}
				got := ""
				var loc int64
				for loc < fnd.Size {
					chunk, err := fx.srv.ServeFile(fnd, loc)
					if err != nil {
						errCh <- err
						return
					}
					if len(chunk) == 0 {
						break
					}
					got += string(chunk)
					loc += int64(len(chunk))
				}
				if got != "Scene 24\n" && got != "changed\n" {
					errCh <- fmt.Errorf("torn read: %q", got)
					return
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		content := "Scene 24\n"
		if i%2 == 1 {
			content = "changed\n"
		}
		fx.first.SetRef("master", vcs.KindBranch, map[string]string{"testfile": content})
		require.NoError(t, fx.srv.Update(context.Background(), true))
	}
	close(stop)
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}
}
