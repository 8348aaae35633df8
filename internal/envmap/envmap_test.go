package envmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneybenn-online/salt/internal/config"
	"github.com/moneybenn-online/salt/internal/vcs"
)

func twoRemoteConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.New()
	cfg.Remotes = []*config.Remote{
		{URL: "https://example.com/first.git"},
		{URL: "https://example.com/second.git"},
	}
	require.NoError(t, cfg.Finalize())
	return cfg
}

func TestBuildFirstRemoteWins(t *testing.T) {
	cfg := twoRemoteConfig(t)
	res := NewResolver(cfg)

	perRemote := map[string][]Candidate{
		cfg.Remotes[0].ID: {
			{Env: "base", Ref: "master", Kind: vcs.KindBranch, ObjectID: "first-base"},
			{Env: "dev", Ref: "dev", Kind: vcs.KindBranch, ObjectID: "first-dev"},
		},
		cfg.Remotes[1].ID: {
			{Env: "dev", Ref: "dev", Kind: vcs.KindBranch, ObjectID: "second-dev"},
			{Env: "qa", Ref: "qa", Kind: vcs.KindBranch, ObjectID: "second-qa"},
		},
	}
	m := Build(cfg, res, perRemote)

	dev, ok := m.Lookup("dev")
	require.True(t, ok)
	assert.Equal(t, cfg.Remotes[0], dev.Remote)
	assert.Equal(t, "first-dev", dev.ObjectID)

	qa, ok := m.Lookup("qa")
	require.True(t, ok)
	assert.Equal(t, cfg.Remotes[1], qa.Remote)
}

func TestNamesBaseFirstThenDiscoveryOrder(t *testing.T) {
	cfg := twoRemoteConfig(t)
	res := NewResolver(cfg)

	perRemote := map[string][]Candidate{
		cfg.Remotes[0].ID: {
			{Env: "zeta", Ref: "zeta", ObjectID: "z"},
			{Env: "base", Ref: "master", ObjectID: "b"},
			{Env: "alpha", Ref: "alpha", ObjectID: "a"},
		},
		cfg.Remotes[1].ID: {
			{Env: "mid", Ref: "mid", ObjectID: "m"},
		},
	}
	m := Build(cfg, res, perRemote)

	assert.Equal(t, []string{"base", "zeta", "alpha", "mid"}, m.Names())
}

func TestNamesCaseSensitive(t *testing.T) {
	cfg := twoRemoteConfig(t)
	res := NewResolver(cfg)

	perRemote := map[string][]Candidate{
		cfg.Remotes[0].ID: {
			{Env: "Dev", Ref: "Dev", ObjectID: "x"},
			{Env: "dev", Ref: "dev", ObjectID: "y"},
		},
	}
	m := Build(cfg, res, perRemote)
	assert.Equal(t, []string{"Dev", "dev"}, m.Names())
}

func TestResolveFallback(t *testing.T) {
	cfg := twoRemoteConfig(t)
	res := NewResolver(cfg)

	perRemote := map[string][]Candidate{
		cfg.Remotes[0].ID: {
			{Env: "base", Ref: "master", ObjectID: "b"},
		},
	}
	m := Build(cfg, res, perRemote)

	_, ok, _ := m.Resolve("notexisting", "")
	assert.False(t, ok)

	b, ok, fellBack := m.Resolve("notexisting", "base")
	require.True(t, ok)
	assert.True(t, fellBack)
	assert.Equal(t, "base", b.Env)

	b, ok, fellBack = m.Resolve("base", "base")
	require.True(t, ok)
	assert.False(t, fellBack)
	assert.Equal(t, "master", b.Ref)
}
