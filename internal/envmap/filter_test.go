package envmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneybenn-online/salt/internal/config"
	"github.com/moneybenn-online/salt/internal/vcs"
)

func boolptr(b bool) *bool { return &b }

func ref(name string, kind vcs.RefKind, oid string) vcs.Ref {
	return vcs.Ref{Name: name, Kind: kind, ObjectID: oid}
}

func envNames(cands []Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Env)
	}
	return out
}

func TestAdmitMapsRefsToEnvs(t *testing.T) {
	cfg := config.New()
	rem := &config.Remote{URL: "https://example.com/repo.git"}
	cfg.Remotes = []*config.Remote{rem}
	require.NoError(t, cfg.Finalize())

	refs := []vcs.Ref{
		ref("dev", vcs.KindBranch, "aaa1111"),
		ref("master", vcs.KindBranch, "bbb2222"),
		ref("v1.0", vcs.KindTag, "ccc3333"),
	}
	cands := AdmittedEnvs(cfg, rem, refs, NewResolver(cfg))

	assert.Equal(t, []string{"dev", "base", "v1.0"}, envNames(cands))
	for _, c := range cands {
		if c.Env == "base" {
			assert.Equal(t, "master", c.Ref)
			assert.Equal(t, "bbb2222", c.ObjectID)
		}
	}
}

func TestAdmitRefTypesGlobal(t *testing.T) {
	cfg := config.New()
	cfg.RefTypes = []config.RefType{config.RefTypeTag}
	rem := &config.Remote{URL: "https://example.com/repo.git"}
	cfg.Remotes = []*config.Remote{rem}
	require.NoError(t, cfg.Finalize())

	refs := []vcs.Ref{
		ref("dev", vcs.KindBranch, "aaa1111"),
		ref("v1.0", vcs.KindTag, "ccc3333"),
	}
	cands := AdmittedEnvs(cfg, rem, refs, NewResolver(cfg))
	assert.Equal(t, []string{"v1.0"}, envNames(cands))
}

func TestAdmitRefTypesPerRemote(t *testing.T) {
	cfg := config.New()
	cfg.RefTypes = []config.RefType{config.RefTypeTag}
	rem := &config.Remote{
		URL:      "https://example.com/repo.git",
		RefTypes: []config.RefType{config.RefTypeBranch},
	}
	cfg.Remotes = []*config.Remote{rem}
	require.NoError(t, cfg.Finalize())

	refs := []vcs.Ref{
		ref("dev", vcs.KindBranch, "aaa1111"),
		ref("v1.0", vcs.KindTag, "ccc3333"),
	}
	cands := AdmittedEnvs(cfg, rem, refs, NewResolver(cfg))
	assert.Equal(t, []string{"dev"}, envNames(cands))
}

func TestAdmitSHALiteral(t *testing.T) {
	cfg := config.New()
	rem := &config.Remote{
		URL: "https://example.com/repo.git",
		Saltenv: map[string]config.OverrideSet{
			"pinned": {Ref: strptr("0123456789abcdef0123456789abcdef01234567")},
		},
	}
	cfg.Remotes = []*config.Remote{rem}
	require.NoError(t, cfg.Finalize())

	cands := AdmittedEnvs(cfg, rem, nil, NewResolver(cfg))
	require.Len(t, cands, 1)
	assert.Equal(t, "pinned", cands[0].Env)
	assert.Equal(t, vcs.KindSHA, cands[0].Kind)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", cands[0].ObjectID)
}

func TestAdmitWhitelistGlob(t *testing.T) {
	cfg := config.New()
	cfg.Whitelist = []string{"base", "v1.*"}
	rem := &config.Remote{URL: "https://example.com/repo.git"}
	cfg.Remotes = []*config.Remote{rem}
	require.NoError(t, cfg.Finalize())

	refs := []vcs.Ref{
		ref("dev", vcs.KindBranch, "aaa1111"),
		ref("master", vcs.KindBranch, "bbb2222"),
		ref("v1.0", vcs.KindTag, "ccc3333"),
		ref("v2.0", vcs.KindTag, "ddd4444"),
	}
	cands := AdmittedEnvs(cfg, rem, refs, NewResolver(cfg))
	assert.Equal(t, []string{"base", "v1.0"}, envNames(cands))
}

func TestAdmitBlacklistWins(t *testing.T) {
	cfg := config.New()
	cfg.Whitelist = []string{"*"}
	cfg.Blacklist = []string{"dev"}
	rem := &config.Remote{URL: "https://example.com/repo.git"}
	cfg.Remotes = []*config.Remote{rem}
	require.NoError(t, cfg.Finalize())

	refs := []vcs.Ref{
		ref("dev", vcs.KindBranch, "aaa1111"),
		ref("master", vcs.KindBranch, "bbb2222"),
	}
	cands := AdmittedEnvs(cfg, rem, refs, NewResolver(cfg))
	assert.Equal(t, []string{"base"}, envNames(cands))
}

func TestAdmitPerRemoteListsOverrideGlobal(t *testing.T) {
	cfg := config.New()
	cfg.Whitelist = []string{"nothing"}
	rem := &config.Remote{
		URL:       "https://example.com/repo.git",
		Whitelist: []string{"base", "dev"},
	}
	cfg.Remotes = []*config.Remote{rem}
	require.NoError(t, cfg.Finalize())

	refs := []vcs.Ref{
		ref("dev", vcs.KindBranch, "aaa1111"),
		ref("master", vcs.KindBranch, "bbb2222"),
		ref("extra", vcs.KindBranch, "eee5555"),
	}
	cands := AdmittedEnvs(cfg, rem, refs, NewResolver(cfg))
	assert.Equal(t, []string{"dev", "base"}, envNames(cands))
}

// With mapping disabled, refs stop becoming environments: only base and
// explicitly configured names remain, whether or not the explicit target
// ref exists.
func TestAdmitMappingDisabled(t *testing.T) {
	refs := []vcs.Ref{
		ref("dev", vcs.KindBranch, "aaa1111"),
		ref("master", vcs.KindBranch, "bbb2222"),
		ref("v1.0", vcs.KindTag, "ccc3333"),
	}

	override := map[string]config.OverrideSet{
		"foo": {Ref: strptr("somebranch")},
	}
	// All four combinations of where mapping is disabled and where the
	// explicit environment is defined yield the same exact env set.
	for _, perRemoteDisable := range []bool{false, true} {
		for _, globalOverride := range []bool{false, true} {
			cfg := config.New()
			rem := &config.Remote{URL: "https://example.com/repo.git"}
			if globalOverride {
				cfg.Saltenv = override
			} else {
				rem.Saltenv = override
			}
			if perRemoteDisable {
				rem.DisableSaltenvMapping = boolptr(true)
			} else {
				cfg.DisableSaltenvMapping = true
			}
			cfg.Remotes = []*config.Remote{rem}
			require.NoError(t, cfg.Finalize())

			cands := AdmittedEnvs(cfg, rem, refs, NewResolver(cfg))
			assert.Equal(t, []string{"base", "foo"}, envNames(cands))

			// somebranch does not exist: the environment is listed but
			// has no content to serve.
			assert.Equal(t, "", cands[1].ObjectID)
		}
	}
}

func TestAdmitPerRemoteMappingEnableOverridesGlobal(t *testing.T) {
	cfg := config.New()
	cfg.DisableSaltenvMapping = true
	rem := &config.Remote{
		URL:                   "https://example.com/repo.git",
		DisableSaltenvMapping: boolptr(false),
	}
	cfg.Remotes = []*config.Remote{rem}
	require.NoError(t, cfg.Finalize())

	refs := []vcs.Ref{
		ref("dev", vcs.KindBranch, "aaa1111"),
		ref("master", vcs.KindBranch, "bbb2222"),
	}
	cands := AdmittedEnvs(cfg, rem, refs, NewResolver(cfg))
	assert.Equal(t, []string{"dev", "base"}, envNames(cands))
}

func TestAdmitExplicitEnvMissingRef(t *testing.T) {
	cfg := config.New()
	cfg.Saltenv = map[string]config.OverrideSet{
		"qa": {Ref: strptr("gone")},
	}
	rem := &config.Remote{URL: "https://example.com/repo.git"}
	cfg.Remotes = []*config.Remote{rem}
	require.NoError(t, cfg.Finalize())

	refs := []vcs.Ref{ref("master", vcs.KindBranch, "bbb2222")}
	cands := AdmittedEnvs(cfg, rem, refs, NewResolver(cfg))
	require.Equal(t, []string{"base", "qa"}, envNames(cands))
	assert.Equal(t, "", cands[1].ObjectID)
}
