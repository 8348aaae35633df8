// Package gitcli implements the vcs.Provider capability by shelling out to
// the git executable. It keeps one bare mirror per remote and reads trees
// and blobs with plumbing commands, so no working checkout ever exists.
package gitcli

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/moneybenn-online/salt/internal/vcs"
)

// MinGitVersion is the oldest git the provider accepts. Probed once in the
// factory, never per call.
const MinGitVersion = "1.8.5"

func init() {
	vcs.Register("git", New)
}

// Provider runs git commands against bare mirror repositories.
type Provider struct {
	git string // absolute path to the git executable
}

// New probes the git executable and its version. Returning an error here
// disables the gitfs backend rather than crashing the host.
func New() (vcs.Provider, error) {
	path, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git executable not found: %w", err)
	}
	out, err := exec.Command(path, "version").Output()
	if err != nil {
		return nil, fmt.Errorf("git version: %w", err)
	}
	version, err := parseVersion(string(out))
	if err != nil {
		return nil, err
	}
	if compareVersions(version, MinGitVersion) < 0 {
		return nil, fmt.Errorf("git %s is older than required %s", version, MinGitVersion)
	}
	return &Provider{git: path}, nil
}

func (p *Provider) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	return p.runEnv(ctx, dir, nil, args...)
}

func (p *Provider) runEnv(ctx context.Context, dir string, extraEnv []string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.git, args...)
	cmd.Dir = dir
	// Never prompt for credentials; a missing credential is an auth
	// failure, not a hang.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, extraEnv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, classify(stderr.String(), fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String())))
	}
	return stdout.Bytes(), nil
}

// classify maps git stderr text onto the provider error kinds so callers
// can distinguish unreachable remotes from auth failures and corruption.
func classify(stderr string, err error) error {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "authentication failed"),
		strings.Contains(s, "could not read username"),
		strings.Contains(s, "could not read password"),
		strings.Contains(s, "permission denied"):
		return fmt.Errorf("%w: %w", vcs.ErrAuthFailed, err)
	case strings.Contains(s, "could not resolve host"),
		strings.Contains(s, "unable to access"),
		strings.Contains(s, "connection refused"),
		strings.Contains(s, "connection timed out"),
		strings.Contains(s, "does not appear to be a git repository"):
		return fmt.Errorf("%w: %w", vcs.ErrRemoteUnreachable, err)
	case strings.Contains(s, "not a valid object name"),
		strings.Contains(s, "bad revision"):
		return fmt.Errorf("%w: %w", vcs.ErrRefNotFound, err)
	case strings.Contains(s, "bad object"),
		strings.Contains(s, "object file"),
		strings.Contains(s, "corrupt"):
		return fmt.Errorf("%w: %w", vcs.ErrObjectCorrupt, err)
	}
	return err
}

// Sync implements vcs.Provider. The mirror is initialized lazily; fetch
// failures leave whatever was mirrored before untouched.
func (p *Provider) Sync(ctx context.Context, repo vcs.Repo) error {
	if _, err := os.Stat(filepath.Join(repo.Dir, "HEAD")); err != nil {
		if err := os.MkdirAll(repo.Dir, 0o755); err != nil {
			return fmt.Errorf("create mirror dir: %w", err)
		}
		if _, err := p.run(ctx, "", "init", "--bare", repo.Dir); err != nil {
			return err
		}
	}
	refspecs := repo.Refspecs
	if len(refspecs) == 0 {
		refspecs = []string{"+refs/heads/*:refs/heads/*", "+refs/tags/*:refs/tags/*"}
	}
	args := append([]string{"fetch", "--prune", fetchURL(repo)}, refspecs...)
	_, err := p.runEnv(ctx, repo.Dir, authEnv(repo), args...)
	return err
}

// fetchURL injects pass-through HTTP credentials into the remote URL.
func fetchURL(repo vcs.Repo) string {
	a := repo.Auth
	if a.User == "" || !strings.HasPrefix(repo.URL, "http") {
		return repo.URL
	}
	u, err := url.Parse(repo.URL)
	if err != nil {
		return repo.URL
	}
	if a.Password != "" {
		u.User = url.UserPassword(a.User, a.Password)
	} else {
		u.User = url.User(a.User)
	}
	return u.String()
}

// authEnv builds the SSH credential environment for a fetch.
func authEnv(repo vcs.Repo) []string {
	a := repo.Auth
	if a.PrivKey == "" {
		return nil
	}
	ssh := fmt.Sprintf("ssh -i %s -o IdentitiesOnly=yes", a.PrivKey)
	if a.InsecureAuth {
		ssh += " -o StrictHostKeyChecking=no"
	}
	return []string{"GIT_SSH_COMMAND=" + ssh}
}

// ListRefs implements vcs.Provider. Annotated tags report the peeled
// commit id.
func (p *Provider) ListRefs(ctx context.Context, repo vcs.Repo) ([]vcs.Ref, error) {
	out, err := p.run(ctx, repo.Dir,
		"for-each-ref", "--format=%(refname)%00%(objectname)%00%(*objectname)",
		"refs/heads", "refs/tags")
	if err != nil {
		return nil, err
	}
	return parseRefs(string(out))
}

// ListTree implements vcs.Provider. The -t flag includes tree entries so
// directories appear alongside blobs.
func (p *Provider) ListTree(ctx context.Context, repo vcs.Repo, objectID string) ([]vcs.TreeEntry, error) {
	out, err := p.run(ctx, repo.Dir, "ls-tree", "-r", "-t", "-z", "--long", objectID)
	if err != nil {
		return nil, err
	}
	return parseTree(out)
}

// ReadBlob implements vcs.Provider.
func (p *Provider) ReadBlob(ctx context.Context, repo vcs.Repo, objectID string) ([]byte, error) {
	return p.run(ctx, repo.Dir, "cat-file", "blob", objectID)
}
