// Package vcs defines the provider capability the gitfs engine consumes:
// fetch a remote into a local mirror, enumerate refs, list trees, and read
// blobs. The engine is agnostic to which registered implementation is
// active; capability probing happens once at startup.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Distinguishable provider failure kinds. Implementations wrap these so the
// engine can classify without knowing provider internals.
var (
	ErrRemoteUnreachable = errors.New("remote unreachable")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrRefNotFound       = errors.New("ref not found")
	ErrObjectCorrupt     = errors.New("object corrupt")
)

// RefKind classifies a ref.
type RefKind string

const (
	KindBranch RefKind = "branch"
	KindTag    RefKind = "tag"
	KindSHA    RefKind = "sha"
)

// Ref is one enumerated ref with its target object id. For annotated tags
// the object id is the peeled commit.
type Ref struct {
	Name     string
	Kind     RefKind
	ObjectID string
}

// TreeEntry is one entry of a recursive tree listing. Paths are
// slash-separated and relative to the tree root. Size is zero for
// directories.
type TreeEntry struct {
	Path     string
	IsDir    bool
	ObjectID string
	Size     int64
}

// Auth carries pass-through credentials for a remote. Providers forward
// them to the transport; nothing here stores or refreshes credentials.
type Auth struct {
	User         string
	Password     string
	PrivKey      string
	Passphrase   string
	InsecureAuth bool
}

// Repo identifies one remote plus its local mirror location.
type Repo struct {
	URL      string
	Dir      string // local mirror path
	Refspecs []string
	Auth     Auth
}

// Provider is the minimum surface the engine requires from a
// version-control backend.
type Provider interface {
	// Sync fetches or updates the local mirror of the remote.
	Sync(ctx context.Context, repo Repo) error

	// ListRefs enumerates branches and tags of the local mirror with
	// their target object ids.
	ListRefs(ctx context.Context, repo Repo) ([]Ref, error)

	// ListTree lists the full tree of the given object id (a commit or
	// tree), including directory entries.
	ListTree(ctx context.Context, repo Repo, objectID string) ([]TreeEntry, error)

	// ReadBlob returns the contents of a blob object.
	ReadBlob(ctx context.Context, repo Repo, objectID string) ([]byte, error)
}

// Factory probes a provider implementation and returns it when its runtime
// requirements (executable present, minimum version) are met.
type Factory func() (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a provider factory available under a name. Called from
// implementation package init functions.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Open probes and returns the named provider. A failed probe is reported as
// an error so the caller can disable the backend without crashing the host
// process.
func Open(name string) (Provider, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("gitfs provider %q not available (registered: %v)", name, Names())
	}
	p, err := f()
	if err != nil {
		return nil, fmt.Errorf("gitfs provider %q unavailable: %w", name, err)
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
