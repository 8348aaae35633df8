// Package coordinator serializes per-remote refresh cycles: one refresh
// per remote at a time, a minimum interval between non-forced refreshes,
// and atomic snapshot replacement so readers never block on a refresh of
// an unrelated remote.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/moneybenn-online/salt/internal/cachestore"
	"github.com/moneybenn-online/salt/internal/config"
	"github.com/moneybenn-online/salt/internal/envmap"
	"github.com/moneybenn-online/salt/internal/vcs"
)

// Coordinator drives refreshes against the VCS provider and rebuilds
// cache snapshots. Reads go to the Store directly and never take the
// refresh lock.
type Coordinator struct {
	cfg      *config.Config
	provider vcs.Provider
	store    *cachestore.Store
	resolver *envmap.Resolver
	log      *slog.Logger

	group singleflight.Group

	mu     sync.Mutex
	states map[string]*remoteState // by remote id
}

type remoteState struct {
	lastSync   time.Time
	candidates []envmap.Candidate
}

func New(cfg *config.Config, provider vcs.Provider, store *cachestore.Store, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg,
		provider: provider,
		store:    store,
		resolver: envmap.NewResolver(cfg),
		log:      log,
		states:   map[string]*remoteState{},
	}
}

// Repo returns the provider-facing descriptor of a remote's local mirror.
func (c *Coordinator) Repo(rem *config.Remote) vcs.Repo {
	auth := rem.AuthFor(c.cfg)
	return vcs.Repo{
		URL:      rem.URL,
		Dir:      filepath.Join(c.store.Dir(), rem.ID, "mirror"),
		Refspecs: c.cfg.Refspecs,
		Auth: vcs.Auth{
			User:         auth.User,
			Password:     auth.Password,
			PrivKey:      auth.PrivKey,
			Passphrase:   auth.Passphrase,
			InsecureAuth: auth.InsecureAuth,
		},
	}
}

func (c *Coordinator) state(remoteID string) *remoteState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[remoteID]
	if !ok {
		st = &remoteState{}
		c.states[remoteID] = st
	}
	return st
}

// Candidates returns each remote's admitted environments from its last
// successful refresh, keyed by remote id.
func (c *Coordinator) Candidates() map[string][]envmap.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]envmap.Candidate, len(c.states))
	for id, st := range c.states {
		out[id] = append([]envmap.Candidate(nil), st.candidates...)
	}
	return out
}

// LastSync reports when the remote last refreshed successfully.
func (c *Coordinator) LastSync(remoteID string) time.Time {
	st := c.state(remoteID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return st.lastSync
}

// Update refreshes one remote. Without force, a refresh inside the
// configured minimum interval is a no-op. Concurrent callers for the same
// remote collapse to a single in-flight refresh whose result they share.
// A provider failure is remote-scoped: the previous snapshots keep
// serving and the error is reported, not escalated.
func (c *Coordinator) Update(ctx context.Context, rem *config.Remote, force bool) error {
	st := c.state(rem.ID)
	if !force {
		c.mu.Lock()
		fresh := !st.lastSync.IsZero() && time.Since(st.lastSync) < c.cfg.UpdateInterval
		c.mu.Unlock()
		if fresh {
			return nil
		}
	}

	_, err, _ := c.group.Do(rem.ID, func() (any, error) {
		return nil, c.refresh(ctx, rem, st)
	})
	return err
}

func (c *Coordinator) refresh(ctx context.Context, rem *config.Remote, st *remoteState) error {
	lockPath := filepath.Join(c.store.Dir(), rem.ID, "update.lk")
	lock, err := acquireLock(lockPath, c.cfg.LockTimeout)
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			c.log.Warn("skipping refresh, lock busy", "remote", rem.URL)
		}
		return err
	}
	defer releaseLock(lock)

	repo := c.Repo(rem)
	if err := c.provider.Sync(ctx, repo); err != nil {
		c.log.Warn("fetch failed, serving last-good cache", "remote", rem.URL, "error", err)
		return fmt.Errorf("sync %s: %w", rem.URL, err)
	}
	refs, err := c.provider.ListRefs(ctx, repo)
	if err != nil {
		c.log.Warn("ref enumeration failed, serving last-good cache", "remote", rem.URL, "error", err)
		return fmt.Errorf("list refs %s: %w", rem.URL, err)
	}

	candidates := envmap.AdmittedEnvs(c.cfg, rem, refs, c.resolver)

	var errs []error
	keep := map[string]bool{}
	for _, cand := range candidates {
		if cand.ObjectID == "" {
			continue
		}
		keep[cand.Ref] = true
		if cur := c.store.Get(rem.ID, cand.Ref); cur != nil && cur.ObjectID == cand.ObjectID {
			continue // unchanged object id: skip the tree walk
		}
		tree, err := c.provider.ListTree(ctx, repo, cand.ObjectID)
		if err != nil {
			errs = append(errs, fmt.Errorf("list tree %s@%s: %w", rem.URL, cand.Ref, err))
			if cur := c.store.Get(rem.ID, cand.Ref); cur != nil {
				keep[cand.Ref] = true // keep serving the stale snapshot
			}
			continue
		}
		snap := cachestore.NewSnapshot(rem.ID, cand.Ref, cand.ObjectID, tree)
		if err := c.store.Replace(snap); err != nil {
			errs = append(errs, fmt.Errorf("replace snapshot %s@%s: %w", rem.URL, cand.Ref, err))
			continue
		}
		c.log.Info("snapshot rebuilt", "remote", rem.URL, "ref", cand.Ref, "object_id", cand.ObjectID, "entries", snap.Len())
	}
	if err := c.store.Prune(rem.ID, keep); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	st.candidates = candidates
	st.lastSync = time.Now()
	c.mu.Unlock()

	return errors.Join(errs...)
}
