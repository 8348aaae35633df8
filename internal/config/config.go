// Package config holds the typed configuration for the gitfs backend.
// The YAML surface keeps the legacy master-config shape (scalar-or-list
// values, remotes as bare URLs or single-key maps of option lists), but
// everything downstream of Load operates on these structs only.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// RefType restricts which kinds of refs may become environments.
type RefType string

const (
	RefTypeBranch RefType = "branch"
	RefTypeTag    RefType = "tag"
	RefTypeSHA    RefType = "sha"
)

// DefaultRefTypes is the ref_types value when neither the global nor the
// per-remote option is set.
var DefaultRefTypes = []RefType{RefTypeBranch, RefTypeTag, RefTypeSHA}

const (
	// DefaultBase is the ref mapped to the "base" environment when
	// gitfs_base is unset.
	DefaultBase = "master"

	// DefaultUpdateInterval gates how often a non-forced update may hit
	// the remote.
	DefaultUpdateInterval = 60 * time.Second

	// DefaultLockTimeout bounds how long an update waits for the
	// per-remote refresh lock before skipping the cycle.
	DefaultLockTimeout = 5 * time.Second
)

// DefaultRefspecs mirror remote heads and tags into the local cache repo.
var DefaultRefspecs = []string{
	"+refs/heads/*:refs/heads/*",
	"+refs/tags/*:refs/tags/*",
}

// OverrideSet is one layer of the mountpoint/ref/root override hierarchy.
// Nil fields fall through to the next layer up.
type OverrideSet struct {
	Mountpoint *string
	Ref        *string
	Root       *string
}

// Remote is the typed descriptor of one configured git remote.
// Immutable after Load; the refresh machinery keys its caches on ID.
type Remote struct {
	URL string

	// ID namespaces this remote's on-disk cache. It hashes the URL
	// together with the per-remote configuration so that reconfiguring a
	// remote never silently reuses cache data built under different
	// semantics.
	ID string

	// Per-remote override block (layer c of the resolution order).
	Mountpoint *string
	Root       *string
	Base       *string

	// Saltenv maps environment names to per-ref overrides (layer a).
	Saltenv map[string]OverrideSet

	RefTypes              []RefType
	DisableSaltenvMapping *bool

	// Per-remote whitelist/blacklist; empty means use the global lists.
	Whitelist []string
	Blacklist []string

	// Per-remote credential overrides; nil falls back to the globals.
	User         *string
	Password     *string
	PrivKey      *string
	PubKey       *string
	Passphrase   *string
	InsecureAuth *bool
}

// Auth is the effective credential set for one remote. The git provider
// passes it through to the transport; no credential storage of our own.
type Auth struct {
	User         string
	Password     string
	PrivKey      string
	PubKey       string
	Passphrase   string
	InsecureAuth bool
}

// AuthFor merges the remote's credential overrides over the globals.
func (r *Remote) AuthFor(c *Config) Auth {
	a := c.Auth
	if r.User != nil {
		a.User = *r.User
	}
	if r.Password != nil {
		a.Password = *r.Password
	}
	if r.PrivKey != nil {
		a.PrivKey = *r.PrivKey
	}
	if r.PubKey != nil {
		a.PubKey = *r.PubKey
	}
	if r.Passphrase != nil {
		a.Passphrase = *r.Passphrase
	}
	if r.InsecureAuth != nil {
		a.InsecureAuth = *r.InsecureAuth
	}
	return a
}

// BaseRef returns the ref this remote maps to the "base" environment.
func (r *Remote) BaseRef(c *Config) string {
	if r.Base != nil {
		return *r.Base
	}
	return c.Base
}

// EffectiveRefTypes returns the ref_types for this remote, falling back to
// the global setting.
func (r *Remote) EffectiveRefTypes(c *Config) []RefType {
	if len(r.RefTypes) > 0 {
		return r.RefTypes
	}
	return c.RefTypes
}

// MappingDisabled reports whether saltenv mapping is disabled for this
// remote, honoring the per-remote override before the global flag.
func (r *Remote) MappingDisabled(c *Config) bool {
	if r.DisableSaltenvMapping != nil {
		return *r.DisableSaltenvMapping
	}
	return c.DisableSaltenvMapping
}

// Config is the full typed gitfs configuration.
type Config struct {
	CacheDir string
	Provider string

	Remotes []*Remote

	// Global defaults (layer d).
	Root       string
	Base       string
	Mountpoint string
	Fallback   string

	// Saltenv is the global per-environment override table (layer b),
	// keyed by environment name independent of remote.
	Saltenv map[string]OverrideSet

	Whitelist []string
	Blacklist []string

	RefTypes              []RefType
	DisableSaltenvMapping bool

	UpdateInterval time.Duration
	LockTimeout    time.Duration
	Refspecs       []string

	// Auth holds the global credential defaults (gitfs_user and friends).
	Auth Auth

	// FileBufferSize is the chunk size for serve_file range reads.
	FileBufferSize int
}

// New returns a Config with process-wide defaults applied. Tests and the
// loader both start from here so defaulting lives in one place.
func New() *Config {
	return &Config{
		Base:           DefaultBase,
		RefTypes:       append([]RefType(nil), DefaultRefTypes...),
		UpdateInterval: DefaultUpdateInterval,
		LockTimeout:    DefaultLockTimeout,
		Refspecs:       append([]string(nil), DefaultRefspecs...),
		Provider:       "git",
		FileBufferSize: 262144,
		Saltenv:        map[string]OverrideSet{},
	}
}

// Finalize computes derived state (remote IDs) and validates the result.
// Must be called after the remotes are populated, whether by Load or by
// hand-construction in tests.
func (c *Config) Finalize() error {
	if c.Base == "" {
		c.Base = DefaultBase
	}
	if len(c.RefTypes) == 0 {
		c.RefTypes = append([]RefType(nil), DefaultRefTypes...)
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = DefaultUpdateInterval
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if len(c.Refspecs) == 0 {
		c.Refspecs = append([]string(nil), DefaultRefspecs...)
	}
	if c.FileBufferSize <= 0 {
		c.FileBufferSize = 262144
	}
	if c.Saltenv == nil {
		c.Saltenv = map[string]OverrideSet{}
	}
	for _, t := range c.RefTypes {
		if err := validRefType(t); err != nil {
			return err
		}
	}
	seen := map[string]struct{}{}
	for _, r := range c.Remotes {
		if r.URL == "" {
			return fmt.Errorf("remote with empty URL")
		}
		for _, t := range r.RefTypes {
			if err := validRefType(t); err != nil {
				return fmt.Errorf("remote %s: %w", r.URL, err)
			}
		}
		r.ID = remoteID(r)
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("duplicate remote %s", r.URL)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

func validRefType(t RefType) error {
	switch t {
	case RefTypeBranch, RefTypeTag, RefTypeSHA:
		return nil
	}
	return fmt.Errorf("invalid ref type %q", t)
}

// remoteID hashes the URL plus every per-remote option into a stable cache
// namespace. The encoding is positional but deterministic: map keys are
// sorted before hashing.
func remoteID(r *Remote) string {
	h := sha256.New()
	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}
	write("url", r.URL)
	if r.Mountpoint != nil {
		write("mountpoint", *r.Mountpoint)
	}
	if r.Root != nil {
		write("root", *r.Root)
	}
	if r.Base != nil {
		write("base", *r.Base)
	}
	if r.DisableSaltenvMapping != nil {
		write("disable_saltenv_mapping", fmt.Sprint(*r.DisableSaltenvMapping))
	}
	for _, t := range r.RefTypes {
		write("ref_type", string(t))
	}
	envs := make([]string, 0, len(r.Saltenv))
	for env := range r.Saltenv {
		envs = append(envs, env)
	}
	sort.Strings(envs)
	for _, env := range envs {
		ov := r.Saltenv[env]
		write("saltenv", env)
		if ov.Mountpoint != nil {
			write("mountpoint", *ov.Mountpoint)
		}
		if ov.Ref != nil {
			write("ref", *ov.Ref)
		}
		if ov.Root != nil {
			write("root", *ov.Root)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// NormalizeMountpoint strips the salt:// scheme prefix and any surrounding
// slashes from a configured mountpoint.
func NormalizeMountpoint(mp string) string {
	mp = strings.TrimPrefix(mp, "salt://")
	return strings.Trim(mp, "/")
}
