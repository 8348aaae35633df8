// Package envmap turns a remote's refs into named environments: the pure
// configuration resolver, the ref filter, and the aggregated map across
// remotes.
package envmap

import (
	"github.com/moneybenn-online/salt/internal/config"
)

// Resolved is the fully merged per-(remote, environment) configuration.
type Resolved struct {
	Mountpoint string
	Ref        string
	Root       string
}

// Resolver merges the override hierarchy. It is pure: no side effects, no
// caching, deterministic for a given configuration.
type Resolver struct {
	cfg *config.Config
}

func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve computes the effective {mountpoint, ref, root} for one
// environment of one remote. Merge order, most specific wins:
//
//  1. the remote's per-saltenv override for env
//  2. the global per-saltenv table entry for env
//  3. the remote's own override block (mountpoint/root only)
//  4. process defaults: global mountpoint/root, ref equal to the env name
//     (the remote's base ref for the "base" environment)
func (r *Resolver) Resolve(rem *config.Remote, env string) Resolved {
	var ov config.OverrideSet
	if rem != nil {
		ov = rem.Saltenv[env]
	}
	ov = mergeOverride(ov, r.cfg.Saltenv[env])
	if rem != nil {
		ov = mergeOverride(ov, config.OverrideSet{
			Mountpoint: rem.Mountpoint,
			Root:       rem.Root,
		})
	}

	out := Resolved{
		Mountpoint: r.cfg.Mountpoint,
		Root:       r.cfg.Root,
		Ref:        env,
	}
	if env == "base" {
		if rem != nil {
			out.Ref = rem.BaseRef(r.cfg)
		} else {
			out.Ref = r.cfg.Base
		}
	}
	if ov.Mountpoint != nil {
		out.Mountpoint = *ov.Mountpoint
	}
	if ov.Ref != nil {
		out.Ref = *ov.Ref
	}
	if ov.Root != nil {
		out.Root = *ov.Root
	}
	out.Mountpoint = config.NormalizeMountpoint(out.Mountpoint)
	return out
}

func mergeOverride(ov, fallback config.OverrideSet) config.OverrideSet {
	if ov.Mountpoint == nil {
		ov.Mountpoint = fallback.Mountpoint
	}
	if ov.Ref == nil {
		ov.Ref = fallback.Ref
	}
	if ov.Root == nil {
		ov.Root = fallback.Root
	}
	return ov
}
