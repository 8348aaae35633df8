package envmap

import (
	"path"
	"sort"

	"github.com/moneybenn-online/salt/internal/config"
	"github.com/moneybenn-online/salt/internal/vcs"
)

// Candidate is one environment a single remote offers: the exposed name,
// the resolved target ref, and the object id it pointed at when the refs
// were enumerated. ObjectID is empty when the configured ref does not
// exist on the remote; such environments still appear in envs() but serve
// no files.
type Candidate struct {
	Env      string
	Ref      string
	Kind     vcs.RefKind
	ObjectID string
}

// AdmittedEnvs applies the filtering pipeline to one remote's enumerated
// refs: ref-type restriction, saltenv mapping (or its disablement), and
// whitelist/blacklist globbing against the resolved environment name.
// Candidates come back in discovery order: mapped refs first (as
// enumerated), then explicitly configured environments sorted by name.
func AdmittedEnvs(cfg *config.Config, rem *config.Remote, refs []vcs.Ref, res *Resolver) []Candidate {
	types := map[config.RefType]bool{}
	for _, t := range rem.EffectiveRefTypes(cfg) {
		types[t] = true
	}
	refByName := map[string]vcs.Ref{}
	for _, ref := range refs {
		refByName[ref.Name] = ref
	}

	baseRef := rem.BaseRef(cfg)
	seen := map[string]bool{}
	var out []Candidate
	admit := func(env string) {
		if seen[env] {
			return
		}
		seen[env] = true
		if !exposed(cfg, rem, env) {
			return
		}
		resolved := res.Resolve(rem, env)
		c := Candidate{Env: env, Ref: resolved.Ref}
		if ref, ok := refByName[resolved.Ref]; ok {
			c.Kind = ref.Kind
			c.ObjectID = ref.ObjectID
		} else if types[config.RefTypeSHA] && looksLikeSHA(resolved.Ref) {
			c.Kind = vcs.KindSHA
			c.ObjectID = resolved.Ref
		}
		out = append(out, c)
	}

	if !rem.MappingDisabled(cfg) {
		for _, ref := range refs {
			if !types[config.RefType(ref.Kind)] {
				continue
			}
			if ref.Name == baseRef {
				admit("base")
			} else {
				admit(ref.Name)
			}
		}
	} else {
		// Mapping disabled: refs no longer become environments, but the
		// base ref always still maps to base.
		admit("base")
	}

	// Explicitly configured environments are admitted whether or not
	// their target ref currently exists.
	explicit := map[string]bool{}
	for env := range rem.Saltenv {
		explicit[env] = true
	}
	for env := range cfg.Saltenv {
		explicit[env] = true
	}
	names := make([]string, 0, len(explicit))
	for env := range explicit {
		names = append(names, env)
	}
	sort.Strings(names)
	for _, env := range names {
		admit(env)
	}

	return out
}

// exposed applies the whitelist/blacklist globs to a resolved environment
// name. A non-empty whitelist is allow-only; the blacklist removes matches
// unconditionally, winning on overlap.
func exposed(cfg *config.Config, rem *config.Remote, env string) bool {
	whitelist := rem.Whitelist
	if len(whitelist) == 0 {
		whitelist = cfg.Whitelist
	}
	blacklist := rem.Blacklist
	if len(blacklist) == 0 {
		blacklist = cfg.Blacklist
	}
	if matchAny(blacklist, env) {
		return false
	}
	if len(whitelist) > 0 && !matchAny(whitelist, env) {
		return false
	}
	return true
}

func matchAny(patterns []string, env string) bool {
	for _, p := range patterns {
		if p == env {
			return true
		}
		if ok, err := path.Match(p, env); err == nil && ok {
			return true
		}
	}
	return false
}

func looksLikeSHA(s string) bool {
	if len(s) < 7 || len(s) > 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
