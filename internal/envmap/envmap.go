package envmap

import (
	"github.com/moneybenn-online/salt/internal/config"
)

// Binding ties one exposed environment name to the remote and ref that
// serve it, with the resolved root and mountpoint applied.
type Binding struct {
	Env        string
	Remote     *config.Remote
	Ref        string
	ObjectID   string
	Root       string
	Mountpoint string
}

// Map is the aggregate, deduplicated environment view across all remotes.
// Built wholesale after each refresh and replaced atomically by the holder;
// the struct itself is immutable once built.
type Map struct {
	bindings map[string]Binding
	order    []string
}

// Build merges each remote's admitted candidates in configured remote
// order. The first remote to contribute a name wins; later contributions
// to an already-bound name are ignored, not an error.
func Build(cfg *config.Config, res *Resolver, perRemote map[string][]Candidate) *Map {
	m := &Map{bindings: map[string]Binding{}}
	for _, rem := range cfg.Remotes {
		for _, c := range perRemote[rem.ID] {
			if _, bound := m.bindings[c.Env]; bound {
				continue
			}
			resolved := res.Resolve(rem, c.Env)
			m.bindings[c.Env] = Binding{
				Env:        c.Env,
				Remote:     rem,
				Ref:        c.Ref,
				ObjectID:   c.ObjectID,
				Root:       resolved.Root,
				Mountpoint: resolved.Mountpoint,
			}
			m.order = append(m.order, c.Env)
		}
	}
	return m
}

// Names returns the deduplicated environment names: base first when
// present, the rest in discovery order, case-sensitive.
func (m *Map) Names() []string {
	out := make([]string, 0, len(m.order))
	for _, env := range m.order {
		if env == "base" {
			out = append(out, env)
		}
	}
	for _, env := range m.order {
		if env != "base" {
			out = append(out, env)
		}
	}
	return out
}

// Lookup returns the binding for an environment name.
func (m *Map) Lookup(env string) (Binding, bool) {
	b, ok := m.bindings[env]
	return b, ok
}

// Resolve looks up an environment, transparently substituting the
// configured fallback environment when the requested name is undefined.
// The returned binding keeps serving under the requested name; fallback
// reports whether substitution happened.
func (m *Map) Resolve(env, fallbackEnv string) (b Binding, ok bool, fallback bool) {
	if b, ok = m.bindings[env]; ok {
		return b, true, false
	}
	if fallbackEnv == "" {
		return Binding{}, false, false
	}
	b, ok = m.bindings[fallbackEnv]
	return b, ok, ok
}
