package fileserver

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/moneybenn-online/salt/internal/config"
	"github.com/moneybenn-online/salt/internal/vcs"
)

// Registry holds named engine instances. Instances are created and torn
// down explicitly; two owners never share one implicitly.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*Fileserver
}

func NewRegistry() *Registry {
	return &Registry{instances: map[string]*Fileserver{}}
}

// Create builds and registers an instance under key. An existing key is an
// error; destroy it first.
func (r *Registry) Create(key string, cfg *config.Config, provider vcs.Provider, log *slog.Logger) (*Fileserver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[key]; ok {
		return nil, fmt.Errorf("fileserver instance %q already exists", key)
	}
	f, err := New(cfg, provider, log)
	if err != nil {
		return nil, err
	}
	r.instances[key] = f
	return f, nil
}

// Get returns the instance registered under key, if any.
func (r *Registry) Get(key string) (*Fileserver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.instances[key]
	return f, ok
}

// Destroy closes and removes the instance under key. Destroying an absent
// key is a no-op.
func (r *Registry) Destroy(key string) error {
	r.mu.Lock()
	f, ok := r.instances[key]
	delete(r.instances, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return f.Close()
}

// Keys lists registered instance names.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.instances))
	for k := range r.instances {
		out = append(out, k)
	}
	return out
}
