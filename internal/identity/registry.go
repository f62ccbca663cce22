package identity

import (
	"sort"
	"sync"
)

// Registry holds the manifests issued at boot, keyed by agent id. Put
// overwrites: re-booting a kernel reissues every manifest. Reads return
// copies so callers cannot mutate the stored documents.
type Registry struct {
	mu        sync.RWMutex
	manifests map[string]*Manifest
}

// NewRegistry returns an empty manifest registry.
func NewRegistry() *Registry {
	return &Registry{manifests: make(map[string]*Manifest)}
}

// Put stores the manifest under its agent id, replacing any previous
// issue for the same agent.
func (r *Registry) Put(m *Manifest) {
	if m == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[m.Agent.ID] = m
}

// Get returns a copy of the manifest for the agent id, or nil when the
// agent has no issued manifest.
func (r *Registry) Get(agentID string) *Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[agentID]
	if !ok {
		return nil
	}
	return copyManifest(m)
}

// FindByCapability returns the manifests whose declared capability list
// contains name, ordered by agent id. The generic process operation does
// not count as a declared capability.
func (r *Registry) FindByCapability(name string) []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Manifest
	for _, m := range r.manifests {
		for _, c := range m.Capabilities.Interfaces {
			if c == name {
				out = append(out, copyManifest(m))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent.ID < out[j].Agent.ID })
	return out
}

// List returns all stored manifests ordered by agent id.
func (r *Registry) List() []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Manifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, copyManifest(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent.ID < out[j].Agent.ID })
	return out
}

// Len reports the number of stored manifests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.manifests)
}

func copyManifest(m *Manifest) *Manifest {
	c := *m
	c.Credentials.Mandates = append([]string(nil), m.Credentials.Mandates...)
	c.Credentials.Constraints = append([]string(nil), m.Credentials.Constraints...)
	c.Capabilities.Interfaces = append([]string(nil), m.Capabilities.Interfaces...)
	c.Capabilities.Operations = append([]Operation(nil), m.Capabilities.Operations...)
	return &c
}
