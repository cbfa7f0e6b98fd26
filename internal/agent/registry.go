// Package agent holds the agent registry and the builtin agents. Agents are
// the execution side of routing: the router decides which agent handles a
// request, the registry resolves it, and the agent does the work.
package agent

import (
	"sort"
	"sync"

	"github.com/stewardhq/steward/model"
)

// Registry is a thread-safe map of agents keyed by name. Registration
// normally happens once at startup; lookups happen per request.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]model.Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]model.Agent)}
}

// Register adds an agent under its name, replacing any previous registration.
func (r *Registry) Register(a model.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Name()] = a
}

// Agent returns the agent with the given name.
func (r *Registry) Agent(name string) (model.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// Names returns the registered agent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
