package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a node of one registered type with the given identity.
type Constructor func(id, name string) (Node, error)

// Registry maps node type names to constructors. The core never discovers
// types at runtime; every type is registered explicitly at process start.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: map[string]Constructor{}}
}

// Register binds typeName to ctor. Re-registering a name replaces the
// previous constructor.
func (r *Registry) Register(typeName string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[typeName] = ctor
}

// CreateNode instantiates a node of the given registered type.
func (r *Registry) CreateNode(typeName, id, name string) (Node, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("node type %q not registered", typeName)
	}
	return ctor(id, name)
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
