// Package outlet holds the process-wide registry of local transform
// functions. Registration happens at bootstrap; lookups are read-only
// thereafter.
package outlet

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Func is an in-process transform. Input and output are arbitrary decoded
// JSON values. Funcs should be pure or idempotent; the registry does not
// enforce this.
type Func func(ctx context.Context, input any) (any, error)

// NotRegisteredError indicates a lookup for a name with no registered outlet.
type NotRegisteredError struct {
	Name string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("no local function registered as %q", e.Name)
}

// Registry maps names to local transforms.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{fns: map[string]Func{}}
}

// Register binds name to fn, silently overwriting any previous binding.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	if !ok {
		return nil, &NotRegisteredError{Name: name}
	}
	return fn, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fns))
	for name := range r.fns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry, seeded with the built-ins.
func Default() *Registry {
	return defaultRegistry
}

// Register binds name to fn in the process-wide registry.
func Register(name string, fn Func) {
	defaultRegistry.Register(name, fn)
}

// Lookup resolves name in the process-wide registry.
func Lookup(name string) (Func, error) {
	return defaultRegistry.Lookup(name)
}
