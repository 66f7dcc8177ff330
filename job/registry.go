package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased function handler that accepts the raw
// serialized payload. The typed Definition[T] is converted to a
// HandlerFunc at registration time by closing over JSON unmarshal + the
// typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Entry is a registered function: the invocable handler plus its declared
// defaults. The engine resolves jobs against entries by function name at
// dispatch time.
type Entry struct {
	Name    string
	Handler HandlerFunc
	Opts    Options
}

// Registry maps function names to registered entries. It is populated
// once before the dispatcher starts and treated as an immutable lookup
// table afterwards; the engine never mutates it. The lock exists so
// registration itself is safe if callers race during startup.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty function registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// RegisterDefinition registers a typed function definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the payload into T
// before calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload []byte) error {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return fmt.Errorf("unmarshal payload for function %q: %w", def.Name, err)
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = &Entry{
		Name:    def.Name,
		Handler: handler,
		Opts:    def.Opts,
	}
}

// Get returns the entry for the given function name.
// Returns false if no function is registered under that name.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names returns all registered function names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
