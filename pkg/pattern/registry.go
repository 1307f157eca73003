package pattern

import (
	"fmt"
	"sync"
)

// Binding is a workflow step resolved to a concrete pattern at registration
// time. The integer PatternID is what travels with tasks; the handler lookup
// it implies costs nothing at dispatch.
type Binding struct {
	PatternID uint32
	Name      string
	Type      Type
	Config    Config
}

// Registry assigns pattern ids at workflow-registration time. Registration
// happens before any dispatch begins and never on the hot path, so a plain
// mutex is fine here.
type Registry struct {
	mu       sync.RWMutex
	next     uint32
	byID     map[uint32]Binding
	byName   map[string]uint32
	dispatch *Dispatcher
}

// NewRegistry creates a registry bound to a dispatcher.
func NewRegistry(d *Dispatcher) *Registry {
	return &Registry{
		next:     1,
		byID:     make(map[uint32]Binding),
		byName:   make(map[string]uint32),
		dispatch: d,
	}
}

// Register resolves a named workflow step to a pattern implementation and
// returns its precomputed id. Unknown or unimplemented pattern types are
// construction-time errors.
func (r *Registry) Register(name string, t Type, cfg Config) (uint32, error) {
	if err := r.dispatch.Validate(t); err != nil {
		return 0, err
	}
	if !r.dispatch.Supported(t) {
		return 0, fmt.Errorf("pattern: %s has no reflex-tier handler", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; dup {
		return 0, fmt.Errorf("pattern: step %q already registered", name)
	}
	id := r.next
	r.next++
	b := Binding{PatternID: id, Name: name, Type: t, Config: cfg}
	r.byID[id] = b
	r.byName[name] = id
	return id, nil
}

// Lookup returns the binding for a precomputed pattern id.
func (r *Registry) Lookup(id uint32) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[id]
	return b, ok
}

// LookupName returns the binding registered under name.
func (r *Registry) LookupName(name string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return Binding{}, false
	}
	return r.byID[id], true
}

// Len returns the number of registered bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
