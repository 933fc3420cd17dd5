package entity

import (
	"fmt"
	"sync"

	"github.com/jacentio/arbor/key"
)

// Registry maps coordinates to registered instances so relationship
// resolution can locate target entities by type chain. Registrations may be
// scoped; lookups default to the unscoped entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Instance
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Instance),
	}
}

// RegisterOption configures a registration.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	scope string
}

// WithScope registers the instance under a named scope instead of the
// default one.
func WithScope(scope string) RegisterOption {
	return func(o *registerOptions) {
		o.scope = scope
	}
}

// Register adds an instance under its coordinate. Registering the same
// coordinate twice in one scope is a configuration error.
func (r *Registry) Register(inst *Instance, opts ...RegisterOption) error {
	if inst == nil {
		return newError(KindConfig, "register", nil, "nil instance", nil)
	}
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}
	k := registryKey(o.scope, inst.Coordinate())

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[k]; exists {
		return newError(KindConfig, "register", inst.Coordinate(),
			fmt.Sprintf("coordinate already registered in scope %q", o.scope), nil)
	}
	r.entries[k] = inst
	return nil
}

// Get returns the instance registered for the coordinate in the default
// scope. A missing entry is a fatal configuration error, not a retryable
// condition.
func (r *Registry) Get(coord key.Coordinate) (*Instance, error) {
	return r.GetScoped("", coord)
}

// GetScoped returns the instance registered for the coordinate in the named
// scope.
func (r *Registry) GetScoped(scope string, coord key.Coordinate) (*Instance, error) {
	r.mu.RLock()
	inst, ok := r.entries[registryKey(scope, coord)]
	r.mu.RUnlock()
	if !ok {
		return nil, newError(KindConfig, "registry", coord,
			fmt.Sprintf("no instance registered for coordinate in scope %q", scope), nil)
	}
	return inst, nil
}

func registryKey(scope string, coord key.Coordinate) string {
	return scope + "\x00" + coord.String()
}
