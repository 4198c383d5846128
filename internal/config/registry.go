package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sttcore/streamcore/internal/adapter"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider backend names to constructor functions that turn a
// [ProviderEntry] into an [adapter.Provider]. It is the process-wide wiring
// point between configuration and the external adapter collaborators that
// §1 treats as out of scope for the core itself.
//
// Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func(ProviderEntry) (adapter.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func(ProviderEntry) (adapter.Provider, error))}
}

// Register adds a factory under name. Subsequent calls with the same name
// overwrite the previous registration.
func (r *Registry) Register(name string, factory func(ProviderEntry) (adapter.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates an [adapter.Provider] using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if none was registered
// for that name.
func (r *Registry) Create(entry ProviderEntry) (adapter.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAll instantiates every provider declared in entries, keyed by
// [ProviderEntry.ID]. The first construction error aborts and is returned
// wrapped with the offending provider id.
func (r *Registry) CreateAll(entries []ProviderEntry) (map[string]adapter.Provider, error) {
	out := make(map[string]adapter.Provider, len(entries))
	for _, e := range entries {
		p, err := r.Create(e)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", e.ID, err)
		}
		out[e.ID] = p
	}
	return out, nil
}
