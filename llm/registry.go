package llm

import (
	"fmt"
	"sort"
	"sync"
)

// ProviderRegistry is a thread-safe registry of LLM providers, keyed by
// provider identifier. One provider may be looked up many times; registration
// replaces any existing entry under the same key.
type ProviderRegistry struct {
	providers       map[string]Provider
	defaultProvider string
	mu              sync.RWMutex
}

// NewProviderRegistry creates an empty ProviderRegistry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]Provider)}
}

// Register adds a provider under the given key.
func (r *ProviderRegistry) Register(key string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[key] = p
}

// Get retrieves a provider by key.
func (r *ProviderRegistry) Get(key string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[key]
	return p, ok
}

// Default returns the provider designated via SetDefault.
func (r *ProviderRegistry) Default() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultProvider == "" {
		return nil, fmt.Errorf("no default provider set")
	}
	p, ok := r.providers[r.defaultProvider]
	if !ok {
		return nil, fmt.Errorf("default provider %q not found in registry", r.defaultProvider)
	}
	return p, nil
}

// SetDefault designates an already-registered provider as the default.
func (r *ProviderRegistry) SetDefault(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[key]; !ok {
		return fmt.Errorf("provider %q not registered", key)
	}
	r.defaultProvider = key
	return nil
}

// List returns the sorted keys of all registered providers.
func (r *ProviderRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.providers))
	for key := range r.providers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered providers.
func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
