package chains

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages chain adapters keyed by chain id
type Registry struct {
	adapters map[int64]ChainAdapter
	mu       sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[int64]ChainAdapter),
	}
}

// Register registers a chain adapter (uses adapter.ChainID() as key)
// If an adapter already exists for the chain, it will be replaced (idempotent)
func (r *Registry) Register(adapter ChainAdapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[adapter.ChainID()] = adapter
	return nil
}

// Get retrieves a chain adapter by chain id
func (r *Registry) Get(chainID int64) (ChainAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, exists := r.adapters[chainID]
	if !exists {
		return nil, fmt.Errorf("no adapter registered for chain: %d", chainID)
	}

	return adapter, nil
}

// SupportedChains returns the registered chain ids in ascending order
func (r *Registry) SupportedChains() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsSupported checks if a chain is registered
func (r *Registry) IsSupported(chainID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.adapters[chainID]
	return exists
}

// Unregister removes a chain adapter
func (r *Registry) Unregister(chainID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.adapters, chainID)
}
