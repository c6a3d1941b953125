package circuitbreaker

import (
	"sort"
	"sync"
)

// Registry holds named circuit breakers so that every component guarding
// the same downstream dependency shares a single breaker instance.
// Registries are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// GetOrCreate returns the breaker registered under name, creating it from
// config on first use. Concurrent callers racing on the same name all
// receive the same instance. When the breaker already exists, config is
// ignored; reconfiguring requires Remove followed by GetOrCreate.
func (r *Registry) GetOrCreate(name string, config Config) (*CircuitBreaker, error) {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb, nil
	}
	cb, err := New(name, config)
	if err != nil {
		return nil, err
	}
	r.breakers[name] = cb
	return cb, nil
}

// Get returns the breaker registered under name, if any.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Names returns the registered breaker names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllStatus reports the status of every registered breaker, sorted by
// breaker name.
func (r *Registry) AllStatus() []Status {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	sort.Slice(breakers, func(i, j int) bool { return breakers[i].Name() < breakers[j].Name() })

	statuses := make([]Status, 0, len(breakers))
	for _, cb := range breakers {
		statuses = append(statuses, cb.Status())
	}
	return statuses
}

// Remove unregisters and returns the breaker stored under name. In-flight
// calls on the removed breaker finish against it undisturbed.
func (r *Registry) Remove(name string) (*CircuitBreaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	if ok {
		delete(r.breakers, name)
	}
	return cb, ok
}

// Clear unregisters every breaker.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
}
