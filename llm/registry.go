// Copyright 2025 Fiscalia
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"fmt"
	"sync"
)

// Registry holds the providers available to the routing tiers.
// Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	defaults  map[ProviderType]string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		defaults:  make(map[ProviderType]string),
	}
}

// Register adds a provider under its Name. Registering the same name twice
// replaces the earlier provider. The first provider registered for a type
// becomes that type's default.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("cannot register nil provider")
	}
	if p.Name() == "" {
		return fmt.Errorf("provider name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	if _, ok := r.defaults[p.Type()]; !ok {
		r.defaults[p.Type()] = p.Name()
	}
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// DefaultFor returns the default provider for a type, if any is registered.
func (r *Registry) DefaultFor(t ProviderType) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.defaults[t]
	if !ok {
		return nil, false
	}
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// HealthAll runs HealthCheck on every registered provider and returns the
// results keyed by provider name. A provider whose check errors is reported
// as unhealthy with the error message.
func (r *Registry) HealthAll(ctx context.Context) map[string]*HealthCheckResult {
	r.mu.RLock()
	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	r.mu.RUnlock()

	results := make(map[string]*HealthCheckResult, len(providers))
	var wg sync.WaitGroup
	var resMu sync.Mutex

	for _, p := range providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			res, err := p.HealthCheck(ctx)
			if err != nil {
				res = &HealthCheckResult{
					Status:  HealthStatusUnhealthy,
					Message: err.Error(),
				}
			}
			resMu.Lock()
			results[p.Name()] = res
			resMu.Unlock()
		}(p)
	}
	wg.Wait()

	return results
}
