package fastcount

import (
	"context"
	"fmt"
	"sort"
	"sync"

	appErrors "github.com/tallycache/tally/pkg/errors"
)

// Registry indexes managers by entity key and manager name. Registration
// happens at startup; lookups are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]*Manager
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]*Manager)}
}

func registryKey(entityKey, managerName string) string {
	return entityKey + ":" + managerName
}

// Register adds a manager, rejecting duplicates for the same identity.
func (r *Registry) Register(m *Manager) error {
	if m == nil {
		return fmt.Errorf("registry: nil manager")
	}
	key := registryKey(m.EntityKey(), m.Name())

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.managers[key]; exists {
		return fmt.Errorf("registry: manager %s already registered", key)
	}
	r.managers[key] = m
	return nil
}

// Lookup returns the manager for an entity/manager pair.
func (r *Registry) Lookup(entityKey, managerName string) (*Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[registryKey(entityKey, managerName)]
	if !ok {
		return nil, appErrors.ErrUnknownManager
	}
	return m, nil
}

// Managers returns all registered managers in deterministic order.
func (r *Registry) Managers() []*Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.managers))
	for key := range r.managers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]*Manager, 0, len(keys))
	for _, key := range keys {
		out = append(out, r.managers[key])
	}
	return out
}

// PrecacheReport pairs a manager identity with its pass results.
type PrecacheReport struct {
	EntityKey   string            `json:"entity_key"`
	ManagerName string            `json:"manager_name"`
	Results     map[string]Result `json:"results"`
}

// PrecacheAll runs an immediate pass for every manager, in order.
func (r *Registry) PrecacheAll(ctx context.Context) []PrecacheReport {
	managers := r.Managers()
	reports := make([]PrecacheReport, 0, len(managers))
	for _, m := range managers {
		reports = append(reports, PrecacheReport{
			EntityKey:   m.EntityKey(),
			ManagerName: m.Name(),
			Results:     m.Precache(ctx),
		})
	}
	return reports
}

// Sweep offers every manager a scheduled trigger opportunity. Managers that
// are not yet due do nothing.
func (r *Registry) Sweep(ctx context.Context) {
	for _, m := range r.Managers() {
		m.Sweep(ctx)
	}
}

// Wait blocks until all background precache passes finish. Test support.
func (r *Registry) Wait() {
	for _, m := range r.Managers() {
		m.Wait()
	}
}
