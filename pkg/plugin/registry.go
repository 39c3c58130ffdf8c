package plugin

import (
	"fmt"
	"log"
	"sort"
	"sync"
)

// Priority constants for factory registration.
// Higher priority values override lower priority factories with the same name.
const (
	// PriorityDefault is the default priority for factories.
	// Reference implementations should use this priority.
	PriorityDefault = 0

	// PriorityOverride is used by private implementations to override
	// reference ones with the same type name.
	PriorityOverride = 100
)

// FactoryInfo contains metadata about a registered component factory.
type FactoryInfo struct {
	// Name is the component type name, e.g. "Dev4b". Plugin descriptors
	// refer to factories by this name.
	Name string

	// Description is a human-readable description of the component type.
	Description string

	// Kind is the capability the constructed components provide.
	Kind Kind

	// Priority determines which factory wins when multiple factories
	// register with the same name. Higher priority wins.
	Priority int

	// Factory creates new instances of the component type.
	Factory Factory
}

// Registry manages component factories.
// It supports priority-based override, allowing private implementations
// to replace public ones at compile time through import ordering.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FactoryInfo
	order     []string
}

// NewRegistry creates a new factory registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FactoryInfo),
		order:     make([]string, 0),
	}
}

// Register adds a factory to the registry.
// If a factory with the same name already exists, the one with higher
// priority wins. If priorities are equal, the later registration wins.
func (r *Registry) Register(info FactoryInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info.Name == "" {
		return fmt.Errorf("factory name cannot be empty")
	}

	if info.Factory == nil {
		return fmt.Errorf("factory %s: factory cannot be nil", info.Name)
	}

	if _, err := ParseKind(string(info.Kind)); err != nil {
		return fmt.Errorf("factory %s: %w", info.Name, err)
	}

	existing, exists := r.factories[info.Name]
	if exists {
		if info.Priority < existing.Priority {
			log.Printf("Factory %q registration skipped (priority %d < existing %d)",
				info.Name, info.Priority, existing.Priority)
			return nil
		}

		log.Printf("Factory %q being overridden (priority %d -> %d)",
			info.Name, existing.Priority, info.Priority)
	}

	r.factories[info.Name] = info

	if !exists {
		r.order = append(r.order, info.Name)
	}

	log.Printf("Factory %q registered (%s, priority %d): %s",
		info.Name, info.Kind, info.Priority, info.Description)

	return nil
}

// Get returns the factory info for a given name, or nil if not found.
func (r *Registry) Get(name string) *FactoryInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.factories[name]
	if !ok {
		return nil
	}
	return &info
}

// List returns all registered factories sorted by kind, then name.
func (r *Registry) List() []FactoryInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]FactoryInfo, 0, len(r.factories))
	for _, name := range r.order {
		result = append(result, r.factories[name])
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Kind != result[j].Kind {
			return result[i].Kind < result[j].Kind
		}
		return result[i].Name < result[j].Name
	})

	return result
}

// Names returns the names of all registered factories in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.order))
	copy(result, r.order)
	return result
}

// Clear removes all registered factories. Useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories = make(map[string]FactoryInfo)
	r.order = make([]string, 0)
}

// Global registry instance
var globalRegistry = NewRegistry()

// Global returns the process-wide registry that init() registrations go to.
func Global() *Registry {
	return globalRegistry
}

// Register adds a factory to the global registry.
// This is typically called from init() functions in component packages.
func Register(info FactoryInfo) error {
	return globalRegistry.Register(info)
}

// MustRegister is like Register but panics on an invalid registration.
func MustRegister(info FactoryInfo) {
	if err := Register(info); err != nil {
		panic(err)
	}
}

// Get returns factory info from the global registry.
func Get(name string) *FactoryInfo {
	return globalRegistry.Get(name)
}

// List returns all factories from the global registry.
func List() []FactoryInfo {
	return globalRegistry.List()
}

// Names returns all factory names from the global registry.
func Names() []string {
	return globalRegistry.Names()
}
