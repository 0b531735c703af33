// Package drivers abstracts the physical resource kinds the service can
// lease. A driver reads and writes live node state (current owner, current
// lease) for one resource type; the dummy driver keeps nodes in local files
// for development, the bare-metal driver talks to an external inventory
// service, and the fake driver backs tests.
package drivers

import (
	"context"
	"fmt"
	"sync"

	"github.com/metalease/metalease/pkg/engine"
)

// Node and Driver are declared on the engine's driver contract; the aliases
// keep this package self-contained to read.
type (
	Node   = engine.Node
	Driver = engine.ResourceDriver
)

// UnknownNode returns the sentinel snapshot for an unrecorded resource.
func UnknownNode(uuid string) *Node {
	return &Node{UUID: uuid, Unknown: true}
}

// Registry maps resource types to their drivers.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry creates an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Register adds a driver for its resource type.
func (r *Registry) Register(d Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt := d.ResourceType()
	if _, exists := r.drivers[rt]; exists {
		return fmt.Errorf("driver for resource type %s already registered", rt)
	}
	r.drivers[rt] = d
	return nil
}

// Get returns the driver for a resource type.
func (r *Registry) Get(resourceType string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.drivers[resourceType]
	if !ok {
		return nil, engine.NewValidation(engine.CodeInvalidResourceType,
			fmt.Sprintf("unknown resource type %q", resourceType))
	}
	return d, nil
}

// ResourceTypes lists the registered resource types.
func (r *Registry) ResourceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.drivers))
	for rt := range r.drivers {
		out = append(out, rt)
	}
	return out
}

// ListAllNodes enumerates the nodes of every registered driver.
func (r *Registry) ListAllNodes(ctx context.Context) (map[string][]*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]*Node, len(r.drivers))
	for rt, d := range r.drivers {
		nodes, err := d.ListNodes(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s nodes: %w", rt, err)
		}
		out[rt] = nodes
	}
	return out, nil
}
