package drivers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/types"
)

// FakeResourceType is the resource type served by the fake driver.
const FakeResourceType = "test_node"

// FakeDriver keeps nodes in memory and records every mutation. Tests use it
// to observe what the engine asked the driver to do and to inject failures.
type FakeDriver struct {
	mu    sync.Mutex
	nodes map[string]*Node

	// Calls records mutations in order as "<op> <uuid>" strings.
	Calls []string

	// FailNext makes the next mutation fail with a driver error.
	FailNext bool
}

// NewFakeDriver creates an empty in-memory driver.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{nodes: make(map[string]*Node)}
}

// AddNode seeds a node.
func (d *FakeDriver) AddNode(node *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[node.UUID] = node
}

// ResourceType names the kind this driver serves.
func (d *FakeDriver) ResourceType() string {
	return FakeResourceType
}

func (d *FakeDriver) failNextLocked(op, uuid string) error {
	d.Calls = append(d.Calls, op+" "+uuid)
	if d.FailNext {
		d.FailNext = false
		return engine.NewDriver(fmt.Sprintf("injected failure on %s %s", op, uuid), nil)
	}
	return nil
}

// GetNode returns a copy of the node, or the unknown sentinel.
func (d *FakeDriver) GetNode(_ context.Context, uuid string) (*Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	node, ok := d.nodes[uuid]
	if !ok {
		return UnknownNode(uuid), nil
	}
	copied := *node
	return &copied, nil
}

// ListNodes returns copies of every node, ordered by uuid.
func (d *FakeDriver) ListNodes(_ context.Context) ([]*Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	nodes := make([]*Node, 0, len(d.nodes))
	for _, node := range d.nodes {
		copied := *node
		nodes = append(nodes, &copied)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].UUID < nodes[j].UUID })
	return nodes, nil
}

// SetOwner records a new owner.
func (d *FakeDriver) SetOwner(_ context.Context, uuid, projectID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failNextLocked("set_owner", uuid); err != nil {
		return err
	}
	node, ok := d.nodes[uuid]
	if !ok {
		return engine.NewDriver(fmt.Sprintf("node %s does not exist", uuid), nil)
	}
	node.OwnerProjectID = projectID
	return nil
}

// SetLease records the lease on the node.
func (d *FakeDriver) SetLease(_ context.Context, uuid string, lease *types.Lease) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failNextLocked("set_lease", uuid); err != nil {
		return err
	}
	node, ok := d.nodes[uuid]
	if !ok {
		return engine.NewDriver(fmt.Sprintf("node %s does not exist", uuid), nil)
	}
	node.LesseeProjectID = lease.ProjectID
	node.LeaseUUID = lease.UUID
	return nil
}

// RemoveLease clears the lease if it still holds the node.
func (d *FakeDriver) RemoveLease(_ context.Context, uuid string, lease *types.Lease) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failNextLocked("remove_lease", uuid); err != nil {
		return err
	}
	node, ok := d.nodes[uuid]
	if !ok {
		return engine.NewDriver(fmt.Sprintf("node %s does not exist", uuid), nil)
	}
	if node.LeaseUUID != lease.UUID {
		return nil
	}
	node.LesseeProjectID = ""
	node.LeaseUUID = ""
	return nil
}

// AdminProjectID returns the node's owner project.
func (d *FakeDriver) AdminProjectID(_ context.Context, uuid string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	node, ok := d.nodes[uuid]
	if !ok {
		return "", nil
	}
	return node.OwnerProjectID, nil
}
