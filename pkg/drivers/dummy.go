package drivers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/telemetry"
	"github.com/metalease/metalease/pkg/types"
)

// DummyResourceType is the resource type served by the dummy driver.
const DummyResourceType = "dummy_node"

// DummyDriver keeps nodes as JSON files in a directory. It exists for
// development and demos: edit a file, lease the node.
type DummyDriver struct {
	dir    string
	logger *telemetry.Logger

	// mu serializes read-modify-write of node files within the process.
	mu sync.Mutex
}

// NewDummyDriver creates a file-backed driver rooted at dir.
func NewDummyDriver(dir string, logger *telemetry.Logger) (*DummyDriver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create node directory: %w", err)
	}
	return &DummyDriver{dir: dir, logger: logger}, nil
}

// ResourceType names the kind this driver serves.
func (d *DummyDriver) ResourceType() string {
	return DummyResourceType
}

func (d *DummyDriver) nodePath(uuid string) string {
	return filepath.Join(d.dir, uuid+".json")
}

func (d *DummyDriver) readNode(uuid string) (*Node, error) {
	data, err := os.ReadFile(d.nodePath(uuid))
	if os.IsNotExist(err) {
		return UnknownNode(uuid), nil
	}
	if err != nil {
		return nil, engine.NewDriver(fmt.Sprintf("failed to read node %s", uuid), err)
	}

	var node Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, engine.NewDriver(fmt.Sprintf("failed to parse node %s", uuid), err)
	}
	node.UUID = uuid
	return &node, nil
}

func (d *DummyDriver) writeNode(node *Node) error {
	data, err := json.MarshalIndent(node, "", "  ")
	if err != nil {
		return engine.NewDriver(fmt.Sprintf("failed to encode node %s", node.UUID), err)
	}
	if err := os.WriteFile(d.nodePath(node.UUID), data, 0o644); err != nil {
		return engine.NewDriver(fmt.Sprintf("failed to write node %s", node.UUID), err)
	}
	return nil
}

// GetNode reads one node file; missing files yield the unknown sentinel.
func (d *DummyDriver) GetNode(_ context.Context, uuid string) (*Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readNode(uuid)
}

// ListNodes reads every node file in the directory.
func (d *DummyDriver) ListNodes(_ context.Context) ([]*Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, engine.NewDriver("failed to list node directory", err)
	}

	nodes := []*Node{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		uuid := strings.TrimSuffix(entry.Name(), ".json")
		node, err := d.readNode(uuid)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].UUID < nodes[j].UUID })
	return nodes, nil
}

// SetOwner rewrites the node's owner project.
func (d *DummyDriver) SetOwner(_ context.Context, uuid, projectID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	node, err := d.readNode(uuid)
	if err != nil {
		return err
	}
	if node.Unknown {
		return engine.NewDriver(fmt.Sprintf("node %s does not exist", uuid), nil)
	}
	node.OwnerProjectID = projectID
	return d.writeNode(node)
}

// SetLease records the lease on the node.
func (d *DummyDriver) SetLease(_ context.Context, uuid string, lease *types.Lease) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	node, err := d.readNode(uuid)
	if err != nil {
		return err
	}
	if node.Unknown {
		return engine.NewDriver(fmt.Sprintf("node %s does not exist", uuid), nil)
	}
	node.LesseeProjectID = lease.ProjectID
	node.LeaseUUID = lease.UUID
	return d.writeNode(node)
}

// RemoveLease clears the lease from the node if it still holds it.
func (d *DummyDriver) RemoveLease(_ context.Context, uuid string, lease *types.Lease) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	node, err := d.readNode(uuid)
	if err != nil {
		return err
	}
	if node.Unknown {
		return engine.NewDriver(fmt.Sprintf("node %s does not exist", uuid), nil)
	}
	if node.LeaseUUID != lease.UUID {
		// A later lease already took the node over.
		if d.logger != nil {
			d.logger.WithResource(DummyResourceType, uuid).
				WithLease(lease.UUID).
				WithField("live_lease_uuid", node.LeaseUUID).
				Debug("skipping lease removal, node held by another lease")
		}
		return nil
	}
	node.LesseeProjectID = ""
	node.LeaseUUID = ""
	return d.writeNode(node)
}

// AdminProjectID returns the node's owner project.
func (d *DummyDriver) AdminProjectID(_ context.Context, uuid string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	node, err := d.readNode(uuid)
	if err != nil {
		return "", err
	}
	return node.OwnerProjectID, nil
}
