package drivers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/telemetry"
	"github.com/metalease/metalease/pkg/types"
)

// BaremetalResourceType is the resource type served by the bare-metal
// driver.
const BaremetalResourceType = "baremetal"

// retryInterval is the pause before the single retry of a transient call.
const retryInterval = 500 * time.Millisecond

// BaremetalConfig configures the bare-metal inventory client.
type BaremetalConfig struct {
	Endpoint  string
	AuthToken string
	Timeout   time.Duration
}

// BaremetalDriver talks to an external bare-metal inventory service over
// HTTP. Transient failures (network errors and 5xx) are retried exactly
// once; a second failure is surfaced as a driver error.
type BaremetalDriver struct {
	cfg     BaremetalConfig
	client  *http.Client
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewBaremetalDriver creates a bare-metal inventory client.
func NewBaremetalDriver(cfg BaremetalConfig, logger *telemetry.Logger, metrics *telemetry.Metrics) (*BaremetalDriver, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("baremetal endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BaremetalDriver{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		metrics: metrics,
	}, nil
}

// ResourceType names the kind this driver serves.
func (d *BaremetalDriver) ResourceType() string {
	return BaremetalResourceType
}

// transientError marks a failure worth one retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// do performs one HTTP exchange against the inventory service.
func (d *BaremetalDriver) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.cfg.Endpoint+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.AuthToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &transientError{err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return engine.NewNotFound(fmt.Sprintf("inventory has no %s", path))
	case resp.StatusCode >= 500:
		return &transientError{err: fmt.Errorf("inventory returned %s", resp.Status)}
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("inventory rejected %s %s: %s: %s", method, path, resp.Status, data)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// call runs one exchange with a single retry on transient failure.
func (d *BaremetalDriver) call(ctx context.Context, op, method, path string, body, out any) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retryInterval), 1), ctx)

	err := backoff.Retry(func() error {
		err := d.do(ctx, method, path, body, out)
		var transient *transientError
		if err != nil && !errors.As(err, &transient) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)

	if d.metrics != nil {
		d.metrics.RecordDriverCall(BaremetalResourceType, op, err)
	}
	if err != nil {
		var transient *transientError
		if errors.As(err, &transient) {
			return engine.NewDriver(fmt.Sprintf("inventory %s failed", op), transient.err)
		}
		return err
	}
	return nil
}

// GetNode reads the live state of one node; a missing node yields the
// unknown sentinel.
func (d *BaremetalDriver) GetNode(ctx context.Context, uuid string) (*Node, error) {
	var node Node
	err := d.call(ctx, "get_node", http.MethodGet, "/nodes/"+uuid, nil, &node)
	if engine.IsNotFound(err) {
		return UnknownNode(uuid), nil
	}
	if err != nil {
		return nil, err
	}
	node.UUID = uuid
	return &node, nil
}

// ListNodes enumerates the inventory.
func (d *BaremetalDriver) ListNodes(ctx context.Context) ([]*Node, error) {
	var payload struct {
		Nodes []*Node `json:"nodes"`
	}
	if err := d.call(ctx, "list_nodes", http.MethodGet, "/nodes", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Nodes, nil
}

// SetOwner records a new administrative owner on the node.
func (d *BaremetalDriver) SetOwner(ctx context.Context, uuid, projectID string) error {
	body := map[string]string{"owner_project_id": projectID}
	return d.call(ctx, "set_owner", http.MethodPut, "/nodes/"+uuid+"/owner", body, nil)
}

// SetLease records the lease on the node.
func (d *BaremetalDriver) SetLease(ctx context.Context, uuid string, lease *types.Lease) error {
	body := map[string]string{
		"lease_uuid":        lease.UUID,
		"lessee_project_id": lease.ProjectID,
	}
	return d.call(ctx, "set_lease", http.MethodPut, "/nodes/"+uuid+"/lease", body, nil)
}

// RemoveLease clears the lease from the node if it still holds it. The
// match check runs here so a stale removal never touches a node a newer
// lease took over.
func (d *BaremetalDriver) RemoveLease(ctx context.Context, uuid string, lease *types.Lease) error {
	node, err := d.GetNode(ctx, uuid)
	if err != nil {
		return err
	}
	if node.Unknown || node.LeaseUUID != lease.UUID {
		return nil
	}
	return d.call(ctx, "remove_lease", http.MethodDelete, "/nodes/"+uuid+"/lease", nil, nil)
}

// AdminProjectID returns the node's owner project.
func (d *BaremetalDriver) AdminProjectID(ctx context.Context, uuid string) (string, error) {
	node, err := d.GetNode(ctx, uuid)
	if err != nil {
		return "", err
	}
	return node.OwnerProjectID, nil
}
