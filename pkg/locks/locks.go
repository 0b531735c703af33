// Package locks implements the named per-resource lock serializing every
// lifecycle transition that touches a resource. The lock is external: an
// in-process mutex serializes goroutines of one worker, and an flock(2) file
// in a shared directory serializes API and manager processes on the host.
package locks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/telemetry"
)

const retryDelay = 50 * time.Millisecond

// Manager hands out named locks keyed by resource_type + "-" + resource_id.
type Manager struct {
	dir     string
	timeout time.Duration
	metrics *telemetry.Metrics

	mu    sync.Mutex
	local map[string]*sync.Mutex
}

// NewManager creates a lock manager backed by dir. The directory is created
// if missing; every worker sharing a host must point at the same directory.
func NewManager(dir string, timeout time.Duration, metrics *telemetry.Metrics) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &Manager{
		dir:     dir,
		timeout: timeout,
		metrics: metrics,
		local:   make(map[string]*sync.Mutex),
	}, nil
}

// Key builds the canonical lock name for a resource.
func Key(resourceType, resourceUUID string) string {
	return resourceType + "-" + resourceUUID
}

// WithLock runs fn while holding the named lock for the resource. The lock
// is acquired once per transition and released on every exit path, panics
// included. Acquisition is bounded by the configured timeout; on timeout a
// resource-busy error is returned and fn never runs.
func (m *Manager) WithLock(ctx context.Context, resourceType, resourceUUID string, fn func() error) error {
	key := Key(resourceType, resourceUUID)
	started := time.Now()

	local := m.localMutex(key)
	local.Lock()
	defer local.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	fl := flock.New(filepath.Join(m.dir, sanitize(key)+".lock"))
	locked, err := fl.TryLockContext(lockCtx, retryDelay)
	waited := time.Since(started)
	if err != nil || !locked {
		m.metrics.RecordLockWait(waited, true)
		return engine.NewBusy(key, err)
	}
	m.metrics.RecordLockWait(waited, false)
	defer func() {
		_ = fl.Unlock()
	}()

	return fn()
}

// localMutex returns the in-process mutex for key, creating it on first use.
func (m *Manager) localMutex(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mu, ok := m.local[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	m.local[key] = mu
	return mu
}

// sanitize keeps lock file names flat even when identifiers carry path
// separators.
func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, key)
}
