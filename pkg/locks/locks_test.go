package locks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/telemetry"
)

func newTestManager(t *testing.T, timeout time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), timeout, telemetry.NewMetrics(telemetry.MetricsConfig{}))
	if err != nil {
		t.Fatalf("failed to create lock manager: %v", err)
	}
	return m
}

func TestWithLockRuns(t *testing.T) {
	m := newTestManager(t, time.Second)

	ran := false
	err := m.WithLock(context.Background(), "baremetal", "node-1", func() error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock failed: %v", err)
	}
	if !ran {
		t.Fatal("callback did not run")
	}
}

func TestWithLockPropagatesError(t *testing.T) {
	m := newTestManager(t, time.Second)

	want := errors.New("boom")
	err := m.WithLock(context.Background(), "baremetal", "node-1", func() error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestWithLockSerializes(t *testing.T) {
	m := newTestManager(t, 5*time.Second)

	var inside int
	var maxInside int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithLock(context.Background(), "baremetal", "node-1", func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("expected strict serialization, saw %d holders at once", maxInside)
	}
}

func TestWithLockTimeout(t *testing.T) {
	m := newTestManager(t, 100*time.Millisecond)

	hold := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = m.WithLock(context.Background(), "baremetal", "node-1", func() error {
			close(hold)
			<-release
			return nil
		})
	}()
	<-hold
	defer close(release)

	err := m.WithLock(context.Background(), "baremetal", "node-1", func() error {
		t.Error("callback must not run after lock timeout")
		return nil
	})
	if !engine.IsBusy(err) {
		t.Fatalf("expected busy error, got %v", err)
	}
}

func TestLocksAreIndependentPerResource(t *testing.T) {
	m := newTestManager(t, 200*time.Millisecond)

	hold := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = m.WithLock(context.Background(), "baremetal", "node-1", func() error {
			close(hold)
			<-release
			return nil
		})
	}()
	<-hold
	defer close(release)

	// A different resource must not block on node-1's lock.
	err := m.WithLock(context.Background(), "baremetal", "node-2", func() error {
		return nil
	})
	if err != nil {
		t.Fatalf("independent resource blocked: %v", err)
	}
}
