package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/metalease/metalease/pkg/drivers"
	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/locks"
	"github.com/metalease/metalease/pkg/stores"
	"github.com/metalease/metalease/pkg/types"
)

var engineBase = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

const (
	nodeUUID = "11111111-2222-3333-4444-555555555555"
	ownerA   = "owner-a"
	ownerB   = "owner-b"
	lesseeB  = "lessee-b"
	lesseeC  = "lessee-c"
)

// fakeClock is a settable wall clock shared with the engine under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// chainIdentity resolves every ident to itself and answers parent chains
// from a static map.
type chainIdentity struct {
	parents map[string][]string
}

func (c *chainIdentity) ResolveProject(_ context.Context, ident string) (string, error) {
	return ident, nil
}

func (c *chainIdentity) ProjectParentChain(_ context.Context, id string) ([]string, error) {
	return append([]string{id}, c.parents[id]...), nil
}

type testEnv struct {
	engine *engine.Engine
	store  *stores.SQLiteStore
	driver *drivers.FakeDriver
	clock  *fakeClock
}

func setupEngine(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(t.TempDir(), "metalease.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	driver := drivers.NewFakeDriver()
	driver.AddNode(&drivers.Node{UUID: nodeUUID, Name: "node-1", OwnerProjectID: ownerA})
	registry := drivers.NewRegistry()
	if err := registry.Register(driver); err != nil {
		t.Fatalf("failed to register driver: %v", err)
	}

	locker, err := locks.NewManager(t.TempDir(), 2*time.Second, nil)
	if err != nil {
		t.Fatalf("failed to create lock manager: %v", err)
	}

	clock := &fakeClock{now: engineBase}
	eng := engine.New(engine.Config{
		Store:   store,
		Locks:   locker,
		Drivers: registry,
		Identity: &chainIdentity{parents: map[string][]string{
			lesseeC: {lesseeB},
		}},
		DefaultResourceType: drivers.FakeResourceType,
	})
	eng.SetClock(clock.Now)

	return &testEnv{engine: eng, store: store, driver: driver, clock: clock}
}

func (env *testEnv) day(n int) time.Time {
	return engineBase.AddDate(0, 0, n)
}

func (env *testEnv) mustOffer(t *testing.T, offer *types.Offer) *types.Offer {
	t.Helper()
	created, err := env.engine.OfferCreate(context.Background(), offer)
	if err != nil {
		t.Fatalf("failed to create offer: %v", err)
	}
	return created
}

func (env *testEnv) mustLease(t *testing.T, lease *types.Lease) *types.Lease {
	t.Helper()
	created, err := env.engine.LeaseCreate(context.Background(), lease)
	if err != nil {
		t.Fatalf("failed to create lease: %v", err)
	}
	return created
}

func (env *testEnv) events(t *testing.T) []*types.Event {
	t.Helper()
	events, err := env.store.EventGetAll(context.Background(), engine.EventFilters{})
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	return events
}

func (env *testEnv) lastEventType(t *testing.T) string {
	t.Helper()
	events := env.events(t)
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}
	return events[len(events)-1].EventType
}

func TestOfferCreateDefaults(t *testing.T) {
	env := setupEngine(t)

	offer := env.mustOffer(t, &types.Offer{
		ProjectID:    ownerA,
		ResourceUUID: nodeUUID,
	})

	if offer.UUID == "" {
		t.Error("expected a generated uuid")
	}
	if offer.ResourceType != drivers.FakeResourceType {
		t.Errorf("expected default resource type, got %q", offer.ResourceType)
	}
	if offer.Status != types.OfferStatusAvailable {
		t.Errorf("expected status available, got %q", offer.Status)
	}
	if !offer.StartTime.Equal(engineBase) {
		t.Errorf("expected start time defaulted to now, got %v", offer.StartTime)
	}
	if !offer.EndTime.Equal(types.MaxTime) {
		t.Errorf("expected end time defaulted to the sentinel, got %v", offer.EndTime)
	}
	if got := env.lastEventType(t); got != engine.EventOfferCreateEnd {
		t.Errorf("expected %s event, got %s", engine.EventOfferCreateEnd, got)
	}
}

func TestOfferCreateRequiresResourceAdmin(t *testing.T) {
	env := setupEngine(t)

	_, err := env.engine.OfferCreate(context.Background(), &types.Offer{
		ProjectID:    "intruder",
		ResourceUUID: nodeUUID,
	})
	if !engine.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if len(env.events(t)) != 0 {
		t.Error("rejected offer must not journal an event")
	}
}

func TestOfferCreateRejectsOverlap(t *testing.T) {
	env := setupEngine(t)

	env.mustOffer(t, &types.Offer{
		ProjectID:    ownerA,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(1),
		EndTime:      env.day(10),
	})

	_, err := env.engine.OfferCreate(context.Background(), &types.Offer{
		ProjectID:    ownerA,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(5),
		EndTime:      env.day(15),
	})
	if !engine.IsConflict(err) {
		t.Fatalf("expected conflict for overlapping offer, got %v", err)
	}

	// Touching windows do not conflict.
	env.mustOffer(t, &types.Offer{
		ProjectID:    ownerA,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(10),
		EndTime:      env.day(15),
	})
}

func TestOfferCreateRejectsInvertedWindow(t *testing.T) {
	env := setupEngine(t)

	_, err := env.engine.OfferCreate(context.Background(), &types.Offer{
		ProjectID:    ownerA,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(5),
		EndTime:      env.day(1),
	})
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLeaseFromOfferLifecycle(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	offer := env.mustOffer(t, &types.Offer{
		ProjectID:    ownerA,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(0),
		EndTime:      env.day(30),
	})

	lease := env.mustLease(t, &types.Lease{
		ProjectID: lesseeB,
		OfferUUID: offer.UUID,
		StartTime: env.day(1),
	})
	if lease.Status != types.LeaseStatusCreated {
		t.Fatalf("expected status created, got %q", lease.Status)
	}
	if lease.OwnerID != ownerA {
		t.Errorf("expected owner copied from offer, got %q", lease.OwnerID)
	}
	if !lease.EndTime.Equal(env.day(30)) {
		t.Errorf("expected end time defaulted to offer end, got %v", lease.EndTime)
	}

	env.clock.Set(env.day(1))
	if err := env.engine.LeaseFulfill(ctx, lease.UUID); err != nil {
		t.Fatalf("failed to fulfill lease: %v", err)
	}
	got, err := env.store.LeaseGetByUUID(ctx, lease.UUID)
	if err != nil {
		t.Fatalf("failed to reload lease: %v", err)
	}
	if got.Status != types.LeaseStatusActive {
		t.Fatalf("expected status active, got %q", got.Status)
	}
	if got.FulfillTime == nil || !got.FulfillTime.Equal(env.day(1)) {
		t.Errorf("expected fulfill time stamped at the clock, got %v", got.FulfillTime)
	}
	node, err := env.driver.GetNode(ctx, nodeUUID)
	if err != nil {
		t.Fatalf("failed to read node: %v", err)
	}
	if node.LeaseUUID != lease.UUID || node.LesseeProjectID != lesseeB {
		t.Errorf("expected the node to carry the lease, got %+v", node)
	}

	env.clock.Set(env.day(30))
	if err := env.engine.LeaseExpire(ctx, lease.UUID); err != nil {
		t.Fatalf("failed to expire lease: %v", err)
	}
	got, err = env.store.LeaseGetByUUID(ctx, lease.UUID)
	if err != nil {
		t.Fatalf("failed to reload lease: %v", err)
	}
	if got.Status != types.LeaseStatusExpired {
		t.Fatalf("expected status expired, got %q", got.Status)
	}
	if got.ExpireTime == nil || !got.ExpireTime.Equal(env.day(30)) {
		t.Errorf("expected expire time stamped at the clock, got %v", got.ExpireTime)
	}
	node, err = env.driver.GetNode(ctx, nodeUUID)
	if err != nil {
		t.Fatalf("failed to read node: %v", err)
	}
	if node.LeaseUUID != "" {
		t.Errorf("expected the lease cleared from the node, got %q", node.LeaseUUID)
	}

	var gotTypes []string
	for _, e := range env.events(t) {
		gotTypes = append(gotTypes, e.EventType)
	}
	wantTypes := []string{
		engine.EventOfferCreateEnd,
		engine.EventLeaseCreateEnd,
		engine.EventLeaseFulfillEnd,
		engine.EventLeaseExpireEnd,
	}
	if len(gotTypes) != len(wantTypes) {
		t.Fatalf("expected %d events, got %v", len(wantTypes), gotTypes)
	}
	for i, want := range wantTypes {
		if gotTypes[i] != want {
			t.Errorf("event %d: expected %s, got %s", i, want, gotTypes[i])
		}
	}
}

func TestLeaseFromOfferLesseeRestriction(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	offer := env.mustOffer(t, &types.Offer{
		ProjectID:    ownerA,
		ResourceUUID: nodeUUID,
		LesseeID:     lesseeB,
		StartTime:    env.day(0),
		EndTime:      env.day(30),
	})

	_, err := env.engine.LeaseCreate(ctx, &types.Lease{
		ProjectID: "stranger",
		OfferUUID: offer.UUID,
		StartTime: env.day(1),
		EndTime:   env.day(2),
	})
	if !engine.IsForbidden(err) {
		t.Fatalf("expected forbidden for unrelated project, got %v", err)
	}

	// lessee-c descends from lessee-b, so the restriction admits it.
	env.mustLease(t, &types.Lease{
		ProjectID: lesseeC,
		OfferUUID: offer.UUID,
		StartTime: env.day(1),
		EndTime:   env.day(2),
	})
}

func TestLeaseFromCancelledOffer(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	offer := env.mustOffer(t, &types.Offer{
		ProjectID:    ownerA,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(0),
		EndTime:      env.day(30),
	})
	if err := env.engine.OfferCancel(ctx, offer.UUID); err != nil {
		t.Fatalf("failed to cancel offer: %v", err)
	}

	_, err := env.engine.LeaseCreate(ctx, &types.Lease{
		ProjectID: lesseeB,
		OfferUUID: offer.UUID,
	})
	if !engine.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var cerr *engine.Error
	if !errors.As(err, &cerr) || cerr.Code != engine.CodeOfferNotAvailable {
		t.Errorf("expected code %s, got %v", engine.CodeOfferNotAvailable, err)
	}
}

func TestLeaseWindowMustFitOffer(t *testing.T) {
	env := setupEngine(t)

	offer := env.mustOffer(t, &types.Offer{
		ProjectID:    ownerA,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(0),
		EndTime:      env.day(10),
	})

	_, err := env.engine.LeaseCreate(context.Background(), &types.Lease{
		ProjectID: lesseeB,
		OfferUUID: offer.UUID,
		StartTime: env.day(5),
		EndTime:   env.day(15),
	})
	if !engine.IsConflict(err) {
		t.Fatalf("expected conflict for window beyond the offer, got %v", err)
	}
}

func TestLeaseFromOfferNonOverlap(t *testing.T) {
	env := setupEngine(t)

	offer := env.mustOffer(t, &types.Offer{
		ProjectID:    ownerA,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(0),
		EndTime:      env.day(30),
	})
	env.mustLease(t, &types.Lease{
		ProjectID: lesseeB,
		OfferUUID: offer.UUID,
		StartTime: env.day(1),
		EndTime:   env.day(10),
	})

	_, err := env.engine.LeaseCreate(context.Background(), &types.Lease{
		ProjectID: lesseeC,
		OfferUUID: offer.UUID,
		StartTime: env.day(5),
		EndTime:   env.day(12),
	})
	if !engine.IsConflict(err) {
		t.Fatalf("expected conflict with the committed lease, got %v", err)
	}

	// The freed boundary is claimable.
	env.mustLease(t, &types.Lease{
		ProjectID: lesseeC,
		OfferUUID: offer.UUID,
		StartTime: env.day(10),
		EndTime:   env.day(12),
	})
}

func TestLeaseDirectCreate(t *testing.T) {
	env := setupEngine(t)

	lease := env.mustLease(t, &types.Lease{
		ProjectID:    lesseeB,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(1),
		EndTime:      env.day(5),
	})
	if lease.OwnerID != ownerA {
		t.Errorf("expected owner defaulted from the driver, got %q", lease.OwnerID)
	}

	_, err := env.engine.LeaseCreate(context.Background(), &types.Lease{
		ProjectID:    lesseeB,
		OwnerID:      "intruder",
		ResourceUUID: nodeUUID,
		StartTime:    env.day(6),
		EndTime:      env.day(7),
	})
	if !engine.IsForbidden(err) {
		t.Fatalf("expected forbidden for a non-admin owner, got %v", err)
	}
}

func TestLeaseFulfillDriverFailure(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	lease := env.mustLease(t, &types.Lease{
		ProjectID:    lesseeB,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(0),
		EndTime:      env.day(5),
	})

	env.driver.FailNext = true
	err := env.engine.LeaseFulfill(ctx, lease.UUID)
	if !engine.IsDriver(err) {
		t.Fatalf("expected driver error, got %v", err)
	}
	got, err := env.store.LeaseGetByUUID(ctx, lease.UUID)
	if err != nil {
		t.Fatalf("failed to reload lease: %v", err)
	}
	if got.Status != types.LeaseStatusError {
		t.Errorf("expected status error, got %q", got.Status)
	}
	if got := env.lastEventType(t); got != engine.EventLeaseFulfillError {
		t.Errorf("expected %s event, got %s", engine.EventLeaseFulfillError, got)
	}

	// A lease in error is terminal; fulfill does not touch it again.
	if err := env.engine.LeaseFulfill(ctx, lease.UUID); err != nil {
		t.Fatalf("expected terminal fulfill to be a no-op, got %v", err)
	}
}

func TestLeaseCancelRetriesAfterDriverFailure(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	lease := env.mustLease(t, &types.Lease{
		ProjectID:    lesseeB,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(0),
		EndTime:      env.day(5),
	})
	if err := env.engine.LeaseFulfill(ctx, lease.UUID); err != nil {
		t.Fatalf("failed to fulfill lease: %v", err)
	}

	env.driver.FailNext = true
	err := env.engine.LeaseCancel(ctx, lease.UUID)
	if !engine.IsDriver(err) {
		t.Fatalf("expected driver error, got %v", err)
	}
	got, err := env.store.LeaseGetByUUID(ctx, lease.UUID)
	if err != nil {
		t.Fatalf("failed to reload lease: %v", err)
	}
	if got.Status != types.LeaseStatusWaitCancel {
		t.Fatalf("expected status wait_cancel, got %q", got.Status)
	}

	if err := env.engine.LeaseCancel(ctx, lease.UUID); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	got, err = env.store.LeaseGetByUUID(ctx, lease.UUID)
	if err != nil {
		t.Fatalf("failed to reload lease: %v", err)
	}
	if got.Status != types.LeaseStatusCancelled {
		t.Fatalf("expected status cancelled after retry, got %q", got.Status)
	}
}

func TestLeaseCancelIdempotent(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	lease := env.mustLease(t, &types.Lease{
		ProjectID:    lesseeB,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(0),
		EndTime:      env.day(5),
	})
	if err := env.engine.LeaseCancel(ctx, lease.UUID); err != nil {
		t.Fatalf("failed to cancel lease: %v", err)
	}
	before := len(env.events(t))

	if err := env.engine.LeaseCancel(ctx, lease.UUID); err != nil {
		t.Fatalf("second cancel must be a no-op, got %v", err)
	}
	if got := len(env.events(t)); got != before {
		t.Errorf("second cancel journaled %d extra events", got-before)
	}
}

func TestLeaseCancelNeverFulfilledSkipsDriver(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	lease := env.mustLease(t, &types.Lease{
		ProjectID:    lesseeB,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(1),
		EndTime:      env.day(5),
	})
	if err := env.engine.LeaseCancel(ctx, lease.UUID); err != nil {
		t.Fatalf("failed to cancel lease: %v", err)
	}
	for _, call := range env.driver.Calls {
		if call == "remove_lease "+nodeUUID {
			t.Error("driver must not be asked to remove a lease that was never set")
		}
	}
}

func TestOfferCancelCascadesToLeases(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	offer := env.mustOffer(t, &types.Offer{
		ProjectID:    ownerA,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(0),
		EndTime:      env.day(30),
	})
	active := env.mustLease(t, &types.Lease{
		ProjectID: lesseeB,
		OfferUUID: offer.UUID,
		StartTime: env.day(0),
		EndTime:   env.day(10),
	})
	if err := env.engine.LeaseFulfill(ctx, active.UUID); err != nil {
		t.Fatalf("failed to fulfill lease: %v", err)
	}
	pending := env.mustLease(t, &types.Lease{
		ProjectID: lesseeC,
		OfferUUID: offer.UUID,
		StartTime: env.day(10),
		EndTime:   env.day(20),
	})

	if err := env.engine.OfferCancel(ctx, offer.UUID); err != nil {
		t.Fatalf("failed to cancel offer: %v", err)
	}

	gotOffer, err := env.store.OfferGetByUUID(ctx, offer.UUID)
	if err != nil {
		t.Fatalf("failed to reload offer: %v", err)
	}
	if gotOffer.Status != types.OfferStatusCancelled {
		t.Errorf("expected offer cancelled, got %q", gotOffer.Status)
	}
	for _, uuid := range []string{active.UUID, pending.UUID} {
		lease, err := env.store.LeaseGetByUUID(ctx, uuid)
		if err != nil {
			t.Fatalf("failed to reload lease: %v", err)
		}
		if lease.Status != types.LeaseStatusCancelled {
			t.Errorf("expected lease %s cancelled, got %q", uuid, lease.Status)
		}
	}
	node, err := env.driver.GetNode(ctx, nodeUUID)
	if err != nil {
		t.Fatalf("failed to read node: %v", err)
	}
	if node.LeaseUUID != "" {
		t.Errorf("expected the active lease cleared from the node, got %q", node.LeaseUUID)
	}
}

func TestChildLeaseCascade(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	offer := env.mustOffer(t, &types.Offer{
		ProjectID:    ownerA,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(0),
		EndTime:      env.day(30),
	})
	parent := env.mustLease(t, &types.Lease{
		ProjectID: lesseeB,
		OfferUUID: offer.UUID,
		StartTime: env.day(0),
		EndTime:   env.day(30),
	})

	// The lessee sublets part of its window.
	childOffer := env.mustOffer(t, &types.Offer{
		ProjectID:       lesseeB,
		ResourceUUID:    nodeUUID,
		ParentLeaseUUID: parent.UUID,
		StartTime:       env.day(5),
		EndTime:         env.day(15),
	})
	childLease := env.mustLease(t, &types.Lease{
		ProjectID: lesseeC,
		OfferUUID: childOffer.UUID,
		StartTime: env.day(5),
		EndTime:   env.day(10),
	})
	if childLease.ParentLeaseUUID != parent.UUID {
		t.Fatalf("expected the child lease to carry the parent, got %q", childLease.ParentLeaseUUID)
	}
	if childLease.OwnerID != lesseeB {
		t.Errorf("expected the sublessor as owner, got %q", childLease.OwnerID)
	}

	if err := env.engine.LeaseCancel(ctx, parent.UUID); err != nil {
		t.Fatalf("failed to cancel parent lease: %v", err)
	}
	gotOffer, err := env.store.OfferGetByUUID(ctx, childOffer.UUID)
	if err != nil {
		t.Fatalf("failed to reload child offer: %v", err)
	}
	if gotOffer.Status != types.OfferStatusCancelled {
		t.Errorf("expected child offer cancelled, got %q", gotOffer.Status)
	}
	gotLease, err := env.store.LeaseGetByUUID(ctx, childLease.UUID)
	if err != nil {
		t.Fatalf("failed to reload child lease: %v", err)
	}
	if gotLease.Status != types.LeaseStatusCancelled {
		t.Errorf("expected child lease cancelled, got %q", gotLease.Status)
	}
	gotParent, err := env.store.LeaseGetByUUID(ctx, parent.UUID)
	if err != nil {
		t.Fatalf("failed to reload parent lease: %v", err)
	}
	if gotParent.Status != types.LeaseStatusCancelled {
		t.Errorf("expected parent lease cancelled, got %q", gotParent.Status)
	}
}

func TestChildOfferOnlyByLeaseHolder(t *testing.T) {
	env := setupEngine(t)

	parent := env.mustLease(t, &types.Lease{
		ProjectID:    lesseeB,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(0),
		EndTime:      env.day(30),
	})

	_, err := env.engine.OfferCreate(context.Background(), &types.Offer{
		ProjectID:       lesseeC,
		ResourceUUID:    nodeUUID,
		ParentLeaseUUID: parent.UUID,
		StartTime:       env.day(5),
		EndTime:         env.day(10),
	})
	if !engine.IsForbidden(err) {
		t.Fatalf("expected forbidden for a non-holder, got %v", err)
	}
}

func TestChildLeaseDirectFromParent(t *testing.T) {
	env := setupEngine(t)

	parent := env.mustLease(t, &types.Lease{
		ProjectID:    lesseeB,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(0),
		EndTime:      env.day(30),
	})

	child := env.mustLease(t, &types.Lease{
		ProjectID:       lesseeC,
		ParentLeaseUUID: parent.UUID,
		StartTime:       env.day(5),
		EndTime:         env.day(10),
	})
	if child.OwnerID != lesseeB {
		t.Errorf("expected owner defaulted from the parent holder, got %q", child.OwnerID)
	}

	_, err := env.engine.LeaseCreate(context.Background(), &types.Lease{
		ProjectID:       "stranger",
		ParentLeaseUUID: parent.UUID,
		StartTime:       env.day(10),
		EndTime:         env.day(35),
	})
	if !engine.IsConflict(err) {
		t.Fatalf("expected conflict for window beyond the parent, got %v", err)
	}
}

func TestOwnerChangeLifecycle(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	oc, err := env.engine.OwnerChangeCreate(ctx, &types.OwnerChange{
		FromOwnerID:  ownerA,
		ToOwnerID:    ownerB,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(0),
		EndTime:      env.day(30),
	})
	if err != nil {
		t.Fatalf("failed to create owner change: %v", err)
	}
	if oc.Status != types.OwnerChangeStatusCreated {
		t.Fatalf("expected status created, got %q", oc.Status)
	}

	if err := env.engine.OwnerChangeFulfill(ctx, oc.UUID); err != nil {
		t.Fatalf("failed to fulfill owner change: %v", err)
	}
	node, err := env.driver.GetNode(ctx, nodeUUID)
	if err != nil {
		t.Fatalf("failed to read node: %v", err)
	}
	if node.OwnerProjectID != ownerB {
		t.Fatalf("expected ownership handed to %s, got %q", ownerB, node.OwnerProjectID)
	}

	// The incoming owner may book the resource inside the transfer window.
	offer := env.mustOffer(t, &types.Offer{
		ProjectID:    ownerB,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(1),
		EndTime:      env.day(10),
	})
	lease := env.mustLease(t, &types.Lease{
		ProjectID: lesseeB,
		OfferUUID: offer.UUID,
		StartTime: env.day(1),
		EndTime:   env.day(5),
	})

	env.clock.Set(env.day(30))
	if err := env.engine.OwnerChangeExpire(ctx, oc.UUID); err != nil {
		t.Fatalf("failed to expire owner change: %v", err)
	}
	gotOC, err := env.store.OwnerChangeGetByUUID(ctx, oc.UUID)
	if err != nil {
		t.Fatalf("failed to reload owner change: %v", err)
	}
	if gotOC.Status != types.OwnerChangeStatusExpired {
		t.Errorf("expected owner change expired, got %q", gotOC.Status)
	}
	gotOffer, err := env.store.OfferGetByUUID(ctx, offer.UUID)
	if err != nil {
		t.Fatalf("failed to reload offer: %v", err)
	}
	if gotOffer.Status != types.OfferStatusExpired {
		t.Errorf("expected the incoming owner's offer swept, got %q", gotOffer.Status)
	}
	gotLease, err := env.store.LeaseGetByUUID(ctx, lease.UUID)
	if err != nil {
		t.Fatalf("failed to reload lease: %v", err)
	}
	if gotLease.Status != types.LeaseStatusExpired {
		t.Errorf("expected the incoming owner's lease swept, got %q", gotLease.Status)
	}
	node, err = env.driver.GetNode(ctx, nodeUUID)
	if err != nil {
		t.Fatalf("failed to read node: %v", err)
	}
	if node.OwnerProjectID != ownerA {
		t.Errorf("expected ownership returned to %s, got %q", ownerA, node.OwnerProjectID)
	}
}

func TestOwnerChangeCancelBeforeFulfill(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	oc, err := env.engine.OwnerChangeCreate(ctx, &types.OwnerChange{
		FromOwnerID:  ownerA,
		ToOwnerID:    ownerB,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(5),
		EndTime:      env.day(30),
	})
	if err != nil {
		t.Fatalf("failed to create owner change: %v", err)
	}

	if err := env.engine.OwnerChangeCancel(ctx, oc.UUID); err != nil {
		t.Fatalf("failed to cancel owner change: %v", err)
	}
	for _, call := range env.driver.Calls {
		if call == "set_owner "+nodeUUID {
			t.Error("driver must not be touched for an unfulfilled owner change")
		}
	}
	got, err := env.store.OwnerChangeGetByUUID(ctx, oc.UUID)
	if err != nil {
		t.Fatalf("failed to reload owner change: %v", err)
	}
	if got.Status != types.OwnerChangeStatusDeleted {
		t.Errorf("expected status deleted, got %q", got.Status)
	}

	// Cancelling again is a no-op.
	before := len(env.events(t))
	if err := env.engine.OwnerChangeCancel(ctx, oc.UUID); err != nil {
		t.Fatalf("second cancel must be a no-op, got %v", err)
	}
	if got := len(env.events(t)); got != before {
		t.Errorf("second cancel journaled %d extra events", got-before)
	}
}

func TestOwnerChangeRejectsOverlap(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	// An available offer does not block a transfer.
	env.mustOffer(t, &types.Offer{
		ProjectID:    ownerA,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(0),
		EndTime:      env.day(10),
	})

	_, err := env.engine.OwnerChangeCreate(ctx, &types.OwnerChange{
		FromOwnerID:  ownerA,
		ToOwnerID:    ownerB,
		ResourceUUID: nodeUUID,
		StartTime:    env.day(0),
		EndTime:      env.day(20),
	})
	if err != nil {
		t.Fatalf("failed to create owner change: %v", err)
	}

	_, err = env.engine.OwnerChangeCreate(ctx, &types.OwnerChange{
		FromOwnerID:  ownerA,
		ToOwnerID:    "owner-c",
		ResourceUUID: nodeUUID,
		StartTime:    env.day(10),
		EndTime:      env.day(25),
	})
	if !engine.IsConflict(err) {
		t.Fatalf("expected conflict with the standing transfer, got %v", err)
	}
}

func TestOwnerChangeValidation(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	_, err := env.engine.OwnerChangeCreate(ctx, &types.OwnerChange{
		FromOwnerID:  ownerA,
		ToOwnerID:    ownerA,
		ResourceUUID: nodeUUID,
	})
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error for identical owners, got %v", err)
	}

	_, err = env.engine.OwnerChangeCreate(ctx, &types.OwnerChange{
		ToOwnerID:    ownerB,
		ResourceUUID: nodeUUID,
	})
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error for a missing owner, got %v", err)
	}
}
