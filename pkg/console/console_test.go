package console_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/metalease/metalease/pkg/console"
	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/stores"
	"github.com/metalease/metalease/pkg/types"
)

var consoleBase = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

const consoleNode = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"

func setupService(t *testing.T) (*console.Service, *stores.SQLiteStore) {
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

	svc := console.NewService(console.Config{
		Store:       store,
		TTL:         time.Hour,
		URLTemplate: "ws://console.example/%s",
	})
	svc.SetClock(func() time.Time { return consoleBase })
	return svc, store
}

func seedActiveLease(t *testing.T, store *stores.SQLiteStore) *types.Lease {
	t.Helper()
	fulfill := consoleBase.Add(-time.Hour)
	lease := &types.Lease{
		UUID:         "11111111-1111-1111-1111-111111111111",
		ProjectID:    "lessee-b",
		OwnerID:      "owner-a",
		ResourceType: "test_node",
		ResourceUUID: consoleNode,
		StartTime:    consoleBase.Add(-2 * time.Hour),
		EndTime:      consoleBase.Add(24 * time.Hour),
		FulfillTime:  &fulfill,
		Status:       types.LeaseStatusActive,
		CreatedAt:    consoleBase.Add(-2 * time.Hour),
		UpdatedAt:    consoleBase.Add(-2 * time.Hour),
	}
	if err := store.LeaseCreate(context.Background(), lease); err != nil {
		t.Fatalf("failed to seed lease: %v", err)
	}
	return lease
}

func TestIssueWithSubLease(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	parent := seedActiveLease(t, store)

	// A sub-lease stacks a second active lease on the node, with the
	// parent's lessee as its owner.
	fulfill := consoleBase.Add(-30 * time.Minute)
	child := &types.Lease{
		UUID:            "22222222-2222-2222-2222-222222222222",
		ProjectID:       "lessee-c",
		OwnerID:         parent.ProjectID,
		ResourceType:    parent.ResourceType,
		ResourceUUID:    consoleNode,
		ParentLeaseUUID: parent.UUID,
		StartTime:       consoleBase.Add(-time.Hour),
		EndTime:         consoleBase.Add(12 * time.Hour),
		FulfillTime:     &fulfill,
		Status:          types.LeaseStatusActive,
		CreatedAt:       consoleBase.Add(-time.Hour),
		UpdatedAt:       consoleBase.Add(-time.Hour),
	}
	if err := store.LeaseCreate(ctx, child); err != nil {
		t.Fatalf("failed to seed sub-lease: %v", err)
	}

	// The sub-lessee holds the node and gets a token.
	if _, err := svc.Issue(ctx, consoleNode, "lessee-c"); err != nil {
		t.Fatalf("expected the sub-lessee to get a token, got %v", err)
	}
	if err := svc.Invalidate(ctx, consoleNode, "lessee-c"); err != nil {
		t.Fatalf("failed to invalidate: %v", err)
	}

	// Parties to the parent lease still qualify.
	if _, err := svc.Issue(ctx, consoleNode, "owner-a"); err != nil {
		t.Fatalf("expected the resource owner to get a token, got %v", err)
	}

	if _, err := svc.Issue(ctx, consoleNode, "stranger"); !engine.IsForbidden(err) {
		t.Fatalf("expected a forbidden error for a stranger, got %v", err)
	}
}

func TestIssueAndValidate(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	seedActiveLease(t, store)

	issued, err := svc.Issue(ctx, consoleNode, "lessee-b")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if len(issued.Token) != 64 {
		t.Errorf("expected a 64-char hex token, got %d chars", len(issued.Token))
	}
	if issued.AccessURL != "ws://console.example/"+consoleNode {
		t.Errorf("unexpected access url %q", issued.AccessURL)
	}
	if !issued.ExpiresAt.Equal(consoleBase.Add(time.Hour)) {
		t.Errorf("unexpected expiry %v", issued.ExpiresAt)
	}

	token, err := svc.Validate(ctx, issued.Token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}
	if token.NodeUUID != consoleNode {
		t.Errorf("expected node %s, got %s", consoleNode, token.NodeUUID)
	}
	if strings.Contains(token.TokenHash, issued.Token) {
		t.Error("plaintext must not be stored")
	}
}

func TestIssueRequiresLeaseParty(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	seedActiveLease(t, store)

	if _, err := svc.Issue(ctx, consoleNode, "stranger"); !engine.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	// The lease owner is a party too.
	if _, err := svc.Issue(ctx, consoleNode, "owner-a"); err != nil {
		t.Fatalf("failed to issue as owner: %v", err)
	}
}

func TestIssueRequiresActiveLease(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Issue(context.Background(), consoleNode, "lessee-b")
	if !engine.IsNotFound(err) {
		t.Fatalf("expected not found without an active lease, got %v", err)
	}
}

func TestIssueRejectsSecondLiveToken(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	seedActiveLease(t, store)

	if _, err := svc.Issue(ctx, consoleNode, "lessee-b"); err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	_, err := svc.Issue(ctx, consoleNode, "lessee-b")
	if !engine.IsConflict(err) {
		t.Fatalf("expected conflict for second live token, got %v", err)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	seedActiveLease(t, store)

	issued, err := svc.Issue(ctx, consoleNode, "lessee-b")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	svc.SetClock(func() time.Time { return consoleBase.Add(2 * time.Hour) })
	if _, err := svc.Validate(ctx, issued.Token); !engine.IsNotFound(err) {
		t.Fatalf("expected not found after expiry, got %v", err)
	}

	// The expired token no longer blocks a fresh issue.
	if _, err := svc.Issue(ctx, consoleNode, "lessee-b"); err != nil {
		t.Fatalf("failed to reissue after expiry: %v", err)
	}
}

func TestInvalidateAndPurge(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	seedActiveLease(t, store)

	issued, err := svc.Issue(ctx, consoleNode, "lessee-b")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if err := svc.Invalidate(ctx, consoleNode, "lessee-b"); err != nil {
		t.Fatalf("failed to invalidate: %v", err)
	}
	if _, err := svc.Validate(ctx, issued.Token); !engine.IsNotFound(err) {
		t.Fatalf("expected not found after invalidation, got %v", err)
	}

	issued, err = svc.Issue(ctx, consoleNode, "lessee-b")
	if err != nil {
		t.Fatalf("failed to reissue: %v", err)
	}
	svc.SetClock(func() time.Time { return consoleBase.Add(2 * time.Hour) })
	purged, err := svc.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("failed to purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged token, got %d", purged)
	}
	if _, err := svc.Validate(ctx, issued.Token); !engine.IsNotFound(err) {
		t.Fatalf("expected not found after purge, got %v", err)
	}
}
