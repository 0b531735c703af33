package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/metalease/metalease/pkg/engine"
)

func testAuthorizer(t *testing.T) *Authorizer {
	t.Helper()
	a, err := NewAuthorizer(context.Background(), Config{Enabled: true}, nil)
	if err != nil {
		t.Fatalf("failed to build authorizer: %v", err)
	}
	return a
}

func TestAuthorizeAdmin(t *testing.T) {
	a := testAuthorizer(t)
	ctx := context.Background()
	admin := Credentials{ProjectID: "ops", Roles: []string{"admin"}}

	rules := []string{
		"metalease:offer:delete",
		"metalease:lease:delete",
		"metalease:owner_change:create",
		"metalease:owner_change:delete",
	}
	for _, rule := range rules {
		if err := a.Authorize(ctx, rule, Target{"project_id": "someone-else"}, admin); err != nil {
			t.Errorf("admin should pass %s: %v", rule, err)
		}
	}
}

func TestAuthorizeOfferOwnership(t *testing.T) {
	a := testAuthorizer(t)
	ctx := context.Background()
	owner := Credentials{ProjectID: "owner-a"}
	stranger := Credentials{ProjectID: "stranger"}
	target := Target{"project_id": "owner-a"}

	if err := a.Authorize(ctx, "metalease:offer:delete", target, owner); err != nil {
		t.Errorf("owner should delete own offer: %v", err)
	}
	err := a.Authorize(ctx, "metalease:offer:delete", target, stranger)
	if !engine.IsForbidden(err) {
		t.Errorf("stranger must not delete the offer, got %v", err)
	}

	// Reads and claims are open; the engine scopes visibility.
	if err := a.Authorize(ctx, "metalease:offer:get", target, stranger); err != nil {
		t.Errorf("offer reads are open: %v", err)
	}
	if err := a.Authorize(ctx, "metalease:offer:claim", target, stranger); err != nil {
		t.Errorf("offer claims are open: %v", err)
	}
}

func TestAuthorizeLeaseParties(t *testing.T) {
	a := testAuthorizer(t)
	ctx := context.Background()
	target := Target{"project_id": "lessee-b", "owner_id": "owner-a"}

	for _, creds := range []Credentials{{ProjectID: "lessee-b"}, {ProjectID: "owner-a"}} {
		if err := a.Authorize(ctx, "metalease:lease:get", target, creds); err != nil {
			t.Errorf("party %s should read the lease: %v", creds.ProjectID, err)
		}
		if err := a.Authorize(ctx, "metalease:lease:delete", target, creds); err != nil {
			t.Errorf("party %s should cancel the lease: %v", creds.ProjectID, err)
		}
	}

	err := a.Authorize(ctx, "metalease:lease:get", target, Credentials{ProjectID: "stranger"})
	if !engine.IsForbidden(err) {
		t.Errorf("stranger must not read the lease, got %v", err)
	}
}

func TestAuthorizeOwnerChange(t *testing.T) {
	a := testAuthorizer(t)
	ctx := context.Background()
	target := Target{"from_owner_id": "owner-a", "to_owner_id": "owner-b"}

	// Creation is admin-only.
	err := a.Authorize(ctx, "metalease:owner_change:create", target,
		Credentials{ProjectID: "owner-a"})
	if !engine.IsForbidden(err) {
		t.Errorf("owner change creation is admin-only, got %v", err)
	}

	for _, party := range []string{"owner-a", "owner-b"} {
		if err := a.Authorize(ctx, "metalease:owner_change:get", target,
			Credentials{ProjectID: party}); err != nil {
			t.Errorf("party %s should read the owner change: %v", party, err)
		}
	}
	err = a.Authorize(ctx, "metalease:owner_change:get", target,
		Credentials{ProjectID: "stranger"})
	if !engine.IsForbidden(err) {
		t.Errorf("stranger must not read the owner change, got %v", err)
	}
}

func TestAuthorizeDisabled(t *testing.T) {
	a, err := NewAuthorizer(context.Background(), Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("failed to build authorizer: %v", err)
	}
	err = a.Authorize(context.Background(), "metalease:owner_change:create",
		Target{}, Credentials{ProjectID: "anyone"})
	if err != nil {
		t.Errorf("disabled policy must allow everything: %v", err)
	}
}

func TestPolicyDirectoryOverride(t *testing.T) {
	dir := t.TempDir()

	// The override replaces the builtin package and locks everything down
	// to admins.
	override := `package metalease.authz

import rego.v1

default allow := false

allow if {
	"admin" in input.credentials.roles
}
`
	if err := os.WriteFile(filepath.Join(dir, "strict.rego"), []byte(override), 0o600); err != nil {
		t.Fatalf("failed to write override: %v", err)
	}

	ctx := context.Background()
	a, err := NewAuthorizer(ctx, Config{Enabled: true, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("failed to build authorizer: %v", err)
	}

	err = a.Authorize(ctx, "metalease:offer:get", Target{}, Credentials{ProjectID: "anyone"})
	if !engine.IsForbidden(err) {
		t.Errorf("override should deny non-admins, got %v", err)
	}
	if err := a.Authorize(ctx, "metalease:offer:get", Target{},
		Credentials{Roles: []string{"admin"}}); err != nil {
		t.Errorf("override should allow admins: %v", err)
	}
}

func TestCredentialsIsAdmin(t *testing.T) {
	if (Credentials{Roles: []string{"member"}}).IsAdmin() {
		t.Errorf("member is not admin")
	}
	if !(Credentials{Roles: []string{"member", "admin"}}).IsAdmin() {
		t.Errorf("admin role not detected")
	}
}
