// Package console issues one-time serial-console access tokens for leased
// nodes. Only the sha256 of a token is persisted; the plaintext is handed
// out once at issue time together with the console access URL.
package console

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/telemetry"
	"github.com/metalease/metalease/pkg/types"
)

const tokenBytes = 32

// IssuedToken is the one-time response carrying the plaintext token.
type IssuedToken struct {
	NodeUUID  string    `json:"node_uuid"`
	Token     string    `json:"token"`
	AccessURL string    `json:"access_url,omitempty"`
	ExpiresAt time.Time `json:"expires"`
}

// Config wires the token service.
type Config struct {
	Store  engine.Store
	Logger *telemetry.Logger

	// TTL is the token lifetime.
	TTL time.Duration

	// URLTemplate builds the access URL; %s is replaced by the node uuid.
	// Empty leaves AccessURL unset.
	URLTemplate string
}

// Service issues, validates and revokes console tokens.
type Service struct {
	store       engine.Store
	logger      *telemetry.Logger
	ttl         time.Duration
	urlTemplate string

	now func() time.Time
}

// NewService creates a console token service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		nop, _ := telemetry.NewLogger(telemetry.LoggingConfig{Level: "disabled"})
		logger = nop
	}
	return &Service{
		store:       cfg.Store,
		logger:      logger.NewComponentLogger("console"),
		ttl:         cfg.TTL,
		urlTemplate: cfg.URLTemplate,
		now:         time.Now,
	}
}

// verifyLeaseParty requires an active lease on the node with the project as
// lessee or owner. Sub-letting stacks several active leases on one node, so
// being a party to any of them suffices.
func (s *Service) verifyLeaseParty(ctx context.Context, nodeUUID, projectID, rule string) error {
	leases, err := s.store.LeaseGetAll(ctx, engine.LeaseFilters{
		ResourceUUID: nodeUUID,
		Statuses:     []types.LeaseStatus{types.LeaseStatusActive},
	})
	if err != nil {
		return err
	}
	if len(leases) == 0 {
		return engine.NewNotFound(fmt.Sprintf("node %s has no active lease", nodeUUID))
	}
	for _, lease := range leases {
		if projectID == lease.ProjectID || projectID == lease.OwnerID {
			return nil
		}
	}
	return engine.NewForbidden(rule).WithResource(nodeUUID)
}

// Issue creates a token for a node held by an active lease. The requesting
// project must be a party to that lease, and a node carries at most one
// live token at a time.
func (s *Service) Issue(ctx context.Context, nodeUUID, projectID string) (*IssuedToken, error) {
	if err := s.verifyLeaseParty(ctx, nodeUUID, projectID, "metalease:console:create"); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if _, err := s.store.ConsoleAuthTokenGetLiveByNodeUUID(ctx, nodeUUID, now); err == nil {
		return nil, engine.NewConflict(engine.CodeTokenAlreadyAuthorized,
			fmt.Sprintf("node %s already has a live console auth token", nodeUUID)).
			WithResource(nodeUUID)
	} else if !engine.IsNotFound(err) {
		return nil, err
	}

	plaintext, err := newToken()
	if err != nil {
		return nil, engine.NewInternal("failed to generate console auth token", err)
	}
	record := &types.ConsoleAuthToken{
		NodeUUID:  nodeUUID,
		TokenHash: hashToken(plaintext),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.store.ConsoleAuthTokenCreate(ctx, record); err != nil {
		return nil, err
	}

	s.logger.WithField("node_uuid", nodeUUID).
		WithProject(projectID).
		Info("console auth token issued")

	issued := &IssuedToken{
		NodeUUID:  nodeUUID,
		Token:     plaintext,
		ExpiresAt: record.ExpiresAt,
	}
	if s.urlTemplate != "" {
		issued.AccessURL = fmt.Sprintf(s.urlTemplate, nodeUUID)
	}
	return issued, nil
}

// Validate resolves a plaintext token to its node. Expired and unknown
// tokens are indistinguishable.
func (s *Service) Validate(ctx context.Context, plaintext string) (*types.ConsoleAuthToken, error) {
	token, err := s.store.ConsoleAuthTokenGetByTokenHash(ctx, hashToken(plaintext))
	if err != nil {
		return nil, err
	}
	if token.Expired(s.now().UTC()) {
		return nil, engine.NewNotFound("console auth token not found")
	}
	return token, nil
}

// Invalidate revokes every token issued for a node. The requesting project
// must be a party to the node's active lease.
func (s *Service) Invalidate(ctx context.Context, nodeUUID, projectID string) error {
	if err := s.verifyLeaseParty(ctx, nodeUUID, projectID, "metalease:console:delete"); err != nil {
		return err
	}
	if err := s.store.ConsoleAuthTokenDestroyByNodeUUID(ctx, nodeUUID); err != nil {
		return err
	}
	s.logger.WithField("node_uuid", nodeUUID).Info("console auth tokens invalidated")
	return nil
}

// PurgeExpired removes tokens past their lifetime and reports how many.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	purged, err := s.store.ConsoleAuthTokenDestroyExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.WithField("purged", purged).Debug("expired console auth tokens purged")
	}
	return purged, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
