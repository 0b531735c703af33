package stores

import (
	"context"
	"database/sql"

	"github.com/metalease/metalease/pkg/types"
)

// The *WithEvent methods commit a state transition and its journal entry in
// one transaction, so a crash between the two cannot leave a transition
// without its event or an event without its transition.

// OfferUpdateWithEvent commits an offer mutation and its event atomically.
func (s *SQLiteStore) OfferUpdateWithEvent(ctx context.Context, offer *types.Offer, event *types.Event) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.offerUpdateOn(ctx, tx, offer); err != nil {
			return err
		}
		return s.eventCreateOn(ctx, tx, event)
	})
}

// LeaseUpdateWithEvent commits a lease mutation and its event atomically.
func (s *SQLiteStore) LeaseUpdateWithEvent(ctx context.Context, lease *types.Lease, event *types.Event) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.leaseUpdateOn(ctx, tx, lease); err != nil {
			return err
		}
		return s.eventCreateOn(ctx, tx, event)
	})
}

// OwnerChangeUpdateWithEvent commits an owner-change mutation and its event
// atomically.
func (s *SQLiteStore) OwnerChangeUpdateWithEvent(ctx context.Context, oc *types.OwnerChange, event *types.Event) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.ownerChangeUpdateOn(ctx, tx, oc); err != nil {
			return err
		}
		return s.eventCreateOn(ctx, tx, event)
	})
}
