package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/metalease/metalease/pkg/availability"
	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/types"
)

// ResourceVerifyAvailability fails with a resource-time-conflict when the
// candidate window intersects any record holding the resource: a
// non-terminal lease, an available offer, or a non-terminal owner change.
//
// With IsOwnerChange set the conflict set shrinks to other owner changes:
// offers and leases inside the window belong to the caller's cancellation
// cascade. With ProjectID set, an owner change granting that project
// ownership over a window containing the candidate is not a conflict, so
// the incoming owner can publish offers during the transfer.
func (s *SQLiteStore) ResourceVerifyAvailability(ctx context.Context, resourceType, resourceUUID string, w types.Window, opts VerifyOptions) error {
	if !w.Valid() {
		return engine.NewValidation(engine.CodeInvalidTimeRange,
			fmt.Sprintf("start time %s must precede end time %s", w.Start, w.End))
	}

	held, err := s.heldWindows(ctx, resourceType, resourceUUID, w, opts)
	if err != nil {
		return err
	}
	if availability.Conflicts(w, held) {
		return engine.NewConflict(engine.CodeResourceTimeConflict,
			fmt.Sprintf("resource %s is not available from %s to %s",
				resourceUUID, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))).
			WithResource(resourceUUID)
	}
	return nil
}

// heldWindows gathers every window that currently holds the resource and
// overlaps the candidate.
func (s *SQLiteStore) heldWindows(ctx context.Context, resourceType, resourceUUID string, w types.Window, opts VerifyOptions) ([]types.Window, error) {
	var held []types.Window

	changes, err := s.OwnerChangeGetAll(ctx, OwnerChangeFilters{
		ResourceType: resourceType,
		ResourceUUID: resourceUUID,
		Statuses:     []types.OwnerChangeStatus{types.OwnerChangeStatusCreated, types.OwnerChangeStatusActive},
		StartTime:    &w.Start,
		EndTime:      &w.End,
	})
	if err != nil {
		return nil, err
	}
	for _, oc := range changes {
		if opts.ProjectID != "" && oc.ToOwnerID == opts.ProjectID && oc.Window().Contains(w) {
			continue
		}
		held = append(held, oc.Window())
	}

	if opts.IsOwnerChange {
		return held, nil
	}

	leases, err := s.LeaseGetAll(ctx, LeaseFilters{
		ResourceType: resourceType,
		ResourceUUID: resourceUUID,
		Statuses:     types.LeaseStatusesNonTerminal(),
		StartTime:    &w.Start,
		EndTime:      &w.End,
	})
	if err != nil {
		return nil, err
	}
	for _, l := range leases {
		held = append(held, l.Window())
	}

	offers, err := s.OfferGetAll(ctx, OfferFilters{
		ResourceType: resourceType,
		ResourceUUID: resourceUUID,
		Statuses:     []types.OfferStatus{types.OfferStatusAvailable},
		StartTime:    &w.Start,
		EndTime:      &w.End,
	})
	if err != nil {
		return nil, err
	}
	for _, o := range offers {
		held = append(held, o.Window())
	}

	return held, nil
}

// OfferVerifyAvailability checks that a lease window can be carved out of
// an offer: the window must lie inside the offer and must not intersect any
// committed child lease.
func (s *SQLiteStore) OfferVerifyAvailability(ctx context.Context, offer *types.Offer, w types.Window) error {
	if !w.Valid() {
		return engine.NewValidation(engine.CodeInvalidTimeRange,
			fmt.Sprintf("start time %s must precede end time %s", w.Start, w.End))
	}
	if !offer.Window().Contains(w) {
		return engine.NewConflict(engine.CodeOfferNoAvailability,
			fmt.Sprintf("offer %s does not cover %s to %s",
				offer.UUID, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339)))
	}

	conflicts, err := s.OfferGetConflictTimes(ctx, offer)
	if err != nil {
		return err
	}
	if availability.Conflicts(w, conflicts) {
		return engine.NewConflict(engine.CodeResourceTimeConflict,
			fmt.Sprintf("offer %s is already leased between %s and %s",
				offer.UUID, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))).
			WithResource(offer.ResourceUUID)
	}
	return nil
}

// OfferGetConflictTimes returns the sorted windows of the offer's committed
// child leases.
func (s *SQLiteStore) OfferGetConflictTimes(ctx context.Context, offer *types.Offer) ([]types.Window, error) {
	leases, err := s.LeaseGetAll(ctx, LeaseFilters{
		OfferUUID: offer.UUID,
		Statuses:  types.LeaseStatusesNonTerminal(),
	})
	if err != nil {
		return nil, err
	}

	windows := make([]types.Window, 0, len(leases))
	for _, l := range leases {
		windows = append(windows, l.Window())
	}
	availability.Sort(windows)
	return windows, nil
}

// OfferGetAvailabilities returns the free segments of an offer: the
// complement of its child-lease windows inside the offer window, coalesced.
// A non-available offer has no availabilities.
func (s *SQLiteStore) OfferGetAvailabilities(ctx context.Context, offer *types.Offer) ([]types.Window, error) {
	if offer.Status != types.OfferStatusAvailable {
		return nil, nil
	}
	conflicts, err := s.OfferGetConflictTimes(ctx, offer)
	if err != nil {
		return nil, err
	}
	return availability.Gaps(offer.Window(), conflicts), nil
}

// OfferGetFirstAvailability returns the earliest instant at or after from
// where the offer has free time.
func (s *SQLiteStore) OfferGetFirstAvailability(ctx context.Context, offerUUID string, from time.Time) (*time.Time, error) {
	offer, err := s.OfferGetByUUID(ctx, offerUUID)
	if err != nil {
		return nil, err
	}
	gaps, err := s.OfferGetAvailabilities(ctx, offer)
	if err != nil {
		return nil, err
	}
	for _, gap := range gaps {
		if gap.End.After(from) {
			start := gap.Start
			if start.Before(from) {
				start = from
			}
			return &start, nil
		}
	}
	return nil, engine.NewConflict(engine.CodeOfferNoAvailability,
		fmt.Sprintf("offer %s has no availability after %s", offerUUID, from.Format(time.RFC3339)))
}

// LeaseVerifyChildAvailability checks that a child window can be carved out
// of a parent lease: containment in the parent window, and no intersection
// with existing child leases or child offers of the parent.
func (s *SQLiteStore) LeaseVerifyChildAvailability(ctx context.Context, parent *types.Lease, w types.Window) error {
	if !w.Valid() {
		return engine.NewValidation(engine.CodeInvalidTimeRange,
			fmt.Sprintf("start time %s must precede end time %s", w.Start, w.End))
	}
	if parent.Status.IsTerminal() {
		return engine.NewConflict(engine.CodeLeaseNoAvailability,
			fmt.Sprintf("parent lease %s is %s", parent.UUID, parent.Status))
	}
	if !parent.Window().Contains(w) {
		return engine.NewConflict(engine.CodeLeaseNoAvailability,
			fmt.Sprintf("parent lease %s does not cover %s to %s",
				parent.UUID, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339)))
	}

	children, err := s.LeaseGetAll(ctx, LeaseFilters{
		ParentLeaseUUID: parent.UUID,
		Statuses:        types.LeaseStatusesNonTerminal(),
	})
	if err != nil {
		return err
	}
	held := make([]types.Window, 0, len(children))
	for _, c := range children {
		held = append(held, c.Window())
	}

	childOffers, err := s.OfferGetAll(ctx, OfferFilters{
		ParentLeaseUUID: parent.UUID,
		Statuses:        []types.OfferStatus{types.OfferStatusAvailable},
	})
	if err != nil {
		return err
	}
	for _, o := range childOffers {
		held = append(held, o.Window())
	}

	if availability.Conflicts(w, held) {
		return engine.NewConflict(engine.CodeResourceTimeConflict,
			fmt.Sprintf("parent lease %s is already allocated between %s and %s",
				parent.UUID, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))).
			WithResource(parent.ResourceUUID)
	}
	return nil
}
