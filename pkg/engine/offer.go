package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/metalease/metalease/pkg/types"
)

// Offer event types.
const (
	EventOfferCreateEnd = "metalease.offer.create.end"
	EventOfferDeleteEnd = "metalease.offer.delete.end"
	EventOfferExpireEnd = "metalease.offer.expire.end"
)

// OfferCreate admits a new offer: fills defaults, verifies the window
// against everything holding the resource, and persists it as available.
func (e *Engine) OfferCreate(ctx context.Context, offer *types.Offer) (*types.Offer, error) {
	started := e.now()

	if offer.ProjectID == "" {
		return nil, NewValidation("", "project id is required")
	}

	var parent *types.Lease
	if offer.ParentLeaseUUID != "" {
		var err error
		parent, err = e.store.LeaseGetByUUID(ctx, offer.ParentLeaseUUID)
		if err != nil {
			return nil, err
		}
		if offer.ResourceUUID == "" {
			offer.ResourceType = parent.ResourceType
			offer.ResourceUUID = parent.ResourceUUID
		} else {
			offer.ResourceType = e.resolveResourceType(offer.ResourceType)
		}
	} else {
		offer.ResourceType = e.resolveResourceType(offer.ResourceType)
	}
	if offer.ResourceUUID == "" {
		return nil, NewValidation("", "resource uuid is required")
	}
	if offer.UUID == "" {
		offer.UUID = uuid.NewString()
	}
	if offer.StartTime.IsZero() {
		offer.StartTime = e.now().UTC()
	}
	if offer.EndTime.IsZero() {
		offer.EndTime = types.MaxTime
	}
	offer.StartTime = offer.StartTime.UTC()
	offer.EndTime = offer.EndTime.UTC()
	w := offer.Window()
	if !w.Valid() {
		return nil, NewValidation(CodeInvalidTimeRange, "start time must be before end time")
	}

	err := e.withResourceLock(ctx, offer.ResourceType, offer.ResourceUUID, func() error {
		if parent != nil {
			parent, err := e.store.LeaseGetByUUID(ctx, offer.ParentLeaseUUID)
			if err != nil {
				return err
			}
			if parent.ProjectID != offer.ProjectID {
				return NewForbidden("metalease:offer:create").
					WithResource(offer.ResourceUUID)
			}
			if parent.ResourceType != offer.ResourceType || parent.ResourceUUID != offer.ResourceUUID {
				return NewValidation(CodeInvalidTimeRange,
					"child offer must target the parent lease's resource")
			}
			if err := e.store.LeaseVerifyChildAvailability(ctx, parent, w); err != nil {
				return err
			}
		} else {
			if err := e.verifyResourceAdmin(ctx, offer.ResourceType, offer.ResourceUUID, offer.ProjectID); err != nil {
				return err
			}
			opts := VerifyOptions{ProjectID: offer.ProjectID}
			if err := e.store.ResourceVerifyAvailability(ctx, offer.ResourceType, offer.ResourceUUID, w, opts); err != nil {
				return err
			}
		}

		now := e.now().UTC()
		offer.Status = types.OfferStatusAvailable
		offer.CreatedAt = now
		offer.UpdatedAt = now
		if err := e.store.OfferCreate(ctx, offer); err != nil {
			return err
		}

		event := e.newEvent(EventOfferCreateEnd, types.ObjectTypeOffer, offer.UUID,
			offer.ResourceType, offer.ResourceUUID, offer.LesseeID, offer.ProjectID)
		if err := e.store.EventCreate(ctx, event); err != nil {
			return err
		}
		e.notify(event)
		return nil
	})
	e.recordTransition(types.ObjectTypeOffer, "create", started, err)
	if err != nil {
		return nil, err
	}

	e.logger.WithOffer(offer.UUID).
		WithResource(offer.ResourceType, offer.ResourceUUID).
		WithProject(offer.ProjectID).
		Info("offer created")
	return offer, nil
}

// verifyResourceAdmin requires the acting project to administer the
// resource. Drivers with no recorded owner admit anyone; the fulfill of an
// owner change moves this authority to the incoming owner.
func (e *Engine) verifyResourceAdmin(ctx context.Context, resourceType, resourceUUID, projectID string) error {
	driver, err := e.drivers.Get(resourceType)
	if err != nil {
		return err
	}
	admin, err := driver.AdminProjectID(ctx, resourceUUID)
	if err != nil {
		return err
	}
	if admin != "" && admin != projectID {
		return NewForbidden("metalease:offer:create").WithResource(resourceUUID)
	}
	return nil
}

// OfferCancel cancels an offer and every non-terminal lease taken from it.
// Already-terminal offers are left untouched.
func (e *Engine) OfferCancel(ctx context.Context, offerUUID string) error {
	return e.offerFinish(ctx, offerUUID, "cancel")
}

// OfferExpire expires an offer past its end time along with its remaining
// child leases.
func (e *Engine) OfferExpire(ctx context.Context, offerUUID string) error {
	return e.offerFinish(ctx, offerUUID, "expire")
}

// offerFinish drives an offer to cancelled or expired: children first, then
// the offer, all under the resource lock.
func (e *Engine) offerFinish(ctx context.Context, offerUUID, verb string) error {
	started := e.now()

	offer, err := e.store.OfferGetByUUID(ctx, offerUUID)
	if err != nil {
		return err
	}

	err = e.withResourceLock(ctx, offer.ResourceType, offer.ResourceUUID, func() error {
		offer, err := e.store.OfferGetByUUID(ctx, offerUUID)
		if err != nil {
			return err
		}
		if offer.Status.IsTerminal() {
			return nil
		}
		return e.offerFinishLocked(ctx, offer, verb)
	})
	e.recordTransition(types.ObjectTypeOffer, verb, started, err)
	return err
}

// offerFinishLocked assumes the resource lock is held and the offer is
// non-terminal.
func (e *Engine) offerFinishLocked(ctx context.Context, offer *types.Offer, verb string) error {
	children, err := e.store.LeaseGetAll(ctx, LeaseFilters{
		OfferUUID: offer.UUID,
		Statuses:  types.LeaseStatusesNonTerminal(),
	})
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := e.leaseFinishLocked(ctx, child, verb); err != nil {
			return fmt.Errorf("failed to %s child lease %s: %w", verb, child.UUID, err)
		}
	}

	status, eventType := types.OfferStatusCancelled, EventOfferDeleteEnd
	if verb == "expire" {
		status, eventType = types.OfferStatusExpired, EventOfferExpireEnd
	}
	offer.Status = status
	event := e.newEvent(eventType, types.ObjectTypeOffer, offer.UUID,
		offer.ResourceType, offer.ResourceUUID, offer.LesseeID, offer.ProjectID)
	if err := e.store.OfferUpdateWithEvent(ctx, offer, event); err != nil {
		return err
	}
	e.notify(event)

	e.logger.WithOffer(offer.UUID).
		WithResource(offer.ResourceType, offer.ResourceUUID).
		Info("offer " + string(status))
	return nil
}
