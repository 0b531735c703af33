package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/metalease/metalease/pkg/types"
)

// Lease event types.
const (
	EventLeaseCreateEnd    = "metalease.lease.create.end"
	EventLeaseFulfillEnd   = "metalease.lease.fulfill.end"
	EventLeaseFulfillError = "metalease.lease.fulfill.error"
	EventLeaseDeleteEnd    = "metalease.lease.delete.end"
	EventLeaseDeleteError  = "metalease.lease.delete.error"
	EventLeaseExpireEnd    = "metalease.lease.expire.end"
	EventLeaseExpireError  = "metalease.lease.expire.error"
)

// LeaseCreate admits a new lease through one of three paths: claiming an
// offer, carving a child out of a parent lease, or taking the resource
// directly. The lease lands in status created; the control loop fulfills it
// once its start time passes.
func (e *Engine) LeaseCreate(ctx context.Context, lease *types.Lease) (*types.Lease, error) {
	started := e.now()

	if lease.ProjectID == "" {
		return nil, NewValidation("", "project id is required")
	}
	if lease.UUID == "" {
		lease.UUID = uuid.NewString()
	}
	if lease.StartTime.IsZero() {
		lease.StartTime = e.now().UTC()
	}

	var err error
	switch {
	case lease.OfferUUID != "":
		err = e.leaseCreateFromOffer(ctx, lease)
	case lease.ParentLeaseUUID != "":
		err = e.leaseCreateFromParent(ctx, lease)
	default:
		err = e.leaseCreateDirect(ctx, lease)
	}
	e.recordTransition(types.ObjectTypeLease, "create", started, err)
	if err != nil {
		return nil, err
	}

	e.logger.WithLease(lease.UUID).
		WithResource(lease.ResourceType, lease.ResourceUUID).
		WithProject(lease.ProjectID).
		Info("lease created")
	return lease, nil
}

// leaseCreateFromOffer checks the offer is still claimable, the lessee
// restriction admits the project, and the window fits the offer's remaining
// availability. Resource coordinates and owner are copied from the offer.
func (e *Engine) leaseCreateFromOffer(ctx context.Context, lease *types.Lease) error {
	offer, err := e.store.OfferGetByUUID(ctx, lease.OfferUUID)
	if err != nil {
		return err
	}

	return e.withResourceLock(ctx, offer.ResourceType, offer.ResourceUUID, func() error {
		offer, err := e.store.OfferGetByUUID(ctx, lease.OfferUUID)
		if err != nil {
			return err
		}
		if offer.Status != types.OfferStatusAvailable {
			return NewConflict(CodeOfferNotAvailable,
				fmt.Sprintf("offer %s is %s, not available", offer.UUID, offer.Status))
		}
		permitted, err := e.lesseePermitted(ctx, offer.LesseeID, lease.ProjectID)
		if err != nil {
			return err
		}
		if !permitted {
			return NewForbidden("metalease:offer:claim").WithResource(offer.UUID)
		}

		lease.ResourceType = offer.ResourceType
		lease.ResourceUUID = offer.ResourceUUID
		lease.OwnerID = offer.ProjectID
		lease.ParentLeaseUUID = offer.ParentLeaseUUID
		if lease.EndTime.IsZero() {
			lease.EndTime = offer.EndTime
		}
		w := lease.Window()
		if !w.Valid() {
			return NewValidation(CodeInvalidTimeRange, "start time must be before end time")
		}
		if err := e.store.OfferVerifyAvailability(ctx, offer, w); err != nil {
			return err
		}
		return e.leasePersistLocked(ctx, lease)
	})
}

// leaseCreateFromParent carves a sub-lease out of a parent lease. Only the
// parent's holder may do this, and the window must fit inside the parent
// minus whatever its other children already hold.
func (e *Engine) leaseCreateFromParent(ctx context.Context, lease *types.Lease) error {
	parent, err := e.store.LeaseGetByUUID(ctx, lease.ParentLeaseUUID)
	if err != nil {
		return err
	}

	return e.withResourceLock(ctx, parent.ResourceType, parent.ResourceUUID, func() error {
		parent, err := e.store.LeaseGetByUUID(ctx, lease.ParentLeaseUUID)
		if err != nil {
			return err
		}
		lease.ResourceType = parent.ResourceType
		lease.ResourceUUID = parent.ResourceUUID
		if lease.OwnerID == "" {
			lease.OwnerID = parent.ProjectID
		}
		if lease.OwnerID != parent.ProjectID {
			return NewForbidden("metalease:lease:create").WithResource(parent.UUID)
		}
		if lease.EndTime.IsZero() {
			lease.EndTime = parent.EndTime
		}
		w := lease.Window()
		if !w.Valid() {
			return NewValidation(CodeInvalidTimeRange, "start time must be before end time")
		}
		if err := e.store.LeaseVerifyChildAvailability(ctx, parent, w); err != nil {
			return err
		}
		return e.leasePersistLocked(ctx, lease)
	})
}

// leaseCreateDirect leases a resource with no offer: the acting owner must
// administer the resource according to its driver.
func (e *Engine) leaseCreateDirect(ctx context.Context, lease *types.Lease) error {
	lease.ResourceType = e.resolveResourceType(lease.ResourceType)
	if lease.ResourceUUID == "" {
		return NewValidation("", "resource uuid is required")
	}
	if lease.EndTime.IsZero() {
		lease.EndTime = types.MaxTime
	}
	w := lease.Window()
	if !w.Valid() {
		return NewValidation(CodeInvalidTimeRange, "start time must be before end time")
	}

	return e.withResourceLock(ctx, lease.ResourceType, lease.ResourceUUID, func() error {
		driver, err := e.drivers.Get(lease.ResourceType)
		if err != nil {
			return err
		}
		admin, err := driver.AdminProjectID(ctx, lease.ResourceUUID)
		if err != nil {
			return err
		}
		if lease.OwnerID == "" {
			lease.OwnerID = admin
		}
		if admin != "" && lease.OwnerID != admin {
			return NewForbidden("metalease:lease:create").WithResource(lease.ResourceUUID)
		}
		opts := VerifyOptions{ProjectID: lease.OwnerID}
		if err := e.store.ResourceVerifyAvailability(ctx, lease.ResourceType, lease.ResourceUUID, w, opts); err != nil {
			return err
		}
		return e.leasePersistLocked(ctx, lease)
	})
}

// leasePersistLocked writes the admitted lease and its creation event.
func (e *Engine) leasePersistLocked(ctx context.Context, lease *types.Lease) error {
	now := e.now().UTC()
	lease.StartTime = lease.StartTime.UTC()
	lease.EndTime = lease.EndTime.UTC()
	lease.Status = types.LeaseStatusCreated
	lease.CreatedAt = now
	lease.UpdatedAt = now
	if err := e.store.LeaseCreate(ctx, lease); err != nil {
		return err
	}
	event := e.newEvent(EventLeaseCreateEnd, types.ObjectTypeLease, lease.UUID,
		lease.ResourceType, lease.ResourceUUID, lease.ProjectID, lease.OwnerID)
	if err := e.store.EventCreate(ctx, event); err != nil {
		return err
	}
	e.notify(event)
	return nil
}

// LeaseFulfill hands the resource to the lessee: the driver records the
// lease on the live node and the lease goes active. A driver failure parks
// the lease in status error.
func (e *Engine) LeaseFulfill(ctx context.Context, leaseUUID string) error {
	started := e.now()

	lease, err := e.store.LeaseGetByUUID(ctx, leaseUUID)
	if err != nil {
		return err
	}

	err = e.withResourceLock(ctx, lease.ResourceType, lease.ResourceUUID, func() error {
		lease, err := e.store.LeaseGetByUUID(ctx, leaseUUID)
		if err != nil {
			return err
		}
		if lease.Status != types.LeaseStatusCreated && lease.Status != types.LeaseStatusWaitFulfill {
			return nil
		}
		driver, err := e.drivers.Get(lease.ResourceType)
		if err != nil {
			return err
		}
		if derr := driver.SetLease(ctx, lease.ResourceUUID, lease); derr != nil {
			lease.Status = types.LeaseStatusError
			event := e.newEvent(EventLeaseFulfillError, types.ObjectTypeLease, lease.UUID,
				lease.ResourceType, lease.ResourceUUID, lease.ProjectID, lease.OwnerID)
			if err := e.store.LeaseUpdateWithEvent(ctx, lease, event); err != nil {
				return err
			}
			e.notify(event)
			return derr
		}

		now := e.now().UTC()
		lease.Status = types.LeaseStatusActive
		lease.FulfillTime = &now
		event := e.newEvent(EventLeaseFulfillEnd, types.ObjectTypeLease, lease.UUID,
			lease.ResourceType, lease.ResourceUUID, lease.ProjectID, lease.OwnerID)
		if err := e.store.LeaseUpdateWithEvent(ctx, lease, event); err != nil {
			return err
		}
		e.notify(event)

		e.logger.WithLease(lease.UUID).
			WithResource(lease.ResourceType, lease.ResourceUUID).
			Info("lease fulfilled")
		return nil
	})
	e.recordTransition(types.ObjectTypeLease, "fulfill", started, err)
	return err
}

// LeaseCancel cancels a lease and everything carved out of it. Cancelling a
// lease that already reached a terminal status is a no-op.
func (e *Engine) LeaseCancel(ctx context.Context, leaseUUID string) error {
	return e.leaseFinish(ctx, leaseUUID, "cancel")
}

// LeaseExpire expires a lease whose end time has passed, children first.
func (e *Engine) LeaseExpire(ctx context.Context, leaseUUID string) error {
	return e.leaseFinish(ctx, leaseUUID, "expire")
}

func (e *Engine) leaseFinish(ctx context.Context, leaseUUID, verb string) error {
	started := e.now()

	lease, err := e.store.LeaseGetByUUID(ctx, leaseUUID)
	if err != nil {
		return err
	}

	err = e.withResourceLock(ctx, lease.ResourceType, lease.ResourceUUID, func() error {
		lease, err := e.store.LeaseGetByUUID(ctx, leaseUUID)
		if err != nil {
			return err
		}
		return e.leaseFinishLocked(ctx, lease, verb)
	})
	e.recordTransition(types.ObjectTypeLease, verb, started, err)
	return err
}

// leaseFinishLocked drives one lease to cancelled or expired under the
// resource lock: child offers first (which take their own leases down with
// them), then direct child leases, then the driver, then the row.
//
// A driver failure parks the lease in wait_cancel or wait_expire so the
// control loop retries it on a later tick.
func (e *Engine) leaseFinishLocked(ctx context.Context, lease *types.Lease, verb string) error {
	if lease.Status.IsTerminal() {
		return nil
	}

	childOffers, err := e.store.OfferGetAll(ctx, OfferFilters{
		ParentLeaseUUID: lease.UUID,
		Statuses:        []types.OfferStatus{types.OfferStatusCreated, types.OfferStatusAvailable},
	})
	if err != nil {
		return err
	}
	for _, child := range childOffers {
		if err := e.offerFinishLocked(ctx, child, verb); err != nil {
			return fmt.Errorf("failed to %s child offer %s: %w", verb, child.UUID, err)
		}
	}
	childLeases, err := e.store.LeaseGetAll(ctx, LeaseFilters{
		ParentLeaseUUID: lease.UUID,
		Statuses:        types.LeaseStatusesNonTerminal(),
	})
	if err != nil {
		return err
	}
	for _, child := range childLeases {
		if err := e.leaseFinishLocked(ctx, child, verb); err != nil {
			return fmt.Errorf("failed to %s child lease %s: %w", verb, child.UUID, err)
		}
	}

	if lease.FulfillTime != nil {
		driver, err := e.drivers.Get(lease.ResourceType)
		if err != nil {
			return err
		}
		if derr := driver.RemoveLease(ctx, lease.ResourceUUID, lease); derr != nil {
			status, eventType := types.LeaseStatusWaitCancel, EventLeaseDeleteError
			if verb == "expire" {
				status, eventType = types.LeaseStatusWaitExpire, EventLeaseExpireError
			}
			if lease.Status != status {
				lease.Status = status
				event := e.newEvent(eventType, types.ObjectTypeLease, lease.UUID,
					lease.ResourceType, lease.ResourceUUID, lease.ProjectID, lease.OwnerID)
				if err := e.store.LeaseUpdateWithEvent(ctx, lease, event); err != nil {
					return err
				}
				e.notify(event)
			}
			return derr
		}
	}

	now := e.now().UTC()
	status, eventType := types.LeaseStatusCancelled, EventLeaseDeleteEnd
	if verb == "expire" {
		status, eventType = types.LeaseStatusExpired, EventLeaseExpireEnd
	}
	lease.Status = status
	lease.ExpireTime = &now
	event := e.newEvent(eventType, types.ObjectTypeLease, lease.UUID,
		lease.ResourceType, lease.ResourceUUID, lease.ProjectID, lease.OwnerID)
	if err := e.store.LeaseUpdateWithEvent(ctx, lease, event); err != nil {
		return err
	}
	e.notify(event)

	e.logger.WithLease(lease.UUID).
		WithResource(lease.ResourceType, lease.ResourceUUID).
		Info("lease " + string(status))
	return nil
}
