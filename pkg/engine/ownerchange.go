package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/metalease/metalease/pkg/types"
)

// Owner-change event types.
const (
	EventOwnerChangeCreateEnd  = "metalease.owner_change.create.end"
	EventOwnerChangeFulfillEnd = "metalease.owner_change.fulfill.end"
	EventOwnerChangeDeleteEnd  = "metalease.owner_change.delete.end"
	EventOwnerChangeExpireEnd  = "metalease.owner_change.expire.end"
)

// OwnerChangeCreate schedules a transfer of administrative ownership.
// Transfers only conflict with other transfers: offers and leases placed by
// the incoming owner inside the window are legitimate, and anything else is
// swept by the cascade when the transfer ends.
func (e *Engine) OwnerChangeCreate(ctx context.Context, oc *types.OwnerChange) (*types.OwnerChange, error) {
	started := e.now()

	oc.ResourceType = e.resolveResourceType(oc.ResourceType)
	if oc.ResourceUUID == "" {
		return nil, NewValidation("", "resource uuid is required")
	}
	if oc.FromOwnerID == "" || oc.ToOwnerID == "" {
		return nil, NewValidation("", "from and to owner ids are required")
	}
	if oc.FromOwnerID == oc.ToOwnerID {
		return nil, NewValidation("", "owner change must name two distinct owners")
	}
	if oc.UUID == "" {
		oc.UUID = uuid.NewString()
	}
	if oc.StartTime.IsZero() {
		oc.StartTime = e.now().UTC()
	}
	if oc.EndTime.IsZero() {
		oc.EndTime = types.MaxTime
	}
	oc.StartTime = oc.StartTime.UTC()
	oc.EndTime = oc.EndTime.UTC()
	w := oc.Window()
	if !w.Valid() {
		return nil, NewValidation(CodeInvalidTimeRange, "start time must be before end time")
	}

	err := e.withResourceLock(ctx, oc.ResourceType, oc.ResourceUUID, func() error {
		opts := VerifyOptions{IsOwnerChange: true}
		if err := e.store.ResourceVerifyAvailability(ctx, oc.ResourceType, oc.ResourceUUID, w, opts); err != nil {
			return err
		}
		now := e.now().UTC()
		oc.Status = types.OwnerChangeStatusCreated
		oc.CreatedAt = now
		oc.UpdatedAt = now
		if err := e.store.OwnerChangeCreate(ctx, oc); err != nil {
			return err
		}
		event := e.newEvent(EventOwnerChangeCreateEnd, types.ObjectTypeOwnerChange, oc.UUID,
			oc.ResourceType, oc.ResourceUUID, oc.ToOwnerID, oc.FromOwnerID)
		if err := e.store.EventCreate(ctx, event); err != nil {
			return err
		}
		e.notify(event)
		return nil
	})
	e.recordTransition(types.ObjectTypeOwnerChange, "create", started, err)
	if err != nil {
		return nil, err
	}

	e.logger.WithField("owner_change", oc.UUID).
		WithResource(oc.ResourceType, oc.ResourceUUID).
		Info("owner change created")
	return oc, nil
}

// OwnerChangeFulfill hands administrative ownership to the incoming owner.
// A driver failure leaves the transfer in created so the control loop
// retries it.
func (e *Engine) OwnerChangeFulfill(ctx context.Context, ocUUID string) error {
	started := e.now()

	oc, err := e.store.OwnerChangeGetByUUID(ctx, ocUUID)
	if err != nil {
		return err
	}

	err = e.withResourceLock(ctx, oc.ResourceType, oc.ResourceUUID, func() error {
		oc, err := e.store.OwnerChangeGetByUUID(ctx, ocUUID)
		if err != nil {
			return err
		}
		if oc.Status != types.OwnerChangeStatusCreated {
			return nil
		}
		driver, err := e.drivers.Get(oc.ResourceType)
		if err != nil {
			return err
		}
		if err := driver.SetOwner(ctx, oc.ResourceUUID, oc.ToOwnerID); err != nil {
			return err
		}

		now := e.now().UTC()
		oc.Status = types.OwnerChangeStatusActive
		oc.FulfillTime = &now
		event := e.newEvent(EventOwnerChangeFulfillEnd, types.ObjectTypeOwnerChange, oc.UUID,
			oc.ResourceType, oc.ResourceUUID, oc.ToOwnerID, oc.FromOwnerID)
		if err := e.store.OwnerChangeUpdateWithEvent(ctx, oc, event); err != nil {
			return err
		}
		e.notify(event)

		e.logger.WithField("owner_change", oc.UUID).
			WithResource(oc.ResourceType, oc.ResourceUUID).
			WithProject(oc.ToOwnerID).
			Info("owner change fulfilled")
		return nil
	})
	e.recordTransition(types.ObjectTypeOwnerChange, "fulfill", started, err)
	return err
}

// OwnerChangeCancel cancels a transfer and sweeps the incoming owner's
// offers and leases out of its window. Terminal transfers are a no-op.
func (e *Engine) OwnerChangeCancel(ctx context.Context, ocUUID string) error {
	return e.ownerChangeFinish(ctx, ocUUID, "cancel")
}

// OwnerChangeExpire ends a transfer whose window closed, returning
// ownership to the original owner.
func (e *Engine) OwnerChangeExpire(ctx context.Context, ocUUID string) error {
	return e.ownerChangeFinish(ctx, ocUUID, "expire")
}

func (e *Engine) ownerChangeFinish(ctx context.Context, ocUUID, verb string) error {
	started := e.now()

	oc, err := e.store.OwnerChangeGetByUUID(ctx, ocUUID)
	if err != nil {
		return err
	}

	err = e.withResourceLock(ctx, oc.ResourceType, oc.ResourceUUID, func() error {
		oc, err := e.store.OwnerChangeGetByUUID(ctx, ocUUID)
		if err != nil {
			return err
		}
		if oc.Status.IsTerminal() {
			return nil
		}
		return e.ownerChangeFinishLocked(ctx, oc, verb)
	})
	e.recordTransition(types.ObjectTypeOwnerChange, verb, started, err)
	return err
}

// ownerChangeFinishLocked sweeps the incoming owner's bookings inside the
// transfer window, returns ownership to the original owner if the transfer
// had been fulfilled, then retires the row.
func (e *Engine) ownerChangeFinishLocked(ctx context.Context, oc *types.OwnerChange, verb string) error {
	w := oc.Window()

	offers, err := e.store.OfferGetAll(ctx, OfferFilters{
		ProjectID:    oc.ToOwnerID,
		ResourceType: oc.ResourceType,
		ResourceUUID: oc.ResourceUUID,
		Statuses:     []types.OfferStatus{types.OfferStatusCreated, types.OfferStatusAvailable},
		StartTime:    &w.Start,
		EndTime:      &w.End,
		TimeFilter:   TimeFilterWithin,
	})
	if err != nil {
		return err
	}
	for _, offer := range offers {
		if err := e.offerFinishLocked(ctx, offer, verb); err != nil {
			return fmt.Errorf("failed to %s offer %s: %w", verb, offer.UUID, err)
		}
	}
	leases, err := e.store.LeaseGetAll(ctx, LeaseFilters{
		OwnerID:      oc.ToOwnerID,
		ResourceType: oc.ResourceType,
		ResourceUUID: oc.ResourceUUID,
		Statuses:     types.LeaseStatusesNonTerminal(),
		StartTime:    &w.Start,
		EndTime:      &w.End,
		TimeFilter:   TimeFilterWithin,
	})
	if err != nil {
		return err
	}
	for _, lease := range leases {
		if err := e.leaseFinishLocked(ctx, lease, verb); err != nil {
			return fmt.Errorf("failed to %s lease %s: %w", verb, lease.UUID, err)
		}
	}

	if oc.FulfillTime != nil {
		driver, err := e.drivers.Get(oc.ResourceType)
		if err != nil {
			return err
		}
		if err := driver.SetOwner(ctx, oc.ResourceUUID, oc.FromOwnerID); err != nil {
			return err
		}
	}

	now := e.now().UTC()
	status, eventType := types.OwnerChangeStatusDeleted, EventOwnerChangeDeleteEnd
	if verb == "expire" {
		status, eventType = types.OwnerChangeStatusExpired, EventOwnerChangeExpireEnd
	}
	oc.Status = status
	oc.ExpireTime = &now
	event := e.newEvent(eventType, types.ObjectTypeOwnerChange, oc.UUID,
		oc.ResourceType, oc.ResourceUUID, oc.ToOwnerID, oc.FromOwnerID)
	if err := e.store.OwnerChangeUpdateWithEvent(ctx, oc, event); err != nil {
		return err
	}
	e.notify(event)

	e.logger.WithField("owner_change", oc.UUID).
		WithResource(oc.ResourceType, oc.ResourceUUID).
		Info("owner change " + string(status))
	return nil
}
