package types

import (
	"time"
)

// OfferStatus represents the lifecycle state of an offer.
type OfferStatus string

const (
	OfferStatusCreated   OfferStatus = "created"
	OfferStatusAvailable OfferStatus = "available"
	OfferStatusCancelled OfferStatus = "cancelled"
	OfferStatusExpired   OfferStatus = "expired"
	OfferStatusDeleted   OfferStatus = "deleted"
)

// IsTerminal reports whether no further transitions are possible.
func (s OfferStatus) IsTerminal() bool {
	switch s {
	case OfferStatusCancelled, OfferStatusExpired, OfferStatusDeleted:
		return true
	}
	return false
}

// LeaseStatus represents the lifecycle state of a lease.
type LeaseStatus string

const (
	LeaseStatusCreated     LeaseStatus = "created"
	LeaseStatusWaitFulfill LeaseStatus = "wait_fulfill"
	LeaseStatusActive      LeaseStatus = "active"
	LeaseStatusWaitExpire  LeaseStatus = "wait_expire"
	LeaseStatusWaitCancel  LeaseStatus = "wait_cancel"
	LeaseStatusExpired     LeaseStatus = "expired"
	LeaseStatusCancelled   LeaseStatus = "cancelled"
	LeaseStatusDeleted     LeaseStatus = "deleted"
	LeaseStatusError       LeaseStatus = "error"
)

// IsTerminal reports whether no further transitions are possible.
func (s LeaseStatus) IsTerminal() bool {
	switch s {
	case LeaseStatusExpired, LeaseStatusCancelled, LeaseStatusDeleted, LeaseStatusError:
		return true
	}
	return false
}

// LeaseStatusesNonTerminal lists every lease status that still holds the
// resource for conflict purposes.
func LeaseStatusesNonTerminal() []LeaseStatus {
	return []LeaseStatus{
		LeaseStatusCreated,
		LeaseStatusWaitFulfill,
		LeaseStatusActive,
		LeaseStatusWaitExpire,
		LeaseStatusWaitCancel,
	}
}

// OwnerChangeStatus represents the lifecycle state of an owner change.
type OwnerChangeStatus string

const (
	OwnerChangeStatusCreated OwnerChangeStatus = "created"
	OwnerChangeStatusActive  OwnerChangeStatus = "active"
	OwnerChangeStatusExpired OwnerChangeStatus = "expired"
	OwnerChangeStatusDeleted OwnerChangeStatus = "deleted"
)

// IsTerminal reports whether no further transitions are possible.
func (s OwnerChangeStatus) IsTerminal() bool {
	switch s {
	case OwnerChangeStatusExpired, OwnerChangeStatusDeleted:
		return true
	}
	return false
}

// Properties is the opaque JSON-valued bag attached to offers and leases.
type Properties map[string]any

// Offer is an owner's declaration that a resource is available within a
// half-open time window.
type Offer struct {
	UUID            string      `json:"uuid"`
	Name            string      `json:"name"`
	ProjectID       string      `json:"project_id"`
	ResourceType    string      `json:"resource_type"`
	ResourceUUID    string      `json:"resource_uuid"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         time.Time   `json:"end_time"`
	Status          OfferStatus `json:"status"`
	LesseeID        string      `json:"lessee_id,omitempty"`
	ParentLeaseUUID string      `json:"parent_lease_uuid,omitempty"`
	Properties      Properties  `json:"properties,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Window returns the offer's availability window.
func (o *Offer) Window() Window {
	return Window{Start: o.StartTime, End: o.EndTime}
}

// Lease is a lessee's claim on a resource over a window, optionally derived
// from an offer or carved out of a parent lease.
type Lease struct {
	UUID            string      `json:"uuid"`
	Name            string      `json:"name"`
	ProjectID       string      `json:"project_id"`
	OwnerID         string      `json:"owner_id"`
	ResourceType    string      `json:"resource_type"`
	ResourceUUID    string      `json:"resource_uuid"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         time.Time   `json:"end_time"`
	FulfillTime     *time.Time  `json:"fulfill_time,omitempty"`
	ExpireTime      *time.Time  `json:"expire_time,omitempty"`
	Status          LeaseStatus `json:"status"`
	Purpose         string      `json:"purpose,omitempty"`
	Properties      Properties  `json:"properties,omitempty"`
	OfferUUID       string      `json:"offer_uuid,omitempty"`
	ParentLeaseUUID string      `json:"parent_lease_uuid,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Window returns the lease's claim window.
func (l *Lease) Window() Window {
	return Window{Start: l.StartTime, End: l.EndTime}
}

// OwnerChange is a scheduled transfer of administrative ownership of a
// resource from one project to another over a window.
type OwnerChange struct {
	UUID         string            `json:"uuid"`
	FromOwnerID  string            `json:"from_owner_id"`
	ToOwnerID    string            `json:"to_owner_id"`
	ResourceType string            `json:"resource_type"`
	ResourceUUID string            `json:"resource_uuid"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	FulfillTime  *time.Time        `json:"fulfill_time,omitempty"`
	ExpireTime   *time.Time        `json:"expire_time,omitempty"`
	Status       OwnerChangeStatus `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Window returns the transfer window.
func (oc *OwnerChange) Window() Window {
	return Window{Start: oc.StartTime, End: oc.EndTime}
}

// Event is one row of the append-only journal. IDs are assigned
// monotonically by the store; they break timestamp ties.
type Event struct {
	ID           int64     `json:"id"`
	EventType    string    `json:"event_type"`
	EventTime    time.Time `json:"event_time"`
	ObjectType   string    `json:"object_type"`
	ObjectUUID   string    `json:"object_uuid"`
	ResourceType string    `json:"resource_type"`
	ResourceUUID string    `json:"resource_uuid"`
	LesseeID     string    `json:"lessee_id,omitempty"`
	OwnerID      string    `json:"owner_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Object type tags recorded on events.
const (
	ObjectTypeOffer       = "offer"
	ObjectTypeLease       = "lease"
	ObjectTypeOwnerChange = "owner_change"
)

// ConsoleAuthToken binds a one-time console token hash to a node. Only the
// sha256 of the token is stored; the plaintext is returned once at issue.
type ConsoleAuthToken struct {
	ID        int64     `json:"id"`
	NodeUUID  string    `json:"node_uuid"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the token lifetime has passed at t.
func (c *ConsoleAuthToken) Expired(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}
