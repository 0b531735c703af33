package engine

import (
	"context"
	"time"

	"github.com/metalease/metalease/pkg/types"
)

// TimeFilterType selects how start/end filters match record windows.
type TimeFilterType string

const (
	// TimeFilterOverlap returns rows whose window intersects [start, end).
	// This is the default.
	TimeFilterOverlap TimeFilterType = "overlap"

	// TimeFilterWithin returns rows whose window is contained in [start, end).
	TimeFilterWithin TimeFilterType = "within"
)

// OfferFilters narrows Store.OfferGetAll.
type OfferFilters struct {
	ProjectID    string
	ResourceType string
	ResourceUUID string

	// Statuses is a disjunction; empty means any status.
	Statuses []types.OfferStatus

	// LesseeIDs matches offers whose lessee restriction is unset or equals
	// one of the ids. Callers expand a project through its parent chain so
	// projects see offers restricted to their ancestors.
	LesseeIDs []string

	// OwnProjectID widens a LesseeIDs visibility filter so the project
	// always sees its own offers, lessee restriction or not.
	OwnProjectID string

	StartTime  *time.Time
	EndTime    *time.Time
	TimeFilter TimeFilterType

	ParentLeaseUUID string
	Name            string
}

// LeaseFilters narrows Store.LeaseGetAll.
type LeaseFilters struct {
	ProjectID string
	OwnerID   string

	// ProjectOrOwnerID matches either column: everything a project is party
	// to.
	ProjectOrOwnerID string

	ResourceType string
	ResourceUUID string

	Statuses []types.LeaseStatus

	StartTime  *time.Time
	EndTime    *time.Time
	TimeFilter TimeFilterType

	OfferUUID       string
	ParentLeaseUUID string
	Name            string

	// EndTimeBefore selects rows whose end_time has passed; used by the
	// expire loop.
	EndTimeBefore *time.Time

	// StartTimeBefore selects rows whose start_time has passed; used by the
	// fulfill loop.
	StartTimeBefore *time.Time
}

// OwnerChangeFilters narrows Store.OwnerChangeGetAll.
type OwnerChangeFilters struct {
	FromOwnerID  string
	ToOwnerID    string
	AnyOwnerID   string
	ResourceType string
	ResourceUUID string

	Statuses []types.OwnerChangeStatus

	StartTime  *time.Time
	EndTime    *time.Time
	TimeFilter TimeFilterType

	EndTimeBefore   *time.Time
	StartTimeBefore *time.Time
}

// EventFilters narrows Store.EventGetAll.
type EventFilters struct {
	// LastEventID returns events with strictly greater ids.
	LastEventID int64

	// LastEventTime returns events with strictly greater event times.
	LastEventTime *time.Time

	// LesseeOrOwnerIDs matches events whose lessee or owner is any of the
	// given projects; empty means no party restriction.
	LesseeOrOwnerIDs []string

	EventType    string
	ResourceType string
	ResourceUUID string
}

// VerifyOptions tunes Store.ResourceVerifyAvailability.
type VerifyOptions struct {
	// IsOwnerChange restricts the conflict set to other owner changes: the
	// caller's fulfill/cancel cascade will clear conflicting offers and
	// leases inside the window.
	IsOwnerChange bool

	// ProjectID, when set, permits conflicts with an owner change that
	// grants this project ownership over a window containing the candidate.
	ProjectID string
}

// Store is the persistence contract the engine, manager and API consume.
// pkg/stores provides the SQLite implementation.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Offers
	OfferCreate(ctx context.Context, offer *types.Offer) error
	OfferGetByUUID(ctx context.Context, uuid string) (*types.Offer, error)
	OfferGetByName(ctx context.Context, name string) ([]*types.Offer, error)
	OfferGetAll(ctx context.Context, filters OfferFilters) ([]*types.Offer, error)
	OfferUpdate(ctx context.Context, offer *types.Offer) error
	OfferDestroy(ctx context.Context, uuid string) error

	// Leases
	LeaseCreate(ctx context.Context, lease *types.Lease) error
	LeaseGetByUUID(ctx context.Context, uuid string) (*types.Lease, error)
	LeaseGetByName(ctx context.Context, name string) ([]*types.Lease, error)
	LeaseGetAll(ctx context.Context, filters LeaseFilters) ([]*types.Lease, error)
	LeaseUpdate(ctx context.Context, lease *types.Lease) error
	LeaseDestroy(ctx context.Context, uuid string) error

	// Owner changes
	OwnerChangeCreate(ctx context.Context, oc *types.OwnerChange) error
	OwnerChangeGetByUUID(ctx context.Context, uuid string) (*types.OwnerChange, error)
	OwnerChangeGetAll(ctx context.Context, filters OwnerChangeFilters) ([]*types.OwnerChange, error)
	OwnerChangeUpdate(ctx context.Context, oc *types.OwnerChange) error
	OwnerChangeDestroy(ctx context.Context, uuid string) error

	// Events
	EventCreate(ctx context.Context, event *types.Event) error
	EventGetAll(ctx context.Context, filters EventFilters) ([]*types.Event, error)

	// Transitions: mutation plus journal entry in one transaction.
	OfferUpdateWithEvent(ctx context.Context, offer *types.Offer, event *types.Event) error
	LeaseUpdateWithEvent(ctx context.Context, lease *types.Lease, event *types.Event) error
	OwnerChangeUpdateWithEvent(ctx context.Context, oc *types.OwnerChange, event *types.Event) error

	// Console auth tokens
	ConsoleAuthTokenCreate(ctx context.Context, token *types.ConsoleAuthToken) error
	ConsoleAuthTokenGetByTokenHash(ctx context.Context, tokenHash string) (*types.ConsoleAuthToken, error)
	ConsoleAuthTokenGetLiveByNodeUUID(ctx context.Context, nodeUUID string, now time.Time) (*types.ConsoleAuthToken, error)
	ConsoleAuthTokenDestroyByNodeUUID(ctx context.Context, nodeUUID string) error
	ConsoleAuthTokenDestroyExpired(ctx context.Context, now time.Time) (int64, error)

	// Temporal primitives
	ResourceVerifyAvailability(ctx context.Context, resourceType, resourceUUID string, w types.Window, opts VerifyOptions) error
	OfferVerifyAvailability(ctx context.Context, offer *types.Offer, w types.Window) error
	OfferGetConflictTimes(ctx context.Context, offer *types.Offer) ([]types.Window, error)
	OfferGetFirstAvailability(ctx context.Context, offerUUID string, from time.Time) (*time.Time, error)
	OfferGetAvailabilities(ctx context.Context, offer *types.Offer) ([]types.Window, error)
	LeaseVerifyChildAvailability(ctx context.Context, parent *types.Lease, w types.Window) error
}

// Locker serializes transitions touching the same resource. pkg/locks
// provides the flock-backed implementation.
type Locker interface {
	WithLock(ctx context.Context, resourceType, resourceUUID string, fn func() error) error
}

// Node is a point-in-time snapshot of a driver resource.
type Node struct {
	UUID            string           `json:"uuid"`
	Name            string           `json:"name"`
	ResourceClass   string           `json:"resource_class"`
	Config          types.Properties `json:"config,omitempty"`
	OwnerProjectID  string           `json:"owner_project_id"`
	LesseeProjectID string           `json:"lessee_project_id,omitempty"`
	LeaseUUID       string           `json:"lease_uuid,omitempty"`
	ProvisionState  string           `json:"provision_state,omitempty"`
	PowerState      string           `json:"power_state,omitempty"`

	// Unknown marks the sentinel snapshot returned for resources the
	// driver has no record of. All other fields except UUID are empty.
	Unknown bool `json:"unknown,omitempty"`
}

// ResourceDriver abstracts one physical resource kind. Reads return
// snapshots; unknown resources yield the sentinel snapshot rather than an
// error. Mutations fail with a driver-classified error.
type ResourceDriver interface {
	// ResourceType names the kind this driver serves.
	ResourceType() string

	// GetNode reads the live state of one resource.
	GetNode(ctx context.Context, uuid string) (*Node, error)

	// ListNodes enumerates every resource the driver knows.
	ListNodes(ctx context.Context) ([]*Node, error)

	// SetOwner records a new administrative owner on the live resource.
	SetOwner(ctx context.Context, uuid, projectID string) error

	// SetLease records the lease on the live resource at fulfill time.
	SetLease(ctx context.Context, uuid string, lease *types.Lease) error

	// RemoveLease clears the lease from the live resource. It is a no-op
	// when the live lease does not match the supplied one: a later lease
	// may already hold the node.
	RemoveLease(ctx context.Context, uuid string, lease *types.Lease) error

	// AdminProjectID returns the project allowed to administer the
	// resource without a policy override.
	AdminProjectID(ctx context.Context, uuid string) (string, error)
}

// DriverRegistry resolves resource types to their drivers.
type DriverRegistry interface {
	Get(resourceType string) (ResourceDriver, error)
	ResourceTypes() []string
	ListAllNodes(ctx context.Context) (map[string][]*Node, error)
}
