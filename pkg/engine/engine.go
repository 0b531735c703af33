package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/metalease/metalease/pkg/telemetry"
	"github.com/metalease/metalease/pkg/types"
)

// Identity is the slice of project resolution the engine needs: expanding a
// lessee through its parent chain when checking offer restrictions.
type Identity interface {
	ResolveProject(ctx context.Context, ident string) (string, error)
	ProjectParentChain(ctx context.Context, id string) ([]string, error)
}

// notifyPayloadVersion tags the notification envelope format.
const notifyPayloadVersion = 1

// Config wires the engine's collaborators.
type Config struct {
	Store    Store
	Locks    Locker
	Drivers  DriverRegistry
	Identity Identity
	Logger   *telemetry.Logger
	Metrics  *telemetry.Metrics

	// DefaultResourceType is used when a request omits the resource type.
	DefaultResourceType string
}

// Engine owns the offer, lease and owner-change state machines. Every
// transition that touches a resource runs under that resource's named lock:
// reload the canonical row, verify invariants, write row and event in one
// transaction, release.
type Engine struct {
	store    Store
	locks    Locker
	drivers  DriverRegistry
	identity Identity
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics

	defaultResourceType string

	// now is swapped in tests to drive wall-clock transitions.
	now func() time.Time
}

// New creates an engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		nop, _ := telemetry.NewLogger(telemetry.LoggingConfig{Level: "disabled"})
		logger = nop
	}
	return &Engine{
		store:               cfg.Store,
		locks:               cfg.Locks,
		drivers:             cfg.Drivers,
		identity:            cfg.Identity,
		logger:              logger.NewComponentLogger("engine"),
		metrics:             cfg.Metrics,
		defaultResourceType: cfg.DefaultResourceType,
		now:                 time.Now,
	}
}

// withResourceLock serializes fn against every other transition on the
// resource.
func (e *Engine) withResourceLock(ctx context.Context, resourceType, resourceUUID string, fn func() error) error {
	return e.locks.WithLock(ctx, resourceType, resourceUUID, fn)
}

// newEvent builds a journal entry stamped at the engine clock.
func (e *Engine) newEvent(eventType, objectType, objectUUID, resourceType, resourceUUID, lesseeID, ownerID string) *types.Event {
	now := e.now().UTC()
	return &types.Event{
		EventType:    eventType,
		EventTime:    now,
		ObjectType:   objectType,
		ObjectUUID:   objectUUID,
		ResourceType: resourceType,
		ResourceUUID: resourceUUID,
		LesseeID:     lesseeID,
		OwnerID:      ownerID,
		CreatedAt:    now,
	}
}

// notify emits the committed event as a structured log record so external
// consumers can tail transitions without polling the journal.
func (e *Engine) notify(event *types.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	zl := e.logger.Zerolog()
	zl.Info().
		Str("event_type", event.EventType).
		Int("payload_version", notifyPayloadVersion).
		RawJSON("payload", payload).
		Msg("notification")
}

// recordTransition feeds metrics and structured logs for one transition.
func (e *Engine) recordTransition(objectType, verb string, started time.Time, err error) {
	if e.metrics != nil {
		e.metrics.RecordTransition(objectType, verb, time.Since(started), err)
	}
	if err != nil {
		e.logger.WithError(err).
			WithField("object_type", objectType).
			WithField("verb", verb).
			Warn("transition failed")
	}
}

// resolveResourceType applies the configured default.
func (e *Engine) resolveResourceType(rt string) string {
	if rt == "" {
		return e.defaultResourceType
	}
	return rt
}

// lesseePermitted reports whether project may take an offer restricted to
// lesseeID: the restriction admits the project itself and any project whose
// parent chain contains it.
func (e *Engine) lesseePermitted(ctx context.Context, lesseeID, projectID string) (bool, error) {
	if lesseeID == "" || lesseeID == projectID {
		return true, nil
	}
	if e.identity == nil {
		return false, nil
	}
	chain, err := e.identity.ProjectParentChain(ctx, projectID)
	if err != nil {
		return false, err
	}
	for _, id := range chain {
		if id == lesseeID {
			return true, nil
		}
	}
	return false, nil
}
