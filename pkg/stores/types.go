package stores

import (
	"github.com/metalease/metalease/pkg/engine"
)

// The filter and option types are declared on the engine's Store contract;
// the aliases keep query-building code in this package readable.
type (
	TimeFilterType     = engine.TimeFilterType
	OfferFilters       = engine.OfferFilters
	LeaseFilters       = engine.LeaseFilters
	OwnerChangeFilters = engine.OwnerChangeFilters
	EventFilters       = engine.EventFilters
	VerifyOptions      = engine.VerifyOptions
)

const (
	TimeFilterOverlap = engine.TimeFilterOverlap
	TimeFilterWithin  = engine.TimeFilterWithin
)

// Store is the persistence contract SQLiteStore implements.
type Store = engine.Store
