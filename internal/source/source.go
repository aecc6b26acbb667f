// Package source holds the adapters that pull raw event listings from the
// outside world. Adapters never fail: on any problem they log one line and
// contribute nothing.
package source

import (
	"context"

	"itevents/internal/model"
)

// Adapter yields partial events for one source.
type Adapter interface {
	// Source is the identifier stamped on every record.
	Source() string
	// Category groups adapters that must run one after another.
	Category() string
	Fetch(ctx context.Context) []model.PartialEvent
}

// Category names used by the built-in adapters.
const (
	CategoryAggregators = "aggregators"
	CategoryCompanies   = "companies"
	CategoryCommunities = "communities"
	CategoryCurated     = "curated"
)

// MaxCardsPerURL bounds how many candidate cards a listing page contributes.
const MaxCardsPerURL = 15
