package core

import (
	"context"

	"roamgo/pkg/geo"
	"roamgo/pkg/model"
	"roamgo/pkg/places"
	"roamgo/pkg/session"
)

// PlacesSource is the places cache as seen by the orchestrator.
type PlacesSource interface {
	FetchNearbyPlaces(ctx context.Context, lat, lon float64, forceRefresh bool) places.Result
	Load(ctx context.Context) int
	SetProviderEnabled(enabled bool)
	Cleanup(ctx context.Context, force bool) places.CleanupResult
}

// VisitedChecker merges visited flags into results. ResetMemo is called
// whenever the signed-in user changes.
type VisitedChecker interface {
	CheckVisitedPlaces(ctx context.Context, places []model.PlaceSummary) []model.PlaceSummary
	ResetMemo()
}

// LocationSource is the location service.
type LocationSource interface {
	StateSource
	Current() (geo.Point, bool)
	Restore(ctx context.Context) bool
}

// RouteMaintainer is the maintenance side of the route cache.
type RouteMaintainer interface {
	Hydrate(ctx context.Context) int
	Prune(ctx context.Context) int
}

// SessionSource reports sign-in changes.
type SessionSource interface {
	Authenticated() bool
	OnChange(fn func(session.State))
}
