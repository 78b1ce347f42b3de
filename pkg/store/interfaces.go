package store

import (
	"context"
	"time"
)

// Fixed keys of the device-local tier.
const (
	KeyPlacesCache       = "places_cache"
	KeyPlaceDetailsCache = "place_details_cache"
	KeyRouteCache        = "route_cache"
	KeyAPIQuota          = "api_quota"
	KeyLastKnownLocation = "last_known_location"
	KeyVisitedPlaces     = "visited_places"
	KeyLastCleanup       = "last_cleanup"
	KeySessionUser       = "session_user"
)

// CacheStore handles generic key-value blobs.
type CacheStore interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	HasCache(ctx context.Context, key string) (bool, error)
	SetCache(ctx context.Context, key string, val []byte) error
	DeleteCache(ctx context.Context, key string) error
	ListCacheKeys(ctx context.Context, prefix string) ([]string, error)
}

// StateStore handles small persistent application state values.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// CacheStat describes one stored blob.
type CacheStat struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatsStore reports on stored blobs.
type StatsStore interface {
	CacheStats(ctx context.Context) ([]CacheStat, error)
}

// Store is the device-local tier: survives restarts, needs neither
// network nor authentication.
type Store interface {
	CacheStore
	StateStore
	StatsStore

	// Close closes the store connection.
	Close() error
}
