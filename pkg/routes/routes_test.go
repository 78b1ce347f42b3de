package routes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roamgo/pkg/config"
	"roamgo/pkg/geo"
	"roamgo/pkg/gmaps"
	"roamgo/pkg/model"
	"roamgo/pkg/quota"
	"roamgo/pkg/remote"
	"roamgo/pkg/store"
	"roamgo/pkg/tracker"
)

type fakeRouter struct {
	mu     sync.Mutex
	calls  []model.TravelMode
	meters map[model.TravelMode]int
	err    error
}

func (f *fakeRouter) Directions(_ context.Context, origin, destination string, mode model.TravelMode) (*gmaps.Directions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mode)
	if f.err != nil {
		return nil, f.err
	}
	o, _ := geo.ParseCoordinate(origin)
	d, _ := geo.ParseCoordinate(destination)
	m := f.meters[mode]
	if m == 0 {
		m = int(geo.Distance(o, d))
	}
	return &gmaps.Directions{
		Path:           orb.LineString{o.Orb(), d.Orb()},
		DurationText:   "provider",
		DurationSec:    600,
		DistanceMeters: m,
	}, nil
}

func (f *fakeRouter) Calls() []model.TravelMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.TravelMode(nil), f.calls...)
}

type fakeIdentity struct{ uid string }

func (f *fakeIdentity) UserID() (string, bool) { return f.uid, f.uid != "" }

type fixture struct {
	cache  *Cache
	router *fakeRouter
	ledger *quota.Ledger
	local  *store.MemoryStore
	remote *remote.MemoryStore
	ident  *fakeIdentity
	now    time.Time
}

func testConfig() config.RoutesConfig {
	return config.RoutesConfig{
		TTL:              config.Duration(7 * 24 * time.Hour),
		WalkingThreshold: config.Distance(2000),
		WalkingSpeedKmh:  5,
		DrivingSpeedKmh:  40,
	}
}

func newFixture(t *testing.T, limit int, uid string) *fixture {
	t.Helper()
	f := &fixture{
		router: &fakeRouter{meters: map[model.TravelMode]int{}},
		local:  store.NewMemoryStore(),
		remote: remote.NewMemoryStore(),
		ident:  &fakeIdentity{uid: uid},
		now:    time.Date(2026, 6, 1, 10, 0, 0, 0, time.Local),
	}
	f.ledger = quota.New(config.QuotaConfig{DailyLimit: limit}, f.local, f.remote, f.ident, nil)
	f.ledger.SetClock(func() time.Time { return f.now })
	f.cache = New(testConfig(), Deps{
		Router:   f.router,
		Quota:    f.ledger,
		Local:    f.local,
		Remote:   f.remote,
		Identity: f.ident,
		Tracker:  tracker.New(),
	})
	f.cache.SetClock(func() time.Time { return f.now })
	return f
}

const (
	westminster = "51.500700,-0.124600"
	trafalgar   = "51.508000,-0.128100" // ~850 m
	greenwich   = "51.476900,-0.000500" // ~9 km
)

func TestFetchRoute_AutoMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, "")

	r, err := f.cache.FetchRoute(ctx, westminster, trafalgar, "")
	require.NoError(t, err)
	assert.Equal(t, model.ModeWalking, r.Mode)
	assert.False(t, r.Synthetic)

	r, err = f.cache.FetchRoute(ctx, westminster, greenwich, "")
	require.NoError(t, err)
	assert.Equal(t, model.ModeDriving, r.Mode)

	assert.Equal(t, []model.TravelMode{model.ModeWalking, model.ModeDriving}, f.router.Calls())
}

func TestFetchRoute_MemoryHit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, "")

	first, err := f.cache.FetchRoute(ctx, westminster, trafalgar, model.ModeWalking)
	require.NoError(t, err)
	second, err := f.cache.FetchRoute(ctx, " 51.5007,-0.1246 ", trafalgar, model.ModeWalking)
	require.NoError(t, err)

	assert.Len(t, f.router.Calls(), 1, "normalized endpoints share one entry")
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, 99, f.ledger.RemainingQuota(ctx))

	// Callers get copies
	second.Path[0] = orb.Point{0, 0}
	third, _ := f.cache.FetchRoute(ctx, westminster, trafalgar, model.ModeWalking)
	assert.NotEqual(t, orb.Point{0, 0}, third.Path[0])

	// Expiry forces a refetch
	f.now = f.now.Add(8 * 24 * time.Hour)
	_, err = f.cache.FetchRoute(ctx, westminster, trafalgar, model.ModeWalking)
	require.NoError(t, err)
	assert.Len(t, f.router.Calls(), 2)
}

func TestFetchRoute_OfflineScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, "")
	require.True(t, f.ledger.RecordAPICall(ctx, quota.CategoryPlaces))

	origin := geo.Point{Lat: 51.5007, Lon: -0.1246}
	// Round-trip through the key format so expectations match the parsed ends
	dest, err := geo.ParseCoordinate(geo.DestinationPoint(origin, 1000, 0).String())
	require.NoError(t, err)

	r, err := f.cache.FetchRoute(ctx, origin.String(), dest.String(), "")
	require.NoError(t, err)
	assert.Empty(t, f.router.Calls())

	assert.True(t, r.Synthetic)
	assert.Equal(t, model.ModeWalking, r.Mode)
	require.Len(t, r.Path, 4)
	assert.Equal(t, origin.Orb(), r.Path[0])
	assert.Equal(t, dest.Orb(), r.Path[3])
	for i, frac := range []float64{1.0 / 3, 2.0 / 3} {
		p := r.Path[i+1]
		assert.InDelta(t, origin.Lat+(dest.Lat-origin.Lat)*frac, p.Lat(), jitterDeg+1e-9)
		assert.InDelta(t, origin.Lon+(dest.Lon-origin.Lon)*frac, p.Lon(), jitterDeg+1e-9)
	}
	assert.InDelta(t, 1.0, r.DistanceKm, 0.001)
	// 1 km at 5 km/h
	assert.InDelta(t, 720, r.DurationSec, 1)
	assert.Equal(t, "12 mins", r.Duration)
}

func TestFetchRoute_SyntheticReplacedWhenQuotaReturns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, "")
	require.True(t, f.ledger.RecordAPICall(ctx, quota.CategoryPlaces))

	r, err := f.cache.FetchRoute(ctx, westminster, trafalgar, model.ModeWalking)
	require.NoError(t, err)
	require.True(t, r.Synthetic)

	// Still no quota: the estimate is served from memory
	r, err = f.cache.FetchRoute(ctx, westminster, trafalgar, model.ModeWalking)
	require.NoError(t, err)
	assert.True(t, r.Synthetic)
	assert.Empty(t, f.router.Calls())

	// Next day the provider is asked again
	f.now = f.now.Add(24 * time.Hour)
	r, err = f.cache.FetchRoute(ctx, westminster, trafalgar, model.ModeWalking)
	require.NoError(t, err)
	assert.False(t, r.Synthetic)
	assert.Len(t, f.router.Calls(), 1)
}

func TestFetchRoute_WalkingSwitchesToDriving(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, "")
	f.router.meters[model.ModeWalking] = 3500 // river detour
	f.router.meters[model.ModeDriving] = 4000

	r, err := f.cache.FetchRoute(ctx, westminster, trafalgar, "")
	require.NoError(t, err)
	assert.Equal(t, model.ModeDriving, r.Mode)
	assert.Equal(t, []model.TravelMode{model.ModeWalking, model.ModeDriving}, f.router.Calls())
	assert.Equal(t, 98, f.ledger.RemainingQuota(ctx))

	// The auto request and the driving mode now share the result
	_, _ = f.cache.FetchRoute(ctx, westminster, trafalgar, "")
	_, _ = f.cache.FetchRoute(ctx, westminster, trafalgar, model.ModeDriving)
	assert.Len(t, f.router.Calls(), 2)
}

func TestFetchRoute_ExplicitWalkingSwitchesToDriving(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, "")
	f.router.meters[model.ModeWalking] = 9000
	f.router.meters[model.ModeDriving] = 11000

	r, err := f.cache.FetchRoute(ctx, westminster, greenwich, model.ModeWalking)
	require.NoError(t, err)
	assert.Equal(t, model.ModeDriving, r.Mode)
	assert.InDelta(t, 11.0, r.DistanceKm, 1e-9)
	assert.Equal(t, []model.TravelMode{model.ModeWalking, model.ModeDriving}, f.router.Calls())

	// Repeated walking requests are answered from memory
	_, _ = f.cache.FetchRoute(ctx, westminster, greenwich, model.ModeWalking)
	assert.Len(t, f.router.Calls(), 2)
}

func TestFetchRoute_ShortWalkingKeepsMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, "")
	f.router.meters[model.ModeWalking] = 1200

	r, err := f.cache.FetchRoute(ctx, westminster, trafalgar, model.ModeWalking)
	require.NoError(t, err)
	assert.Equal(t, model.ModeWalking, r.Mode)
	assert.Len(t, f.router.Calls(), 1)
}

func TestFetchRoute_ProviderErrorFallsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, "")
	f.router.err = errors.New("boom")

	r, err := f.cache.FetchRoute(ctx, westminster, greenwich, "")
	require.NoError(t, err)
	assert.True(t, r.Synthetic)
	assert.Equal(t, model.ModeDriving, r.Mode)

	_, err = f.cache.FetchRoute(ctx, "Big Ben", "Tower Bridge", model.ModeWalking)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = f.cache.FetchRoute(ctx, "", trafalgar, model.ModeWalking)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = f.cache.FetchRoute(ctx, westminster, trafalgar, "cycling")
	assert.Error(t, err)
}

func TestFetchRoute_RemoteTier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, "u1")

	_, err := f.cache.FetchRoute(ctx, westminster, trafalgar, model.ModeWalking)
	require.NoError(t, err)
	assert.Equal(t, 1, f.remote.Count(remote.CollRoutes))

	// A second device with an empty memory tier reads the shared copy
	other := New(testConfig(), Deps{
		Router: f.router, Quota: f.ledger, Local: store.NewMemoryStore(),
		Remote: f.remote, Identity: f.ident,
	})
	other.SetClock(func() time.Time { return f.now })
	r, err := other.FetchRoute(ctx, westminster, trafalgar, model.ModeWalking)
	require.NoError(t, err)
	assert.False(t, r.Synthetic)
	assert.Len(t, f.router.Calls(), 1)
	assert.Equal(t, 1, other.Stats().Entries)

	// Estimates stay out of the shared store
	f.router.err = errors.New("down")
	_, err = f.cache.FetchRoute(ctx, westminster, greenwich, model.ModeDriving)
	require.NoError(t, err)
	assert.Equal(t, 1, f.remote.Count(remote.CollRoutes))
}

func TestHydratePruneClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, "")

	_, err := f.cache.FetchRoute(ctx, westminster, trafalgar, model.ModeWalking)
	require.NoError(t, err)

	restarted := New(testConfig(), Deps{Router: f.router, Quota: f.ledger, Local: f.local})
	restarted.SetClock(func() time.Time { return f.now })
	assert.Equal(t, 1, restarted.Hydrate(ctx))
	_, err = restarted.FetchRoute(ctx, westminster, trafalgar, model.ModeWalking)
	require.NoError(t, err)
	assert.Len(t, f.router.Calls(), 1, "hydrated route served from memory")

	f.now = f.now.Add(8 * 24 * time.Hour)
	st := restarted.Stats()
	assert.Equal(t, 1, st.Expired)
	assert.Equal(t, 1, restarted.Prune(ctx))
	assert.Equal(t, 0, restarted.Stats().Entries)

	f.cache.ClearRouteCache(ctx)
	assert.Equal(t, 0, f.cache.Stats().Entries)
	has, _ := f.local.HasCache(ctx, store.KeyRouteCache)
	assert.False(t, has)
}
