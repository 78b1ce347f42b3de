// Package routes caches origin to destination paths across memory, the
// local store and the shared remote store, and falls back to a straight-line
// estimate when the routing provider cannot be used.
package routes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"

	"roamgo/pkg/advisory"
	"roamgo/pkg/config"
	"roamgo/pkg/geo"
	"roamgo/pkg/gmaps"
	"roamgo/pkg/model"
	"roamgo/pkg/quota"
	"roamgo/pkg/remote"
	"roamgo/pkg/store"
	"roamgo/pkg/tracker"
)

// ErrUnavailable is returned when no route can be produced, not even an
// offline estimate.
var ErrUnavailable = errors.New("routes: route unavailable")

// cacheName labels tracker counters.
const cacheName = "routes"

// modeAuto keys requests that left the mode to the cache.
const modeAuto = "auto"

// jitterDeg bounds the random offset of synthetic intermediate points.
const jitterDeg = 0.0005

// Router is the routing provider.
type Router interface {
	Directions(ctx context.Context, origin, destination string, mode model.TravelMode) (*gmaps.Directions, error)
}

// Quota admits billable calls.
type Quota interface {
	HasQuotaAvailable(ctx context.Context, category string) bool
	RecordAPICall(ctx context.Context, category string) bool
}

// Identity tells the cache whether the shared tier may be used.
type Identity interface {
	UserID() (string, bool)
}

// Stats describes the memory tier.
type Stats struct {
	Entries   int       `json:"entries"`
	Synthetic int       `json:"synthetic"`
	Expired   int       `json:"expired"`
	Oldest    time.Time `json:"oldest"`
}

// Cache is the route cache.
type Cache struct {
	mu  sync.RWMutex
	mem map[string]*model.Route // values are never mutated after insert

	persistMu sync.Mutex

	cfg     config.RoutesConfig
	router  Router
	quota   Quota
	local   store.CacheStore
	remote  remote.DocumentStore
	ident   Identity
	tracker *tracker.Tracker
	writer  *advisory.Writer
	logger  *slog.Logger
	now     func() time.Time
}

// Deps are the collaborators of a Cache. Remote, Identity and Tracker may be nil.
type Deps struct {
	Router   Router
	Quota    Quota
	Local    store.CacheStore
	Remote   remote.DocumentStore
	Identity Identity
	Tracker  *tracker.Tracker
}

// New creates a route cache.
func New(cfg config.RoutesConfig, d Deps) *Cache {
	logger := slog.With("component", "routes")
	var sink advisory.Sink
	if d.Tracker != nil {
		sink = d.Tracker
	}
	return &Cache{
		mem:     make(map[string]*model.Route),
		cfg:     cfg,
		router:  d.Router,
		quota:   d.Quota,
		local:   d.Local,
		remote:  d.Remote,
		ident:   d.Identity,
		tracker: d.Tracker,
		writer:  advisory.New(logger, sink),
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock replaces the time source.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Cache) clock() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now()
}

// endpoint is a normalized route end.
type endpoint struct {
	raw    string
	point  geo.Point
	parsed bool
}

func parseEndpoint(s string) endpoint {
	s = strings.TrimSpace(s)
	p, err := geo.ParseCoordinate(s)
	if err != nil {
		return endpoint{raw: s}
	}
	return endpoint{raw: p.String(), point: p, parsed: true}
}

func memKey(origin, destination, mode string) string {
	return origin + "|" + destination + "|" + mode
}

// remoteID derives a stable document ID for the shared routes collection.
func remoteID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("roamgo:route:"+key)).String()
}

// FetchRoute returns a route between two "lat,lon" strings. An empty mode
// selects driving for straight-line distances above the walking threshold
// and walking otherwise. The returned route is a copy.
func (c *Cache) FetchRoute(ctx context.Context, origin, destination string, mode model.TravelMode) (*model.Route, error) {
	o, d := parseEndpoint(origin), parseEndpoint(destination)
	if o.raw == "" || d.raw == "" {
		return nil, ErrUnavailable
	}
	if mode != "" && !mode.Valid() {
		return nil, fmt.Errorf("routes: unknown mode %q", mode)
	}

	autoSelected := mode == ""
	requestKey := string(mode)
	if autoSelected {
		requestKey = modeAuto
		mode = c.selectMode(o, d)
	}
	key := memKey(o.raw, d.raw, requestKey)

	if r := c.fromMemory(ctx, key); r != nil {
		return r, nil
	}
	if r := c.fromRemote(ctx, key); r != nil {
		return r, nil
	}

	if c.quota == nil || c.router == nil || !c.quota.HasQuotaAvailable(ctx, quota.CategoryRouting) {
		c.logger.Debug("Routing quota unavailable, estimating offline", "origin", o.raw, "destination", d.raw)
		return c.offline(ctx, key, o, d, mode)
	}

	r, err := c.fromProvider(ctx, o, d, mode)
	if err != nil {
		c.logger.Warn("Routing provider failed, estimating offline", "origin", o.raw, "destination", d.raw, "error", err)
		return c.offline(ctx, key, o, d, mode)
	}

	c.store(ctx, key, r)
	if key != memKey(o.raw, d.raw, string(r.Mode)) {
		c.store(ctx, memKey(o.raw, d.raw, string(r.Mode)), r)
	}
	return r.Clone(), nil
}

func (c *Cache) selectMode(o, d endpoint) model.TravelMode {
	if o.parsed && d.parsed && geo.Distance(o.point, d.point) > c.cfg.WalkingThreshold.Meters() {
		return model.ModeDriving
	}
	return model.ModeWalking
}

func (c *Cache) fromMemory(ctx context.Context, key string) *model.Route {
	c.mu.RLock()
	r, ok := c.mem[key]
	now := c.now()
	c.mu.RUnlock()

	if !ok || !now.Before(r.ExpiresAt) {
		c.track(false, "memory")
		return nil
	}
	// A straight-line estimate only stands in while the provider is out of reach
	if r.Synthetic && c.quota != nil && c.router != nil && c.quota.HasQuotaAvailable(ctx, quota.CategoryRouting) {
		c.track(false, "memory")
		return nil
	}
	c.track(true, "memory")
	return r.Clone()
}

func (c *Cache) fromRemote(ctx context.Context, key string) *model.Route {
	if !c.remoteEnabled() {
		return nil
	}
	doc, err := c.remote.Get(ctx, remote.CollRoutes, remoteID(key))
	if err != nil {
		c.logger.Warn("Remote route read failed", "error", err)
		return nil
	}
	now := c.clock()
	if doc == nil || doc.Expired(now) {
		c.track(false, "remote")
		return nil
	}
	var r model.Route
	if err := doc.Decode(&r); err != nil {
		c.logger.Warn("Remote route corrupt", "id", doc.ID, "error", err)
		return nil
	}
	if !now.Before(r.ExpiresAt) {
		c.track(false, "remote")
		return nil
	}
	c.track(true, "remote")

	c.mu.Lock()
	c.mem[key] = r.Clone()
	c.mu.Unlock()
	return &r
}

// fromProvider asks the router, switching once to driving when a walking
// route turns out longer than the threshold.
func (c *Cache) fromProvider(ctx context.Context, o, d endpoint, mode model.TravelMode) (*model.Route, error) {
	const maxSwitches = 1
	for attempt := 0; ; attempt++ {
		if !c.quota.RecordAPICall(ctx, quota.CategoryRouting) {
			return nil, errors.New("routing quota exhausted")
		}
		dir, err := c.router.Directions(ctx, o.raw, d.raw, mode)
		if err != nil {
			return nil, err
		}

		r := c.routeFromDirections(o, d, mode, dir)
		if mode == model.ModeWalking && attempt < maxSwitches &&
			r.DistanceKm*1000 > c.cfg.WalkingThreshold.Meters() {
			c.logger.Debug("Walking route too long, switching to driving", "distance_km", r.DistanceKm)
			mode = model.ModeDriving
			continue
		}
		return r, nil
	}
}

func (c *Cache) routeFromDirections(o, d endpoint, mode model.TravelMode, dir *gmaps.Directions) *model.Route {
	now := c.clock()
	meters := float64(dir.DistanceMeters)
	if meters == 0 && len(dir.Path) > 1 {
		meters = orbgeo.Length(dir.Path)
	}
	r := &model.Route{
		Origin:      o.raw,
		Destination: d.raw,
		Mode:        mode,
		Path:        dir.Path,
		Duration:    dir.DurationText,
		DurationSec: dir.DurationSec,
		DistanceKm:  meters / 1000,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.cfg.TTL.D()),
	}
	if r.Duration == "" {
		r.Duration = model.FormatDuration(r.DurationSec)
	}
	return r
}

// offline builds and caches a straight-line estimate.
func (c *Cache) offline(ctx context.Context, key string, o, d endpoint, mode model.TravelMode) (*model.Route, error) {
	if !o.parsed || !d.parsed {
		return nil, ErrUnavailable
	}
	r := c.Synthesize(o.point, d.point, mode)
	c.store(ctx, key, r)
	return r.Clone(), nil
}

// Synthesize estimates a route as a straight line with two jittered
// intermediate points, timed at the fixed speed of the mode.
func (c *Cache) Synthesize(origin, destination geo.Point, mode model.TravelMode) *model.Route {
	if mode == "" {
		mode = c.selectMode(endpoint{point: origin, parsed: true}, endpoint{point: destination, parsed: true})
	}
	path := orb.LineString{origin.Orb()}
	for _, f := range []float64{1.0 / 3, 2.0 / 3} {
		lat := origin.Lat + (destination.Lat-origin.Lat)*f + (rand.Float64()*2-1)*jitterDeg
		lon := origin.Lon + (destination.Lon-origin.Lon)*f + (rand.Float64()*2-1)*jitterDeg
		path = append(path, orb.Point{lon, lat})
	}
	path = append(path, destination.Orb())

	speed := c.cfg.WalkingSpeedKmh
	if mode == model.ModeDriving {
		speed = c.cfg.DrivingSpeedKmh
	}
	km := geo.Distance(origin, destination) / 1000
	sec := 0
	if speed > 0 {
		sec = int(km / speed * 3600)
	}

	now := c.clock()
	return &model.Route{
		Origin:      origin.String(),
		Destination: destination.String(),
		Mode:        mode,
		Path:        path,
		Duration:    model.FormatDuration(sec),
		DurationSec: sec,
		DistanceKm:  km,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.cfg.TTL.D()),
		Synthetic:   true,
	}
}

// store writes r to memory, the local store and, for provider routes of a
// signed-in user, the remote store. Persistence is advisory.
func (c *Cache) store(ctx context.Context, key string, r *model.Route) {
	c.mu.Lock()
	c.mem[key] = r.Clone()
	c.mu.Unlock()

	c.persistLocal(ctx)

	if r.Synthetic || !c.remoteEnabled() {
		return
	}
	c.writer.Write(ctx, advisory.TierRemote, "put route", func(ctx context.Context) error {
		doc, err := remote.NewDocument(remote.CollRoutes, remoteID(key), r)
		if err != nil {
			return err
		}
		return c.remote.Put(ctx, doc.WithExpiry(r.ExpiresAt))
	})
}

func (c *Cache) remoteEnabled() bool {
	if c.remote == nil || c.ident == nil {
		return false
	}
	_, ok := c.ident.UserID()
	return ok
}

func (c *Cache) track(hit bool, tier string) {
	if c.tracker == nil {
		return
	}
	if hit {
		c.tracker.TrackHit(cacheName, tier)
	} else {
		c.tracker.TrackMiss(cacheName, tier)
	}
}
