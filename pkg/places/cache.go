// Package places serves points of interest around a coordinate from a
// tiered cache: memory, the local store, the shared remote store and,
// when quota allows, the places provider.
package places

import (
	"cmp"
	"context"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"roamgo/pkg/advisory"
	"roamgo/pkg/config"
	"roamgo/pkg/geo"
	"roamgo/pkg/gmaps"
	"roamgo/pkg/logging"
	"roamgo/pkg/model"
	"roamgo/pkg/quota"
	"roamgo/pkg/remote"
	"roamgo/pkg/store"
	"roamgo/pkg/tracker"
)

// cacheName labels tracker counters.
const cacheName = "places"

// Result sources.
const (
	SourceNone     = "none"
	SourceMemory   = "memory"
	SourceStale    = "memory-stale"
	SourceLocal    = "local"
	SourceRemote   = "remote"
	SourceProvider = "provider"
)

// Furthest-distance padding and floor, in meters.
const (
	furthestPadding = 200.0
	furthestFloor   = 1000.0
)

// Provider is the places search and details service.
type Provider interface {
	NearbySearch(ctx context.Context, req gmaps.NearbyRequest) (*gmaps.NearbyPage, error)
	PlaceDetails(ctx context.Context, placeID string) (*model.PlaceDetails, error)
}

// Quota admits billable calls.
type Quota interface {
	HasQuotaAvailable(ctx context.Context, category string) bool
	RecordAPICall(ctx context.Context, category string) bool
}

// Identity tells the cache whether a user is signed in.
type Identity interface {
	UserID() (string, bool)
}

// Connectivity reports whether the network is reachable.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// Result is the answer to a nearby query.
type Result struct {
	Places []model.PlaceSummary `json:"places"`
	// FurthestDistance is the radius, in meters, the result set covers.
	FurthestDistance float64 `json:"furthest_distance"`
	Source           string  `json:"source"`
}

// Deps are the collaborators of a Cache. Remote, Connectivity and Tracker
// may be nil.
type Deps struct {
	Provider     Provider
	Quota        Quota
	Identity     Identity
	Connectivity Connectivity
	Local        store.Store
	Remote       remote.DocumentStore
	Tracker      *tracker.Tracker
}

// Cache is the places cache.
type Cache struct {
	cfg        config.PlacesConfig
	batchLimit int

	provider Provider
	quota    Quota
	ident    Identity
	conn     Connectivity
	local    store.Store
	remote   remote.DocumentStore
	tracker  *tracker.Tracker
	writer   *advisory.Writer
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[string]*model.CacheEntry   // by cell key
	places  map[string]*model.PlaceSummary // by place ID
	details map[string]*model.PlaceDetails // by place ID
	now     func() time.Time

	localReloaded   atomic.Bool
	providerEnabled atomic.Bool

	persistMu sync.Mutex
	nearby    singleflight.Group
	inflight  singleflight.Group
	bg        sync.WaitGroup
}

// New creates a places cache. batchLimit bounds remote batch sizes.
func New(cfg config.PlacesConfig, batchLimit int, d Deps) *Cache {
	logger := slog.With("component", "places")
	var sink advisory.Sink
	if d.Tracker != nil {
		sink = d.Tracker
	}
	if batchLimit <= 0 || batchLimit > remote.MaxBatch {
		batchLimit = remote.MaxBatch
	}
	c := &Cache{
		cfg:        cfg,
		batchLimit: batchLimit,
		provider:   d.Provider,
		quota:      d.Quota,
		ident:      d.Identity,
		conn:       d.Connectivity,
		local:      d.Local,
		remote:     d.Remote,
		tracker:    d.Tracker,
		writer:     advisory.New(logger, sink),
		logger:     logger,
		entries:    make(map[string]*model.CacheEntry),
		places:     make(map[string]*model.PlaceSummary),
		details:    make(map[string]*model.PlaceDetails),
		now:        time.Now,
	}
	c.providerEnabled.Store(true)
	return c
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

// SetProviderEnabled gates every provider call. While disabled the cache
// answers from its tiers only.
func (c *Cache) SetProviderEnabled(enabled bool) {
	if c.providerEnabled.Swap(enabled) != enabled {
		c.logger.Info("Places loading gate changed", "enabled", enabled)
	}
}

// ProviderEnabled reports the gate state.
func (c *Cache) ProviderEnabled() bool {
	return c.providerEnabled.Load()
}

// FetchNearbyPlaces returns places around (lat, lon). Tiers are tried in
// order and the first valid one answers; forceRefresh skips straight to the
// provider when it may be called. The returned places are copies with
// Distance measured from the query.
func (c *Cache) FetchNearbyPlaces(ctx context.Context, lat, lon float64, forceRefresh bool) Result {
	q := geo.Point{Lat: lat, Lon: lon}
	if !geo.Valid(q) {
		c.logger.Warn("Nearby query with invalid coordinate", "lat", lat, "lon", lon)
		return c.result(nil, SourceNone)
	}

	uid, authed := c.userID()
	if !authed {
		return c.fromAnyMemory(q, SourceMemory)
	}
	if c.conn != nil && !c.conn.Online(ctx) {
		c.logger.Debug("Offline, serving memory tier")
		return c.fromAnyMemory(q, SourceMemory)
	}

	if !forceRefresh {
		if r, ok := c.fromMemory(q); ok {
			return r
		}
		if r, ok := c.fromRemote(ctx, q); ok {
			return r
		}
	}

	if !c.providerEnabled.Load() || c.provider == nil || c.quota == nil ||
		!c.quota.HasQuotaAvailable(ctx, quota.CategoryPlaces) {
		return c.degraded(ctx, q)
	}

	key := geo.CellKey(q.Lat, q.Lon)
	v, _, _ := c.nearby.Do(key, func() (any, error) {
		places, ok := c.fromProvider(ctx, q)
		if !ok {
			return nil, nil
		}
		c.storeResult(ctx, uid, q, places)
		return places, nil
	})
	if v == nil {
		return c.degraded(ctx, q)
	}
	return c.result(c.measure(q, v.([]model.PlaceSummary)), SourceProvider)
}

func (c *Cache) userID() (string, bool) {
	if c.ident == nil {
		return "", false
	}
	return c.ident.UserID()
}

// result caps the places (already sorted) and computes the covered radius.
func (c *Cache) result(places []model.PlaceSummary, source string) Result {
	if c.cfg.MaxResults > 0 && len(places) > c.cfg.MaxResults {
		places = places[:c.cfg.MaxResults]
	}
	if places == nil {
		places = []model.PlaceSummary{}
	}
	return Result{Places: places, FurthestDistance: FurthestDistance(places), Source: source}
}

// FurthestDistance pads the largest distance and applies the floor.
func FurthestDistance(places []model.PlaceSummary) float64 {
	furthest := 0.0
	for i := range places {
		furthest = math.Max(furthest, places[i].Distance)
	}
	return math.Max(furthest+furthestPadding, furthestFloor)
}

// measure copies places, sets their distance from q and sorts them nearest
// first. Ties are broken by ID for a stable order.
func (c *Cache) measure(q geo.Point, places []model.PlaceSummary) []model.PlaceSummary {
	out := make([]model.PlaceSummary, 0, len(places))
	for i := range places {
		p := places[i].Clone()
		p.Distance = geo.Distance(q, p.Point())
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b model.PlaceSummary) int {
		if d := cmp.Compare(a.Distance, b.Distance); d != 0 {
			return d
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// fromMemory answers from the closest locality-valid entry.
func (c *Cache) fromMemory(q geo.Point) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	threshold := c.cfg.RecacheDistance.Meters()
	var best *model.CacheEntry
	bestDist := math.Inf(1)
	for _, e := range c.entries {
		if !e.ValidFor(q, now, threshold) {
			continue
		}
		if d := geo.Distance(e.Center(), q); d < bestDist {
			best, bestDist = e, d
		}
	}
	if best == nil {
		c.track(false, SourceMemory)
		return Result{}, false
	}
	c.track(true, SourceMemory)
	logging.Trace(c.logger, "Memory hit", "cell", best.Key, "offset_m", math.Round(bestDist))
	return c.result(c.measure(q, c.placesLocked(best.PlaceIDs)), SourceMemory), true
}

func (c *Cache) placesLocked(ids []string) []model.PlaceSummary {
	out := make([]model.PlaceSummary, 0, len(ids))
	for _, id := range ids {
		if p, ok := c.places[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// fromAnyMemory answers with every place held in memory, valid or not.
func (c *Cache) fromAnyMemory(q geo.Point, source string) Result {
	c.mu.RLock()
	all := make([]model.PlaceSummary, 0, len(c.places))
	for _, p := range c.places {
		all = append(all, *p)
	}
	c.mu.RUnlock()

	if len(all) == 0 {
		return c.result(nil, SourceNone)
	}
	return c.result(c.measure(q, all), source)
}

// degraded serves memory regardless of locality, reloading the local
// store once when memory is empty.
func (c *Cache) degraded(ctx context.Context, q geo.Point) Result {
	if r := c.fromAnyMemory(q, SourceStale); len(r.Places) > 0 {
		return r
	}
	if c.localReloaded.CompareAndSwap(false, true) {
		if n := c.Load(ctx); n > 0 {
			c.logger.Info("Reloaded local places cache", "entries", n)
			return c.fromAnyMemory(q, SourceLocal)
		}
	}
	return c.result(nil, SourceNone)
}

// fromRemote looks up the entry for q's cell, else the closest valid entry
// in the surrounding box, and loads its places in batches.
func (c *Cache) fromRemote(ctx context.Context, q geo.Point) (Result, bool) {
	if c.remote == nil {
		return Result{}, false
	}
	now := c.clock()
	threshold := c.cfg.RecacheDistance.Meters()
	key := geo.CellKey(q.Lat, q.Lon)

	var entry *model.CacheEntry
	doc, err := c.remote.Get(ctx, remote.CollPlaceCaches, key)
	if err != nil {
		c.logger.Warn("Remote place cache read failed", "key", key, "error", err)
		return Result{}, false
	}
	if doc != nil {
		var e model.CacheEntry
		if err := doc.Decode(&e); err == nil && e.ValidFor(q, now, threshold) {
			entry = &e
		}
	}

	if entry == nil {
		docs, err := c.remote.QueryBounds(ctx, remote.CollPlaceCaches, geo.BoundsAround(q, threshold))
		if err != nil {
			c.logger.Warn("Remote place cache query failed", "error", err)
			return Result{}, false
		}
		bestDist := math.Inf(1)
		for i := range docs {
			var e model.CacheEntry
			if err := docs[i].Decode(&e); err != nil || !e.ValidFor(q, now, threshold) {
				continue
			}
			if d := geo.Distance(e.Center(), q); d < bestDist {
				entry, bestDist = &e, d
			}
		}
	}
	if entry == nil {
		c.track(false, SourceRemote)
		return Result{}, false
	}

	placeDocs, err := remote.GetChunked(ctx, c.remote, remote.CollPlaces, entry.PlaceIDs, c.batchLimit)
	if err != nil {
		c.logger.Warn("Remote place read failed", "entry", entry.Key, "error", err)
		return Result{}, false
	}
	places := make([]model.PlaceSummary, 0, len(placeDocs))
	for i := range placeDocs {
		var p model.PlaceSummary
		if err := placeDocs[i].Decode(&p); err != nil {
			continue
		}
		places = append(places, p)
	}
	c.track(true, SourceRemote)

	c.remember(entry, places)
	c.persistLocal(ctx)
	return c.result(c.measure(q, places), SourceRemote), true
}

// fromProvider pages through a nearby search, then scores, filters, sorts
// and caps the results. It reports false when nothing usable came back
// because of an error.
func (c *Cache) fromProvider(ctx context.Context, q geo.Point) ([]model.PlaceSummary, bool) {
	maxPages := max(c.cfg.MaxPages, 1)
	pacer := newPagePacer(c.cfg.PageDelay.D())

	var raw []model.PlaceSummary
	seen := make(map[string]bool)
	token := ""
	pages := 0
	for pages < maxPages {
		if err := pacer.Wait(ctx); err != nil {
			break
		}
		if !c.quota.RecordAPICall(ctx, quota.CategoryPlaces) {
			break
		}
		req := gmaps.NearbyRequest{
			Lat:           q.Lat,
			Lon:           q.Lon,
			Radius:        c.cfg.SearchRadius.Meters(),
			IncludedTypes: c.cfg.IncludedCategories,
			PageToken:     token,
		}
		page, err := c.provider.NearbySearch(ctx, req)
		if err != nil {
			c.logger.Warn("Nearby search failed", "page", pages+1, "error", err)
			if pages == 0 {
				return nil, false
			}
			break
		}
		pages++
		if page.Status != gmaps.StatusOK {
			if pages == 1 && page.Status != gmaps.StatusZeroResults {
				return nil, false
			}
			break
		}
		for _, p := range page.Places {
			if p.ID == "" || seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			raw = append(raw, p)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	if pages == 0 {
		return nil, false
	}

	for i := range raw {
		raw[i].Score = CalculateTourismScore(&raw[i])
	}
	kept := Filter(raw, c.cfg.MinScore)
	sorted := c.measure(q, kept)
	if c.cfg.MaxResults > 0 && len(sorted) > c.cfg.MaxResults {
		sorted = sorted[:c.cfg.MaxResults]
	}
	c.logger.Debug("Nearby search complete", "pages", pages, "raw", len(raw), "kept", len(sorted))
	return sorted, true
}

// storeResult writes a provider result through every tier.
func (c *Cache) storeResult(ctx context.Context, uid string, q geo.Point, places []model.PlaceSummary) {
	now := c.clock()
	entry := &model.CacheEntry{
		Key:       geo.CellKey(q.Lat, q.Lon),
		CenterLat: q.Lat,
		CenterLon: q.Lon,
		CreatedAt: now,
		ExpiresAt: now.Add(c.cfg.TTL.D()),
		Radius:    c.cfg.SearchRadius.Meters(),
	}
	stored := make([]model.PlaceSummary, len(places))
	for i := range places {
		stored[i] = places[i].Clone()
		stored[i].Distance = 0
		stored[i].IsVisited = false
		entry.PlaceIDs = append(entry.PlaceIDs, stored[i].ID)
	}

	c.remember(entry, stored)
	c.persistLocal(ctx)

	if uid == "" || c.remote == nil {
		return
	}
	c.writer.Write(ctx, advisory.TierRemote, "put place cache", func(ctx context.Context) error {
		docs := make([]remote.Document, 0, len(stored)+1)
		for i := range stored {
			d, err := remote.NewDocument(remote.CollPlaces, stored[i].ID, &stored[i])
			if err != nil {
				return err
			}
			docs = append(docs, d.WithGeo(stored[i].Lat, stored[i].Lon))
		}
		if err := remote.PutChunked(ctx, c.remote, docs, c.batchLimit); err != nil {
			return err
		}
		// The entry goes last so readers never see IDs without documents
		d, err := remote.NewDocument(remote.CollPlaceCaches, entry.Key, entry)
		if err != nil {
			return err
		}
		return c.remote.Put(ctx, d.WithGeo(entry.CenterLat, entry.CenterLon).WithExpiry(entry.ExpiresAt))
	})
}

// remember installs entry and its places in memory and trims to capacity.
func (c *Cache) remember(entry *model.CacheEntry, places []model.PlaceSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := *entry
	e.PlaceIDs = slices.Clone(entry.PlaceIDs)
	c.entries[e.Key] = &e
	for i := range places {
		p := places[i].Clone()
		p.Distance = 0
		p.IsVisited = false
		c.places[p.ID] = &p
	}
	c.trimLocked()
}

// trimLocked evicts the oldest entries beyond capacity, then any place no
// remaining entry refers to.
func (c *Cache) trimLocked() {
	capacity := c.cfg.MemoryCapacity
	if capacity <= 0 || len(c.entries) <= capacity {
		return
	}
	all := make([]*model.CacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	slices.SortFunc(all, func(a, b *model.CacheEntry) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	for _, e := range all[:len(all)-capacity] {
		delete(c.entries, e.Key)
	}
	c.dropOrphansLocked()
}

func (c *Cache) dropOrphansLocked() {
	referenced := make(map[string]bool, len(c.places))
	for _, e := range c.entries {
		for _, id := range e.PlaceIDs {
			referenced[id] = true
		}
	}
	for id := range c.places {
		if !referenced[id] {
			delete(c.places, id)
		}
	}
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
