// Package visited tracks which places the user has physically reached.
// Lookups go through a short-lived memo, then the user's remote
// collection, then the device-local list.
package visited

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"roamgo/pkg/advisory"
	"roamgo/pkg/config"
	"roamgo/pkg/model"
	"roamgo/pkg/remote"
	"roamgo/pkg/store"
	"roamgo/pkg/tracker"
)

const cacheName = "visited"

// maxParallelBatches bounds concurrent remote batch reads.
const maxParallelBatches = 4

// Identity tells the cache which user's collection to use.
type Identity interface {
	UserID() (string, bool)
}

// Deps are the collaborators of a Cache. Remote and Tracker may be nil.
type Deps struct {
	Local    store.CacheStore
	Remote   remote.DocumentStore
	Identity Identity
	Tracker  *tracker.Tracker
}

// Cache memoizes visited flags.
type Cache struct {
	cfg     config.VisitedConfig
	local   store.CacheStore
	remote  remote.DocumentStore
	ident   Identity
	tracker *tracker.Tracker
	writer  *advisory.Writer
	logger  *slog.Logger

	mu   sync.RWMutex
	memo map[string]model.VisitedEntry
	now  func() time.Time

	localMu sync.Mutex // serializes read-modify-write of the local list

	retryMu sync.Mutex
	retries map[string]*time.Timer
	closed  bool
	bg      sync.WaitGroup
}

// New creates a visited-status cache.
func New(cfg config.VisitedConfig, d Deps) *Cache {
	logger := slog.With("component", "visited")
	var sink advisory.Sink
	if d.Tracker != nil {
		sink = d.Tracker
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Cache{
		cfg:     cfg,
		local:   d.Local,
		remote:  d.Remote,
		ident:   d.Identity,
		tracker: d.Tracker,
		writer:  advisory.New(logger, sink),
		logger:  logger,
		memo:    make(map[string]model.VisitedEntry),
		now:     time.Now,
		retries: make(map[string]*time.Timer),
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

func (c *Cache) userID() (string, bool) {
	if c.ident == nil || c.remote == nil {
		return "", false
	}
	return c.ident.UserID()
}

func (c *Cache) memoized(id string) (visited, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, found := c.memo[id]
	if !found || c.now().Sub(e.CheckedAt) >= c.cfg.TTL.D() {
		return false, false
	}
	return e.Visited, true
}

func (c *Cache) remember(id string, visited bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memo[id] = model.VisitedEntry{PlaceID: id, Visited: visited, CheckedAt: c.now()}
}

// IsPlaceVisited reports whether the user has reached the place.
func (c *Cache) IsPlaceVisited(ctx context.Context, placeID string) bool {
	if placeID == "" {
		return false
	}
	if v, ok := c.memoized(placeID); ok {
		c.track(true, "memo")
		return v
	}
	c.track(false, "memo")

	if uid, ok := c.userID(); ok {
		doc, err := c.remote.Get(ctx, remote.UserCollection(uid, remote.SubVisitedPlaces), placeID)
		if err == nil {
			c.remember(placeID, doc != nil)
			return doc != nil
		}
		c.logger.Warn("Remote visited lookup failed, using local list", "id", placeID, "error", err)
		// A transient failure must not pin a negative answer for a week
		if c.localSet(ctx)[placeID] {
			c.remember(placeID, true)
			return true
		}
		return false
	}

	v := c.localSet(ctx)[placeID]
	c.remember(placeID, v)
	return v
}

// CheckVisitedPlaces returns copies of places with IsVisited set. Only IDs
// missing from the memo are looked up, in remote batches of the configured
// size.
func (c *Cache) CheckVisitedPlaces(ctx context.Context, places []model.PlaceSummary) []model.PlaceSummary {
	out := make([]model.PlaceSummary, len(places))
	var pending []string
	seen := make(map[string]bool)
	for i := range places {
		out[i] = places[i].Clone()
		id := out[i].ID
		if v, ok := c.memoized(id); ok {
			out[i].IsVisited = v
			continue
		}
		if id != "" && !seen[id] {
			seen[id] = true
			pending = append(pending, id)
		}
	}
	c.track(len(pending) == 0, "memo")
	if len(pending) == 0 {
		return out
	}

	found := c.lookup(ctx, pending)
	for i := range out {
		if v, ok := found[out[i].ID]; ok {
			out[i].IsVisited = v
		}
	}
	return out
}

// lookup resolves ids against the remote collection in batches, falling
// back to the local list for batches that fail.
func (c *Cache) lookup(ctx context.Context, ids []string) map[string]bool {
	result := make(map[string]bool, len(ids))
	uid, authed := c.userID()
	if !authed {
		local := c.localSet(ctx)
		for _, id := range ids {
			result[id] = local[id]
			c.remember(id, local[id])
		}
		return result
	}

	coll := remote.UserCollection(uid, remote.SubVisitedPlaces)
	var (
		mu     sync.Mutex
		failed []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelBatches)
	for batch := range slices.Chunk(ids, c.cfg.BatchSize) {
		g.Go(func() error {
			docs, err := c.remote.GetMany(gctx, coll, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Warn("Remote visited batch failed", "size", len(batch), "error", err)
				failed = append(failed, batch...)
				return nil
			}
			hit := make(map[string]bool, len(docs))
			for i := range docs {
				hit[docs[i].ID] = true
			}
			for _, id := range batch {
				result[id] = hit[id]
				c.remember(id, hit[id])
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		local := c.localSet(ctx)
		for _, id := range failed {
			result[id] = local[id]
			if local[id] {
				c.remember(id, true)
			}
		}
	}
	return result
}

// SaveVisitedPlace records that the user reached the place. Saving an
// already visited place succeeds without writing. It reports whether the
// visit is held by at least one durable tier, and only then memoizes it;
// a failed remote write is retried once after the configured delay.
func (c *Cache) SaveVisitedPlace(ctx context.Context, p model.PlaceSummary) bool {
	if p.ID == "" {
		return false
	}
	if c.IsPlaceVisited(ctx, p.ID) {
		c.logger.Debug("Place already visited", "id", p.ID)
		return true
	}

	rec := model.VisitedPlace{
		PlaceID:   p.ID,
		Name:      p.Name,
		Lat:       p.Lat,
		Lon:       p.Lon,
		Types:     slices.Clone(p.Types),
		VisitedAt: c.clock(),
	}
	localOK := c.saveLocal(ctx, rec)
	if localOK {
		c.remember(p.ID, true)
	}

	uid, authed := c.userID()
	if !authed {
		return localOK
	}
	if c.putRemote(ctx, uid, rec) {
		c.remember(p.ID, true)
		return true
	}
	c.scheduleRetry(uid, rec)
	return localOK
}

func (c *Cache) putRemote(ctx context.Context, uid string, rec model.VisitedPlace) bool {
	return c.writer.Write(ctx, advisory.TierRemote, "save visited place", func(ctx context.Context) error {
		doc, err := remote.NewDocument(remote.UserCollection(uid, remote.SubVisitedPlaces), rec.PlaceID, rec)
		if err != nil {
			return err
		}
		return c.remote.Put(ctx, doc.WithGeo(rec.Lat, rec.Lon))
	})
}

// scheduleRetry arms the single retry for rec. A pending retry for the
// same place is left alone.
func (c *Cache) scheduleRetry(uid string, rec model.VisitedPlace) {
	c.retryMu.Lock()
	defer c.retryMu.Unlock()
	if c.closed {
		return
	}
	if _, ok := c.retries[rec.PlaceID]; ok {
		return
	}
	c.bg.Add(1)
	c.retries[rec.PlaceID] = time.AfterFunc(c.cfg.RetryDelay.D(), func() {
		defer c.bg.Done()
		c.retryMu.Lock()
		delete(c.retries, rec.PlaceID)
		c.retryMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if c.putRemote(ctx, uid, rec) {
			c.remember(rec.PlaceID, true)
			c.logger.Info("Visited place saved on retry", "id", rec.PlaceID)
		} else {
			c.logger.Warn("Visited place retry failed", "id", rec.PlaceID)
		}
	})
	c.logger.Debug("Scheduled visited save retry", "id", rec.PlaceID, "delay", c.cfg.RetryDelay.D())
}

// VisitedPlaces lists the user's visits, newest first.
func (c *Cache) VisitedPlaces(ctx context.Context) []model.VisitedPlace {
	var out []model.VisitedPlace
	fromRemote := false
	if uid, ok := c.userID(); ok {
		docs, err := c.remote.List(ctx, remote.UserCollection(uid, remote.SubVisitedPlaces))
		if err != nil {
			c.logger.Warn("Remote visited list failed, using local list", "error", err)
		} else {
			fromRemote = true
			for i := range docs {
				var v model.VisitedPlace
				if err := docs[i].Decode(&v); err != nil {
					continue
				}
				out = append(out, v)
			}
		}
	}
	if !fromRemote {
		out = c.localList(ctx)
	}
	slices.SortFunc(out, func(a, b model.VisitedPlace) int {
		if d := b.VisitedAt.Compare(a.VisitedAt); d != 0 {
			return d
		}
		return cmp.Compare(a.PlaceID, b.PlaceID)
	})
	return out
}

// ResetMemo forgets every memoized flag. Called when the signed-in user
// changes.
func (c *Cache) ResetMemo() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memo = make(map[string]model.VisitedEntry)
}

// MemoSize returns the number of memoized flags.
func (c *Cache) MemoSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.memo)
}

// Close cancels retries that have not started and waits for running ones.
func (c *Cache) Close() {
	c.retryMu.Lock()
	c.closed = true
	for id, t := range c.retries {
		if t.Stop() {
			c.bg.Done()
		}
		delete(c.retries, id)
	}
	c.retryMu.Unlock()
	c.bg.Wait()
}

func (c *Cache) localList(ctx context.Context) []model.VisitedPlace {
	if c.local == nil {
		return nil
	}
	var list []model.VisitedPlace
	if _, err := store.GetJSON(ctx, c.local, store.KeyVisitedPlaces, &list); err != nil {
		c.logger.Warn("Local visited list corrupt, ignoring", "error", err)
		return nil
	}
	return list
}

func (c *Cache) localSet(ctx context.Context) map[string]bool {
	list := c.localList(ctx)
	set := make(map[string]bool, len(list))
	for i := range list {
		set[list[i].PlaceID] = true
	}
	return set
}

func (c *Cache) saveLocal(ctx context.Context, rec model.VisitedPlace) bool {
	if c.local == nil {
		return false
	}
	c.localMu.Lock()
	defer c.localMu.Unlock()

	list := c.localList(ctx)
	for i := range list {
		if list[i].PlaceID == rec.PlaceID {
			return true
		}
	}
	list = append(list, rec)
	return c.writer.Write(ctx, advisory.TierLocal, "save visited list", func(ctx context.Context) error {
		return store.SetJSON(ctx, c.local, store.KeyVisitedPlaces, list)
	})
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
