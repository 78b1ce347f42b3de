package places

import (
	"context"
	"errors"
	"time"

	"roamgo/pkg/advisory"
	"roamgo/pkg/gmaps"
	"roamgo/pkg/model"
	"roamgo/pkg/quota"
	"roamgo/pkg/remote"
)

// refreshTimeout bounds a background details refresh.
const refreshTimeout = 30 * time.Second

// detailsRetention is how many refresh periods a shared details document
// outlives its fetch before cleanup removes it.
const detailsRetention = 3

// FetchPlaceDetailsOnDemand returns the full record for a place. Concurrent
// calls for the same ID share one lookup. A stale shared record is served
// at once while a refresh runs in the background.
func (c *Cache) FetchPlaceDetailsOnDemand(ctx context.Context, placeID string) (*model.PlaceDetails, error) {
	if placeID == "" {
		return nil, ErrNotFound
	}
	if d := c.freshDetails(placeID); d != nil {
		c.track(true, "details-memory")
		return d, nil
	}
	c.track(false, "details-memory")

	v, err, shared := c.inflight.Do(placeID, func() (any, error) {
		return c.loadDetails(ctx, placeID)
	})
	if shared {
		c.logger.Debug("Coalesced details request", "id", placeID)
	}
	if err != nil {
		return nil, err
	}
	return v.(*model.PlaceDetails).Clone(), nil
}

// FetchPlaceByID returns the summary of a place, from memory when it was
// part of a nearby result, else from its details.
func (c *Cache) FetchPlaceByID(ctx context.Context, placeID string) (*model.PlaceSummary, error) {
	c.mu.RLock()
	p, ok := c.places[placeID]
	var out model.PlaceSummary
	if ok {
		out = p.Clone()
	}
	c.mu.RUnlock()
	if ok {
		return &out, nil
	}

	d, err := c.FetchPlaceDetailsOnDemand(ctx, placeID)
	if err != nil {
		return nil, err
	}
	s := d.PlaceSummary.Clone()
	return &s, nil
}

func (c *Cache) freshDetails(id string) *model.PlaceDetails {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.details[id]
	if !ok || !d.IsFresh(c.now()) {
		return nil
	}
	return d.Clone()
}

func (c *Cache) anyDetails(id string) *model.PlaceDetails {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if d, ok := c.details[id]; ok {
		return d.Clone()
	}
	return nil
}

// loadDetails runs the remote and provider tiers for one ID.
func (c *Cache) loadDetails(ctx context.Context, id string) (*model.PlaceDetails, error) {
	if d := c.detailsFromRemote(ctx, id); d != nil {
		return d, nil
	}

	d, err := c.providerDetails(ctx, id)
	if err == nil {
		return d, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	// Expired memory beats nothing
	if stale := c.anyDetails(id); stale != nil {
		c.logger.Debug("Serving stale details", "id", id, "reason", err)
		return stale, nil
	}
	return nil, err
}

func (c *Cache) detailsFromRemote(ctx context.Context, id string) *model.PlaceDetails {
	if c.remote == nil {
		return nil
	}
	if _, ok := c.userID(); !ok {
		return nil
	}
	doc, err := c.remote.Get(ctx, remote.CollPlaceDetails, id)
	if err != nil {
		c.logger.Warn("Remote details read failed", "id", id, "error", err)
		return nil
	}
	if doc == nil {
		c.track(false, "details-remote")
		return nil
	}
	var d model.PlaceDetails
	if err := doc.Decode(&d); err != nil {
		c.logger.Warn("Remote details corrupt", "id", id, "error", err)
		return nil
	}
	c.track(true, "details-remote")

	now := c.clock()
	if now.Sub(d.FetchedAt) > c.cfg.DetailsRefreshAge.D() {
		c.refreshInBackground(ctx, id)
	}

	// Memory keeps the shared record for the short TTL
	d.ExpiresAt = now.Add(c.cfg.DetailsTTL.D())
	c.rememberDetails(&d)
	c.persistDetailsLocal(ctx)
	return &d
}

// refreshInBackground re-fetches details without blocking the caller.
func (c *Cache) refreshInBackground(ctx context.Context, id string) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		_, err := c.providerDetails(ctx, id)
		if err != nil {
			c.logger.Debug("Background details refresh skipped", "id", id, "error", err)
			return
		}
		c.logger.Debug("Background details refresh done", "id", id)
	}()
}

// providerDetails coalesces provider fetches per ID. Foreground lookups and
// background refreshes share the key, so at most one provider call per ID
// is in flight.
func (c *Cache) providerDetails(ctx context.Context, id string) (*model.PlaceDetails, error) {
	v, err, _ := c.inflight.Do(providerKey(id), func() (any, error) {
		return c.detailsFromProvider(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.PlaceDetails).Clone(), nil
}

func providerKey(id string) string {
	return "provider:" + id
}

// detailsFromProvider fetches, scores and writes through one record.
func (c *Cache) detailsFromProvider(ctx context.Context, id string) (*model.PlaceDetails, error) {
	if _, ok := c.userID(); !ok || !c.providerEnabled.Load() || c.provider == nil || c.quota == nil {
		return nil, ErrUnavailable
	}
	if c.conn != nil && !c.conn.Online(ctx) {
		return nil, ErrUnavailable
	}
	if !c.quota.RecordAPICall(ctx, quota.CategoryPlaces) {
		return nil, ErrUnavailable
	}

	d, err := c.provider.PlaceDetails(ctx, id)
	if err != nil {
		var se *gmaps.StatusError
		if errors.As(err, &se) && (se.Status == gmaps.StatusNotFound || se.Status == gmaps.StatusInvalid) {
			return nil, ErrNotFound
		}
		c.logger.Warn("Details fetch failed", "id", id, "error", err)
		return nil, ErrUnavailable
	}

	now := c.clock()
	d.ID = id
	d.Score = CalculateTourismScore(&d.PlaceSummary)
	d.Distance = 0
	d.IsVisited = false
	d.FetchedAt = now
	d.ExpiresAt = now.Add(c.cfg.DetailsTTL.D())

	c.rememberDetails(d)
	c.persistDetailsLocal(ctx)

	if _, ok := c.userID(); ok && c.remote != nil {
		rec := d.Clone()
		c.writer.Write(ctx, advisory.TierRemote, "put place details", func(ctx context.Context) error {
			doc, err := remote.NewDocument(remote.CollPlaceDetails, id, rec)
			if err != nil {
				return err
			}
			retain := rec.FetchedAt.Add(detailsRetention * c.cfg.DetailsRefreshAge.D())
			return c.remote.Put(ctx, doc.WithGeo(rec.Lat, rec.Lon).WithExpiry(retain))
		})
	}
	return d.Clone(), nil
}

// rememberDetails stores d in memory, evicting the soonest to expire
// beyond capacity.
func (c *Cache) rememberDetails(d *model.PlaceDetails) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.details[d.ID] = d.Clone()
	capacity := c.cfg.MemoryCapacity
	for capacity > 0 && len(c.details) > capacity {
		var victim string
		var soonest time.Time
		for id, v := range c.details {
			if victim == "" || v.ExpiresAt.Before(soonest) {
				victim, soonest = id, v.ExpiresAt
			}
		}
		delete(c.details, victim)
	}
}

// Close waits for background refreshes to finish.
func (c *Cache) Close() {
	c.bg.Wait()
}
