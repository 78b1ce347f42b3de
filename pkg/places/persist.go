package places

import (
	"context"
	"time"

	"roamgo/pkg/advisory"
	"roamgo/pkg/model"
	"roamgo/pkg/store"
)

// snapshot is the local-store form of the memory tier.
type snapshot struct {
	Entries map[string]*model.CacheEntry   `json:"entries"`
	Places  map[string]*model.PlaceSummary `json:"places"`
}

// Stats describes the memory tier.
type Stats struct {
	Entries         int       `json:"entries"`
	ExpiredEntries  int       `json:"expired_entries"`
	Places          int       `json:"places"`
	Details         int       `json:"details"`
	StaleDetails    int       `json:"stale_details"`
	ProviderEnabled bool      `json:"provider_enabled"`
	LastCleanup     time.Time `json:"last_cleanup"`
}

// Load merges the local copy of the places and details caches into
// memory, skipping expired entries. It returns the number of entries added.
func (c *Cache) Load(ctx context.Context) int {
	if c.local == nil {
		return 0
	}

	var snap snapshot
	found, err := store.GetJSON(ctx, c.local, store.KeyPlacesCache, &snap)
	if err != nil {
		c.logger.Warn("Local places cache corrupt, ignoring", "error", err)
	}
	var details map[string]*model.PlaceDetails
	if _, err := store.GetJSON(ctx, c.local, store.KeyPlaceDetailsCache, &details); err != nil {
		c.logger.Warn("Local details cache corrupt, ignoring", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	added := 0
	if found {
		for key, e := range snap.Entries {
			if e == nil || !now.Before(e.ExpiresAt) {
				continue
			}
			if cur, ok := c.entries[key]; ok && !cur.CreatedAt.Before(e.CreatedAt) {
				continue
			}
			c.entries[key] = e
			added++
			for _, id := range e.PlaceIDs {
				if p, ok := snap.Places[id]; ok && p != nil {
					c.places[id] = p
				}
			}
		}
		c.trimLocked()
	}
	for id, d := range details {
		if d == nil {
			continue
		}
		if _, ok := c.details[id]; !ok {
			c.details[id] = d
		}
	}
	c.logger.Debug("Places cache loaded", "entries", added, "details", len(details))
	return added
}

func (c *Cache) persistLocal(ctx context.Context) {
	if c.local == nil {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.RLock()
	snap := snapshot{
		Entries: make(map[string]*model.CacheEntry, len(c.entries)),
		Places:  make(map[string]*model.PlaceSummary, len(c.places)),
	}
	for k, e := range c.entries {
		snap.Entries[k] = e
	}
	for k, p := range c.places {
		snap.Places[k] = p
	}
	c.mu.RUnlock()

	c.writer.Write(ctx, advisory.TierLocal, "save places", func(ctx context.Context) error {
		return store.SetJSON(ctx, c.local, store.KeyPlacesCache, snap)
	})
}

func (c *Cache) persistDetailsLocal(ctx context.Context) {
	if c.local == nil {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.RLock()
	details := make(map[string]*model.PlaceDetails, len(c.details))
	for k, d := range c.details {
		details[k] = d
	}
	c.mu.RUnlock()

	c.writer.Write(ctx, advisory.TierLocal, "save details", func(ctx context.Context) error {
		return store.SetJSON(ctx, c.local, store.KeyPlaceDetailsCache, details)
	})
}

// ClearPlacesCache empties memory and the local copies. Shared remote
// documents are left in place.
func (c *Cache) ClearPlacesCache(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*model.CacheEntry)
	c.places = make(map[string]*model.PlaceSummary)
	c.details = make(map[string]*model.PlaceDetails)
	c.mu.Unlock()
	c.localReloaded.Store(false)

	if c.local == nil {
		return
	}
	for _, key := range []string{store.KeyPlacesCache, store.KeyPlaceDetailsCache} {
		c.writer.Write(ctx, advisory.TierLocal, "clear "+key, func(ctx context.Context) error {
			return c.local.DeleteCache(ctx, key)
		})
	}
	c.logger.Info("Places cache cleared")
}

// Stats describes the memory tier.
func (c *Cache) Stats(ctx context.Context) Stats {
	st := Stats{ProviderEnabled: c.providerEnabled.Load()}
	if c.local != nil {
		st.LastCleanup, _ = c.lastCleanup(ctx)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	st.Entries = len(c.entries)
	st.Places = len(c.places)
	st.Details = len(c.details)
	for _, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			st.ExpiredEntries++
		}
	}
	for _, d := range c.details {
		if !d.IsFresh(now) {
			st.StaleDetails++
		}
	}
	return st
}
