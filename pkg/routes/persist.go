package routes

import (
	"context"
	"time"

	"roamgo/pkg/advisory"
	"roamgo/pkg/model"
	"roamgo/pkg/store"
)

// Hydrate loads unexpired routes from the local store into memory.
func (c *Cache) Hydrate(ctx context.Context) int {
	if c.local == nil {
		return 0
	}
	var saved map[string]*model.Route
	found, err := store.GetJSON(ctx, c.local, store.KeyRouteCache, &saved)
	if err != nil {
		c.logger.Warn("Local route cache corrupt, ignoring", "error", err)
		return 0
	}
	if !found {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, r := range saved {
		if r == nil || !now.Before(r.ExpiresAt) {
			continue
		}
		if _, ok := c.mem[k]; !ok {
			c.mem[k] = r
			n++
		}
	}
	c.logger.Debug("Routes hydrated", "count", n)
	return n
}

// Prune drops expired routes from memory and rewrites the local copy.
func (c *Cache) Prune(ctx context.Context) int {
	c.mu.Lock()
	now := c.now()
	n := 0
	for k, r := range c.mem {
		if !now.Before(r.ExpiresAt) {
			delete(c.mem, k)
			n++
		}
	}
	c.mu.Unlock()

	if n > 0 {
		c.persistLocal(ctx)
		c.logger.Debug("Expired routes pruned", "count", n)
	}
	return n
}

// ClearRouteCache empties memory and the local copy. Shared remote routes
// are left for other devices.
func (c *Cache) ClearRouteCache(ctx context.Context) {
	c.mu.Lock()
	c.mem = make(map[string]*model.Route)
	c.mu.Unlock()

	if c.local == nil {
		return
	}
	c.writer.Write(ctx, advisory.TierLocal, "clear routes", func(ctx context.Context) error {
		return c.local.DeleteCache(ctx, store.KeyRouteCache)
	})
}

// Stats describes the memory tier.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	var st Stats
	var oldest time.Time
	for _, r := range c.mem {
		st.Entries++
		if r.Synthetic {
			st.Synthetic++
		}
		if !now.Before(r.ExpiresAt) {
			st.Expired++
		}
		if oldest.IsZero() || r.CreatedAt.Before(oldest) {
			oldest = r.CreatedAt
		}
	}
	st.Oldest = oldest
	return st
}

func (c *Cache) persistLocal(ctx context.Context) {
	if c.local == nil {
		return
	}
	// Serialized so an older snapshot never lands after a newer one
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.RLock()
	now := c.now()
	snapshot := make(map[string]*model.Route, len(c.mem))
	for k, r := range c.mem {
		if now.Before(r.ExpiresAt) {
			snapshot[k] = r
		}
	}
	c.mu.RUnlock()

	c.writer.Write(ctx, advisory.TierLocal, "save routes", func(ctx context.Context) error {
		return store.SetJSON(ctx, c.local, store.KeyRouteCache, snapshot)
	})
}
