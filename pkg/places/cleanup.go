package places

import (
	"context"
	"time"

	"roamgo/pkg/advisory"
	"roamgo/pkg/remote"
	"roamgo/pkg/store"
)

// CleanupResult counts what a cleanup pass removed.
type CleanupResult struct {
	Skipped       bool  `json:"skipped"`
	Entries       int   `json:"entries"`
	Details       int   `json:"details"`
	RemoteEntries int64 `json:"remote_entries"`
	RemoteDetails int64 `json:"remote_details"`
}

// Cleanup removes expired entries from memory, the local copy and the
// shared remote collections. Unless force is set it does nothing when the
// previous pass ran less than the cleanup interval ago.
func (c *Cache) Cleanup(ctx context.Context, force bool) CleanupResult {
	now := c.clock()
	if !force && c.local != nil {
		if last, ok := c.lastCleanup(ctx); ok && now.Sub(last) < c.cfg.CleanupInterval.D() {
			return CleanupResult{Skipped: true}
		}
	}

	var res CleanupResult
	c.mu.Lock()
	for key, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			delete(c.entries, key)
			res.Entries++
		}
	}
	c.dropOrphansLocked()
	// Details stay as a stale fallback until the refresh age has passed
	for id, d := range c.details {
		if now.Sub(d.FetchedAt) > c.cfg.DetailsRefreshAge.D() && !d.IsFresh(now) {
			delete(c.details, id)
			res.Details++
		}
	}
	c.mu.Unlock()

	c.persistLocal(ctx)
	c.persistDetailsLocal(ctx)

	if _, ok := c.userID(); ok && c.remote != nil {
		c.writer.Write(ctx, advisory.TierRemote, "expire place caches", func(ctx context.Context) error {
			n, err := c.remote.DeleteExpired(ctx, remote.CollPlaceCaches, now)
			res.RemoteEntries = n
			return err
		})
		c.writer.Write(ctx, advisory.TierRemote, "expire place details", func(ctx context.Context) error {
			n, err := c.remote.DeleteExpired(ctx, remote.CollPlaceDetails, now)
			res.RemoteDetails = n
			return err
		})
	}

	if c.local != nil {
		c.writer.Write(ctx, advisory.TierLocal, "mark cleanup", func(ctx context.Context) error {
			return c.local.SetState(ctx, store.KeyLastCleanup, now.UTC().Format(time.RFC3339))
		})
	}
	c.logger.Info("Places cleanup done",
		"entries", res.Entries, "details", res.Details,
		"remote_entries", res.RemoteEntries, "remote_details", res.RemoteDetails)
	return res
}

func (c *Cache) lastCleanup(ctx context.Context) (time.Time, bool) {
	v, ok := c.local.GetState(ctx, store.KeyLastCleanup)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
