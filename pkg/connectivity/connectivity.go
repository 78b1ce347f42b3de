// Package connectivity decides whether the device is online.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"roamgo/pkg/config"
)

// Checker probes a known URL and caches the verdict for a short window.
type Checker struct {
	client   *http.Client
	probeURL string
	cacheFor time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	online    bool
	checkedAt time.Time
	forced    *bool
}

// New creates a Checker from config.
func New(cfg config.ConnectivityConfig) *Checker {
	timeout := cfg.Timeout.D()
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Checker{
		client:   &http.Client{Timeout: timeout},
		probeURL: cfg.ProbeURL,
		cacheFor: cfg.CacheFor.D(),
		timeout:  timeout,
		logger:   slog.With("component", "connectivity"),
		now:      time.Now,
	}
}

// Online reports whether the probe URL answered recently.
func (c *Checker) Online(ctx context.Context) bool {
	c.mu.Lock()
	if c.forced != nil {
		v := *c.forced
		c.mu.Unlock()
		return v
	}
	if !c.checkedAt.IsZero() && c.now().Sub(c.checkedAt) < c.cacheFor {
		v := c.online
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	online := c.probe(ctx)

	c.mu.Lock()
	if online != c.online || c.checkedAt.IsZero() {
		c.logger.Info("Connectivity changed", "online", online)
	}
	c.online = online
	c.checkedAt = c.now()
	c.mu.Unlock()
	return online
}

// Force pins the verdict, bypassing the probe. Nil restores probing.
func (c *Checker) Force(online *bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if online == nil {
		c.forced = nil
		c.checkedAt = time.Time{}
		return
	}
	v := *online
	c.forced = &v
}

func (c *Checker) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.probeURL, http.NoBody)
	if err != nil {
		c.logger.Warn("Invalid probe url", "url", c.probeURL, "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Probe failed", "error", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}
