package api

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"roamgo/pkg/places"
	"roamgo/pkg/quota"
	"roamgo/pkg/routes"
	"roamgo/pkg/store"
)

// statsTTL bounds how long a computed stats response is reused.
const statsTTL = 5 * time.Second

// TierStatsDTO is the hit/miss count of one cache tier.
type TierStatsDTO struct {
	Tier    string `json:"tier"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	HitRate int64  `json:"hit_rate"`
}

// ProviderStatsDTO is the call outcome count of one provider.
type ProviderStatsDTO struct {
	Provider      string `json:"provider"`
	APISuccess    int64  `json:"api_success"`
	APIZeroResult int64  `json:"api_zero"`
	APIFailures   int64  `json:"api_errors"`
	Throttled     int64  `json:"throttled"`
}

// CacheStatsResponse is the payload of GET /api/cache/stats.
type CacheStatsResponse struct {
	Places      places.Stats       `json:"places"`
	Routes      routes.Stats       `json:"routes"`
	VisitedMemo int                `json:"visited_memo"`
	Quota       *quota.Stats       `json:"quota,omitempty"`
	Tiers       []TierStatsDTO     `json:"tiers"`
	Providers   []ProviderStatsDTO `json:"providers"`
	Advisory    map[string]int64   `json:"advisory_failures"`
	Local       []store.CacheStat  `json:"local,omitempty"`
}

// statsCache holds the last encoded stats response.
type statsCache struct {
	mu         sync.Mutex
	resp       []byte
	lastUpdate time.Time
}

func (c *statsCache) get() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resp != nil && time.Since(c.lastUpdate) < statsTTL {
		return c.resp
	}
	return nil
}

func (c *statsCache) put(b []byte) {
	c.mu.Lock()
	c.resp = b
	c.lastUpdate = time.Now()
	c.mu.Unlock()
}

func (c *statsCache) reset() {
	c.mu.Lock()
	c.resp = nil
	c.mu.Unlock()
}

func (h *Handler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if b := h.stats.get(); b != nil {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
		return
	}

	resp := CacheStatsResponse{
		Places:    h.d.Places.Stats(r.Context()),
		Routes:    h.d.Routes.Stats(),
		Tiers:     []TierStatsDTO{},
		Providers: []ProviderStatsDTO{},
		Advisory:  map[string]int64{},
	}
	if h.d.Visited != nil {
		resp.VisitedMemo = h.d.Visited.MemoSize()
	}
	if h.d.Quota != nil {
		if qs, err := h.d.Quota.Stats(r.Context()); err == nil {
			resp.Quota = &qs
		}
	}
	if h.d.Local != nil {
		if ls, err := h.d.Local.CacheStats(r.Context()); err == nil {
			resp.Local = ls
		} else {
			h.logger.Warn("Failed to read local cache stats", "error", err)
		}
	}
	if t := h.d.Tracker; t != nil {
		for name, s := range t.TierSnapshot() {
			dto := TierStatsDTO{Tier: name, Hits: s.Hits, Misses: s.Misses}
			if total := s.Hits + s.Misses; total > 0 {
				dto.HitRate = s.Hits * 100 / total
			}
			resp.Tiers = append(resp.Tiers, dto)
		}
		for name, s := range t.Snapshot() {
			resp.Providers = append(resp.Providers, ProviderStatsDTO{
				Provider:      name,
				APISuccess:    s.APISuccess,
				APIZeroResult: s.APIZeroResult,
				APIFailures:   s.APIFailures,
				Throttled:     s.Throttled,
			})
		}
		resp.Advisory = t.AdvisorySnapshot()
	}
	sort.Slice(resp.Tiers, func(i, j int) bool { return resp.Tiers[i].Tier < resp.Tiers[j].Tier })
	sort.Slice(resp.Providers, func(i, j int) bool { return resp.Providers[i].Provider < resp.Providers[j].Provider })

	b, err := json.Marshal(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding error")
		return
	}
	h.stats.put(b)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (h *Handler) handleClearPlaces(w http.ResponseWriter, r *http.Request) {
	h.d.Places.ClearPlacesCache(r.Context())
	h.stats.reset()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClearRoutes(w http.ResponseWriter, r *http.Request) {
	h.d.Routes.ClearRouteCache(r.Context())
	h.stats.reset()
	w.WriteHeader(http.StatusNoContent)
}
