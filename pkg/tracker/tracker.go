package tracker

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Tracker tracks usage statistics per provider and per cache tier, and
// mirrors them into Prometheus when a registry is attached.
type Tracker struct {
	mu       sync.RWMutex
	stats    map[string]*ProviderStats
	tiers    map[string]*TierStats
	advisory map[string]*int64

	metrics *metrics
}

// ProviderStats holds metrics for a specific provider.
// Fields are accessed atomically.
type ProviderStats struct {
	APISuccess    int64
	APIFailures   int64
	APIZeroResult int64
	Throttled     int64
}

// TierStats holds hit/miss counts for one cache tier.
type TierStats struct {
	Hits   int64
	Misses int64
}

type metrics struct {
	api      *prometheus.CounterVec
	tier     *prometheus.CounterVec
	advisory *prometheus.CounterVec
	quota    *prometheus.GaugeVec
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats:    make(map[string]*ProviderStats),
		tiers:    make(map[string]*TierStats),
		advisory: make(map[string]*int64),
	}
}

// Register attaches Prometheus collectors to reg.
func (t *Tracker) Register(reg prometheus.Registerer) error {
	m := &metrics{
		api: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roamgo_provider_requests_total",
			Help: "Provider requests by outcome.",
		}, []string{"provider", "outcome"}),
		tier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roamgo_cache_lookups_total",
			Help: "Cache lookups by cache, tier and result.",
		}, []string{"cache", "tier", "result"}),
		advisory: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roamgo_advisory_write_failures_total",
			Help: "Best-effort persistence failures by tier.",
		}, []string{"tier"}),
		quota: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roamgo_quota_used",
			Help: "Billable provider calls used today.",
		}, []string{"category"}),
	}
	for _, c := range []prometheus.Collector{m.api, m.tier, m.advisory, m.quota} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	t.mu.Lock()
	t.metrics = m
	t.mu.Unlock()
	return nil
}

func (t *Tracker) prom() *metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.metrics
}

// getStats returns the stats object for a provider, creating it if needed.
func (t *Tracker) getStats(provider string) *ProviderStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &ProviderStats{}
	t.stats[provider] = s
	return s
}

func (t *Tracker) getTier(cache, tier string) *TierStats {
	key := cache + "." + tier
	t.mu.RLock()
	s, ok := t.tiers[key]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.tiers[key]; ok {
		return s
	}
	s = &TierStats{}
	t.tiers[key] = s
	return s
}

func (t *Tracker) api(provider, outcome string, field *int64) {
	atomic.AddInt64(field, 1)
	if m := t.prom(); m != nil {
		m.api.WithLabelValues(provider, outcome).Inc()
	}
}

func (t *Tracker) TrackAPISuccess(provider string) {
	t.api(provider, "success", &t.getStats(provider).APISuccess)
}

func (t *Tracker) TrackAPIFailure(provider string) {
	t.api(provider, "failure", &t.getStats(provider).APIFailures)
}

func (t *Tracker) TrackAPIZero(provider string) {
	t.api(provider, "zero", &t.getStats(provider).APIZeroResult)
}

// TrackThrottled counts calls refused by quota or an open breaker.
func (t *Tracker) TrackThrottled(provider string) {
	t.api(provider, "throttled", &t.getStats(provider).Throttled)
}

// TrackHit counts a hit on one tier of a cache ("places", "memory").
func (t *Tracker) TrackHit(cache, tier string) {
	atomic.AddInt64(&t.getTier(cache, tier).Hits, 1)
	if m := t.prom(); m != nil {
		m.tier.WithLabelValues(cache, tier, "hit").Inc()
	}
}

// TrackMiss counts a miss on one tier of a cache.
func (t *Tracker) TrackMiss(cache, tier string) {
	atomic.AddInt64(&t.getTier(cache, tier).Misses, 1)
	if m := t.prom(); m != nil {
		m.tier.WithLabelValues(cache, tier, "miss").Inc()
	}
}

// AdvisoryFailed counts a failed best-effort write.
func (t *Tracker) AdvisoryFailed(tier string) {
	t.mu.Lock()
	n, ok := t.advisory[tier]
	if !ok {
		n = new(int64)
		t.advisory[tier] = n
	}
	m := t.metrics
	t.mu.Unlock()
	atomic.AddInt64(n, 1)
	if m != nil {
		m.advisory.WithLabelValues(tier).Inc()
	}
}

// SetQuotaUsed publishes the per-category quota usage.
func (t *Tracker) SetQuotaUsed(category string, used int) {
	if m := t.prom(); m != nil {
		m.quota.WithLabelValues(category).Set(float64(used))
	}
}

// Snapshot returns a copy of the current provider stats.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ProviderStats, len(t.stats))
	for k, v := range t.stats {
		result[k] = ProviderStats{
			APISuccess:    atomic.LoadInt64(&v.APISuccess),
			APIFailures:   atomic.LoadInt64(&v.APIFailures),
			APIZeroResult: atomic.LoadInt64(&v.APIZeroResult),
			Throttled:     atomic.LoadInt64(&v.Throttled),
		}
	}
	return result
}

// TierSnapshot returns a copy of the tier stats keyed "cache.tier".
func (t *Tracker) TierSnapshot() map[string]TierStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]TierStats, len(t.tiers))
	for k, v := range t.tiers {
		result[k] = TierStats{
			Hits:   atomic.LoadInt64(&v.Hits),
			Misses: atomic.LoadInt64(&v.Misses),
		}
	}
	return result
}

// AdvisorySnapshot returns failed advisory writes per tier.
func (t *Tracker) AdvisorySnapshot() map[string]int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make(map[string]int64, len(t.advisory))
	for k, v := range t.advisory {
		result[k] = atomic.LoadInt64(v)
	}
	return result
}

// Reset zeroes the in-process counters. Prometheus counters are monotonic
// and keep their values.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, v := range t.stats {
		atomic.StoreInt64(&v.APISuccess, 0)
		atomic.StoreInt64(&v.APIFailures, 0)
		atomic.StoreInt64(&v.APIZeroResult, 0)
		atomic.StoreInt64(&v.Throttled, 0)
	}
	for _, v := range t.tiers {
		atomic.StoreInt64(&v.Hits, 0)
		atomic.StoreInt64(&v.Misses, 0)
	}
	for _, v := range t.advisory {
		atomic.StoreInt64(v, 0)
	}
}
