// Package core ties the caches to the device location: startup ordering,
// refresh gating and the job scheduler.
package core

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"roamgo/pkg/config"
	"roamgo/pkg/geo"
	"roamgo/pkg/model"
	"roamgo/pkg/places"
	"roamgo/pkg/session"
)

// ErrNoLocation is returned when nearby places are asked for before any
// location is known.
var ErrNoLocation = errors.New("core: no location yet")

// Deps are the collaborators of an Orchestrator. Visited, Routes and
// Session may be nil.
type Deps struct {
	Places   PlacesSource
	Visited  VisitedChecker
	Location LocationSource
	Routes   RouteMaintainer
	Session  SessionSource
}

// Snapshot is the last nearby result and where it was taken.
type Snapshot struct {
	Center geo.Point     `json:"center"`
	Result places.Result `json:"result"`
	At     time.Time     `json:"at"`
}

// Orchestrator serves nearby places for the current location.
type Orchestrator struct {
	cfg      config.LocationConfig
	places   PlacesSource
	visited  VisitedChecker
	location LocationSource
	routes   RouteMaintainer
	session  SessionSource
	logger   *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
	initOnce  sync.Once

	foreground atomic.Bool

	mu   sync.RWMutex
	last *Snapshot
	now  func() time.Time
}

// New creates an orchestrator. The app is assumed to start in the foreground.
func New(cfg config.LocationConfig, d Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		places:   d.Places,
		visited:  d.Visited,
		location: d.Location,
		routes:   d.Routes,
		session:  d.Session,
		logger:   slog.With("component", "core"),
		ready:    make(chan struct{}),
		now:      time.Now,
	}
	o.foreground.Store(true)
	return o
}

// SetClock replaces the time source.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = now
}

func (o *Orchestrator) clock() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.now()
}

// Init restores the last location, then loads the local caches, then
// signals readiness. Calls after the first are no-ops.
func (o *Orchestrator) Init(ctx context.Context) {
	o.initOnce.Do(func() {
		restored := o.location.Restore(ctx)
		entries := o.places.Load(ctx)
		routes := 0
		if o.routes != nil {
			routes = o.routes.Hydrate(ctx)
		}

		if o.session != nil {
			o.session.OnChange(o.onSessionChange)
		}
		o.updateGate()

		o.logger.Info("Initialized",
			"location_restored", restored, "place_entries", entries, "routes", routes)
		o.readyOnce.Do(func() { close(o.ready) })
	})
}

// Ready is closed once Init has finished.
func (o *Orchestrator) Ready() <-chan struct{} {
	return o.ready
}

// SetForeground records whether the app is in the foreground. Provider
// calls are made only in the foreground.
func (o *Orchestrator) SetForeground(fg bool) {
	if o.foreground.Swap(fg) != fg {
		o.logger.Debug("Foreground changed", "foreground", fg)
		if fg {
			o.invalidate()
		}
	}
	o.updateGate()
}

// Foreground reports the foreground flag.
func (o *Orchestrator) Foreground() bool {
	return o.foreground.Load()
}

func (o *Orchestrator) authenticated() bool {
	return o.session != nil && o.session.Authenticated()
}

// updateGate allows provider calls only once sign-in is confirmed and the
// app is in the foreground.
func (o *Orchestrator) updateGate() {
	o.places.SetProviderEnabled(o.authenticated() && o.foreground.Load())
}

func (o *Orchestrator) onSessionChange(st session.State) {
	if o.visited != nil {
		o.visited.ResetMemo()
	}
	o.updateGate()
	o.invalidate()
	o.logger.Info("Session changed", "authenticated", st.Authenticated())
}

// invalidate forgets the last result so the next tick refreshes.
func (o *Orchestrator) invalidate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.last = nil
}

// NearbyPlaces returns places around the current location with visited
// flags merged in.
func (o *Orchestrator) NearbyPlaces(ctx context.Context, force bool) (places.Result, error) {
	p, ok := o.location.Current()
	if !ok {
		return places.Result{Places: []model.PlaceSummary{}, FurthestDistance: places.FurthestDistance(nil), Source: places.SourceNone}, ErrNoLocation
	}
	res := o.NearbyPlacesAt(ctx, p, force)
	// An empty answer is not a baseline for the movement gate
	if res.Source != places.SourceNone {
		o.mu.Lock()
		o.last = &Snapshot{Center: p, Result: res, At: o.now()}
		o.mu.Unlock()
	}
	return res, nil
}

// NearbyPlacesAt returns places around p with visited flags merged in.
func (o *Orchestrator) NearbyPlacesAt(ctx context.Context, p geo.Point, force bool) places.Result {
	res := o.places.FetchNearbyPlaces(ctx, p.Lat, p.Lon, force)
	if o.visited != nil && len(res.Places) > 0 {
		res.Places = o.visited.CheckVisitedPlaces(ctx, res.Places)
	}
	return res
}

// Last returns a copy of the most recent result for the current location.
func (o *Orchestrator) Last() (Snapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return Snapshot{}, false
	}
	s := *o.last
	s.Result.Places = slices.Clone(o.last.Result.Places)
	return s, true
}

// ShouldRefresh reports whether nearby places should be re-fetched at p:
// the user must have moved more than the configured fraction of the last
// result radius and the minimum interval must have passed.
func (o *Orchestrator) ShouldRefresh(p geo.Point) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return true
	}
	if o.now().Sub(o.last.At) < o.cfg.MinRefreshInterval.D() {
		return false
	}
	moved := geo.Distance(o.last.Center, p)
	return moved > o.cfg.MoveFraction*o.last.Result.FurthestDistance
}

// Maintain runs cache cleanup. Places cleanup is throttled by the cache.
func (o *Orchestrator) Maintain(ctx context.Context) {
	res := o.places.Cleanup(ctx, false)
	pruned := 0
	if o.routes != nil {
		pruned = o.routes.Prune(ctx)
	}
	if !res.Skipped || pruned > 0 {
		o.logger.Debug("Maintenance done", "place_entries", res.Entries, "routes", pruned)
	}
}

// Scheduler returns a scheduler with the refresh and cleanup jobs.
func (o *Orchestrator) Scheduler(cleanupInterval time.Duration) *Scheduler {
	s := NewScheduler(o.cfg.TickInterval.D(), o.location)
	s.AddJob(NewRefreshJob(o))
	s.AddJob(NewTimeJob("Cleanup", cleanupInterval, func(ctx context.Context, _ model.LocationState) {
		o.Maintain(ctx)
	}))
	return s
}
