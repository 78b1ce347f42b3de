// Package location holds the process-wide device position and fans every
// change out to subscribers.
package location

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/uber/h3-go/v4"

	"roamgo/pkg/advisory"
	"roamgo/pkg/config"
	"roamgo/pkg/geo"
	"roamgo/pkg/logging"
	"roamgo/pkg/model"
	"roamgo/pkg/remote"
	"roamgo/pkg/store"
	"roamgo/pkg/tracker"
)

// ErrInvalidCoordinate is returned for updates outside coordinate ranges.
var ErrInvalidCoordinate = errors.New("location: invalid coordinate")

// minHeadingStep is the movement, in meters, below which the heading is kept.
const minHeadingStep = 3.0

// Identity tells the service whose history to record.
type Identity interface {
	UserID() (string, bool)
}

// Deps are the collaborators of a Service. Remote, Identity and Tracker may be nil.
type Deps struct {
	Local    store.StateStore
	Remote   remote.DocumentStore
	Identity Identity
	Tracker  *tracker.Tracker
}

type listener struct {
	id int
	fn func(model.LocationState)
}

// Service owns the location state.
type Service struct {
	cfg    config.LocationConfig
	local  store.StateStore
	remote remote.DocumentStore
	ident  Identity
	writer *advisory.Writer
	logger *slog.Logger
	track  *geo.TrackBuffer

	mu        sync.RWMutex
	state     model.LocationState
	listeners []listener
	nextID    int
	lastCell  h3.Cell
	now       func() time.Time

	// notifyMu keeps callbacks in state order when updates race.
	notifyMu sync.Mutex
}

// New creates a location service.
func New(cfg config.LocationConfig, d Deps) *Service {
	logger := slog.With("component", "location")
	var sink advisory.Sink
	if d.Tracker != nil {
		sink = d.Tracker
	}
	return &Service{
		cfg:    cfg,
		local:  d.Local,
		remote: d.Remote,
		ident:  d.Identity,
		writer: advisory.New(logger, sink),
		logger: logger,
		track:  geo.NewTrackBuffer(cfg.HeadingWindow, minHeadingStep),
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// State returns a copy of the current state.
func (s *Service) State() model.LocationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Current returns the coordinate, if one is known.
func (s *Service) Current() (geo.Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Coordinate == nil {
		return geo.Point{}, false
	}
	return *s.state.Coordinate, true
}

// Subscribe registers fn for every state change. fn is called once,
// synchronously, with the current state before Subscribe returns.
// Callbacks run on the updating goroutine and must not update the state.
func (s *Service) Subscribe(fn func(model.LocationState)) (unsubscribe func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	current := s.state.Clone()
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.listeners = slices.DeleteFunc(s.listeners, func(l listener) bool { return l.id == id })
		})
	}
}

// change applies mutate under the lock and notifies every listener with
// the resulting state.
func (s *Service) change(mutate func(st *model.LocationState)) model.LocationState {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	mutate(&s.state)
	s.state.UpdatedAt = s.now()
	st := s.state.Clone()
	ls := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, l := range ls {
		l.fn(st.Clone())
	}
	return st
}

// Update records a new fix. A nil heading is derived from recent movement.
func (s *Service) Update(ctx context.Context, lat, lon float64, heading *float64) (model.LocationState, error) {
	p := geo.Point{Lat: lat, Lon: lon}
	if !geo.Valid(p) {
		s.change(func(st *model.LocationState) {
			st.LastError = fmt.Sprintf("invalid coordinate %v,%v", lat, lon)
		})
		return s.State(), ErrInvalidCoordinate
	}

	prev := s.State().Heading
	h := s.track.Push(p, prev)
	if heading != nil {
		h = *heading
	}

	st := s.change(func(st *model.LocationState) {
		st.Coordinate = &p
		st.Heading = h
		st.PermissionGranted = true
		st.Initialized = true
		st.LastError = ""
	})

	logging.Trace(s.logger, "Location fix", "lat", p.Lat, "lon", p.Lon, "heading", h)
	s.persist(ctx, p)
	s.recordHistory(ctx, p)
	return st, nil
}

// SetPermission records whether location access is granted.
func (s *Service) SetPermission(granted bool) {
	s.change(func(st *model.LocationState) {
		st.PermissionGranted = granted
		if !granted {
			st.LastError = "location permission denied"
		}
	})
}

// ReportError records a failure of the location source.
func (s *Service) ReportError(msg string) {
	s.change(func(st *model.LocationState) {
		st.LastError = msg
		st.Initialized = true
	})
}

type savedLocation struct {
	Lat     float64   `json:"lat"`
	Lon     float64   `json:"lon"`
	SavedAt time.Time `json:"saved_at"`
}

func (s *Service) persist(ctx context.Context, p geo.Point) {
	if s.local == nil {
		return
	}
	saved := savedLocation{Lat: p.Lat, Lon: p.Lon, SavedAt: s.State().UpdatedAt}
	s.writer.Write(ctx, advisory.TierLocal, "save last location", func(ctx context.Context) error {
		data, err := json.Marshal(saved)
		if err != nil {
			return err
		}
		return s.local.SetState(ctx, store.KeyLastKnownLocation, string(data))
	})
}

// Restore loads the last known location saved by a previous run. It
// reports whether one was found.
func (s *Service) Restore(ctx context.Context) bool {
	if s.local == nil {
		return false
	}
	raw, ok := s.local.GetState(ctx, store.KeyLastKnownLocation)
	if !ok {
		return false
	}
	var saved savedLocation
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		s.logger.Warn("Saved location corrupt, ignoring", "error", err)
		return false
	}
	p := geo.Point{Lat: saved.Lat, Lon: saved.Lon}
	if !geo.Valid(p) {
		return false
	}
	s.change(func(st *model.LocationState) {
		st.Coordinate = &p
		st.Initialized = true
	})
	s.logger.Info("Restored last known location", "lat", p.Lat, "lon", p.Lon, "saved_at", saved.SavedAt)
	return true
}

// recordHistory writes a sample whenever the fix enters a new H3 cell.
func (s *Service) recordHistory(ctx context.Context, p geo.Point) {
	if !s.cfg.HistoryEnabled || s.remote == nil || s.ident == nil {
		return
	}
	uid, ok := s.ident.UserID()
	if !ok {
		return
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lon), s.cfg.HistoryRes)
	if err != nil {
		s.logger.Debug("H3 index failed", "error", err)
		return
	}

	s.mu.Lock()
	if cell == s.lastCell {
		s.mu.Unlock()
		return
	}
	s.lastCell = cell
	now := s.now()
	s.mu.Unlock()

	sample := model.LocationSample{
		ID:         uuid.NewString(),
		UserID:     uid,
		Lat:        p.Lat,
		Lon:        p.Lon,
		Cell:       cell.String(),
		RecordedAt: now,
	}
	s.writer.Write(ctx, advisory.TierRemote, "record location", func(ctx context.Context) error {
		doc, err := remote.NewDocument(remote.UserCollection(uid, remote.SubLocationHistory), sample.ID, sample)
		if err != nil {
			return err
		}
		return s.remote.Put(ctx, doc.WithGeo(p.Lat, p.Lon))
	})
}

// History returns the signed-in user's samples, oldest first.
func (s *Service) History(ctx context.Context) ([]model.LocationSample, error) {
	if s.remote == nil || s.ident == nil {
		return nil, nil
	}
	uid, ok := s.ident.UserID()
	if !ok {
		return nil, nil
	}
	docs, err := s.remote.List(ctx, remote.UserCollection(uid, remote.SubLocationHistory))
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]model.LocationSample, 0, len(docs))
	for i := range docs {
		var ls model.LocationSample
		if err := docs[i].Decode(&ls); err != nil {
			continue
		}
		out = append(out, ls)
	}
	slices.SortFunc(out, func(a, b model.LocationSample) int {
		return cmp.Compare(a.RecordedAt.UnixNano(), b.RecordedAt.UnixNano())
	})
	return out, nil
}
