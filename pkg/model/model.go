package model

import (
	"fmt"
	"slices"
	"time"

	"github.com/paulmach/orb"

	"roamgo/pkg/geo"
)

// PhotoRef points at a provider-hosted photo.
type PhotoRef struct {
	Reference   string `json:"reference"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Attribution string `json:"attribution,omitempty"` // plain text, HTML stripped
}

// PlaceSummary is a point of interest as returned by a nearby search.
// Only Distance changes after construction; it is recomputed for the
// caller's position on every read.
type PlaceSummary struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Vicinity    string     `json:"vicinity"`
	Lat         float64    `json:"lat"`
	Lon         float64    `json:"lon"`
	Types       []string   `json:"types"`
	Rating      *float64   `json:"rating,omitempty"`
	RatingCount *int       `json:"rating_count,omitempty"`
	PriceLevel  *int       `json:"price_level,omitempty"`
	Photos      []PhotoRef `json:"photos,omitempty"`
	Score       float64    `json:"score"`
	Distance    float64    `json:"distance"`
	IsVisited   bool       `json:"is_visited"`
}

// Point returns the place coordinate.
func (p *PlaceSummary) Point() geo.Point {
	return geo.Point{Lat: p.Lat, Lon: p.Lon}
}

// HasType reports whether the place carries the category tag.
func (p *PlaceSummary) HasType(t string) bool {
	return slices.Contains(p.Types, t)
}

// RatingValue returns the rating or 0 when absent.
func (p *PlaceSummary) RatingValue() float64 {
	if p.Rating == nil {
		return 0
	}
	return *p.Rating
}

// RatingCountValue returns the rating count or 0 when absent.
func (p *PlaceSummary) RatingCountValue() int {
	if p.RatingCount == nil {
		return 0
	}
	return *p.RatingCount
}

// Clone returns a deep copy so cached records are never shared with callers.
func (p *PlaceSummary) Clone() PlaceSummary {
	c := *p
	c.Types = slices.Clone(p.Types)
	c.Photos = slices.Clone(p.Photos)
	if p.Rating != nil {
		v := *p.Rating
		c.Rating = &v
	}
	if p.RatingCount != nil {
		v := *p.RatingCount
		c.RatingCount = &v
	}
	if p.PriceLevel != nil {
		v := *p.PriceLevel
		c.PriceLevel = &v
	}
	return c
}

// OpeningHours is the structured schedule of a place.
type OpeningHours struct {
	OpenNow     *bool    `json:"open_now,omitempty"`
	WeekdayText []string `json:"weekday_text,omitempty"`
}

// ReviewSnippet is one user review.
type ReviewSnippet struct {
	Author string    `json:"author"`
	Rating float64   `json:"rating"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

// PlaceDetails extends PlaceSummary with the on-demand detail fields.
// A record is authoritative only while now < ExpiresAt; afterwards it is
// stale and served as a fallback while a refresh runs.
type PlaceDetails struct {
	PlaceSummary
	Website      string          `json:"website,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	OpeningHours *OpeningHours   `json:"opening_hours,omitempty"`
	Reviews      []ReviewSnippet `json:"reviews,omitempty"`
	URL          string          `json:"url,omitempty"`
	FetchedAt    time.Time       `json:"fetched_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// IsFresh reports whether the details are still authoritative at now.
func (d *PlaceDetails) IsFresh(now time.Time) bool {
	return now.Before(d.ExpiresAt)
}

// Clone returns a deep copy.
func (d *PlaceDetails) Clone() *PlaceDetails {
	c := *d
	c.PlaceSummary = d.PlaceSummary.Clone()
	c.Reviews = slices.Clone(d.Reviews)
	if d.OpeningHours != nil {
		oh := *d.OpeningHours
		oh.WeekdayText = slices.Clone(d.OpeningHours.WeekdayText)
		if d.OpeningHours.OpenNow != nil {
			v := *d.OpeningHours.OpenNow
			oh.OpenNow = &v
		}
		c.OpeningHours = &oh
	}
	return &c
}

// CacheEntry associates a cell center with the places found around it.
type CacheEntry struct {
	Key       string    `json:"key"`
	CenterLat float64   `json:"center_lat"`
	CenterLon float64   `json:"center_lon"`
	PlaceIDs  []string  `json:"place_ids"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Radius    float64   `json:"radius"`
}

// Center returns the coordinate the entry was searched from.
func (e *CacheEntry) Center() geo.Point {
	return geo.Point{Lat: e.CenterLat, Lon: e.CenterLon}
}

// ValidFor reports whether the entry may answer a query at q: it must be
// unexpired and its center within threshold meters of q. The search radius
// plays no part; this is a locality check, not a coverage check.
func (e *CacheEntry) ValidFor(q geo.Point, now time.Time, threshold float64) bool {
	if !now.Before(e.ExpiresAt) {
		return false
	}
	if !geo.Valid(q) {
		return false
	}
	return geo.Distance(e.Center(), q) <= threshold
}

// TravelMode selects the routing profile.
type TravelMode string

// Supported travel modes.
const (
	ModeWalking TravelMode = "walking"
	ModeDriving TravelMode = "driving"
)

// Valid reports whether m is a known mode.
func (m TravelMode) Valid() bool {
	return m == ModeWalking || m == ModeDriving
}

// Route is a cached origin to destination path.
type Route struct {
	Origin      string         `json:"origin"`
	Destination string         `json:"destination"`
	Mode        TravelMode     `json:"mode"`
	Path        orb.LineString `json:"path"` // lon/lat order
	Duration    string         `json:"duration"`
	DurationSec int            `json:"duration_sec"`
	DistanceKm  float64        `json:"distance_km"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	// Synthetic marks straight-line estimates made without the provider.
	Synthetic bool `json:"synthetic"`
}

// Clone returns a deep copy.
func (r *Route) Clone() *Route {
	c := *r
	c.Path = slices.Clone(r.Path)
	return &c
}

// FormatDuration renders seconds the way the routing provider does,
// e.g. "7 mins" or "1 hour 5 mins".
func FormatDuration(sec int) string {
	mins := (sec + 30) / 60
	if mins < 1 {
		mins = 1
	}
	h, m := mins/60, mins%60
	plural := func(n int, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s", unit)
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case h == 0:
		return plural(m, "min")
	case m == 0:
		return plural(h, "hour")
	default:
		return plural(h, "hour") + " " + plural(m, "min")
	}
}

// QuotaRecord is the billable call count for one local calendar day.
type QuotaRecord struct {
	Date       string         `json:"date"` // 2006-01-02
	Count      int            `json:"count"`
	ByCategory map[string]int `json:"by_category"`
}

// VisitedEntry memoizes the visited flag for a place.
type VisitedEntry struct {
	PlaceID   string    `json:"place_id"`
	Visited   bool      `json:"visited"`
	CheckedAt time.Time `json:"checked_at"`
}

// VisitedPlace is the persisted record of a place the user reached.
type VisitedPlace struct {
	PlaceID   string    `json:"place_id"`
	Name      string    `json:"name"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Types     []string  `json:"types,omitempty"`
	VisitedAt time.Time `json:"visited_at"`
}

// LocationState is the process-wide view of the device position.
type LocationState struct {
	Coordinate        *geo.Point `json:"coordinate"`
	Heading           float64    `json:"heading"`
	PermissionGranted bool       `json:"permission_granted"`
	Initialized       bool       `json:"initialized"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastError         string     `json:"last_error,omitempty"`
}

// Clone returns a copy that does not share the coordinate pointer.
func (s LocationState) Clone() LocationState {
	if s.Coordinate != nil {
		p := *s.Coordinate
		s.Coordinate = &p
	}
	return s
}

// LocationSample is one location history point.
type LocationSample struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Cell       string    `json:"cell"` // H3 index
	RecordedAt time.Time `json:"recorded_at"`
}
