package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

const earthRadius = 6371000 // meters

// Point represents a geographic coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// String formats the point as "lat,lon", the form routing keys use.
func (p Point) String() string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lon, 'f', 6, 64)
}

// Orb converts the point to an orb.Point (lon, lat order).
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// Valid reports whether the point is finite and within coordinate ranges.
func Valid(p Point) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Distance calculates the Haversine distance between two points in meters.
func Distance(p1, p2 Point) float64 {
	dLat := (p2.Lat - p1.Lat) * (math.Pi / 180.0)
	dLon := (p2.Lon - p1.Lon) * (math.Pi / 180.0)
	lat1 := p1.Lat * (math.Pi / 180.0)
	lat2 := p2.Lat * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	// Rounding can push a slightly outside [0,1] for antipodal inputs.
	a = math.Max(0, math.Min(1, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// DestinationPoint calculates the destination point from a start point, given distance (in meters) and bearing (in degrees).
func DestinationPoint(start Point, distMeters, bearing float64) Point {
	lat1 := start.Lat * (math.Pi / 180.0)
	lon1 := start.Lon * (math.Pi / 180.0)
	brng := bearing * (math.Pi / 180.0)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(distMeters/earthRadius) +
		math.Cos(lat1)*math.Sin(distMeters/earthRadius)*math.Cos(brng))
	lon2 := lon1 + math.Atan2(math.Sin(brng)*math.Sin(distMeters/earthRadius)*math.Cos(lat1),
		math.Cos(distMeters/earthRadius)-math.Sin(lat1)*math.Sin(lat2))

	return Point{
		Lat: lat2 * (180.0 / math.Pi),
		Lon: normalizeLon(lon2 * (180.0 / math.Pi)),
	}
}

// LookAhead projects the point the user will reach after travelling
// distMeters along heading. Used for camera positioning.
func LookAhead(start Point, heading, distMeters float64) Point {
	if distMeters <= 0 {
		return start
	}
	return DestinationPoint(start, distMeters, heading)
}

// Bearing calculates the initial bearing (forward azimuth) from p1 to p2 in degrees.
// When both points coincide the bearing is undefined and fallback is returned.
func Bearing(p1, p2 Point, fallback float64) float64 {
	if p1 == p2 {
		return fallback
	}
	lat1 := p1.Lat * (math.Pi / 180.0)
	lat2 := p2.Lat * (math.Pi / 180.0)
	dLon := (p2.Lon - p1.Lon) * (math.Pi / 180.0)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) -
		math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	if math.Abs(x) < 1e-15 && math.Abs(y) < 1e-15 {
		return fallback
	}
	brng := math.Atan2(y, x)

	return math.Mod(brng*(180.0/math.Pi)+360.0, 360.0)
}

func normalizeLon(lon float64) float64 {
	return math.Mod(lon+540, 360) - 180
}

// CellKey derives the coarse area key used to partition cached result sets.
// Coordinates are rounded to two decimals (roughly 1.1 km of latitude).
func CellKey(lat, lon float64) string {
	return fmt.Sprintf("%.2f_%.2f", roundTo(lat, 2), roundTo(lon, 2))
}

func roundTo(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	r := math.Round(v*pow) / pow
	if r == 0 {
		return 0 // avoid "-0.00"
	}
	return r
}

// BoundsAround returns a lat/lon box that contains every point within
// meters of p. Longitude span widens with latitude.
func BoundsAround(p Point, meters float64) orb.Bound {
	dLat := meters / 111320.0
	cosLat := math.Cos(p.Lat * math.Pi / 180)
	dLon := 180.0
	if cosLat > 1e-6 {
		dLon = math.Min(180, meters/(111320.0*cosLat))
	}
	return orb.Bound{
		Min: orb.Point{p.Lon - dLon, math.Max(-90, p.Lat-dLat)},
		Max: orb.Point{p.Lon + dLon, math.Min(90, p.Lat+dLat)},
	}
}

// ParseCoordinate parses "lat,lon" into a Point.
func ParseCoordinate(s string) (Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("invalid coordinate %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	p := Point{Lat: lat, Lon: lon}
	if !Valid(p) {
		return Point{}, fmt.Errorf("coordinate out of range %q", s)
	}
	return p, nil
}
