package geo

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		p1   Point
		p2   Point
		want float64 // approximate meters
	}{
		{"Same point", Point{0, 0}, Point{0, 0}, 0},
		{"London to Paris", Point{51.5074, -0.1278}, Point{48.8566, 2.3522}, 344000},
		{"1 deg Lat at Equator", Point{0, 0}, Point{1, 0}, 111195},
		{"Antipodal", Point{0, 0}, Point{0, 180}, math.Pi * earthRadius},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.p1, tt.p2)
			if math.IsNaN(got) {
				t.Fatalf("Distance() = NaN")
			}
			margin := tt.want * 0.01
			if margin < 1 {
				margin = 1
			}
			if math.Abs(got-tt.want) > margin {
				t.Errorf("Distance() = %v, want approx %v", got, tt.want)
			}
		})
	}
}

func TestDistance_Symmetric(t *testing.T) {
	a := Point{Lat: 51.5007, Lon: -0.1246}
	b := Point{Lat: 51.5014, Lon: -0.1419}
	if math.Abs(Distance(a, b)-Distance(b, a)) > 1e-9 {
		t.Errorf("distance not symmetric")
	}
}

func TestBearing(t *testing.T) {
	tests := []struct {
		name string
		p1   Point
		p2   Point
		want float64
	}{
		{"North", Point{0, 0}, Point{1, 0}, 0},
		{"East", Point{0, 0}, Point{0, 1}, 90},
		{"South", Point{1, 0}, Point{0, 0}, 180},
		{"West", Point{0, 1}, Point{0, 0}, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bearing(tt.p1, tt.p2, -1)
			if math.Abs(got-tt.want) > 0.5 {
				t.Errorf("Bearing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBearing_SamePointReturnsFallback(t *testing.T) {
	p := Point{Lat: 48.85, Lon: 2.35}
	if got := Bearing(p, p, 123); got != 123 {
		t.Errorf("Bearing() = %v, want fallback 123", got)
	}
}

func TestDestinationPoint_RoundTrip(t *testing.T) {
	start := Point{Lat: 51.5, Lon: -0.12}
	dest := DestinationPoint(start, 1000, 90)
	if d := Distance(start, dest); math.Abs(d-1000) > 1 {
		t.Errorf("distance to destination = %v, want 1000", d)
	}
	if b := Bearing(start, dest, -1); math.Abs(b-90) > 0.5 {
		t.Errorf("bearing to destination = %v, want 90", b)
	}
}

func TestDestinationPoint_WrapsDateLine(t *testing.T) {
	dest := DestinationPoint(Point{Lat: 0, Lon: 179.999}, 1000, 90)
	if dest.Lon > 180 || dest.Lon < -180 {
		t.Errorf("longitude not normalized: %v", dest.Lon)
	}
}

func TestLookAhead(t *testing.T) {
	start := Point{Lat: 10, Lon: 10}
	if got := LookAhead(start, 45, 0); got != start {
		t.Errorf("zero distance should return start, got %v", got)
	}
	got := LookAhead(start, 0, 500)
	if got.Lat <= start.Lat {
		t.Errorf("heading north should increase latitude, got %v", got)
	}
}

func TestCellKey(t *testing.T) {
	tests := []struct {
		lat, lon float64
		want     string
	}{
		{51.5007, -0.1246, "51.50_-0.12"},
		{51.5051, -0.1246, "51.51_-0.12"},
		{-0.001, 0.001, "0.00_0.00"},
		{40.7128, -74.006, "40.71_-74.01"},
	}
	for _, tt := range tests {
		if got := CellKey(tt.lat, tt.lon); got != tt.want {
			t.Errorf("CellKey(%v,%v) = %q, want %q", tt.lat, tt.lon, got, tt.want)
		}
	}
}

func TestCellKey_NearbyPointsShareKey(t *testing.T) {
	a := CellKey(51.5007, -0.1246)
	b := CellKey(51.5012, -0.1241)
	if a != b {
		t.Errorf("expected shared cell, got %q and %q", a, b)
	}
}

func TestBoundsAround(t *testing.T) {
	p := Point{Lat: 51.5, Lon: -0.12}
	b := BoundsAround(p, 1500)
	if !b.Contains(p.Orb()) {
		t.Fatalf("bound does not contain center")
	}
	edge := DestinationPoint(p, 1400, 90)
	if !b.Contains(edge.Orb()) {
		t.Errorf("bound does not contain point 1400m east")
	}
	far := DestinationPoint(p, 3000, 0)
	if b.Contains(far.Orb()) {
		t.Errorf("bound contains point 3000m north")
	}
}

func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		in      string
		want    Point
		wantErr bool
	}{
		{"51.5007,-0.1246", Point{51.5007, -0.1246}, false},
		{" 10.5 , 20.25 ", Point{10.5, 20.25}, false},
		{"91,0", Point{}, true},
		{"abc,1", Point{}, true},
		{"1,2,3", Point{}, true},
		{"", Point{}, true},
	}
	for _, tt := range tests {
		got, err := ParseCoordinate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCoordinate(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseCoordinate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPointString(t *testing.T) {
	p := Point{Lat: 51.5007, Lon: -0.1246}
	if got := p.String(); got != "51.500700,-0.124600" {
		t.Errorf("String() = %q", got)
	}
}
