package gmaps

import (
	"errors"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

// ErrBadPolyline is returned for truncated or malformed encoded polylines.
var ErrBadPolyline = errors.New("gmaps: malformed polyline")

// DecodePolyline decodes Google's encoded polyline format (precision 1e5)
// into a LineString in lon/lat order.
func DecodePolyline(s string) (orb.LineString, error) {
	var ls orb.LineString
	var lat, lon int64
	for i := 0; i < len(s); {
		dLat, n, err := decodeValue(s[i:])
		if err != nil {
			return nil, err
		}
		i += n
		dLon, n, err := decodeValue(s[i:])
		if err != nil {
			return nil, err
		}
		i += n
		lat += dLat
		lon += dLon
		ls = append(ls, orb.Point{float64(lon) / 1e5, float64(lat) / 1e5})
	}
	return ls, nil
}

func decodeValue(s string) (value int64, consumed int, err error) {
	var result int64
	var shift uint
	for consumed < len(s) {
		b := int64(s[consumed]) - 63
		consumed++
		if b < 0 || b > 63 {
			return 0, 0, ErrBadPolyline
		}
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			if result&1 != 0 {
				return ^(result >> 1), consumed, nil
			}
			return result >> 1, consumed, nil
		}
		if shift > 60 {
			return 0, 0, ErrBadPolyline
		}
	}
	return 0, 0, ErrBadPolyline
}

// EncodePolyline is the inverse of DecodePolyline.
func EncodePolyline(ls orb.LineString) string {
	var b strings.Builder
	var prevLat, prevLon int64
	for _, p := range ls {
		lat := int64(math.Round(p.Lat() * 1e5))
		lon := int64(math.Round(p.Lon() * 1e5))
		encodeValue(&b, lat-prevLat)
		encodeValue(&b, lon-prevLon)
		prevLat, prevLon = lat, lon
	}
	return b.String()
}

func encodeValue(b *strings.Builder, v int64) {
	u := v << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		b.WriteByte(byte((0x20 | (u & 0x1f)) + 63))
		u >>= 5
	}
	b.WriteByte(byte(u + 63))
}
