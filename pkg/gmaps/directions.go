package gmaps

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb"

	"roamgo/pkg/model"
)

// ErrNoRoute is returned when the directions response carries no route.
var ErrNoRoute = errors.New("gmaps: no route")

// Directions is the first route of a directions response.
type Directions struct {
	Path           orb.LineString
	DurationText   string
	DurationSec    int
	DistanceMeters int
}

type directionsResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Routes       []struct {
		OverviewPolyline struct {
			Points string `json:"points"`
		} `json:"overview_polyline"`
		Legs []struct {
			Distance struct {
				Value int `json:"value"`
			} `json:"distance"`
			Duration struct {
				Text  string `json:"text"`
				Value int    `json:"value"`
			} `json:"duration"`
		} `json:"legs"`
	} `json:"routes"`
}

// Directions fetches a route between two "lat,lon" strings.
func (c *Client) Directions(ctx context.Context, origin, destination string, mode model.TravelMode) (*Directions, error) {
	q := url.Values{}
	q.Set("origin", origin)
	q.Set("destination", destination)
	q.Set("mode", string(mode))

	body, err := c.get(ctx, "/directions/json", q)
	if err != nil {
		return nil, err
	}

	var resp directionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode directions response: %w", err)
	}
	if resp.Status != StatusOK {
		if resp.Status == StatusZeroResults {
			c.tracker.TrackAPIZero(providerName)
			return nil, ErrNoRoute
		}
		return nil, &StatusError{Status: resp.Status, Message: resp.ErrorMessage}
	}
	if len(resp.Routes) == 0 {
		c.tracker.TrackAPIZero(providerName)
		return nil, ErrNoRoute
	}

	r := resp.Routes[0]
	path, err := DecodePolyline(r.OverviewPolyline.Points)
	if err != nil {
		return nil, err
	}

	out := &Directions{Path: path}
	for i, leg := range r.Legs {
		out.DistanceMeters += leg.Distance.Value
		out.DurationSec += leg.Duration.Value
		if i == 0 {
			out.DurationText = leg.Duration.Text
		}
	}
	if len(r.Legs) > 1 {
		out.DurationText = model.FormatDuration(out.DurationSec)
	}
	return out, nil
}
