package gmaps

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"roamgo/pkg/model"
)

// Statuses returned in the JSON body of Places responses.
const (
	StatusOK          = "OK"
	StatusZeroResults = "ZERO_RESULTS"
	StatusNotFound    = "NOT_FOUND"
	StatusInvalid     = "INVALID_REQUEST"
)

// detailFields is the field mask sent with details requests.
var detailFields = strings.Join([]string{
	"place_id", "name", "vicinity", "geometry", "types", "rating",
	"user_ratings_total", "price_level", "photos", "website",
	"formatted_phone_number", "opening_hours", "reviews", "url",
}, ",")

// NearbyRequest describes one page of a nearby search.
type NearbyRequest struct {
	Lat, Lon float64
	Radius   float64
	// IncludedTypes is the category allow-list. The endpoint accepts a single
	// type, so longer lists are applied to the results client-side.
	IncludedTypes []string
	PageToken     string
}

// NearbyPage is one page of search results.
type NearbyPage struct {
	Status        string
	Places        []model.PlaceSummary
	NextPageToken string
}

type apiPhoto struct {
	Reference        string   `json:"photo_reference"`
	Width            int      `json:"width"`
	Height           int      `json:"height"`
	HTMLAttributions []string `json:"html_attributions"`
}

type apiPlace struct {
	PlaceID  string `json:"place_id"`
	Name     string `json:"name"`
	Vicinity string `json:"vicinity"`
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
	Types            []string   `json:"types"`
	Rating           *float64   `json:"rating"`
	UserRatingsTotal *int       `json:"user_ratings_total"`
	PriceLevel       *int       `json:"price_level"`
	Photos           []apiPhoto `json:"photos"`

	// Details only.
	Website      string `json:"website"`
	Phone        string `json:"formatted_phone_number"`
	URL          string `json:"url"`
	OpeningHours *struct {
		OpenNow     *bool    `json:"open_now"`
		WeekdayText []string `json:"weekday_text"`
	} `json:"opening_hours"`
	Reviews []struct {
		AuthorName string  `json:"author_name"`
		Rating     float64 `json:"rating"`
		Text       string  `json:"text"`
		Time       int64   `json:"time"`
	} `json:"reviews"`
}

type nearbyResponse struct {
	Status        string     `json:"status"`
	ErrorMessage  string     `json:"error_message"`
	Results       []apiPlace `json:"results"`
	NextPageToken string     `json:"next_page_token"`
}

type detailsResponse struct {
	Status       string   `json:"status"`
	ErrorMessage string   `json:"error_message"`
	Result       apiPlace `json:"result"`
}

// NearbySearch fetches one page. Transport failures are returned as errors;
// a non-OK body status is reported in NearbyPage.Status.
func (c *Client) NearbySearch(ctx context.Context, req NearbyRequest) (*NearbyPage, error) {
	q := url.Values{}
	if req.PageToken != "" {
		// A continuation request must carry the token and nothing else.
		q.Set("pagetoken", req.PageToken)
	} else {
		q.Set("location", strconv.FormatFloat(req.Lat, 'f', 6, 64)+","+strconv.FormatFloat(req.Lon, 'f', 6, 64))
		q.Set("radius", strconv.FormatFloat(req.Radius, 'f', 0, 64))
		if len(req.IncludedTypes) == 1 {
			q.Set("type", req.IncludedTypes[0])
		}
	}

	body, err := c.get(ctx, "/place/nearbysearch/json", q)
	if err != nil {
		return nil, err
	}

	var resp nearbyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode nearby response: %w", err)
	}

	page := &NearbyPage{Status: resp.Status, NextPageToken: resp.NextPageToken}
	switch resp.Status {
	case StatusOK:
	case StatusZeroResults:
		c.tracker.TrackAPIZero(providerName)
		return page, nil
	default:
		c.logger.Warn("Nearby search rejected", "status", resp.Status, "message", resp.ErrorMessage)
		return page, nil
	}

	for i := range resp.Results {
		p := resp.Results[i].summary()
		if len(req.IncludedTypes) > 1 && !matchesAny(p.Types, req.IncludedTypes) {
			continue
		}
		page.Places = append(page.Places, p)
	}
	return page, nil
}

// PlaceDetails fetches the detail record for one place.
// NOT_FOUND and other non-OK statuses come back as *StatusError.
func (c *Client) PlaceDetails(ctx context.Context, placeID string) (*model.PlaceDetails, error) {
	q := url.Values{}
	q.Set("place_id", placeID)
	q.Set("fields", detailFields)

	body, err := c.get(ctx, "/place/details/json", q)
	if err != nil {
		return nil, err
	}

	var resp detailsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode details response: %w", err)
	}
	if resp.Status != StatusOK {
		if resp.Status == StatusNotFound || resp.Status == StatusZeroResults {
			c.tracker.TrackAPIZero(providerName)
		}
		return nil, &StatusError{Status: resp.Status, Message: resp.ErrorMessage}
	}

	d := resp.Result.details()
	if d.ID == "" {
		d.ID = placeID
	}
	return d, nil
}

func matchesAny(types, allowed []string) bool {
	for _, t := range types {
		if slices.Contains(allowed, t) {
			return true
		}
	}
	return false
}

func (a *apiPlace) summary() model.PlaceSummary {
	s := model.PlaceSummary{
		ID:          a.PlaceID,
		Name:        a.Name,
		Vicinity:    a.Vicinity,
		Lat:         a.Geometry.Location.Lat,
		Lon:         a.Geometry.Location.Lng,
		Types:       slices.Clone(a.Types),
		Rating:      a.Rating,
		RatingCount: a.UserRatingsTotal,
		PriceLevel:  a.PriceLevel,
	}
	for _, ph := range a.Photos {
		s.Photos = append(s.Photos, model.PhotoRef{
			Reference:   ph.Reference,
			Width:       ph.Width,
			Height:      ph.Height,
			Attribution: AttributionText(ph.HTMLAttributions),
		})
	}
	return s
}

func (a *apiPlace) details() *model.PlaceDetails {
	d := &model.PlaceDetails{
		PlaceSummary: a.summary(),
		Website:      a.Website,
		Phone:        a.Phone,
		URL:          a.URL,
	}
	if a.OpeningHours != nil {
		d.OpeningHours = &model.OpeningHours{
			OpenNow:     a.OpeningHours.OpenNow,
			WeekdayText: a.OpeningHours.WeekdayText,
		}
	}
	for _, r := range a.Reviews {
		d.Reviews = append(d.Reviews, model.ReviewSnippet{
			Author: r.AuthorName,
			Rating: r.Rating,
			Text:   r.Text,
			Time:   time.Unix(r.Time, 0).UTC(),
		})
	}
	return d
}
