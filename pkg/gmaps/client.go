// Package gmaps talks to the Google Maps Places and Directions web services.
package gmaps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"roamgo/pkg/config"
	"roamgo/pkg/request"
	"roamgo/pkg/tracker"
)

// Provider name used for tracking.
const providerName = "gmaps"

// ErrNoKey is returned when no API key is configured.
var ErrNoKey = errors.New("gmaps: no api key configured")

// ErrBreakerOpen is returned while the circuit breaker rejects calls.
var ErrBreakerOpen = errors.New("gmaps: circuit open")

// StatusError carries a non-OK status from the JSON body.
type StatusError struct {
	Status  string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gmaps: status %s: %s", e.Status, e.Message)
	}
	return "gmaps: status " + e.Status
}

// Client is the Google Maps adapter.
type Client struct {
	http     *request.Client
	tracker  *tracker.Tracker
	breaker  *gobreaker.CircuitBreaker[[]byte]
	key      string
	baseURL  string
	language string
	logger   *slog.Logger
}

// New creates a Client sending requests through rc.
func New(cfg config.MapsConfig, rc *request.Client, t *tracker.Tracker) *Client {
	logger := slog.With("component", "gmaps")
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout.D()
	if timeout <= 0 {
		timeout = time.Minute
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "gmaps-api",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about provider health
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		http:     rc,
		tracker:  t,
		breaker:  breaker,
		key:      cfg.Key,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		language: cfg.Language,
		logger:   logger,
	}
}

// BreakerState reports the circuit state ("closed", "half-open", "open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if c.key == "" {
		return nil, ErrNoKey
	}
	q.Set("key", c.key)
	if c.language != "" && q.Get("language") == "" {
		q.Set("language", c.language)
	}
	u := c.baseURL + path + "?" + q.Encode()

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.http.Get(ctx, u)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.tracker.TrackThrottled(providerName)
			return nil, ErrBreakerOpen
		}
		return nil, fmt.Errorf("gmaps %s: %w", path, err)
	}
	return body, nil
}
