// Package request is the outbound HTTP layer. Calls are queued per
// provider and served one at a time, spaced by a rate limiter, retried on
// transient failures and cooled down after repeated errors.
package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"roamgo/pkg/config"
	"roamgo/pkg/tracker"
	"roamgo/pkg/version"
)

var defaultUserAgent = fmt.Sprintf("RoamGo/%s", version.Version)

// queueDepth bounds waiting calls per provider; further callers block.
const queueDepth = 100

// defaultSpacing is the minimum gap between two calls to one provider.
const defaultSpacing = 100 * time.Millisecond

// StatusError is returned for non-retryable HTTP error statuses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: status %d", e.Code)
}

// ErrMaxRetries is returned when every attempt hit a retryable failure.
var ErrMaxRetries = errors.New("max retries exceeded")

// Client is the shared outbound HTTP client.
type Client struct {
	httpClient *http.Client
	tracker    *tracker.Tracker
	cooldown   *Cooldown

	maxAttempts int
	retryBase   time.Duration
	spacing     time.Duration

	mu     sync.Mutex
	queues map[string]chan call
}

type call struct {
	req     *http.Request
	headers map[string]string
	done    chan result
}

type result struct {
	body []byte
	err  error
}

// New creates a Client.
func New(cfg config.RequestConfig, t *tracker.Tracker) *Client {
	timeout := cfg.Timeout.D()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := cfg.Backoff.BaseDelay.D()
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxDelay := cfg.Backoff.MaxDelay.D()
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		tracker:     t,
		cooldown:    NewCooldown(base, maxDelay),
		maxAttempts: cfg.Retries + 1,
		retryBase:   base,
		spacing:     defaultSpacing,
		queues:      make(map[string]chan call),
	}
}

// Get performs a queued GET request.
func (c *Client) Get(ctx context.Context, u string) ([]byte, error) {
	return c.GetWithHeaders(ctx, u, nil)
}

// GetWithHeaders performs a queued GET request with custom headers.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string) ([]byte, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	provider := normalizeProvider(parsed.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	done := make(chan result, 1)
	if err := c.enqueue(ctx, provider, call{req: req, headers: headers, done: done}); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.body, res.err
	}
}

// normalizeProvider groups hosts that share one rate limit.
func normalizeProvider(host string) string {
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	if strings.HasSuffix(host, ".googleapis.com") {
		return "gmaps"
	}
	return host
}

func (c *Client) enqueue(ctx context.Context, provider string, cl call) error {
	c.mu.Lock()
	q, ok := c.queues[provider]
	if !ok {
		q = make(chan call, queueDepth)
		c.queues[provider] = q
		go c.serve(provider, q)
	}
	c.mu.Unlock()

	select {
	case q <- cl:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serve runs one provider's calls in order.
func (c *Client) serve(provider string, q <-chan call) {
	logger := slog.With("component", "request", "provider", provider)
	var limiter *rate.Limiter
	if c.spacing > 0 {
		limiter = rate.NewLimiter(rate.Every(c.spacing), 1)
	}

	for cl := range q {
		ctx := cl.req.Context()
		if err := ctx.Err(); err != nil {
			logger.Debug("Dropping expired call", "error", err)
			cl.done <- result{err: err}
			continue
		}
		if c.cooldown.Remaining(provider) > 0 {
			c.tracker.TrackThrottled(provider)
		}
		if err := c.cooldown.Wait(ctx, provider); err != nil {
			cl.done <- result{err: err}
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				cl.done <- result{err: err}
				continue
			}
		}

		setHeaders(cl.req, cl.headers)
		body, err := c.do(logger, provider, cl.req)
		switch {
		case err == nil:
			c.tracker.TrackAPISuccess(provider)
			c.cooldown.Succeeded(provider)
		default:
			c.tracker.TrackAPIFailure(provider)
			var se *StatusError
			if !errors.As(err, &se) && ctx.Err() == nil {
				c.cooldown.Failed(provider)
			}
		}
		cl.done <- result{body: body, err: err}
	}
}

func setHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", defaultUserAgent)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
}

// do sends the request, retrying network errors, 429 and 5xx with
// doubling delays. A Retry-After header also cools the provider down.
func (c *Client) do(logger *slog.Logger, provider string, req *http.Request) ([]byte, error) {
	ctx := req.Context()
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logger.Debug("Network request", "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("Request failed, retrying", "path", req.URL.Path, "attempt", attempt+1, "error", err)
			if err := c.pause(ctx, attempt, 0); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			hint := retryAfter(resp.Header.Get("Retry-After"), time.Now())
			resp.Body.Close()
			c.cooldown.Defer(provider, hint)
			logger.Warn("Provider asked to back off", "status", resp.StatusCode, "retry_after", hint, "attempt", attempt+1)
			if err := c.pause(ctx, attempt, hint); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, &StatusError{Code: resp.StatusCode}
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return body, nil
	}
	return nil, ErrMaxRetries
}

// pause waits retryBase * 2^attempt, or the server's hint if longer.
func (c *Client) pause(ctx context.Context, attempt int, hint time.Duration) error {
	d := max(c.retryBase<<min(attempt, maxShift), hint)
	if m := c.cooldown.max; d > m {
		d = m
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryAfter parses a Retry-After value given in seconds or as an HTTP date.
func retryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return max(0, time.Duration(secs)*time.Second)
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(0, t.Sub(now))
	}
	return 0
}
