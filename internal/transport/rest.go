// Package transport implements the shared REST request pipeline used by every
// venue adapter: URL construction, query/body serialization, signed-header
// attachment, bounded timeouts, rate limiting, and error mapping.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/quantfold/venuelink/errs"
	"github.com/quantfold/venuelink/lib/telemetry"
)

const (
	// DefaultMarketDataTimeout bounds fast read calls.
	DefaultMarketDataTimeout = 5 * time.Second
	// DefaultOrderTimeout bounds order calls that need venue confirmation.
	DefaultOrderTimeout = 15 * time.Second

	errorBodyLimit = 8 << 10
)

// Options configure a venue REST client.
type Options struct {
	Venue      string
	BaseURL    string
	HTTPClient *http.Client
	RateLimit  rate.Limit
	RateBurst  int
	UserAgent  string
	ParseError func(status int, body []byte) *errs.E
	Clock      func() time.Time
}

// Client is one adapter's REST pipeline. Idempotent reads may be retried by
// the caller; this layer never retries writes.
type Client struct {
	venue      string
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	userAgent  string
	parseError func(status int, body []byte) *errs.E
	clock      func() time.Time
	requests   metric.Int64Counter
}

// NewClient builds a REST client for one venue.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	limit := opts.RateLimit
	if limit <= 0 {
		limit = rate.Limit(10)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = int(limit)
		if burst < 1 {
			burst = 1
		}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	requests, _ := telemetry.Meter().Int64Counter("venuelink.rest.requests")
	return &Client{
		venue:      strings.TrimSpace(opts.Venue),
		baseURL:    strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/"),
		http:       httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		userAgent:  strings.TrimSpace(opts.UserAgent),
		parseError: opts.ParseError,
		clock:      clock,
		requests:   requests,
	}
}

// Venue returns the venue identifier the client reports in errors.
func (c *Client) Venue() string { return c.venue }

// BaseURL returns the configured base endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// Now returns the client clock reading, used for signing timestamps.
func (c *Client) Now() time.Time { return c.clock() }

// Request describes one REST call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    []byte
	Headers http.Header
	// Timeout bounds the call; DefaultMarketDataTimeout when zero.
	Timeout time.Duration
}

// URL renders the full request URL for signing purposes.
func (c *Client) URL(path string, query url.Values) string {
	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return full
}

// Do issues the request and decodes a 2xx JSON response into out when out is
// non-nil. Non-success responses map to an errs.E carrying the venue's raw
// message; transport failures map to connectivity errors.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultMarketDataTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.limiter.Wait(callCtx); err != nil {
		return errs.New(c.venue, errs.KindConnectivity,
			errs.WithMessage("rate limiter wait"), errs.WithCause(err))
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, c.URL(req.Path, req.Query), body)
	if err != nil {
		return errs.New(c.venue, errs.KindContract,
			errs.WithMessage("build request"), errs.WithCause(err))
	}
	for key, values := range req.Headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if c.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.record(ctx, req.Method, "transport_error")
		return errs.New(c.venue, errs.KindConnectivity,
			errs.WithMessage("request "+req.Path), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		c.record(ctx, req.Method, "venue_error")
		return c.mapError(resp.StatusCode, raw)
	}

	c.record(ctx, req.Method, "ok")
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return errs.New(c.venue, errs.KindVenue,
			errs.WithMessage("decode "+req.Path), errs.WithCause(err))
	}
	return nil
}

func (c *Client) mapError(status int, raw []byte) error {
	if c.parseError != nil {
		if mapped := c.parseError(status, raw); mapped != nil {
			return mapped
		}
	}
	return DefaultError(c.venue, status, raw)
}

// DefaultError maps an HTTP status and raw body to the error taxonomy.
func DefaultError(venue string, status int, raw []byte) *errs.E {
	kind := errs.KindVenue
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = errs.KindAuth
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		kind = errs.KindRateLimited
	case status >= http.StatusInternalServerError:
		kind = errs.KindConnectivity
	}
	return errs.New(venue, kind,
		errs.WithHTTP(status),
		errs.WithRawMessage(strings.TrimSpace(string(raw))))
}

func (c *Client) record(ctx context.Context, method, result string) {
	if c.requests == nil {
		return
	}
	c.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("venue", c.venue),
		attribute.String("method", method),
		attribute.String("result", result),
	))
}
