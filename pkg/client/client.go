// Package client provides the retrying HTTP fetcher for Shippo's paginated
// collection endpoints, with error classification and bounded exponential
// backoff.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/parcelworks/shippo-extract/pkg/logging"
)

// Prometheus metrics for fetch operations.
var (
	shippoRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shippo_requests_total",
		Help: "Total Shippo requests by stream and status",
	}, []string{"stream", "status"})

	shippoRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shippo_request_duration_seconds",
		Help:    "Shippo request duration in seconds by stream",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"stream"})

	shippoErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shippo_errors_total",
		Help: "Total Shippo fetch errors by class",
	}, []string{"class"})
)

// Record is one raw record mapping as returned by the API. The extractor
// reads only object_id and object_updated by name; everything else is
// passed through opaquely.
type Record map[string]any

// Page is one fetched response: an ordered batch of records plus the URL
// of the next page, if any.
type Page struct {
	// URL is the address this page was fetched from.
	URL string

	// Records is the ordered batch of raw records. Records are NOT
	// guaranteed to be sorted by object_updated.
	Records []Record

	// Next is the absolute URL of the next page, or empty for the
	// terminal page.
	Next string
}

// Terminal reports whether this is the last page of its collection.
func (p *Page) Terminal() bool {
	return p.Next == ""
}

// Fetcher fetches a single page. Implemented by Client; consumed by the
// page walker and the sync engine so tests can substitute fakes.
type Fetcher interface {
	FetchPage(ctx context.Context, pageURL string) (*Page, error)
}

// Config holds the client configuration.
type Config struct {
	// Token is the Shippo API token (REQUIRED). Sent as
	// "Authorization: ShippoToken <token>".
	Token string

	// UserAgent is an optional User-Agent header.
	UserAgent string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// Retry configures the transient-error retry policy.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(token string) Config {
	return Config{
		Token:   token,
		Timeout: 30 * time.Second,
		Retry:   DefaultRetryConfig(),
	}
}

// Client fetches pages from the Shippo API.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new Shippo client.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("api token is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: logging.NewLogger("fetcher"),
	}, nil
}

// pageEnvelope is the wire shape of one Shippo list response. Pointer
// fields distinguish a missing key from an empty value.
type pageEnvelope struct {
	Results *[]Record `json:"results"`
	Next    *string   `json:"next"`
}

// FetchPage performs one GET against a fully-qualified page URL, retrying
// transient failures per the configured retry policy. Client (4xx) and
// protocol (malformed body) errors are returned without retry.
func (c *Client) FetchPage(ctx context.Context, pageURL string) (*Page, error) {
	stream := streamLabel(pageURL)

	var page *Page
	err := retryWithBackoff(ctx, c.config.Retry, stream, c.logger, func() error {
		p, fetchErr := c.fetchOnce(ctx, pageURL, stream)
		if fetchErr != nil {
			shippoErrorsTotal.WithLabelValues(string(ClassOf(fetchErr))).Inc()
			return fetchErr
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// fetchOnce performs a single attempt.
func (c *Client) fetchOnce(ctx context.Context, pageURL, stream string) (*Page, error) {
	start := time.Now()
	defer func() {
		shippoRequestDuration.WithLabelValues(stream).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &APIError{
			Class:   ErrorClassClient,
			URL:     pageURL,
			Message: "malformed request URL",
			Err:     err,
		}
	}

	req.Header.Set("Authorization", "ShippoToken "+c.config.Token)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("stream", stream).
		Str("url", pageURL).
		Msg("GET")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		shippoRequestsTotal.WithLabelValues(stream, "network_error").Inc()
		return nil, &APIError{
			Class:   ErrorClassTransient,
			URL:     pageURL,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	shippoRequestsTotal.WithLabelValues(stream, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode >= 500:
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassTransient,
			URL:        pageURL,
			Message:    resp.Status,
		}
	case resp.StatusCode >= 400:
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassClient,
			URL:        pageURL,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassTransient,
			URL:        pageURL,
			Message:    "reading response body",
			Err:        err,
		}
	}

	var env pageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassProtocol,
			URL:        pageURL,
			Message:    "response body is not a page object",
			Err:        err,
		}
	}
	if env.Results == nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassProtocol,
			URL:        pageURL,
			Message:    "response body missing results field",
		}
	}

	next := ""
	if env.Next != nil {
		next = *env.Next
	}

	c.logger.Info().
		Str("stream", stream).
		Str("url", pageURL).
		Int("status_code", resp.StatusCode).
		Int("records", len(*env.Results)).
		Dur("duration", time.Since(start)).
		Msg("Fetched page")

	return &Page{
		URL:     pageURL,
		Records: *env.Results,
		Next:    next,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// streamLabel derives a metrics/log label from a page URL. Used only for
// observability; stream routing proper lives in pkg/streams.
func streamLabel(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "unknown"
	}
	segment := strings.Trim(u.Path, "/")
	if i := strings.IndexByte(segment, '/'); i >= 0 {
		segment = segment[:i]
	}
	if segment == "" {
		return "unknown"
	}
	return segment
}
