// Package client provides the core API request executor with rate limiting,
// failure classification, and per-class retry policies.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stacktools/teams-harvester/pkg/ratelimit"
)

// Prometheus metrics for executor operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})

	quotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_quota_remaining",
		Help: "Quota remaining as reported by the last response envelope",
	})
)

// Family identifies which upstream endpoint family a call targets. The
// primary family serves the entity streams; the detail family is the
// secondary endpoint set that carries join/last-seen timestamps.
type Family string

const (
	FamilyPrimary Family = "primary"
	FamilyDetail  Family = "detail"
)

// Config holds the executor configuration.
type Config struct {
	// BaseURL is the primary endpoint family root, without trailing slash.
	BaseURL string

	// DetailBaseURL is the secondary endpoint family root. Falls back to
	// BaseURL when empty.
	DetailBaseURL string

	// Token is the bearer token attached to every request.
	Token string

	// UserAgent identifies this collector to the upstream API.
	UserAgent string

	// RequestTimeout bounds each individual attempt (default 30s).
	RequestTimeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, token string) Config {
	return Config{
		BaseURL:        baseURL,
		Token:          token,
		UserAgent:      "teams-harvester/1.0",
		RequestTimeout: 30 * time.Second,
	}
}

// Envelope is the upstream response wrapper for collection endpoints.
// Absence of has_more or an empty items list signals the end of results.
type Envelope struct {
	Items          []json.RawMessage `json:"items"`
	HasMore        bool              `json:"has_more"`
	QuotaRemaining int               `json:"quota_remaining"`
}

// Client executes logical API calls. Every attempt acquires rate limiter
// capacity before touching the network.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	cfg        Config
	logger     zerolog.Logger

	primaryCalls atomic.Int64
	detailCalls  atomic.Int64
}

// New creates a request executor sharing the given limiter.
func New(cfg Config, limiter *ratelimit.Limiter) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("auth token is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.DetailBaseURL == "" {
		cfg.DetailBaseURL = cfg.BaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "teams-harvester/1.0"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{},
		limiter:    limiter,
		cfg:        cfg,
		logger:     log.With().Str("component", "api-client").Logger(),
	}, nil
}

// GetRaw executes one logical GET against the given endpoint family and
// returns the raw response body. Callers that memoize responses go through
// this method so the cached payload is the exact upstream bytes.
func (c *Client) GetRaw(ctx context.Context, family Family, endpoint string, query url.Values) ([]byte, error) {
	return c.execute(ctx, family, endpoint, query)
}

// GetPage fetches one collection page from the primary endpoint family.
func (c *Client) GetPage(ctx context.Context, endpoint string, query url.Values) (*Envelope, error) {
	return c.getEnvelope(ctx, FamilyPrimary, endpoint, query)
}

// GetDetailPage fetches one collection page from the detail endpoint family.
func (c *Client) GetDetailPage(ctx context.Context, endpoint string, query url.Values) (*Envelope, error) {
	return c.getEnvelope(ctx, FamilyDetail, endpoint, query)
}

// GetObject fetches a single non-paginated object from the primary family
// and decodes it into out.
func (c *Client) GetObject(ctx context.Context, endpoint string, query url.Values, out any) error {
	body, err := c.execute(ctx, FamilyPrimary, endpoint, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// Calls returns the number of completed call attempts per endpoint family.
func (c *Client) Calls() (primary, detail int64) {
	return c.primaryCalls.Load(), c.detailCalls.Load()
}

func (c *Client) getEnvelope(ctx context.Context, family Family, endpoint string, query url.Values) (*Envelope, error) {
	body, err := c.execute(ctx, family, endpoint, query)
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode %s envelope: %w", endpoint, err)
	}
	if env.QuotaRemaining > 0 {
		quotaRemaining.Set(float64(env.QuotaRemaining))
	}
	return &env, nil
}

// execute performs one logical call: limiter admission, bearer-token HTTPS
// request with per-attempt timeout, classification, and per-class retries.
func (c *Client) execute(ctx context.Context, family Family, endpoint string, query url.Values) ([]byte, error) {
	base := c.cfg.BaseURL
	if family == FamilyDetail {
		base = c.cfg.DetailBaseURL
	}
	requestURL := base + endpoint
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var body []byte
	err := retryWithBackoff(ctx, c.logger, func() error {
		// Every attempt re-acquires capacity; no task bypasses the limiter.
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}

		// The attempt keeps its own deadline but is detached from the run
		// context: a stop signal lets the in-flight request finish and is
		// observed at the suspension points between attempts.
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RequestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, requestURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.cfg.UserAgent)

		c.countCall(family)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return &APIError{
				Class:    ErrorClassNetwork,
				Endpoint: endpoint,
				Message:  err.Error(),
				Err:      err,
			}
		}
		defer resp.Body.Close()

		data, readErr := io.ReadAll(resp.Body)
		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusOK {
			if readErr != nil {
				errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
				return &APIError{
					Class:    ErrorClassNetwork,
					Endpoint: endpoint,
					Message:  "read response body",
					Err:      readErr,
				}
			}
			body = data
			return nil
		}

		class := Classify(resp.StatusCode, nil)
		errorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("API request error")

		return &APIError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Endpoint:   endpoint,
			Message:    strings.TrimSpace(firstLine(string(data), resp.Status)),
			RetryAfter: parseRetryAfter(resp.Header),
		}
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) countCall(family Family) {
	if family == FamilyDetail {
		c.detailCalls.Add(1)
		return
	}
	c.primaryCalls.Add(1)
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func parseRetryAfter(h http.Header) int {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds < 0 {
		return 0
	}
	return seconds
}

func firstLine(body, fallback string) string {
	if body == "" {
		return fallback
	}
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[:i]
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return body
}
