// Package sentinel talks to the Sentinel Hub catalog and process APIs. Both
// clients share one OAuth2 client-credentials HTTP client that is throttled
// to a request rate and a number of requests in flight.
package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vk/patchgridgo/internal/ctxlog"
	"github.com/vk/patchgridgo/internal/metrics"
	"github.com/vk/patchgridgo/internal/retry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL    = "https://services.sentinel-hub.com"
	DefaultTokenURL   = "https://services.sentinel-hub.com/auth/realms/main/protocol/openid-connect/token"
	DefaultCollection = "sentinel-2-l1c"

	catalogPath = "/api/v1/catalog/1.0.0/search"
	processPath = "/api/v1/process"
)

// ErrMissingCredentials is returned when the client id or secret is empty.
var ErrMissingCredentials = errors.New("sentinel hub client id and secret are required")

// Config holds the credentials and endpoints of a Sentinel Hub account.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	BaseURL      string
	Collection   string

	// RequestsPerSecond caps the request rate across both APIs. Zero means
	// unlimited.
	RequestsPerSecond float64
	// MaxInFlight caps concurrent requests. Zero means unlimited.
	MaxInFlight int
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	return c
}

// APIError is a non-2xx answer from one of the APIs.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sentinel hub %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// Temporary reports whether repeating the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client is the shared, authenticated transport of the catalog and process
// clients.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	base    *http.Client
	metrics *metrics.Metrics
}

// WithHTTPClient sets the client used for token and API requests before
// authentication is layered on top.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.base = c }
}

// WithMetrics counts API requests by endpoint and status code.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// NewClient creates a client. ctx is used for fetching tokens and must
// outlive the client.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	cfg = cfg.withDefaults()

	o := clientOptions{base: &http.Client{Timeout: cfg.Timeout}}
	for _, opt := range opts {
		opt(&o)
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	httpClient := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, o.base))
	httpClient.Timeout = cfg.Timeout

	c := &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Inf, 1),
		metrics: o.metrics,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if cfg.MaxInFlight > 0 {
		c.sem = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}
	return c, nil
}

// Catalog returns the catalog API client.
func (c *Client) Catalog() *CatalogClient {
	return &CatalogClient{client: c}
}

// Process returns the process API client.
func (c *Client) Process() *ProcessClient {
	return &ProcessClient{client: c}
}

// post sends body as JSON and returns the response payload. Client errors
// other than 429 are marked fatal so a retry policy gives up on them.
func (c *Client) post(ctx context.Context, endpoint, path, accept string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, retry.Fatal(fmt.Errorf("failed to encode %s request: %w", endpoint, err))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.sem.Release(1)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Fatal(fmt.Errorf("failed to create %s request: %w", endpoint, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordAPIRequest(endpoint, "error")
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.metrics.RecordAPIRequest(endpoint, strconv.Itoa(resp.StatusCode))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}
	ctxlog.FromContext(ctx).Debug("Sentinel Hub request done.",
		"endpoint", endpoint, "status", resp.StatusCode, "bytes", len(data), "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: errorMessage(data)}
		if apiErr.Temporary() {
			return nil, apiErr
		}
		return nil, retry.Fatal(apiErr)
	}
	return data, nil
}

// errorMessage extracts the message of a Sentinel Hub error payload, falling
// back to the raw body.
func errorMessage(data []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}
