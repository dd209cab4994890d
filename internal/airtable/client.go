package airtable

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/airtap/airtap/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.airtable.com/v0/"

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 4096
)

// Retrier runs op, retrying it as it sees fit. The client only classifies
// failures; looping is the retrier's job.
type Retrier interface {
	Do(ctx context.Context, op func() error) error
}

type once struct{}

func (once) Do(_ context.Context, op func() error) error { return op() }

// Client talks to the Airtable REST API with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retrier    Retrier
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API root, e.g. for a proxy or a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		c.baseURL = u
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetrier installs a retry wrapper around every request.
func WithRetrier(r Retrier) Option {
	return func(c *Client) {
		c.retrier = r
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client authenticated with token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		retrier:    once{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get issues a GET against endpoint (relative to the API root) and returns
// the decoded JSON body.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (map[string]any, error) {
	var body map[string]any
	if err := c.getJSON(ctx, endpoint, params, &body); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := c.baseURL + strings.TrimPrefix(endpoint, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return c.retrier.Do(ctx, func() error {
		return c.fetch(ctx, u, out)
	})
}

func (c *Client) fetch(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("api request", "url", u)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.APIRequests.WithLabelValues(metrics.OutcomeTransport).Inc()
		return &RetryableError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		metrics.APIRequests.WithLabelValues(metrics.OutcomeRetryable).Inc()
		return &RetryableError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		metrics.APIRequests.WithLabelValues(metrics.OutcomeNonRetryable).Inc()
		return &NonRetryableError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	metrics.APIRequests.WithLabelValues(metrics.OutcomeOK).Inc()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", req.URL.Path, err)
	}
	return nil
}

func readBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return string(data)
}
