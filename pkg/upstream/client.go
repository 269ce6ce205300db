// Package upstream talks to the sibling services of the login app: the
// session directory that describes a pending authorization, and the code
// issuer that mints the authorization code once the user has consented.
package upstream

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-training/login-consent/pkg/metrics"
	"github.com/go-training/login-consent/pkg/observability"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultTimeout bounds every outbound call.
const DefaultTimeout = 8 * time.Second

// Metric target labels.
const (
	targetSession = "session"
	targetIssuer  = "issuer"
)

// Client resolves sessions and requests authorization codes. It makes
// exactly one attempt per call and never follows redirects.
type Client struct {
	httpClient *http.Client
	apiKey     string
	timeout    time.Duration
	locator    Locator
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its redirect policy is
// overridden so that 302 responses reach the caller.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			copied := *hc
			c.httpClient = &copied
		}
	}
}

// WithAPIKey sets the key sent to the session directory.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLocator sets the sibling path segments.
func WithLocator(l Locator) Option {
	return func(c *Client) {
		c.locator = l
	}
}

// WithMetrics records call durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		timeout: DefaultTimeout,
		locator: DefaultLocator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if c.httpClient.Timeout == 0 {
		c.httpClient.Timeout = c.timeout
	}
	return c
}

// Locator returns the sibling layout the client derives endpoints with.
func (c *Client) Locator() Locator {
	return c.locator
}

// do sends req under the client timeout and records the outcome.
func (c *Client) do(ctx context.Context, target string, req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	start := time.Now()

	ctx, span := observability.StartSpan(ctx, "upstream."+target,
		attribute.String("upstream.target", target),
		attribute.String("url.full", req.URL.String()),
	)
	resp, err := c.httpClient.Do(req.WithContext(ctx))

	result := "error"
	if err == nil {
		result = strconv.Itoa(resp.StatusCode)
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	}
	c.metrics.ObserveUpstream(target, result, time.Since(start))
	observability.EndSpan(span, err)

	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the call's timeout when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
