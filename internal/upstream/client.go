// Package upstream is the shared REST transport used by the source adapters.
// Every call is paced by a rate limiter, guarded by a circuit breaker and
// retried by a retry.Retrier. Responses are decoded strictly: a body that
// does not decode, or whose Validate method fails, is a structural error.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"token-analyst/internal/observability"
	"token-analyst/internal/retry"
)

// Default transport values.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxBodySize = 8 << 20
	DefaultBreakerTrip = 5
	DefaultBreakerOpen = 30 * time.Second
)

// Validator is implemented by response types with required fields.
type Validator interface {
	Validate() error
}

// Client talks JSON to one upstream host.
type Client struct {
	name    string
	baseURL string
	client  *http.Client
	headers http.Header
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retrier *retry.Retrier
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithRateLimit paces requests to rps with the given burst. rps <= 0
// disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetrier replaces the default retrier.
func WithRetrier(r *retry.Retrier) Option {
	return func(c *Client) {
		c.retrier = r
	}
}

// WithBreaker configures the circuit breaker trip threshold and open
// duration. trip <= 0 disables the breaker.
func WithBreaker(trip uint32, open time.Duration) Option {
	return func(c *Client) {
		if trip == 0 {
			c.breaker = nil
			return
		}
		c.breaker = newBreaker(c.name, trip, open)
	}
}

// New creates a Client for the named upstream.
func New(name, baseURL string, opts ...Option) *Client {
	c := &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
		headers: make(http.Header),
		retrier: retry.New(name, retry.Policy{}),
	}
	c.headers.Set("Accept", "application/json")
	c.breaker = newBreaker(name, DefaultBreakerTrip, DefaultBreakerOpen)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the upstream name.
func (c *Client) Name() string { return c.name }

// GetJSON issues GET baseURL+path?query and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.retrier.Run(ctx, func(ctx context.Context) error {
		return c.guarded(ctx, func() error {
			return c.once(ctx, http.MethodGet, u, nil, out)
		})
	})
}

// PostJSON issues POST baseURL+path with a JSON body and decodes the reply.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", c.name, err)
	}
	u := c.baseURL + path
	return c.retrier.Run(ctx, func(ctx context.Context) error {
		return c.guarded(ctx, func() error {
			return c.once(ctx, http.MethodPost, u, body, out)
		})
	})
}

// guarded applies the limiter and the breaker to one attempt. An open
// breaker is fatal for the current call so callers move to a fallback.
func (c *Client) guarded(ctx context.Context, attempt func() error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(fmt.Errorf("%s: rate limiter: %w", c.name, err))
		}
	}
	if c.breaker == nil {
		return attempt()
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, attempt()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return retry.Permanent(fmt.Errorf("%s: circuit breaker: %w", c.name, err))
	}
	return err
}

func (c *Client) once(ctx context.Context, method, u string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return retry.Permanent(fmt.Errorf("%s: create request: %w", c.name, err))
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		observability.RecordUpstreamRequest(c.name, 0, time.Since(start).Seconds())
		return fmt.Errorf("%s: http request: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxBodySize))
	observability.RecordUpstreamRequest(c.name, resp.StatusCode, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s: read response: %w", c.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return NewHTTPError(c.name, resp, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return Structural(c.name, "decode body: %v", err)
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return Structural(c.name, "%v", err)
		}
	}
	return nil
}

func newBreaker(name string, trip uint32, open time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     open,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			observability.SetBreakerState(name, int(to))
		},
		IsSuccessful: breakerSuccess,
	})
}

// breakerSuccess counts client-side and schema failures as healthy
// exchanges; only transport errors, 429 and 5xx trip the breaker.
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, ErrStructural) || errors.Is(err, context.Canceled) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status != http.StatusTooManyRequests && he.Status < 500
	}
	return false
}
