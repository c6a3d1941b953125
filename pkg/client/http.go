package client

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/reservify/fuse/internal/circuitbreaker"
	"github.com/reservify/fuse/internal/middleware"
)

// HTTPClient wraps http.Client with circuit breaker protection for all
// outgoing requests. Transport errors and 5xx responses count against the
// breaker; see middleware.RoundTripper for the classification rules.
type HTTPClient struct {
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewHTTPClient creates an HTTP client whose transport routes every
// request through a new circuit breaker named name.
func NewHTTPClient(name string, config circuitbreaker.Config) (*HTTPClient, error) {
	cb, err := circuitbreaker.New(name, config)
	if err != nil {
		return nil, err
	}
	return NewHTTPClientFor(cb), nil
}

// NewHTTPClientFor creates an HTTP client around an existing breaker,
// typically one shared through a Registry.
func NewHTTPClientFor(cb *circuitbreaker.CircuitBreaker) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Transport: middleware.NewRoundTripper(nil, cb),
			Timeout:   30 * time.Second,
		},
		breaker: cb,
	}
}

// Get performs a GET request through the circuit breaker
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil)
}

// Post performs a POST request through the circuit breaker
func (c *HTTPClient) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.client.Do(req)
}

// Do performs an HTTP request through the circuit breaker
func (c *HTTPClient) Do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

// State returns the current state of the circuit breaker
func (c *HTTPClient) State() circuitbreaker.State {
	return c.breaker.State()
}

// Status returns a point-in-time view of the circuit breaker
func (c *HTTPClient) Status() circuitbreaker.Status {
	return c.breaker.Status()
}

// Breaker returns the underlying circuit breaker
func (c *HTTPClient) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}
