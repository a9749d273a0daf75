// Package httpclient provides the retrying HTTP client shared by the
// embedding and LLM providers. Rate limits (429) and transient server
// errors are retried with provider-aware backoff; terminal responses are
// handed back to the caller untouched so each provider can report its
// API's own error payload.
package httpclient

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"
)

type RetryStrategy int

const (
	// NoRetry hands the response straight back to the caller.
	NoRetry RetryStrategy = iota

	// ConservativeRetry allows two quick re-attempts for transient
	// server errors before giving up.
	ConservativeRetry

	// SmartRetry backs off according to the provider's rate limit
	// headers, falling back to exponential delay.
	SmartRetry
)

// RateLimitInfo carries whatever rate limit state a provider exposes in
// response headers. Zero values mean the provider said nothing.
type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
	TokensRemaining   int
}

// RateLimitHeaderParser extracts RateLimitInfo from a provider's
// response headers.
type RateLimitHeaderParser func(http.Header) RateLimitInfo

// RetryStrategyFunc maps an HTTP status code to a retry strategy.
type RetryStrategyFunc func(int) RetryStrategy

// Client wraps http.Client with retry handling. The zero value is not
// usable; construct with New.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser RateLimitHeaderParser
	strategyFunc RetryStrategyFunc
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   5,
		baseDelay:    2 * time.Second,
		strategyFunc: DefaultRetryStrategy,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// DefaultRetryStrategy retries rate limits and overload with backoff,
// gives transient server errors a quick second chance, and treats
// everything else as terminal.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do executes the request, retrying per the configured strategy.
//
// Any terminal server answer comes back with a nil error, including
// non-2xx statuses: callers own the body and format their provider's
// error payload themselves. A non-nil error means the transport failed
// or retries were exhausted, and the response is always nil.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}

		strategy := c.strategyFunc(resp.StatusCode)
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			strategy = NoRetry
		}
		if strategy == NoRetry {
			return resp, nil
		}

		var retryInfo RateLimitInfo
		if c.headerParser != nil {
			retryInfo = c.headerParser(resp.Header)
		}

		delay := c.calculateDelay(strategy, attempt, retryInfo)
		if delay <= 0 || attempt >= c.maxRetries {
			status := resp.StatusCode
			resp.Body.Close()
			return nil, &RetryableError{
				StatusCode: status,
				Message:    fmt.Sprintf("retries exhausted after %d attempts", attempt+1),
				RetryAfter: c.calculateDelay(strategy, attempt+1, retryInfo),
				Err:        fmt.Errorf("HTTP %d", status),
			}
		}

		c.logRetry(strategy, delay, attempt, resp.StatusCode)
		resp.Body.Close()

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
	}

	return nil, &RetryableError{
		Message: fmt.Sprintf("retries exhausted after %d attempts", c.maxRetries+1),
		Err:     fmt.Errorf("max retries exceeded"),
	}
}

func (c *Client) calculateDelay(strategy RetryStrategy, attempt int, retryInfo RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		if retryInfo.RetryAfter > 0 {
			return retryInfo.RetryAfter
		}

		if retryInfo.ResetTime > 0 {
			delay := time.Until(time.Unix(retryInfo.ResetTime, 0))
			if delay > 0 {
				return delay
			}
		}

		exponentialDelay := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		jitter := time.Duration(float64(exponentialDelay) * 0.1)
		return exponentialDelay + jitter

	case ConservativeRetry:
		// Transient server errors get two quick attempts, then the
		// zero delay tells Do to stop.
		if attempt >= 2 {
			return 0
		}
		return time.Duration(attempt+1) * c.baseDelay

	default:
		return 0
	}
}

func (c *Client) logRetry(strategy RetryStrategy, delay time.Duration, attempt, statusCode int) {
	switch strategy {
	case SmartRetry:
		slog.Warn("Rate limited, backing off",
			"status", statusCode, "delay", delay, "attempt", attempt+1, "max_attempts", c.maxRetries+1)
	case ConservativeRetry:
		slog.Debug("Transient server error, retrying",
			"status", statusCode, "delay", delay, "attempt", attempt+1)
	}
}
