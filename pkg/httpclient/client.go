// Package httpclient provides the shared outbound HTTP client. It
// retries transient failures with a per-status strategy and reads the
// provider's rate-limit headers to pick the wait.
package httpclient

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// RetryStrategy decides how a failed response is retried.
type RetryStrategy int

const (
	// NoRetry gives up immediately: success, client errors, and
	// transport failures.
	NoRetry RetryStrategy = iota
	// ConservativeRetry allows two quick retries for transient server
	// errors.
	ConservativeRetry
	// SmartRetry waits out rate limits using the provider's headers,
	// falling back to exponential backoff.
	SmartRetry
)

// RateLimitInfo is what the provider's rate-limit headers reported.
type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
	TokensRemaining   int
}

// RateLimitHeaderParser reads provider-specific rate-limit headers.
type RateLimitHeaderParser func(http.Header) RateLimitInfo

// RetryStrategyFunc maps a status code to a strategy.
type RetryStrategyFunc func(statusCode int) RetryStrategy

// Client wraps http.Client with retry handling.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser RateLimitHeaderParser
	strategyFunc RetryStrategyFunc
	logger       *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// WithMaxRetries caps the number of retries after the first attempt.
func WithMaxRetries(max int) Option {
	return func(c *Client) { c.maxRetries = max }
}

// WithBaseDelay sets the backoff unit for SmartRetry.
func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) { c.baseDelay = delay }
}

// WithHeaderParser installs the provider's rate-limit header parser.
func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) { c.headerParser = parser }
}

// WithRetryStrategy overrides the status-to-strategy mapping.
func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) { c.strategyFunc = strategyFunc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New returns a client with a 60s request timeout, up to 5 retries and
// a 2s backoff base.
func New(opts ...Option) *Client {
	c := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   5,
		baseDelay:    2 * time.Second,
		strategyFunc: DefaultRetryStrategy,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultRetryStrategy treats 429/503 as rate limiting, other 5xx and
// 408 as transient, and everything else as final.
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
// Requests with a body need GetBody set so retries can replay it; on
// exhaustion the last response is returned inside a RetryableError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("replay request body: %w", err)
			}
			req.Body = body
		}

		resp, strategy, limits, err := c.send(req)
		if strategy == NoRetry || err == nil {
			return resp, err
		}

		if attempt == c.maxRetries {
			return resp, &RetryableError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("max HTTP retries (%d) exceeded", c.maxRetries),
				RetryAfter: c.calculateDelay(strategy, attempt, limits),
				Err:        err,
			}
		}

		delay := c.calculateDelay(strategy, attempt, limits)
		if delay <= 0 {
			// The strategy declined this retry.
			return resp, err
		}

		c.logRetry(strategy, delay, attempt, resp)
		discard(resp)
		time.Sleep(delay)
	}

	return nil, &RetryableError{
		Message:    fmt.Sprintf("max retries exceeded after %d attempts", c.maxRetries),
		RetryAfter: c.baseDelay * 2,
		Err:        fmt.Errorf("max retries exceeded"),
	}
}

// send performs one attempt and classifies the outcome.
func (c *Client) send(req *http.Request) (*http.Response, RetryStrategy, RateLimitInfo, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		// Transport errors are final; the transport retries what is
		// safe to retry at the connection level.
		return nil, NoRetry, RateLimitInfo{}, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, NoRetry, RateLimitInfo{}, nil
	}

	var limits RateLimitInfo
	if c.headerParser != nil {
		limits = c.headerParser(resp.Header)
	}
	return resp, c.strategyFunc(resp.StatusCode), limits, fmt.Errorf("HTTP %d", resp.StatusCode)
}

// calculateDelay returns how long to wait before the next attempt, or
// zero to stop retrying.
func (c *Client) calculateDelay(strategy RetryStrategy, attempt int, limits RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		if limits.RetryAfter > 0 {
			return limits.RetryAfter
		}
		if limits.ResetTime > 0 {
			if until := time.Until(time.Unix(limits.ResetTime, 0)); until > 0 {
				return until
			}
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		jitter := time.Duration(float64(backoff) * 0.1)
		return backoff + jitter

	case ConservativeRetry:
		if attempt >= 2 {
			return 0
		}
		return time.Duration(2+attempt) * time.Second

	default:
		return 0
	}
}

func (c *Client) logRetry(strategy RetryStrategy, delay time.Duration, attempt int, resp *http.Response) {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	if strategy == SmartRetry {
		c.logger.Warn("rate limited, retrying",
			"status", status,
			"delay", delay,
			"attempt", attempt+1,
			"max_attempts", c.maxRetries)
		return
	}
	c.logger.Debug("server error, quick retry",
		"status", status,
		"delay", delay,
		"attempt", attempt+1)
}

// discard releases a response that is about to be retried so the
// connection can be reused.
func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
}
