package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	client := New()

	if client.maxRetries != 5 {
		t.Errorf("expected maxRetries=5, got %d", client.maxRetries)
	}
	if client.baseDelay != 2*time.Second {
		t.Errorf("expected baseDelay=2s, got %v", client.baseDelay)
	}
	if client.client.Timeout != 60*time.Second {
		t.Errorf("expected timeout=60s, got %v", client.client.Timeout)
	}
	if client.strategyFunc == nil {
		t.Error("expected strategyFunc to be set")
	}
}

func TestNewOptions(t *testing.T) {
	client := New(
		WithMaxRetries(2),
		WithBaseDelay(1*time.Second),
		WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
		WithHeaderParser(func(h http.Header) RateLimitInfo {
			return RateLimitInfo{RetryAfter: 10 * time.Second}
		}),
		WithRetryStrategy(func(statusCode int) RetryStrategy {
			return SmartRetry
		}),
	)

	if client.maxRetries != 2 {
		t.Errorf("expected maxRetries=2, got %d", client.maxRetries)
	}
	if client.baseDelay != 1*time.Second {
		t.Errorf("expected baseDelay=1s, got %v", client.baseDelay)
	}
	if client.client.Timeout != 10*time.Second {
		t.Errorf("expected timeout=10s, got %v", client.client.Timeout)
	}
	if info := client.headerParser(http.Header{}); info.RetryAfter != 10*time.Second {
		t.Errorf("expected parser RetryAfter=10s, got %v", info.RetryAfter)
	}
	if strategy := client.strategyFunc(500); strategy != SmartRetry {
		t.Errorf("expected SmartRetry from custom strategy, got %v", strategy)
	}
}

func TestDefaultRetryStrategy(t *testing.T) {
	tests := []struct {
		statusCode int
		expected   RetryStrategy
	}{
		{http.StatusTooManyRequests, SmartRetry},
		{http.StatusServiceUnavailable, SmartRetry},
		{http.StatusRequestTimeout, ConservativeRetry},
		{http.StatusInternalServerError, ConservativeRetry},
		{http.StatusBadGateway, ConservativeRetry},
		{http.StatusGatewayTimeout, ConservativeRetry},
		{http.StatusOK, NoRetry},
		{http.StatusBadRequest, NoRetry},
		{http.StatusUnauthorized, NoRetry},
		{http.StatusNotFound, NoRetry},
	}

	for _, tt := range tests {
		if got := DefaultRetryStrategy(tt.statusCode); got != tt.expected {
			t.Errorf("DefaultRetryStrategy(%d) = %v, want %v", tt.statusCode, got, tt.expected)
		}
	}
}

func TestDoSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(WithHTTPClient(server.Client()))
	req, _ := http.NewRequest("GET", server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		if attemptCount <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(3),
		WithBaseDelay(10*time.Millisecond),
	)
	req, _ := http.NewRequest("GET", server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	defer resp.Body.Close()
	if attemptCount != 3 {
		t.Errorf("expected 3 attempts, got %d", attemptCount)
	}
}

func TestDoMaxRetriesExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(2),
		WithBaseDelay(10*time.Millisecond),
	)
	req, _ := http.NewRequest("GET", server.URL, nil)

	resp, err := client.Do(req)
	if err == nil {
		t.Fatal("Do() error = nil, want RetryableError")
	}
	if resp != nil {
		defer resp.Body.Close()
	}

	retryErr, ok := err.(*RetryableError)
	if !ok {
		t.Fatalf("error type = %T, want *RetryableError", err)
	}
	if retryErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want %d", retryErr.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestDoHonorsRetryAfter(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		if attemptCount == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(3),
		WithHeaderParser(ParseOpenAIHeaders),
	)
	req, _ := http.NewRequest("GET", server.URL, nil)

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	defer resp.Body.Close()
	if attemptCount != 2 {
		t.Errorf("expected 2 attempts, got %d", attemptCount)
	}
	if elapsed < 1*time.Second {
		t.Errorf("expected to wait at least 1s, waited %v", elapsed)
	}
}

func TestDoConservativeRetryCapsAttempts(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(5),
		WithBaseDelay(10*time.Millisecond),
	)
	req, _ := http.NewRequest("GET", server.URL, nil)

	resp, err := client.Do(req)
	if err == nil {
		t.Fatal("Do() error = nil, want error")
	}
	if resp != nil {
		defer resp.Body.Close()
	}

	// Conservative strategy gives up after two retries even when
	// maxRetries allows more.
	if attemptCount != 3 {
		t.Errorf("expected 3 attempts, got %d", attemptCount)
	}
}

func TestCalculateDelay(t *testing.T) {
	client := New(WithBaseDelay(1 * time.Second))

	tests := []struct {
		name      string
		strategy  RetryStrategy
		attempt   int
		retryInfo RateLimitInfo
		expected  time.Duration
	}{
		{"no_retry", NoRetry, 0, RateLimitInfo{}, 0},
		{"smart_backoff_attempt_0", SmartRetry, 0, RateLimitInfo{}, 1100 * time.Millisecond},
		{"smart_backoff_attempt_1", SmartRetry, 1, RateLimitInfo{}, 2200 * time.Millisecond},
		{"smart_retry_after", SmartRetry, 0, RateLimitInfo{RetryAfter: 5 * time.Second}, 5 * time.Second},
		{"conservative_attempt_0", ConservativeRetry, 0, RateLimitInfo{}, 2 * time.Second},
		{"conservative_attempt_1", ConservativeRetry, 1, RateLimitInfo{}, 3 * time.Second},
		{"conservative_gives_up", ConservativeRetry, 2, RateLimitInfo{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := client.calculateDelay(tt.strategy, tt.attempt, tt.retryInfo); got != tt.expected {
				t.Errorf("calculateDelay() = %v, want %v", got, tt.expected)
			}
		})
	}
}
