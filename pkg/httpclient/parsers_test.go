package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestParseOpenAIHeaders(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		expected RateLimitInfo
	}{
		{
			name:     "empty_headers",
			headers:  map[string]string{},
			expected: RateLimitInfo{},
		},
		{
			name:     "retry_after_seconds",
			headers:  map[string]string{"Retry-After": "30"},
			expected: RateLimitInfo{RetryAfter: 30 * time.Second},
		},
		{
			name:     "retry_after_invalid",
			headers:  map[string]string{"Retry-After": "soon"},
			expected: RateLimitInfo{},
		},
		{
			name:     "token_reset_time",
			headers:  map[string]string{"x-ratelimit-reset-tokens": "1640995200"},
			expected: RateLimitInfo{ResetTime: 1640995200},
		},
		{
			name: "token_reset_wins_over_request_reset",
			headers: map[string]string{
				"x-ratelimit-reset-tokens":   "1640995200",
				"x-ratelimit-reset-requests": "1640995300",
			},
			expected: RateLimitInfo{ResetTime: 1640995200},
		},
		{
			name: "remaining_counters",
			headers: map[string]string{
				"x-ratelimit-remaining-requests": "100",
				"x-ratelimit-remaining-tokens":   "5000",
			},
			expected: RateLimitInfo{RequestsRemaining: 100, TokensRemaining: 5000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			for k, v := range tt.headers {
				headers.Set(k, v)
			}
			if got := ParseOpenAIHeaders(headers); got != tt.expected {
				t.Errorf("ParseOpenAIHeaders() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestParseAnthropicHeaders(t *testing.T) {
	resetAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		headers  map[string]string
		expected RateLimitInfo
	}{
		{
			name:     "empty_headers",
			headers:  map[string]string{},
			expected: RateLimitInfo{},
		},
		{
			name:     "retry_after_seconds",
			headers:  map[string]string{"retry-after": "15"},
			expected: RateLimitInfo{RetryAfter: 15 * time.Second},
		},
		{
			name: "rfc3339_reset_time",
			headers: map[string]string{
				"anthropic-ratelimit-requests-reset": resetAt.Format(time.RFC3339),
			},
			expected: RateLimitInfo{ResetTime: resetAt.Unix()},
		},
		{
			name: "remaining_counters",
			headers: map[string]string{
				"anthropic-ratelimit-requests-remaining":     "42",
				"anthropic-ratelimit-input-tokens-remaining": "9000",
			},
			expected: RateLimitInfo{RequestsRemaining: 42, TokensRemaining: 9000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			for k, v := range tt.headers {
				headers.Set(k, v)
			}
			if got := ParseAnthropicHeaders(headers); got != tt.expected {
				t.Errorf("ParseAnthropicHeaders() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}
