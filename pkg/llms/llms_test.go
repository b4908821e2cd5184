package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

func float64Ptr(v float64) *float64 { return &v }

func openAIChatConfig(baseURL string) *config.LLMConfig {
	return &config.LLMConfig{
		Provider:    config.LLMProviderOpenAI,
		Model:       "gpt-4o",
		SmallModel:  "gpt-4o-mini",
		APIKey:      "sk-test",
		BaseURL:     baseURL,
		Temperature: float64Ptr(0),
		MaxTokens:   4096,
		Timeout:     5 * time.Second,
	}
}

func TestSupportsTemperature(t *testing.T) {
	assert.True(t, supportsTemperature("gpt-4o"))
	assert.True(t, supportsTemperature("gpt-4o-mini"))
	assert.False(t, supportsTemperature("o1-preview"))
	assert.False(t, supportsTemperature("o1"))
	assert.False(t, supportsTemperature("gpt-5-turbo"))
	assert.False(t, supportsTemperature("azure-gpt-5"))
}

func TestOpenAIComplete(t *testing.T) {
	var captured openAIChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "the answer"}},
			},
		})
	}))
	defer server.Close()

	provider, err := NewOpenAI(openAIChatConfig(server.URL))
	require.NoError(t, err)

	out, err := provider.Complete(context.Background(), Request{
		System: "you are terse",
		User:   "question",
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", out)

	assert.Equal(t, "gpt-4o", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "user", captured.Messages[1].Role)
	require.NotNil(t, captured.Temperature)
	assert.Equal(t, 0.0, *captured.Temperature)
	assert.Nil(t, captured.ResponseFormat)
}

func TestOpenAICompleteJSONMode(t *testing.T) {
	var captured openAIChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": `{"ok":true}`}},
			},
		})
	}))
	defer server.Close()

	provider, err := NewOpenAI(openAIChatConfig(server.URL))
	require.NoError(t, err)

	out, err := provider.Complete(context.Background(), Request{User: "q", JSON: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, out)
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)
}

func TestOpenAIReasoningModelOmitsTemperature(t *testing.T) {
	var captured openAIChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "x"}}},
		})
	}))
	defer server.Close()

	provider, err := NewOpenAI(openAIChatConfig(server.URL))
	require.NoError(t, err)

	_, err = provider.Complete(context.Background(), Request{Model: "o1-mini", User: "q"})
	require.NoError(t, err)
	assert.Equal(t, "o1-mini", captured.Model)
	assert.Nil(t, captured.Temperature)
}

func TestOpenAICompleteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad prompt","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	provider, err := NewOpenAI(openAIChatConfig(server.URL))
	require.NoError(t, err)

	_, err = provider.Complete(context.Background(), Request{User: "q"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindAI))
	assert.Contains(t, err.Error(), "bad prompt")
}

func TestAnthropicComplete(t *testing.T) {
	var captured anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "claude says"}},
		})
	}))
	defer server.Close()

	provider, err := NewAnthropic(&config.LLMConfig{
		Provider:    config.LLMProviderAnthropic,
		Model:       "claude-sonnet-4-20250514",
		APIKey:      "sk-ant",
		BaseURL:     server.URL,
		Temperature: float64Ptr(0),
		Timeout:     5 * time.Second,
	})
	require.NoError(t, err)

	out, err := provider.Complete(context.Background(), Request{System: "sys", User: "q"})
	require.NoError(t, err)
	assert.Equal(t, "claude says", out)
	assert.Equal(t, "sys", captured.System)
	assert.Equal(t, anthropicDefaultTokens, captured.MaxTokens)
}

func TestAnthropicJSONModeInstructsAndUnfences(t *testing.T) {
	var captured anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "```json\n{\"a\":1}\n```"}},
		})
	}))
	defer server.Close()

	provider, err := NewAnthropic(&config.LLMConfig{
		Provider: config.LLMProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
		APIKey:   "sk-ant",
		BaseURL:  server.URL,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)

	out, err := provider.Complete(context.Background(), Request{User: "q", JSON: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, out)
	assert.Contains(t, captured.System, "JSON object")
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}

func TestNewProviderDispatch(t *testing.T) {
	provider, err := New(&config.LLMConfig{
		Provider: config.LLMProviderOpenAI,
		Model:    "gpt-4o",
		APIKey:   "sk-test",
	})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, provider)

	_, err = New(&config.LLMConfig{Provider: "mistral"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestProvidersRequireAPIKey(t *testing.T) {
	_, err := NewOpenAI(&config.LLMConfig{Model: "gpt-4o"})
	assert.True(t, fault.IsKind(err, fault.KindAuth))

	_, err = NewAnthropic(&config.LLMConfig{Model: "claude-sonnet-4-20250514"})
	assert.True(t, fault.IsKind(err, fault.KindAuth))

	_, err = NewGemini(&config.LLMConfig{Model: "gemini-2.0-flash"})
	assert.True(t, fault.IsKind(err, fault.KindAuth))
}
