package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/httpclient"
)

const defaultOpenAIChatBaseURL = "https://api.openai.com/v1"

// OpenAI talks to any chat/completions-compatible endpoint.
type OpenAI struct {
	client      *httpclient.Client
	apiKey      string
	baseURL     string
	model       string
	smallModel  string
	temperature *float64
	maxTokens   int
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Temperature    *float64              `json:"temperature,omitempty"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAI creates the OpenAI chat provider.
func NewOpenAI(cfg *config.LLMConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fault.New(fault.KindAuth, "api key is required for the openai provider")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIChatBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = config.DefaultAITimeout
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)

	return &OpenAI{
		client:      client,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		smallModel:  cfg.SmallModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// ModelName returns the default generation model.
func (p *OpenAI) ModelName() string { return p.model }

// SmallModelName returns the model for planning and analysis calls.
func (p *OpenAI) SmallModelName() string { return p.smallModel }

// Complete performs one chat completion.
func (p *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	body := openAIChatRequest{
		Model:     model,
		MaxTokens: p.maxTokens,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if req.System != "" {
		body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, openAIMessage{Role: "user", Content: req.User})
	if req.JSON {
		body.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}
	if p.temperature != nil && supportsTemperature(model) {
		body.Temperature = p.temperature
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "llms", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "llms", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fault.Wrap(fault.KindAI, "llms", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.Wrap(fault.KindAI, "llms", err)
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fault.Wrapf(fault.KindAI, "llms", err, "chat api returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fault.Newf(fault.KindAI, "chat api returned status %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fault.Newf(fault.KindAI, "chat api returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if len(parsed.Choices) == 0 {
		return "", fault.New(fault.KindAI, "chat api returned no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}
