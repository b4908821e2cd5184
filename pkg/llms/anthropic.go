package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/httpclient"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
	anthropicDefaultTokens  = 4096
)

// Anthropic talks to the Messages API. The API has no JSON response
// format switch, so JSON requests are enforced through the system
// prompt and post-trimmed from code fences.
type Anthropic struct {
	client      *httpclient.Client
	apiKey      string
	baseURL     string
	model       string
	smallModel  string
	temperature *float64
	maxTokens   int
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropic creates the Anthropic provider.
func NewAnthropic(cfg *config.LLMConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fault.New(fault.KindAuth, "api key is required for the anthropic provider")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = config.DefaultAITimeout
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicDefaultTokens
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
	)

	return &Anthropic{
		client:      client,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		smallModel:  cfg.SmallModel,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}, nil
}

// ModelName returns the default generation model.
func (p *Anthropic) ModelName() string { return p.model }

// SmallModelName returns the model for planning and analysis calls.
func (p *Anthropic) SmallModelName() string { return p.smallModel }

// Complete performs one messages call.
func (p *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	system := req.System
	if req.JSON {
		if system != "" {
			system += "\n\n"
		}
		system += "Respond with a single valid JSON object and nothing else."
	}

	body := anthropicRequest{
		Model:     model,
		MaxTokens: p.maxTokens,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: req.User}},
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if p.temperature != nil {
		body.Temperature = p.temperature
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "llms", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(raw))
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "llms", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fault.Wrap(fault.KindAI, "llms", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.Wrap(fault.KindAI, "llms", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fault.Wrapf(fault.KindAI, "llms", err, "messages api returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fault.Newf(fault.KindAI, "messages api returned status %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fault.Newf(fault.KindAI, "messages api returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fault.New(fault.KindAI, "messages api returned no text content")
	}

	out := text.String()
	if req.JSON {
		out = stripCodeFence(out)
	}
	return out, nil
}

// stripCodeFence unwraps ```json ... ``` fenced output.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
