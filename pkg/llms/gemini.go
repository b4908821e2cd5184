package llms

import (
	"context"

	"google.golang.org/genai"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

// Gemini talks to Google models through the official genai SDK.
type Gemini struct {
	client      *genai.Client
	model       string
	smallModel  string
	temperature *float64
	maxTokens   int
}

// NewGemini creates the Gemini provider.
func NewGemini(cfg *config.LLMConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fault.New(fault.KindAuth, "api key is required for the gemini provider")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindAI, "llms", err)
	}

	return &Gemini{
		client:      client,
		model:       cfg.Model,
		smallModel:  cfg.SmallModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// ModelName returns the default generation model.
func (p *Gemini) ModelName() string { return p.model }

// SmallModelName returns the model for planning and analysis calls.
func (p *Gemini) SmallModelName() string { return p.smallModel }

// Complete performs one generateContent call.
func (p *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	genConfig := &genai.GenerateContentConfig{}
	if req.System != "" {
		genConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
			Role:  "user",
		}
	}
	if p.temperature != nil {
		genConfig.Temperature = genai.Ptr(float32(*p.temperature))
	}
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		genConfig.MaxOutputTokens = int32(maxTokens)
	}
	if req.JSON {
		genConfig.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: req.User}},
		Role:  "user",
	}}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, genConfig)
	if err != nil {
		return "", fault.Wrap(fault.KindAI, "llms", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fault.New(fault.KindAI, "gemini returned no candidates")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			text += part.Text
		}
	}
	if text == "" {
		return "", fault.New(fault.KindAI, "gemini returned no text content")
	}
	return text, nil
}
