// Package llms provides the single-turn completion clients used by
// generation, planning, intake and analysis. Every call is one system
// prompt plus one user message; conversation state lives with callers.
package llms

import (
	"context"
	"strings"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

// Request is one completion call.
type Request struct {
	// Model overrides the provider's default model when set. The
	// pipeline uses this to route cheap calls to the small model.
	Model string

	// System is the system prompt.
	System string

	// User is the user message.
	User string

	// JSON asks for a single JSON object as the entire output.
	JSON bool

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int
}

// LLM is a synchronous completion client.
type LLM interface {
	Complete(ctx context.Context, req Request) (string, error)
	ModelName() string
	SmallModelName() string
}

// New builds the configured provider.
func New(cfg *config.LLMConfig) (LLM, error) {
	switch cfg.Provider {
	case config.LLMProviderOpenAI:
		return NewOpenAI(cfg)
	case config.LLMProviderAnthropic:
		return NewAnthropic(cfg)
	case config.LLMProviderGemini:
		return NewGemini(cfg)
	default:
		return nil, fault.Newf(fault.KindValidation, "unknown llm provider %q", cfg.Provider)
	}
}

// supportsTemperature reports whether the model accepts an explicit
// temperature. Reasoning models reject the parameter outright.
func supportsTemperature(model string) bool {
	lower := strings.ToLower(model)
	return !strings.HasPrefix(lower, "o1") && !strings.Contains(lower, "gpt-5")
}
