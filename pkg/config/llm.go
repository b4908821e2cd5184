package config

import (
	"fmt"
	"os"
	"time"
)

// Default model timeout. Every LLM and embedding call is bounded by it.
const DefaultAITimeout = 30 * time.Second

// DefaultAITemperature pins generation to deterministic output.
const DefaultAITemperature = 0.0

// LLMProvider identifies the LLM provider type.
type LLMProvider string

const (
	LLMProviderOpenAI    LLMProvider = "openai"
	LLMProviderAnthropic LLMProvider = "anthropic"
	LLMProviderGemini    LLMProvider = "gemini"
)

// LLMConfig configures the generation model. SmallModel serves the
// cheap calls: retrieval planning, intake metadata, response analysis.
type LLMConfig struct {
	// Provider type (openai, anthropic, gemini).
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,enum=openai,enum=anthropic,enum=gemini,default=openai"`

	// Model is the main generation model.
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Generation model identifier"`

	// SmallModel is used for planning, intake and analysis calls.
	SmallModel string `yaml:"small_model,omitempty" json:"small_model,omitempty" jsonschema:"title=Small Model,description=Model for planning and analysis calls"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key (use ${ENV_VAR})"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Custom API endpoint"`

	// Temperature for generation. Defaults to 0 for reproducible output.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,minimum=0,maximum=2,default=0"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,minimum=1,default=4096"`

	// Timeout bounds each call.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,default=30s"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = detectLLMProviderFromEnv()
	}
	if c.Model == "" {
		switch c.Provider {
		case LLMProviderAnthropic:
			c.Model = "claude-sonnet-4-20250514"
		case LLMProviderGemini:
			c.Model = "gemini-2.0-flash"
		default:
			c.Model = "gpt-4o"
		}
	}
	if c.SmallModel == "" {
		switch c.Provider {
		case LLMProviderAnthropic:
			c.SmallModel = "claude-3-5-haiku-20241022"
		case LLMProviderGemini:
			c.SmallModel = "gemini-2.0-flash-lite"
		default:
			c.SmallModel = "gpt-4o-mini"
		}
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(string(c.Provider))
	}
	if c.Temperature == nil {
		c.Temperature = Float64Ptr(envFloat("AI_TEMPERATURE", DefaultAITemperature))
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = envSeconds("AI_TIMEOUT_SECONDS", DefaultAITimeout)
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case LLMProviderOpenAI, LLMProviderAnthropic, LLMProviderGemini:
	default:
		return fmt.Errorf("invalid llm provider %q (valid: openai, anthropic, gemini)", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be in [0,2], got %g", *c.Temperature)
	}
	return nil
}

func detectLLMProviderFromEnv() LLMProvider {
	switch {
	case os.Getenv("OPENAI_API_KEY") != "":
		return LLMProviderOpenAI
	case os.Getenv("ANTHROPIC_API_KEY") != "":
		return LLMProviderAnthropic
	case os.Getenv("GEMINI_API_KEY") != "":
		return LLMProviderGemini
	default:
		return LLMProviderOpenAI
	}
}

// Embedding batch defaults.
const (
	DefaultEmbedMaxBatchSize   = 500
	DefaultEmbedRateLimitDelay = 500 * time.Millisecond
	DefaultEmbedBatchDelay     = 50 * time.Millisecond
	DefaultEmbedDimension      = 1536
)

// EmbedderProvider identifies the embedding provider type.
type EmbedderProvider string

const (
	EmbedderProviderOpenAI EmbedderProvider = "openai"
	EmbedderProviderOllama EmbedderProvider = "ollama"
)

// EmbedderConfig configures the embedding model.
type EmbedderConfig struct {
	// Provider type (openai, ollama).
	Provider EmbedderProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,enum=openai,enum=ollama,default=openai"`

	// Model is the embedding model identifier.
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Embedding model identifier"`

	// APIKey for authentication.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL"`

	// Dimension of the produced vectors.
	Dimension int `yaml:"dimension,omitempty" json:"dimension,omitempty" jsonschema:"title=Dimension,default=1536"`

	// MaxBatchSize caps input strings per embedding call.
	MaxBatchSize int `yaml:"max_batch_size,omitempty" json:"max_batch_size,omitempty" jsonschema:"title=Max Batch Size,default=500"`

	// RateLimitDelay is slept before retrying a rate-limited call.
	RateLimitDelay time.Duration `yaml:"rate_limit_delay,omitempty" json:"rate_limit_delay,omitempty" jsonschema:"title=Rate Limit Delay,default=500ms"`

	// BatchDelay is slept between consecutive embedding batches.
	BatchDelay time.Duration `yaml:"batch_delay,omitempty" json:"batch_delay,omitempty" jsonschema:"title=Batch Delay,default=50ms"`

	// Timeout bounds each call.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,default=30s"`
}

// SetDefaults applies default values.
func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = EmbedderProviderOpenAI
	}
	if c.Model == "" {
		switch c.Provider {
		case EmbedderProviderOllama:
			c.Model = "nomic-embed-text"
		default:
			c.Model = "text-embedding-3-small"
		}
	}
	if c.APIKey == "" && c.Provider == EmbedderProviderOpenAI {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.BaseURL == "" && c.Provider == EmbedderProviderOllama {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Dimension == 0 {
		switch c.Provider {
		case EmbedderProviderOllama:
			c.Dimension = 768
		default:
			c.Dimension = DefaultEmbedDimension
		}
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = envInt("EMBED_MAX_BATCH_SIZE", DefaultEmbedMaxBatchSize)
	}
	if c.RateLimitDelay == 0 {
		c.RateLimitDelay = envDuration("EMBED_RATE_LIMIT_DELAY", DefaultEmbedRateLimitDelay)
	}
	if c.BatchDelay == 0 {
		c.BatchDelay = envDuration("EMBED_BATCH_DELAY", DefaultEmbedBatchDelay)
	}
	if c.Timeout == 0 {
		c.Timeout = envSeconds("AI_TIMEOUT_SECONDS", DefaultAITimeout)
	}
}

// Validate checks the embedder configuration.
func (c *EmbedderConfig) Validate() error {
	switch c.Provider {
	case EmbedderProviderOpenAI, EmbedderProviderOllama:
	default:
		return fmt.Errorf("invalid embedder provider %q (valid: openai, ollama)", c.Provider)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", c.Dimension)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive, got %d", c.MaxBatchSize)
	}
	return nil
}
