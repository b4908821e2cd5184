// Package config defines the configuration tree for the whole engine
// and the loading pipeline that builds it: raw bytes from a provider,
// YAML/JSON parse, ${VAR:-default} expansion, mapstructure decode,
// defaults, validation.
//
// Every component takes its own sub-config; nothing reads the
// environment at call time except through SetDefaults here.
package config

import (
	"fmt"
)

// Config is the root configuration.
type Config struct {
	// Name identifies the deployment in logs and traces.
	Name string `yaml:"name,omitempty" json:"name,omitempty" jsonschema:"title=Name,description=Deployment name,default=magpie"`

	Pipeline PipelineConfig `yaml:"pipeline,omitempty" json:"pipeline,omitempty" jsonschema:"title=Pipeline,description=Token budgets and concurrency limits"`

	LLM      LLMConfig      `yaml:"llm,omitempty" json:"llm,omitempty" jsonschema:"title=LLM,description=Generation model provider"`
	Embedder EmbedderConfig `yaml:"embedder,omitempty" json:"embedder,omitempty" jsonschema:"title=Embedder,description=Embedding model provider"`

	Vector  VectorConfig  `yaml:"vector,omitempty" json:"vector,omitempty" jsonschema:"title=Vector Store,description=Vector store provider"`
	State   StateConfig   `yaml:"state,omitempty" json:"state,omitempty" jsonschema:"title=State Store,description=Section job state store"`
	Storage StorageConfig `yaml:"storage,omitempty" json:"storage,omitempty" jsonschema:"title=Storage,description=Relational file store"`
	Blob    BlobConfig    `yaml:"blob,omitempty" json:"blob,omitempty" jsonschema:"title=Blob Store,description=Original document bytes"`

	OCR       OCRConfig       `yaml:"ocr,omitempty" json:"ocr,omitempty" jsonschema:"title=OCR,description=PDF layout analysis service"`
	Converter ConverterConfig `yaml:"converter,omitempty" json:"converter,omitempty" jsonschema:"title=Converter,description=Office-to-PDF conversion service"`

	Server        ServerConfig        `yaml:"server,omitempty" json:"server,omitempty" jsonschema:"title=Server,description=HTTP server options"`
	Logger        LoggerConfig        `yaml:"logger,omitempty" json:"logger,omitempty" jsonschema:"title=Logger,description=Logging options"`
	Observability ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty" jsonschema:"title=Observability,description=Metrics and tracing"`
}

// SetDefaults applies defaults across the whole tree.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "magpie"
	}
	c.Pipeline.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.State.SetDefaults()
	c.Storage.SetDefaults()
	c.Blob.SetDefaults()
	c.OCR.SetDefaults()
	c.Converter.SetDefaults()
	c.Server.SetDefaults()
	c.Logger.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks the whole tree.
func (c *Config) Validate() error {
	validators := []struct {
		name string
		fn   func() error
	}{
		{"pipeline", c.Pipeline.Validate},
		{"llm", c.LLM.Validate},
		{"embedder", c.Embedder.Validate},
		{"vector", c.Vector.Validate},
		{"state", c.State.Validate},
		{"storage", c.Storage.Validate},
		{"blob", c.Blob.Validate},
		{"ocr", c.OCR.Validate},
		{"converter", c.Converter.Validate},
		{"server", c.Server.Validate},
		{"logger", c.Logger.Validate},
		{"observability", c.Observability.Validate},
	}
	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
	}
	return nil
}

// Default returns a fully defaulted zero configuration: embedded
// chromem vector store, in-memory state, filesystem blobs, sqlite
// file store. Runs without any config file.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 { return &f }
