package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/magpielabs/magpie/pkg/config/provider"
)

// Loader reads configuration from a Provider and, for providers that
// support it, re-reads on change.
type Loader struct {
	provider provider.Provider
	logger   *slog.Logger
	onChange func(*Config)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange registers a callback for successful reloads.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) { l.onChange = fn }
}

// WithLoaderLogger sets the logger.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a Loader over the given provider.
func NewLoader(p provider.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{provider: p, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches the raw document, expands environment references,
// decodes it and returns the validated configuration with defaults
// applied.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	data, err := l.provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	raw, err := unmarshalDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := &Config{}
	if err := decodeTree(expandTree(raw), cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Watch blocks, reloading on every change notification until ctx ends.
// Reload failures keep the previous configuration and are logged, not
// returned.
func (l *Loader) Watch(ctx context.Context) error {
	changes, err := l.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	if changes == nil {
		l.logger.Info("config provider does not support watching", "type", l.provider.Type())
		<-ctx.Done()
		return ctx.Err()
	}

	l.logger.Info("watching for config changes", "type", l.provider.Type())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			cfg, err := l.Load(ctx)
			if err != nil {
				l.logger.Error("config reload failed, keeping previous", "error", err)
				continue
			}
			l.logger.Info("config reloaded")
			if l.onChange != nil {
				l.onChange(cfg)
			}
		}
	}
}

// Close releases the underlying provider.
func (l *Loader) Close() error {
	return l.provider.Close()
}

// unmarshalDocument accepts YAML or JSON. YAML is tried first since
// JSON is a YAML subset only for well-formed documents.
func unmarshalDocument(data []byte) (map[string]any, error) {
	var tree map[string]any
	yamlErr := yaml.Unmarshal(data, &tree)
	if yamlErr == nil {
		return tree, nil
	}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("not valid YAML (%v) or JSON: %w", yamlErr, err)
	}
	return tree, nil
}

// decodeTree maps the parsed tree onto the Config struct, honoring the
// yaml tags and parsing duration strings.
func decodeTree(tree map[string]any, out *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(tree)
}

// expandTree walks the parsed tree expanding environment references in
// every string leaf.
func expandTree(tree map[string]any) map[string]any {
	out := make(map[string]any, len(tree))
	for key, value := range tree {
		out[key] = expandLeaf(value)
	}
	return out
}

func expandLeaf(value any) any {
	switch v := value.(type) {
	case string:
		return expandEnvString(v)
	case map[string]any:
		return expandTree(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = expandLeaf(item)
		}
		return out
	default:
		return value
	}
}

// expandEnvString substitutes $VAR and ${VAR} from the environment.
// ${VAR:-default} falls back to default when VAR is unset or empty.
func expandEnvString(s string) string {
	return os.Expand(s, func(ref string) string {
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasFallback {
			return fallback
		}
		return ""
	})
}

// LoadConfig builds the provider described by opts and loads once.
func LoadConfig(ctx context.Context, opts provider.ProviderConfig) (*Config, *Loader, error) {
	p, err := provider.New(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("config provider: %w", err)
	}

	loader := NewLoader(p)
	cfg, err := loader.Load(ctx)
	if err != nil {
		p.Close()
		return nil, nil, err
	}
	return cfg, loader, nil
}

// LoadConfigFile loads configuration from a file on disk.
func LoadConfigFile(ctx context.Context, path string) (*Config, *Loader, error) {
	return LoadConfig(ctx, provider.ProviderConfig{
		Type: provider.TypeFile,
		Path: path,
	})
}
