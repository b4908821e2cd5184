package config

import (
	"fmt"
	"time"
)

// OCRConfig configures the PDF layout analysis service. The service is
// optional; with no endpoint PDFs are parsed natively without bounds.
type OCRConfig struct {
	// Endpoint is the service base URL. Empty disables OCR.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" jsonschema:"title=Endpoint,description=Layout service base URL (empty disables OCR)"`

	// APIKey for the service.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key"`

	// Model is the layout model identifier.
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,default=prebuilt-layout"`

	// PollInterval between result polls for async analysis.
	PollInterval time.Duration `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty" jsonschema:"title=Poll Interval,default=2s"`

	// Timeout bounds one full analyze+poll cycle.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,default=5m"`
}

// Enabled reports whether an endpoint is configured.
func (c *OCRConfig) Enabled() bool { return c.Endpoint != "" }

// SetDefaults applies default values.
func (c *OCRConfig) SetDefaults() {
	if c.Model == "" {
		c.Model = "prebuilt-layout"
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Minute
	}
}

// Validate checks the OCR configuration.
func (c *OCRConfig) Validate() error {
	if c.Enabled() && c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	return nil
}

// ConverterConfig configures the office-to-PDF conversion service.
// Optional; with no endpoint legacy office formats are rejected.
type ConverterConfig struct {
	// Endpoint is the converter base URL. Empty disables conversion.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" jsonschema:"title=Endpoint,description=Converter base URL (empty disables conversion)"`

	// Timeout bounds one conversion.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,default=2m"`
}

// Enabled reports whether an endpoint is configured.
func (c *ConverterConfig) Enabled() bool { return c.Endpoint != "" }

// SetDefaults applies default values.
func (c *ConverterConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Minute
	}
}

// Validate checks the converter configuration.
func (c *ConverterConfig) Validate() error {
	if c.Enabled() && c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}
