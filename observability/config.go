package observability

import (
	"fmt"
	"time"
)

// Config selects which OpenTelemetry pipelines a service starts.
// Both pipelines are off by default; the global no-op providers stay in
// place until one is enabled.
type Config struct {
	Tracing        bool          `yaml:"tracing" mapstructure:"tracing"`
	Metrics        bool          `yaml:"metrics" mapstructure:"metrics"`
	Endpoint       string        `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure       bool          `yaml:"insecure" mapstructure:"insecure"`
	SampleRate     float64       `yaml:"sample_rate" mapstructure:"sample_rate"`
	ExportInterval time.Duration `yaml:"export_interval" mapstructure:"export_interval"`
}

// Identity names the service on exported telemetry.
type Identity struct {
	Service     string
	Version     string
	Environment string
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.ExportInterval == 0 {
		c.ExportInterval = 15 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("observability: sample_rate must be within [0,1], got %v", c.SampleRate)
	}
	if c.ExportInterval < 0 {
		return fmt.Errorf("observability: export_interval must not be negative")
	}
	return nil
}

// Enabled reports whether any pipeline is configured.
func (c *Config) Enabled() bool { return c.Tracing || c.Metrics }
