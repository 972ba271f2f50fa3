package gateway

import "github.com/kbukum/noticemux/validation"

// Config holds gateway HTTP server configuration.
type Config struct {
	Host              string `yaml:"host" mapstructure:"host"`
	Port              int    `yaml:"port" mapstructure:"port"`
	ReadHeaderTimeout int    `yaml:"read_header_timeout" mapstructure:"read_header_timeout"` // seconds
	IdleTimeout       int    `yaml:"idle_timeout" mapstructure:"idle_timeout"`               // seconds
	ShutdownTimeout   int    `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`       // seconds
	WriteTimeout      int    `yaml:"write_timeout" mapstructure:"write_timeout"`             // seconds, per websocket frame

	// AllowedOrigins are host patterns accepted for cross-origin websocket
	// handshakes and CORS, e.g. "app.example.com" or "*.example.com".
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// BusBuffer is the number of bus payloads queued per websocket before
	// new ones are dropped.
	BusBuffer int `yaml:"bus_buffer" mapstructure:"bus_buffer"`
}

// ApplyDefaults sets sensible default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10
	}
	if c.BusBuffer == 0 {
		c.BusBuffer = 64
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	v := validation.New().
		Range("gateway.port", c.Port, 0, 65535).
		Min("gateway.read_header_timeout", c.ReadHeaderTimeout, 0).
		Min("gateway.idle_timeout", c.IdleTimeout, 0).
		Min("gateway.shutdown_timeout", c.ShutdownTimeout, 0).
		Min("gateway.write_timeout", c.WriteTimeout, 1).
		Min("gateway.bus_buffer", c.BusBuffer, 0)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}
