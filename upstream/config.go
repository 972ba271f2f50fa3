package upstream

import (
	"fmt"
	"net/url"
	"time"
)

const defaultConnectTimeout = 30 * time.Second

// Config configures the HTTP upstream transport.
type Config struct {
	// Origin is the base URL relative endpoint URLs are resolved against,
	// e.g. "https://app.example.com".
	Origin string `yaml:"origin" mapstructure:"origin"`

	// ConnectTimeout bounds the wait for response headers. The stream
	// itself has no deadline. Defaults to 30s.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// Cookies are seeded into the credentials cookie jar for Origin. They
	// are only sent by connections opened with credentials.
	Cookies map[string]string `yaml:"cookies" mapstructure:"cookies"`
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("upstream: connect_timeout must be positive")
	}
	if c.Origin != "" {
		u, err := url.Parse(c.Origin)
		if err != nil {
			return fmt.Errorf("upstream: invalid origin: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("upstream: origin must be an http(s) URL, got %q", c.Origin)
		}
	}
	if len(c.Cookies) > 0 && c.Origin == "" {
		return fmt.Errorf("upstream: cookies require an origin")
	}
	return nil
}
