package mux

import "github.com/kbukum/noticemux/validation"

const defaultInboxSize = 256

// Config configures multiplexers created by a Pool.
type Config struct {
	// InboxSize is the buffer of the actor inbox. Defaults to 256.
	InboxSize int `yaml:"inbox_size" mapstructure:"inbox_size"`

	// PortBuffer is the envelope buffer of ports created for consumers.
	// Defaults to 256.
	PortBuffer int `yaml:"port_buffer" mapstructure:"port_buffer"`

	// Origin resolves relative endpoint URLs in init options.
	Origin string `yaml:"-" mapstructure:"-"`
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.InboxSize <= 0 {
		c.InboxSize = defaultInboxSize
	}
	if c.PortBuffer <= 0 {
		c.PortBuffer = DefaultPortBuffer
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	v := validation.New().
		Min("mux.inbox_size", c.InboxSize, 1).
		Min("mux.port_buffer", c.PortBuffer, 1)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}
