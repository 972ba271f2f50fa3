package main

import (
	"fmt"

	"github.com/kbukum/noticemux/config"
	"github.com/kbukum/noticemux/gateway"
	"github.com/kbukum/noticemux/mux"
	"github.com/kbukum/noticemux/observability"
	"github.com/kbukum/noticemux/redis"
	"github.com/kbukum/noticemux/upstream"
	"github.com/kbukum/noticemux/version"
)

// Config is the noticemuxd configuration.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Gateway       gateway.Config       `yaml:"gateway" mapstructure:"gateway"`
	Upstream      upstream.Config      `yaml:"upstream" mapstructure:"upstream"`
	Mux           mux.Config           `yaml:"mux" mapstructure:"mux"`
	Redis         redis.Config         `yaml:"redis" mapstructure:"redis"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

// ApplyDefaults fills every section's unset fields.
func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	if c.Name == "" {
		c.Name = serviceName
	}
	if c.Version == "" {
		c.Version = version.Get().String()
	}
	c.Gateway.ApplyDefaults()
	c.Upstream.ApplyDefaults()
	c.Mux.ApplyDefaults()
	c.Redis.ApplyDefaults()
	c.Observability.ApplyDefaults()
	c.Mux.Origin = c.Upstream.Origin
}

// Validate checks every section.
func (c *Config) Validate() error {
	checks := []struct {
		section string
		check   func() error
	}{
		{"service", c.ServiceConfig.Validate},
		{"gateway", c.Gateway.Validate},
		{"upstream", c.Upstream.Validate},
		{"mux", c.Mux.Validate},
		{"redis", c.Redis.Validate},
		{"observability", c.Observability.Validate},
	}
	for _, ch := range checks {
		if err := ch.check(); err != nil {
			return fmt.Errorf("%s: %w", ch.section, err)
		}
	}
	return nil
}
