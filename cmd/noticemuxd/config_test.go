package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kbukum/noticemux/config"
	"github.com/kbukum/noticemux/redis"
	"github.com/kbukum/noticemux/redis/testutil"
	"github.com/kbukum/noticemux/tabbus"
)

func TestLoadShippedConfig(t *testing.T) {
	var cfg Config
	if err := config.Load(serviceName, &cfg, config.WithConfigFile("config.yml")); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != serviceName {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.Gateway.Port != 8080 {
		t.Errorf("Gateway.Port = %d", cfg.Gateway.Port)
	}
	if cfg.Upstream.ConnectTimeout != 30*time.Second {
		t.Errorf("Upstream.ConnectTimeout = %v", cfg.Upstream.ConnectTimeout)
	}
	if cfg.Mux.Origin != cfg.Upstream.Origin {
		t.Errorf("Mux.Origin = %q, want %q", cfg.Mux.Origin, cfg.Upstream.Origin)
	}
	if cfg.Redis.Enabled {
		t.Error("redis should be disabled by default")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		section string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad environment", func(c *Config) { c.Environment = "moon" }, "service"},
		{"bad origin", func(c *Config) { c.Upstream.Origin = "ftp://x" }, "upstream"},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true }, "redis"},
		{"bad sample rate", func(c *Config) { c.Observability.SampleRate = 2 }, "observability"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.section == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if got := err.Error(); len(got) < len(tt.section) || got[:len(tt.section)] != tt.section {
				t.Errorf("error %q does not name section %q", got, tt.section)
			}
		})
	}
}

func TestBusEnvInMemory(t *testing.T) {
	env := busEnv(nil, nil)
	if _, ok := env.Broadcast.(*tabbus.MemoryBroadcaster); !ok {
		t.Fatalf("Broadcast = %T, want *tabbus.MemoryBroadcaster", env.Broadcast)
	}
}

func TestBusEnvRedisRequiresStartedClient(t *testing.T) {
	_, mini := testutil.NewClient(t)
	comp := redis.NewComponent(testutil.Config(mini), nil)
	env := busEnv(comp, nil)

	if _, err := env.Broadcast.Open("alerts", func([]byte) {}); !errors.Is(err, tabbus.ErrClosed) {
		t.Fatalf("Open before start: err = %v, want ErrClosed", err)
	}

	if err := comp.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = comp.Stop(context.Background()) })

	ch, err := env.Broadcast.Open("alerts", func([]byte) {})
	if err != nil {
		t.Fatalf("Open after start: %v", err)
	}
	_ = ch.Close()
}
