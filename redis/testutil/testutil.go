package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/kbukum/noticemux/logger"
	"github.com/kbukum/noticemux/redis"
)

// NewClient starts an in-memory Redis server and returns a client
// connected to it. Both are shut down when the test ends.
func NewClient(t testing.TB) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mini.Close)

	client, err := redis.New(Config(mini), logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create redis client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, mini
}

// Config returns an enabled configuration pointing at mini.
func Config(mini *miniredis.Miniredis) redis.Config {
	cfg := redis.Config{
		Enabled:   true,
		Addr:      mini.Addr(),
		KeyPrefix: "test",
	}
	cfg.ApplyDefaults()
	return cfg
}
