package config

import (
	"strings"

	"github.com/spf13/viper"
)

// bindEnv sets every environment variable on v under each nested key it
// could stand for, so GATEWAY_ALLOWED_ORIGINS reaches gateway.allowed_origins.
func bindEnv(v *viper.Viper, environ []string) {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		for _, variant := range envKeyVariants(key) {
			v.Set(variant, value)
		}
	}
}

// envKeyVariants maps an UPPER_SNAKE variable to the candidate viper keys:
// the flat lower-case key, fully dotted, and every split point between a
// dotted prefix and a snake_case suffix.
//
//	REDIS_KEY_PREFIX -> redis_key_prefix, redis.key.prefix, redis.key_prefix, redis_key.prefix
func envKeyVariants(envKey string) []string {
	lower := strings.ToLower(envKey)
	parts := strings.Split(lower, "_")
	if len(parts) == 1 {
		return []string{lower}
	}

	seen := make(map[string]bool)
	var out []string
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	add(lower)
	add(strings.Join(parts, "."))
	for i := 1; i < len(parts); i++ {
		add(strings.Join(parts[:i], ".") + "." + strings.Join(parts[i:], "_"))
		add(strings.Join(parts[:i], "_") + "." + strings.Join(parts[i:], "."))
	}
	return out
}
