// Package config loads daemon configuration with Viper.
//
// A config.yml found in the standard locations (cmd/<service>/, config/,
// the working directory) is read first; environment variables, including
// those from a .env file, override it. Nested keys are reachable from the
// environment by joining path segments with underscores:
// GATEWAY_PORT sets gateway.port.
//
//	var cfg Config
//	if err := config.Load("noticemuxd", &cfg); err != nil { ... }
package config
