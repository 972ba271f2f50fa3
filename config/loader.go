package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kbukum/noticemux/logger"
)

// Validatable is a config struct that can fill its defaults and check itself.
type Validatable interface {
	ApplyDefaults()
	Validate() error
}

// FileSystem abstracts the file lookups of the loader so tests can fake them.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

type osFS struct{}

func (osFS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (osFS) LoadEnv(path string) error {
	return godotenv.Load(path)
}

// LoaderConfig holds loader dependencies and explicit file overrides.
type LoaderConfig struct {
	FileSystem FileSystem
	ConfigFile string
	EnvFile    string
}

// LoaderOption configures LoadConfig.
type LoaderOption func(*LoaderConfig)

// WithFileSystem replaces the filesystem used to find files.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *LoaderConfig) { lc.FileSystem = fs }
}

// WithConfigFile sets an explicit config.yml path.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// ResolvedFiles names the files the loader will read. Empty means none.
type ResolvedFiles struct {
	ConfigFile string
	EnvFile    string
}

// Resolver finds the config and env files of a service.
type Resolver struct {
	FileSystem FileSystem
}

// ResolveFiles returns explicit paths from opts, or the first match in the
// standard locations.
func (r *Resolver) ResolveFiles(service string, opts LoaderConfig) ResolvedFiles {
	files := ResolvedFiles{ConfigFile: opts.ConfigFile, EnvFile: opts.EnvFile}
	if files.ConfigFile == "" {
		files.ConfigFile = r.first(configCandidates(service))
	}
	if files.EnvFile == "" {
		files.EnvFile = r.first(envCandidates(service))
	}
	return files
}

func (r *Resolver) first(paths []string) string {
	for _, p := range paths {
		if r.FileSystem.Exists(p) {
			return p
		}
	}
	return ""
}

// configCandidates lists config.yml locations from most to least specific,
// looking up to two directories above the working directory.
func configCandidates(service string) []string {
	var paths []string
	for _, name := range serviceNames(service) {
		for _, up := range []string{".", "..", "../.."} {
			paths = append(paths, filepath.Join(up, "cmd", name, "config.yml"))
		}
	}
	return append(paths,
		filepath.Join(".", "config", "config.yml"),
		filepath.Join("..", "config", "config.yml"),
		"config.yml",
	)
}

// envCandidates lists .env locations; ".env.<service>" wins over ".env".
func envCandidates(service string) []string {
	var dirs []string
	for _, name := range serviceNames(service) {
		dirs = append(dirs, filepath.Join("cmd", name), filepath.Join("config", name))
	}
	dirs = append(dirs, "config", "")

	var paths []string
	for _, file := range []string{".env." + service, ".env"} {
		for _, dir := range dirs {
			for _, up := range []string{".", "..", "../.."} {
				paths = append(paths, filepath.Join(up, dir, file))
			}
		}
	}
	return paths
}

// serviceNames returns the service name and, for dashed names, its last
// segment ("notice-muxd" also matches "muxd").
func serviceNames(service string) []string {
	if i := strings.LastIndex(service, "-"); i != -1 && i < len(service)-1 {
		return []string{service, service[i+1:]}
	}
	return []string{service}
}

// LoadConfig reads the service's config.yml, then the environment (after
// loading its .env file), and unmarshals the result into cfg. A missing
// file is not an error.
func LoadConfig(service string, cfg interface{}, opts ...LoaderOption) error {
	lc := LoaderConfig{FileSystem: osFS{}}
	for _, opt := range opts {
		opt(&lc)
	}
	r := &Resolver{FileSystem: lc.FileSystem}
	files := r.ResolveFiles(service, lc)

	v := viper.New()
	if files.ConfigFile != "" && lc.FileSystem.Exists(files.ConfigFile) {
		v.SetConfigFile(files.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			logger.Warn("Failed to read config file", logger.Fields("file", files.ConfigFile, logger.FieldError, err.Error()))
		}
	}

	if files.EnvFile != "" && lc.FileSystem.Exists(files.EnvFile) {
		if err := lc.FileSystem.LoadEnv(files.EnvFile); err != nil {
			logger.Warn("Failed to load env file", logger.Fields("file", files.EnvFile, logger.FieldError, err.Error()))
		}
	}
	v.AutomaticEnv()
	bindEnv(v, os.Environ())

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config for service %s: %w", service, err)
	}
	return nil
}

// Load runs LoadConfig, then applies defaults and validates cfg.
func Load(service string, cfg Validatable, opts ...LoaderOption) error {
	if err := LoadConfig(service, cfg, opts...); err != nil {
		return err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config for service %s: %w", service, err)
	}
	return nil
}
