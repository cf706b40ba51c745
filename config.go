package pkgproxy

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/richinsley/pkgproxy/internal/logging"
)

// EnvPrefix prefixes the environment variables read by LoadConfig.
const EnvPrefix = "PKGPROXY_"

const maxConfigFileSize = 1024 * 1024 // 1MB

// defaultConfigYAML is loaded first and overridden by the file and the
// environment.
var defaultConfigYAML = []byte(`
log_level: error
log_format: console
sweep_interval: 1m
`)

// Config is the bootstrap configuration.
type Config struct {
	// Target is the dotted name of the target root package. Empty leaves
	// imports untouched.
	Target string `koanf:"target"`

	// Provider is the locator of the provider implementation, e.g. "local"
	// or "traced:local".
	Provider string `koanf:"provider"`

	// LogLevel is a zap level name or "trace".
	LogLevel string `koanf:"log_level"`

	// LogFormat is "console" or "json".
	LogFormat string `koanf:"log_format"`

	// Journal is the path of an operation journal written by traced providers.
	Journal string `koanf:"journal"`

	// HandleTTL evicts instance handles unused for this long. Zero disables
	// eviction.
	HandleTTL time.Duration `koanf:"handle_ttl"`

	// SweepInterval is how often eviction runs.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// LoadConfig loads configuration with this precedence (highest first):
//  1. Environment variables (PKGPROXY_TARGET, PKGPROXY_PROVIDER, PKGPROXY_LOG_LEVEL, ...)
//  2. The YAML file at path, when path is not empty
//  3. Defaults
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultConfigYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// PKGPROXY_LOG_LEVEL -> log_level
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	return content, nil
}

// Validate checks field syntax. A missing provider locator is not an error
// here; it surfaces at the first import under the target root.
func (c *Config) Validate() error {
	if c.Target != "" {
		for _, part := range strings.Split(c.Target, ".") {
			if !isIdentifier(part) {
				return &ConfigurationError{Reason: fmt.Sprintf("invalid target root %q", c.Target)}
			}
		}
	}
	if _, err := logging.LevelFromString(c.LogLevel); err != nil {
		return &ConfigurationError{Reason: fmt.Sprintf("invalid log level %q", c.LogLevel)}
	}
	if c.HandleTTL < 0 || c.SweepInterval < 0 {
		return &ConfigurationError{Reason: "handle_ttl and sweep_interval must not be negative"}
	}
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
