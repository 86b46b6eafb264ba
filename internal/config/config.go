// ABOUTME: Configuration loading and parsing for loopchat
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete loopchat configuration
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Operator OperatorConfig `yaml:"operator"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StoreConfig points the client at the remote session runtime
type StoreConfig struct {
	APIURL      string `yaml:"api_url"`
	AssistantID string `yaml:"assistant_id"`
}

// AuthConfig holds the principal token and the secret used to verify it
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Token     string `yaml:"token"`
}

// DatabaseConfig holds the local store path used by loopchat-dev
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// OperatorConfig holds interrupt-discovery timing for the admin console
type OperatorConfig struct {
	PollInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	PollIntervalRaw string `yaml:"poll_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			APIURL:      "http://localhost:8000",
			AssistantID: "agent",
		},
		Operator: OperatorConfig{PollInterval: 10 * time.Second},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded and
// duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable
// values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present
func (c *Config) Validate() error {
	if c.Store.APIURL == "" {
		return fmt.Errorf("store.api_url is required")
	}
	if c.Store.AssistantID == "" {
		return fmt.Errorf("store.assistant_id is required")
	}
	return nil
}

// parseDurations converts raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Operator.PollIntervalRaw != "" {
		d, err := time.ParseDuration(cfg.Operator.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Operator.PollIntervalRaw, err)
		}
		cfg.Operator.PollInterval = d
	}
	if cfg.Operator.PollInterval <= 0 {
		cfg.Operator.PollInterval = 10 * time.Second
	}
	return nil
}
