// ABOUTME: Configuration loading and parsing for parley-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete parley-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Personas PersonasConfig `yaml:"personas"`
	Presence PresenceConfig `yaml:"presence"`
	Tools    ToolsConfig    `yaml:"tools"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PersonasConfig points at the TOML persona definitions
type PersonasConfig struct {
	Path string `yaml:"path"`
}

// PresenceConfig holds typing-indicator timing configuration
type PresenceConfig struct {
	TypingTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TypingTTLRaw string `yaml:"typing_ttl"`
}

// ToolsConfig holds tool pipeline timing configuration
type ToolsConfig struct {
	ResultTTL     time.Duration `yaml:"-"`
	SuggestionTTL time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ResultTTLRaw     string `yaml:"result_ttl"`
	SuggestionTTLRaw string `yaml:"suggestion_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a config with every default applied, for runs without a file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills unset fields with working defaults.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "localhost:8420"
	}
	if c.Database.Path == "" {
		c.Database.Path = "parley.db"
	}
	if c.Presence.TypingTTL == 0 {
		c.Presence.TypingTTL = 5 * time.Second
	}
	if c.Tools.ResultTTL == 0 {
		c.Tools.ResultTTL = 10 * time.Minute
	}
	if c.Tools.SuggestionTTL == 0 {
		c.Tools.SuggestionTTL = 10 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Presence.TypingTTL < time.Second || c.Presence.TypingTTL > 15*time.Second {
		return fmt.Errorf("presence.typing_ttl must be between 1s and 15s, got %s", c.Presence.TypingTTL)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Presence.TypingTTLRaw != "" {
		cfg.Presence.TypingTTL, err = time.ParseDuration(cfg.Presence.TypingTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing typing_ttl %q: %w", cfg.Presence.TypingTTLRaw, err)
		}
	}

	if cfg.Tools.ResultTTLRaw != "" {
		cfg.Tools.ResultTTL, err = time.ParseDuration(cfg.Tools.ResultTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing result_ttl %q: %w", cfg.Tools.ResultTTLRaw, err)
		}
	}

	if cfg.Tools.SuggestionTTLRaw != "" {
		cfg.Tools.SuggestionTTL, err = time.ParseDuration(cfg.Tools.SuggestionTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing suggestion_ttl %q: %w", cfg.Tools.SuggestionTTLRaw, err)
		}
	}

	return nil
}
