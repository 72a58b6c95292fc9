// ABOUTME: Configuration loading and parsing for closet-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete closet-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Agent    AgentConfig    `yaml:"agent"`
	Fallback FallbackConfig `yaml:"fallback"`
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

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// AgentConfig holds the upstream agent endpoint configuration.
// Endpoint or AgentID left empty means the agent is not configured
// and the gateway answers with the fallback responder.
type AgentConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AgentID      string `yaml:"agent_id"`
	AgentAliasID string `yaml:"agent_alias_id"`

	RequestTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// FallbackConfig holds fallback responder pacing configuration
type FallbackConfig struct {
	ChunkDelay time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	ChunkDelayRaw string `yaml:"chunk_delay"`
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

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
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

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	// Partial agent config is a footgun: either set the endpoint and agent id
	// together, or leave both empty to run on the fallback responder.
	if (c.Agent.Endpoint == "") != (c.Agent.AgentID == "") {
		return fmt.Errorf("agent.endpoint and agent.agent_id must be set together")
	}

	return nil
}

// AgentConfigured reports whether an upstream agent endpoint is set
func (c *Config) AgentConfigured() bool {
	return c.Agent.Endpoint != "" && c.Agent.AgentID != ""
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agent.RequestTimeoutRaw != "" {
		cfg.Agent.RequestTimeout, err = time.ParseDuration(cfg.Agent.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Agent.RequestTimeoutRaw, err)
		}
	}

	if cfg.Fallback.ChunkDelayRaw != "" {
		cfg.Fallback.ChunkDelay, err = time.ParseDuration(cfg.Fallback.ChunkDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing chunk_delay %q: %w", cfg.Fallback.ChunkDelayRaw, err)
		}
	}

	return nil
}
