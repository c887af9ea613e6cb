// ABOUTME: Configuration loading and parsing for promo-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete promo-gateway configuration.
type Config struct {
	Matrix     MatrixConfig     `yaml:"matrix"`
	Database   DatabaseConfig   `yaml:"database"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Moderation ModerationConfig `yaml:"moderation"`
	Publish    PublishConfig    `yaml:"publish"`
	Limits     LimitsConfig     `yaml:"limits"`
	Payments   []PaymentMethod  `yaml:"payments"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// MatrixConfig holds the Matrix transport configuration.
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	// RecoveryKey enables cross-signing verification for E2EE.
	// Leave empty to run with encryption but without verification.
	RecoveryKey string `yaml:"recovery_key"`
	// DataDir stores the crypto database. Defaults to the directory
	// of the main database.
	DataDir string `yaml:"data_dir"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CatalogConfig points at the TOML catalog file.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// ModerationConfig holds the operator allow-list and the room where
// operator notifications and commands live.
type ModerationConfig struct {
	// Operators are Matrix user IDs allowed to moderate records.
	Operators []string `yaml:"operators"`
	// Room is the moderation room new submissions are announced in.
	Room string `yaml:"room"`
}

// PublishConfig holds the scheduler configuration.
type PublishConfig struct {
	Interval time.Duration `yaml:"-"`
	// Destinations are the room IDs approved records are published to.
	Destinations []string `yaml:"destinations"`

	IntervalRaw string `yaml:"interval"`
}

// LimitsConfig holds the submission rate limit.
type LimitsConfig struct {
	Window time.Duration `yaml:"-"`
	// MaxPerWindow caps new submissions per owner within the window.
	MaxPerWindow int `yaml:"max_per_window"`

	WindowRaw string `yaml:"window"`
}

// PaymentMethod is one way users can pay, with the instructions shown
// after they pick it.
type PaymentMethod struct {
	ID           string `yaml:"id"`
	Label        string `yaml:"label"`
	Instructions string `yaml:"instructions"`
}

// LoggingConfig holds logging configuration.
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

	applyDefaults(&cfg)

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

// applyDefaults fills in optional fields that have sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Publish.Interval == 0 {
		cfg.Publish.Interval = 15 * time.Second
	}
	if cfg.Limits.Window == 0 {
		cfg.Limits.Window = 24 * time.Hour
	}
	if cfg.Limits.MaxPerWindow == 0 {
		cfg.Limits.MaxPerWindow = 3
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}

	if len(c.Moderation.Operators) == 0 {
		return fmt.Errorf("moderation.operators must list at least one operator")
	}
	if c.Moderation.Room == "" {
		return fmt.Errorf("moderation.room is required")
	}

	if len(c.Publish.Destinations) == 0 {
		return fmt.Errorf("publish.destinations must list at least one room")
	}

	if len(c.Payments) == 0 {
		return fmt.Errorf("payments must list at least one method")
	}
	for _, m := range c.Payments {
		if m.ID == "" || m.Label == "" {
			return fmt.Errorf("payment methods need both id and label")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Publish.IntervalRaw != "" {
		cfg.Publish.Interval, err = time.ParseDuration(cfg.Publish.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing publish.interval %q: %w", cfg.Publish.IntervalRaw, err)
		}
	}

	if cfg.Limits.WindowRaw != "" {
		cfg.Limits.Window, err = time.ParseDuration(cfg.Limits.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing limits.window %q: %w", cfg.Limits.WindowRaw, err)
		}
	}

	return nil
}
