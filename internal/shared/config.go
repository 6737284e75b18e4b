package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	API      APIConfig      `toml:"api"`
	Events   EventsConfig   `toml:"events"`
	Poller   PollerConfig   `toml:"poller"`
	Store    StoreConfig    `toml:"store"`
	Database DatabaseConfig `toml:"database"`
	Log      LogConfig      `toml:"log"`
}

// APIConfig contains the backend location and outbound request settings.
type APIConfig struct {
	BaseURL       string        `toml:"base_url"`
	Timeout       time.Duration `toml:"timeout"`
	RateLimit     float64       `toml:"rate_limit"`     // Requests per second
	SessionCookie string        `toml:"session_cookie"` // Name of the cookie the refresh endpoint reads
}

// EventsConfig contains push channel settings.
type EventsConfig struct {
	Path           string        `toml:"path"`
	TokenParam     string        `toml:"token_param"`
	ReconnectDelay time.Duration `toml:"reconnect_delay"`
	MaxAttempts    int           `toml:"max_attempts"`
}

// PollerConfig contains reconciliation poller settings.
type PollerConfig struct {
	Interval   time.Duration `toml:"interval"`
	JobTimeout time.Duration `toml:"job_timeout"` // Zero disables the stale job sweep
	Lookback   time.Duration `toml:"lookback"`    // How long unmatched results are fetched again
}

// StoreConfig contains job store settings.
type StoreConfig struct {
	Retention time.Duration `toml:"retention"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// Validate reports settings the sync engine cannot run with.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("%w: api.base_url is required", ErrInvalidConfig)
	}
	if c.Events.MaxAttempts <= 0 {
		return fmt.Errorf("%w: events.max_attempts must be positive", ErrInvalidConfig)
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("%w: poller.interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
