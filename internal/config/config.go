// Package config loads the soloplane daemon configuration from a YAML file
// with environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/soloplane/soloplane/internal/logging"
)

// ServerConfig configures the public introspection API listener.
type ServerConfig struct {
	Host string `yaml:"host" env:"SOLOPLANE_API_HOST"`
	Port int    `yaml:"port" env:"SOLOPLANE_API_PORT"`
	// RateLimit is the per-client request budget in requests per second.
	RateLimit int `yaml:"rate_limit" env:"SOLOPLANE_API_RATE_LIMIT"`
	RateBurst int `yaml:"rate_burst" env:"SOLOPLANE_API_RATE_BURST"`
}

// AdminConfig configures the authenticated control API listener.
type AdminConfig struct {
	Host string `yaml:"host" env:"SOLOPLANE_ADMIN_HOST"`
	Port int    `yaml:"port" env:"SOLOPLANE_ADMIN_PORT"`
	// JWTSecret signs and verifies HS256 admin bearer tokens.
	JWTSecret string `yaml:"jwt_secret" env:"SOLOPLANE_ADMIN_JWT_SECRET"`
	// TokenHash is a bcrypt hash accepted via the X-Admin-Token header as an
	// alternative to JWT auth.
	TokenHash string `yaml:"token_hash" env:"SOLOPLANE_ADMIN_TOKEN_HASH"`
}

// TelemetryConfig configures the internal metrics/health listener.
type TelemetryConfig struct {
	Host string `yaml:"host" env:"SOLOPLANE_TELEMETRY_HOST"`
	Port int    `yaml:"port" env:"SOLOPLANE_TELEMETRY_PORT"`
}

// JournalConfig configures the lifecycle event journal.
type JournalConfig struct {
	// Path receives JSON event lines; "stderr" writes to the process stderr.
	Path string `yaml:"path" env:"SOLOPLANE_JOURNAL_PATH"`
}

// EngineConfig holds engine timing knobs.
type EngineConfig struct {
	StartupTimeout  time.Duration `yaml:"startup_timeout" env:"SOLOPLANE_STARTUP_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SOLOPLANE_SHUTDOWN_TIMEOUT"`
}

// Config is the root daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Admin     AdminConfig     `yaml:"admin"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Journal   JournalConfig   `yaml:"journal"`
	Engine    EngineConfig    `yaml:"engine"`
	Logging   logging.Config  `yaml:"logging"`
	// ManifestPath points at the JSON component manifest.
	ManifestPath string `yaml:"manifest" env:"SOLOPLANE_MANIFEST"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8080, RateLimit: 50, RateBurst: 100},
		Admin:     AdminConfig{Host: "127.0.0.1", Port: 8081},
		Telemetry: TelemetryConfig{Host: "127.0.0.1", Port: 9090},
		Journal:   JournalConfig{Path: "stderr"},
		Engine: EngineConfig{
			StartupTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging:      logging.DefaultConfig(),
		ManifestPath: "manifest.json",
	}
}

// Load reads the configuration from path, applies environment overrides and
// validates the result. A missing file is not an error: defaults plus the
// environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// fall through to env + defaults
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is serviceable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	if c.Admin.Port <= 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("admin: invalid port %d", c.Admin.Port)
	}
	if c.Telemetry.Port <= 0 || c.Telemetry.Port > 65535 {
		return fmt.Errorf("telemetry: invalid port %d", c.Telemetry.Port)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("server: rate_limit must be positive, got %d", c.Server.RateLimit)
	}
	if c.Engine.ShutdownTimeout <= 0 {
		return fmt.Errorf("engine: shutdown_timeout must be positive")
	}
	return nil
}
