// Package config loads the shell host configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/microshell/shell_host/internal/registry"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full shell host configuration.
type Config struct {
	Server    ServerConfig        `yaml:"server"`
	Auth      AuthConfig          `yaml:"auth"`
	Redis     RedisConfig         `yaml:"redis"`
	RateLimit RateLimitConfig     `yaml:"rate_limit"`
	Health    HealthConfig        `yaml:"health"`
	Modules   []registry.Metadata `yaml:"modules"`
	// Settings holds flat key-value configuration exposed to modules.
	Settings map[string]string `yaml:"settings"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	// BackendBaseURL is the API base the authenticated client targets.
	BackendBaseURL string `yaml:"backend_base_url"`
}

// AuthConfig configures session token issuance and the local user set.
type AuthConfig struct {
	// JWTSecret signs session tokens. Required outside tests.
	JWTSecret string       `yaml:"jwt_secret"`
	TokenTTL  Duration     `yaml:"token_ttl"`
	Users     []UserConfig `yaml:"users"`
}

// UserConfig is a locally provisioned user.
type UserConfig struct {
	Username string `yaml:"username"`
	// PasswordHash is a bcrypt hash of the user's password.
	PasswordHash string   `yaml:"password_hash"`
	Email        string   `yaml:"email"`
	Roles        []string `yaml:"roles"`
}

// RedisConfig configures the optional Redis-backed state store. When
// Addr is empty the shell uses the in-memory store.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Prefix   string   `yaml:"prefix"`
	TTL      Duration `yaml:"ttl"`
}

// RateLimitConfig configures API request throttling.
type RateLimitConfig struct {
	Enabled           bool     `yaml:"enabled"`
	RequestsPerWindow int      `yaml:"requests_per_window"`
	Window            Duration `yaml:"window"`
}

// HealthConfig configures the remote module health checker.
type HealthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// Load reads config/shell.yaml relative to the working directory.
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join("config", "shell.yaml"))
}

// LoadFromPath reads the configuration from a specific path, applies
// defaults and environment overrides, and validates the result.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the configuration or returns the defaults (with
// environment overrides applied) when the file is missing.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		cfg = Default()
		cfg.applyEnv()
	}
	return cfg
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Auth: AuthConfig{
			TokenTTL: Duration(time.Hour),
		},
		Redis: RedisConfig{
			Prefix: "shellhost:",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerWindow: 120,
			Window:            Duration(time.Minute),
		},
		Health: HealthConfig{
			Enabled:  true,
			Schedule: "@every 30s",
		},
		Settings: map[string]string{},
	}
}

// applyEnv overlays environment variables onto the configuration.
func (c *Config) applyEnv() {
	if v := os.Getenv("SHELL_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("SHELL_BACKEND_BASE_URL"); v != "" {
		c.Server.BackendBaseURL = v
	}
	if v := os.Getenv("SHELL_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("SHELL_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Auth.TokenTTL = Duration(d)
		}
	}
	if v := os.Getenv("SHELL_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("SHELL_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("SHELL_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
	if v := os.Getenv("SHELL_RATE_LIMIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.RateLimit.Enabled = b
		}
	}
	if v := os.Getenv("SHELL_HEALTH_SCHEDULE"); v != "" {
		c.Health.Schedule = v
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	seen := make(map[string]bool, len(c.Modules))
	for _, m := range c.Modules {
		if m.Name == "" {
			return fmt.Errorf("module entry without a name")
		}
		if seen[m.Name] {
			return fmt.Errorf("module %s: duplicate entry", m.Name)
		}
		seen[m.Name] = true
		if m.Assembly == "" && m.RemoteURL == "" {
			return fmt.Errorf("module %s: assembly or remote_url is required", m.Name)
		}
	}
	for _, u := range c.Auth.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return fmt.Errorf("auth user entries require username and password_hash")
		}
	}
	return nil
}
