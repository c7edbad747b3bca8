package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/microshell/shell_host/internal/registry"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shell.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  backend_base_url: "https://api.example.com"
auth:
  jwt_secret: "test-secret"
  token_ttl: 30m
  users:
    - username: admin
      password_hash: "$2a$10$abcdefghijklmnopqrstuv"
      roles: [admin]
redis:
  addr: "localhost:6379"
modules:
  - name: products
    version: "1.0.0"
    assembly: Shell.Products
  - name: billing
    remote_url: "https://billing.example.com"
settings:
  theme: dark
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Auth.TokenTTL.Std() != 30*time.Minute {
		t.Errorf("token ttl = %v", cfg.Auth.TokenTTL)
	}
	if len(cfg.Modules) != 2 || cfg.Modules[1].RemoteURL != "https://billing.example.com" {
		t.Errorf("modules not parsed: %+v", cfg.Modules)
	}
	if cfg.Settings["theme"] != "dark" {
		t.Errorf("settings not parsed: %+v", cfg.Settings)
	}
	// Fields absent from the file keep their defaults.
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RequestsPerWindow != 120 {
		t.Errorf("rate limit defaults lost: %+v", cfg.RateLimit)
	}
	if cfg.Redis.Prefix != "shellhost:" {
		t.Errorf("redis prefix default lost: %q", cfg.Redis.Prefix)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
`)
	t.Setenv("SHELL_ADDR", ":7070")
	t.Setenv("SHELL_JWT_SECRET", "env-secret")
	t.Setenv("SHELL_TOKEN_TTL", "2h")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr = %q, env override lost", cfg.Server.Addr)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Errorf("jwt secret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Auth.TokenTTL.Std() != 2*time.Hour {
		t.Errorf("token ttl = %v", cfg.Auth.TokenTTL)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*Config)
		wantFail bool
	}{
		{"defaults pass", func(*Config) {}, false},
		{"missing addr", func(c *Config) { c.Server.Addr = "" }, true},
		{"zero ttl", func(c *Config) { c.Auth.TokenTTL = 0 }, true},
		{"module without name", func(c *Config) {
			c.Modules = []registry.Metadata{{Assembly: "X"}}
		}, true},
		{"duplicate module", func(c *Config) {
			c.Modules = []registry.Metadata{
				{Name: "a", Assembly: "X"},
				{Name: "a", Assembly: "Y"},
			}
		}, true},
		{"module without activation path", func(c *Config) {
			c.Modules = []registry.Metadata{{Name: "a"}}
		}, true},
		{"user without hash", func(c *Config) {
			c.Auth.Users = []UserConfig{{Username: "admin"}}
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantFail && err == nil {
				t.Error("expected validation failure")
			}
			if !tc.wantFail && err != nil {
				t.Errorf("unexpected validation failure: %v", err)
			}
		})
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })

	cfg := LoadOrDefault()
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want default :8080", cfg.Server.Addr)
	}
}
