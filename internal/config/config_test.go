package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// Helper to clear all config-related env vars
func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"BIDKIT_CONFIG_PATH",
		"BIDKIT_API_URL",
		"BIDKIT_API_KEY",
		"BIDKIT_API_TIMEOUT",
		"BIDKIT_PORT",
		"BIDKIT_READ_TIMEOUT",
		"BIDKIT_WRITE_TIMEOUT",
		"BIDKIT_SHUTDOWN_TIMEOUT",
		"BIDKIT_MAX_UPLOAD_BYTES",
		"BIDKIT_CONSOLE_TOKEN",
		"BIDKIT_LOG_LEVEL",
		"BIDKIT_LOG_FORMAT",
		"BIDKIT_EVENTS_DRIVER",
		"BIDKIT_EVENTS_BUFFER_SIZE",
		"BIDKIT_REDIS_ADDR",
		"REDIS_ADDR",
		"BIDKIT_REDIS_PASSWORD",
		"BIDKIT_REDIS_DB",
		"BIDKIT_REDIS_CHANNEL",
		"BIDKIT_JOURNAL_PATH",
		"BIDKIT_JOURNAL_POLL_INTERVAL",
		"BIDKIT_JOURNAL_RETENTION",
		"BIDKIT_ARCHIVE_BUCKET",
		"BIDKIT_S3_ENDPOINT",
		"BIDKIT_S3_REGION",
		"BIDKIT_S3_ACCESS_KEY",
		"BIDKIT_S3_SECRET_KEY",
		"BIDKIT_S3_USE_SSL",
		"BIDKIT_S3_URL_EXPIRY",
		"BIDKIT_LOADER_PAGE_SIZE",
		"BIDKIT_LOADER_CONCURRENCY",
	}
	for _, v := range envVars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
	t.Setenv("BIDKIT_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bidkit.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

// Test: Default values when no config file and no env vars
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.BaseURL != "http://localhost:8000" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout.Std() != 0 {
		t.Errorf("API.Timeout = %v, want 0 (none)", cfg.API.Timeout.Std())
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout.Std() != 15*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 15s", cfg.Server.ShutdownTimeout.Std())
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Events.Driver != DriverMemory {
		t.Errorf("Events.Driver = %q, want memory", cfg.Events.Driver)
	}
	if cfg.Journal.PollInterval.Std() != 2*time.Second {
		t.Errorf("Journal.PollInterval = %v, want 2s", cfg.Journal.PollInterval.Std())
	}
	if cfg.Archive.Bucket != "" {
		t.Errorf("Archive.Bucket = %q, want empty (disabled)", cfg.Archive.Bucket)
	}
	if cfg.Archive.UseSSL == nil || !*cfg.Archive.UseSSL {
		t.Error("Archive.UseSSL should default to true")
	}
	if cfg.Loader.Concurrency != 4 || cfg.Loader.PageSize != 50 {
		t.Errorf("Loader = %+v", cfg.Loader)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BIDKIT_API_URL", "https://bids.example.com")
	t.Setenv("BIDKIT_API_KEY", "k-1")
	t.Setenv("BIDKIT_API_TIMEOUT", "10s")
	t.Setenv("BIDKIT_PORT", "3000")
	t.Setenv("BIDKIT_CONSOLE_TOKEN", "console-secret")
	t.Setenv("BIDKIT_EVENTS_DRIVER", "REDIS")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("BIDKIT_REDIS_PASSWORD", "secret")
	t.Setenv("BIDKIT_LOADER_CONCURRENCY", "8")
	t.Setenv("BIDKIT_S3_USE_SSL", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.BaseURL != "https://bids.example.com" || cfg.API.APIKey != "k-1" {
		t.Errorf("API = %+v", cfg.API)
	}
	if cfg.API.Timeout.Std() != 10*time.Second {
		t.Errorf("API.Timeout = %v", cfg.API.Timeout.Std())
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "console-secret" {
		t.Errorf("Server.AuthToken = %q", cfg.Server.AuthToken)
	}
	if cfg.Events.Driver != DriverRedis {
		t.Errorf("Events.Driver = %q", cfg.Events.Driver)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.Password != "secret" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Loader.Concurrency != 8 {
		t.Errorf("Loader.Concurrency = %d", cfg.Loader.Concurrency)
	}
	if cfg.Archive.UseSSL == nil || *cfg.Archive.UseSSL {
		t.Error("Archive.UseSSL should be false")
	}
}

func TestLoad_InvalidEnvValueIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("BIDKIT_PORT", "not-a-number")
	t.Setenv("BIDKIT_JOURNAL_POLL_INTERVAL", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080 (default)", cfg.Server.Port)
	}
	if cfg.Journal.PollInterval.Std() != 2*time.Second {
		t.Errorf("Journal.PollInterval = %v, want default", cfg.Journal.PollInterval.Std())
	}
}

func TestLoadFromFile_ValidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
api:
  base_url: https://yaml.example.com
  timeout: 5s
events:
  driver: journal
journal:
  path: /tmp/j.db
  poll_interval: 500ms
log:
  level: warn
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.API.BaseURL != "https://yaml.example.com" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout.Std() != 5*time.Second {
		t.Errorf("API.Timeout = %v", cfg.API.Timeout.Std())
	}
	if cfg.Events.Driver != DriverJournal || cfg.Journal.Path != "/tmp/j.db" {
		t.Errorf("events = %+v journal = %+v", cfg.Events, cfg.Journal)
	}
	if cfg.Journal.PollInterval.Std() != 500*time.Millisecond {
		t.Errorf("Journal.PollInterval = %v", cfg.Journal.PollInterval.Std())
	}
	// Unset sections keep their defaults
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9000
log:
  level: warn
`)
	t.Setenv("BIDKIT_CONFIG_PATH", path)
	t.Setenv("BIDKIT_PORT", "8888")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8888 {
		t.Errorf("Server.Port = %d, want 8888 (env override)", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn (from YAML)", cfg.Log.Level)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"invalid yaml", "server: [unclosed", "parsing config file"},
		{"invalid duration", "api:\n  timeout: forever\n", "invalid duration"},
		{"unknown driver", "events:\n  driver: kafka\n", "unknown events driver"},
		{"zero concurrency", "loader:\n  concurrency: 0\n", "concurrency"},
		{"bucket without keys", "archive:\n  bucket: contracts\n", "BIDKIT_S3_ACCESS_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := writeConfig(t, tt.content)

			_, err := LoadFromFile(path)
			if err == nil {
				t.Fatal("LoadFromFile() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadFromFile() on a missing file should error")
	}
}

func TestConfig_SecretsNotInYAML(t *testing.T) {
	cfg := newDefaults()
	cfg.API.APIKey = "api-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.Archive.AccessKey = "access-secret"
	cfg.Archive.SecretKey = "s3-secret"

	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}

	out := string(data)
	for _, secret := range []string{"api-secret", "redis-secret", "access-secret", "s3-secret"} {
		if strings.Contains(out, secret) {
			t.Errorf("YAML contains secret %q:\n%s", secret, out)
		}
	}
	if !strings.Contains(out, "poll_interval: 2s") {
		t.Errorf("durations should marshal as strings:\n%s", out)
	}
}
